package config

const (
	StorageBackendFile  = "file"
	StorageBackendRedis = "redis"
)

type StorageConfig interface {
	GetStorageBackend() string
	GetStorageNamespace() string
	GetStorageSealKey() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() string {
	return GetEnv("STORAGE_BACKEND", StorageBackendFile)
}

// GetStorageNamespace scopes persisted keys, the equivalent of a browser origin.
func (Storage) GetStorageNamespace() string {
	return GetEnv("STORAGE_NAMESPACE", "localhost-5173")
}

// GetStorageSealKey returns a 32 byte hex or base64 key; empty disables sealing.
func (Storage) GetStorageSealKey() string {
	return GetEnv("STORAGE_SEAL_KEY", "")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "127.0.0.1:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}
