package config

type Config interface {
	EnvConfig
	BaaSConfig
	APIConfig
	StorageConfig
	AuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetBaseURL() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	BaaS
	API
	Storage
	Auth
}

func New() Config {
	return mainConfig{}
}
