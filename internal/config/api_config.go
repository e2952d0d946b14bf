package config

import "time"

type APIConfig interface {
	GetAPIURL() string
	GetAPITimeout() time.Duration
}

type API struct{}

var _ APIConfig = API{}

func (API) GetAPIURL() string {
	return GetEnv("API_URL", "http://localhost:8000/api")
}

func (API) GetAPITimeout() time.Duration {
	return GetEnvDuration("API_TIMEOUT", 30*time.Second)
}
