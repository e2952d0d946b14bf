package config

import "time"

// BaaSConfig describes the identity provider that owns sessions and MFA factors.
type BaaSConfig interface {
	GetBaaSURL() string
	GetBaaSAnonKey() string
	GetBaaSTimeout() time.Duration
	GetSessionExpiryMargin() time.Duration
}

type BaaS struct{}

var _ BaaSConfig = BaaS{}

// GetBaaSURL is the auth root of the provider, e.g. "https://<project>.supabase.co/auth/v1"
func (BaaS) GetBaaSURL() string {
	return GetEnv("BAAS_URL", "http://localhost:54321/auth/v1")
}

func (BaaS) GetBaaSAnonKey() string {
	return GetEnv("BAAS_ANON_KEY", "")
}

func (BaaS) GetBaaSTimeout() time.Duration {
	return GetEnvDuration("BAAS_TIMEOUT", 10*time.Second)
}

// GetSessionExpiryMargin is how close to expiry a session is treated as stale and refreshed.
func (BaaS) GetSessionExpiryMargin() time.Duration {
	return 10 * time.Second
}
