package config

import "time"

type AuthConfig interface {
	GetMFARedirectDelay() time.Duration
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetMFARedirectDelay is how long an error stays readable before the flow forces a redirect to login.
func (Auth) GetMFARedirectDelay() time.Duration {
	return GetEnvDuration("MFA_REDIRECT_DELAY", 1500*time.Millisecond)
}
