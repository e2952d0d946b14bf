package baas

import "context"

// SessionClient covers the provider's session primitives.
type SessionClient interface {
	// GetSession returns the current session, refreshing it first when it is about to
	// expire. A nil session with a nil error means nobody is signed in.
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	GetUser(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(listener AuthChangeListener) (unsubscribe func())
}

// MFAClient covers factor enrollment and step-up verification.
type MFAClient interface {
	Enroll(ctx context.Context, factorType FactorType) (*Enrollment, error)
	Challenge(ctx context.Context, factorID string) (*Challenge, error)
	Verify(ctx context.Context, factorID, challengeID, code string) (*Session, error)
	ListFactors(ctx context.Context) (*Factors, error)
	AuthenticatorAssuranceLevel(ctx context.Context) (*AssuranceLevels, error)
}

type Client interface {
	SessionClient
	MFAClient
}
