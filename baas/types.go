package baas

import "time"

// AssuranceLevel is the provider's authenticator assurance level for a session.
type AssuranceLevel string

const (
	AAL1 AssuranceLevel = "aal1"
	AAL2 AssuranceLevel = "aal2"
)

type FactorType string

const FactorTypeTOTP FactorType = "totp"

// FactorStatus is "unverified" until the first successful challenge.
type FactorStatus string

const (
	FactorStatusPending  FactorStatus = "unverified"
	FactorStatusVerified FactorStatus = "verified"
)

type Factor struct {
	ID           string       `json:"id"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	FactorType   FactorType   `json:"factor_type"`
	Status       FactorStatus `json:"status"`
}

func (f Factor) Verified() bool {
	return f.Status == FactorStatusVerified
}

type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Factors  []Factor       `json:"factors,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is owned by the provider client. Callers receive copies.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         User
}

// Expired reports whether the session expires within margin of now.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User.Factors = append([]Factor(nil), s.User.Factors...)
	return &c
}

// Factors splits a user's factors by type. TOTP holds verified TOTP factors only;
// pending ones are only in All.
type Factors struct {
	All  []Factor
	TOTP []Factor
}

func NewFactors(all []Factor) *Factors {
	f := &Factors{All: append([]Factor(nil), all...)}
	for _, factor := range all {
		if factor.FactorType == FactorTypeTOTP && factor.Verified() {
			f.TOTP = append(f.TOTP, factor)
		}
	}
	return f
}

// PendingTOTP returns the first TOTP factor still awaiting verification.
func (f *Factors) PendingTOTP() (Factor, bool) {
	for _, factor := range f.All {
		if factor.FactorType == FactorTypeTOTP && !factor.Verified() {
			return factor, true
		}
	}
	return Factor{}, false
}

type AssuranceLevels struct {
	Current        AssuranceLevel
	Next           AssuranceLevel
	CurrentMethods []string
}

type TOTPEnrollment struct {
	QRCode string `json:"qr_code"`
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

type Enrollment struct {
	ID           string         `json:"id"`
	Type         FactorType     `json:"type"`
	FriendlyName string         `json:"friendly_name,omitempty"`
	TOTP         TOTPEnrollment `json:"totp"`
}

type Challenge struct {
	ID        string
	ExpiresAt time.Time
}

// AuthEvent names a session change broadcast to listeners.
type AuthEvent string

const (
	EventSignedIn             AuthEvent = "SIGNED_IN"
	EventSignedOut            AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed       AuthEvent = "TOKEN_REFRESHED"
	EventMFAChallengeVerified AuthEvent = "MFA_CHALLENGE_VERIFIED"
)

// AuthChangeListener receives a copy of the new session, or nil after sign-out.
type AuthChangeListener func(event AuthEvent, session *Session)
