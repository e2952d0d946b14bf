package tokenstore

// Persisted keys. These names are read back across restarts, so renaming any of them
// silently logs out every user of an existing storage namespace.
const (
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyMFAVerified   = "mfa_verified"
	KeyMFAEnrolled   = "mfa_enrolled"
	KeyMFAVerifiedAt = "mfa_verified_at"
)

// Purpose names a per-user value kept in the store.
type Purpose string

const (
	PurposeFactorID      Purpose = "mfa_factor_id"
	PurposeQRCode        Purpose = "mfa_qr_code"
	PurposeMFAVerified   Purpose = "mfa_verified"
	PurposeMFAVerifiedAt Purpose = "mfa_verified_at"
)

// UserKey addresses a value scoped to a single user so that one user's in-progress
// enrollment is never visible to another user of the same storage namespace.
type UserKey struct {
	Purpose Purpose
	UserID  string
}

// String renders the persisted key, e.g. "mfa_factor_id_<userID>".
func (k UserKey) String() string {
	return string(k.Purpose) + "_" + k.UserID
}
