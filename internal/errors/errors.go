package errors

import "errors"

// Common error types for the portal's auth client
var (
	// Local precondition failures (no network call is made)
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrNoAccessToken  = errors.New("no access token available")
	ErrNoSession      = errors.New("no active session")
	ErrNoUserID       = errors.New("user id not found in session")
	ErrInvalidCode    = errors.New("verification code must be 6 digits")

	// Session errors
	ErrRefreshReturnedNoSession = errors.New("session refresh returned no session")
	ErrInvalidCredentials       = errors.New("invalid credentials")

	// MFA errors
	ErrNoTOTPFactor          = errors.New("no authenticator factors found")
	ErrFactorAlreadyVerified = errors.New("MFA is already set up for this account")
	ErrSubmissionInFlight    = errors.New("verification already in progress")
	ErrFlowNotReady          = errors.New("flow is not ready for submission")
	ErrQRCodeUnavailable     = errors.New("failed to generate QR code")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
)
