package mfa

import (
	"errors"
	"strings"

	"github.com/jrsteele09/neuroscan-portal/baas"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
)

// Text shown by the MFA forms.
const (
	MessageFriendlyNameHint   = "Having trouble? Try refreshing the page or opening in a private/incognito window."
	MessageUnexpected         = "An unexpected error occurred. Please try again."
	MessageVerifyUnexpected   = "An unexpected error occurred"
	MessageAuthRequired       = "Authentication required. Please log in again."
	MessageUserAuthError      = "User authentication error"
	MessageSessionAfterVerify = "Verification successful but session error occurred"
	MessageFactorCheckFailed  = "Failed to check existing MFA factors"
	MessageNewQRCodeFailed    = "Failed to generate new QR code"
)

const (
	friendlyNameQuirk = "friendly name"
	emptyCodeQuirk    = "Code needs to be non-empty"
)

// ErrFactorCheckFailed wraps a failure to list factors while preparing an enrollment.
var ErrFactorCheckFailed = errors.New("failed to check existing MFA factors")

// knownErrors are local errors with fixed form text.
var knownErrors = []struct {
	err  error
	text string
}{
	{apperrors.ErrInvalidCode, "Please enter the 6-digit code from your authenticator app"},
	{apperrors.ErrNoTOTPFactor, "No authenticator factors found"},
	{apperrors.ErrFactorAlreadyVerified, "MFA is already set up for this account"},
	{apperrors.ErrQRCodeUnavailable, "Failed to generate QR code"},
	{apperrors.ErrSubmissionInFlight, "Verification already in progress"},
	{apperrors.ErrFlowNotReady, "Two-factor setup is not ready yet"},
}

// Unexpected reports whether err is neither a provider error nor a known local error.
// Unexpected errors end a flow with a delayed redirect to login.
func Unexpected(err error) bool {
	if err == nil || errors.Is(err, ErrFactorCheckFailed) {
		return false
	}
	if pe, ok := baas.AsProviderError(err); ok {
		return pe.Status == 0
	}
	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			return false
		}
	}
	return !errors.Is(err, apperrors.ErrNoSession) &&
		!errors.Is(err, apperrors.ErrNoUserID)
}

// UserMessage is the enrollment form's text for err.
func UserMessage(err error) string {
	msg := rawMessage(err, MessageUnexpected)
	if strings.Contains(msg, friendlyNameQuirk) {
		return MessageFriendlyNameHint
	}
	return msg
}

// VerificationMessage is the verification form's text for err. The provider's
// empty-code complaint is not shown.
func VerificationMessage(err error) string {
	msg := rawMessage(err, MessageVerifyUnexpected)
	if strings.Contains(msg, friendlyNameQuirk) {
		return MessageFriendlyNameHint
	}
	if strings.Contains(msg, emptyCodeQuirk) {
		return ""
	}
	return msg
}

func rawMessage(err error, unexpected string) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrFactorCheckFailed) {
		return MessageFactorCheckFailed
	}
	if pe, ok := baas.AsProviderError(err); ok && pe.Status != 0 {
		return pe.Error()
	}
	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			return known.text
		}
	}
	switch {
	case errors.Is(err, apperrors.ErrNoSession):
		return MessageAuthRequired
	case errors.Is(err, apperrors.ErrNoUserID):
		return MessageUserAuthError
	}
	return unexpected
}
