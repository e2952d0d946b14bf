package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/neuroscan-portal/baas"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

// FactorEnsurer makes sure the user has a TOTP factor awaiting verification. Both
// MFA flows use it.
type FactorEnsurer struct {
	provider baas.MFAClient
	tokens   *tokenstore.Store
}

func NewFactorEnsurer(provider baas.MFAClient, tokens *tokenstore.Store) *FactorEnsurer {
	return &FactorEnsurer{
		provider: provider,
		tokens:   tokens,
	}
}

// Ensure returns the factor the user should verify, in order of preference: the
// pending enrollment cached for userID, a pending factor already on the server, or a
// newly enrolled factor. A verified factor on the server yields ErrFactorAlreadyVerified.
//
// A reused server-side factor has no QR code, since the provider only returns it at
// enrollment. In that case the factor id is returned with ErrQRCodeUnavailable.
func (e *FactorEnsurer) Ensure(ctx context.Context, userID string) (tokenstore.PendingEnrollment, error) {
	if userID == "" {
		return tokenstore.PendingEnrollment{}, apperrors.ErrNoUserID
	}
	if cached, ok := e.tokens.PendingEnrollment(userID); ok {
		log.Debug().Str("component", "mfa").Str("user_id", userID).Msg("Using cached MFA enrollment")
		return cached, nil
	}

	factors, err := e.provider.ListFactors(ctx)
	if err != nil {
		log.Err(err).Str("component", "mfa").Msg("Error listing MFA factors")
		return tokenstore.PendingEnrollment{}, fmt.Errorf("%w: %w", ErrFactorCheckFailed, err)
	}

	if len(factors.TOTP) > 0 {
		return tokenstore.PendingEnrollment{}, apperrors.ErrFactorAlreadyVerified
	}
	if pending, ok := factors.PendingTOTP(); ok {
		p := tokenstore.PendingEnrollment{FactorID: pending.ID}
		e.tokens.SavePendingEnrollment(userID, p)
		return p, apperrors.ErrQRCodeUnavailable
	}

	return e.enroll(ctx, userID)
}

func (e *FactorEnsurer) enroll(ctx context.Context, userID string) (tokenstore.PendingEnrollment, error) {
	enrollment, err := e.provider.Enroll(ctx, baas.FactorTypeTOTP)
	if err != nil {
		log.Err(err).Str("component", "mfa").Msg("MFA enrollment error")
		return tokenstore.PendingEnrollment{}, err
	}

	p := tokenstore.PendingEnrollment{FactorID: enrollment.ID}
	qr, err := NormalizeQRCode(enrollment.TOTP.QRCode)
	if err != nil {
		e.tokens.SavePendingEnrollment(userID, p)
		return p, err
	}
	p.QRCode = qr
	e.tokens.SavePendingEnrollment(userID, p)
	return p, nil
}

// isQRUnavailable reports a usable factor that has no QR code to show.
func isQRUnavailable(p tokenstore.PendingEnrollment, err error) bool {
	return p.FactorID != "" && errors.Is(err, apperrors.ErrQRCodeUnavailable)
}
