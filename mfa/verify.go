package mfa

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/neuroscan-portal/baas"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

// VerificationFlow steps a session up to aal2 with an existing TOTP factor.
//
//	Idle → Submitting → {Verified, Error}
//	Idle → ShowingEnrollmentQR when the user has no TOTP factor at all
type VerificationFlow struct {
	provider baas.Client
	tokens   *tokenstore.Store
	ensurer  *FactorEnsurer
	opts     flowOptions

	lock sync.Mutex
	snap Snapshot
}

func NewVerificationFlow(provider baas.Client, tokens *tokenstore.Store, opts ...FlowOption) *VerificationFlow {
	return &VerificationFlow{
		provider: provider,
		tokens:   tokens,
		ensurer:  NewFactorEnsurer(provider, tokens),
		opts:     newFlowOptions(opts),
		snap:     Snapshot{State: StateIdle},
	}
}

func (f *VerificationFlow) Snapshot() Snapshot {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.snap
}

// Start looks for a TOTP factor. When there is none it prepares one through the
// shared FactorEnsurer and shows its QR code instead of failing at submit time.
func (f *VerificationFlow) Start(ctx context.Context) Snapshot {
	next := f.prepare(ctx)

	f.lock.Lock()
	defer f.lock.Unlock()
	f.snap = next
	return f.snap
}

func (f *VerificationFlow) prepare(ctx context.Context) Snapshot {
	factors, err := f.provider.ListFactors(ctx)
	if err != nil {
		log.Err(err).Str("component", "mfa").Msg("Error checking auth status")
		return Snapshot{State: StateIdle}
	}
	if len(factors.TOTP) > 0 {
		return Snapshot{State: StateIdle}
	}

	session, err := f.provider.GetSession(ctx)
	if err != nil || session == nil {
		log.Err(err).Str("component", "mfa").Msg("No session to prepare an MFA factor for")
		return Snapshot{State: StateIdle}
	}

	pending, err := f.ensurer.Ensure(ctx, session.User.ID)
	switch {
	case err == nil:
		return Snapshot{State: StateShowingEnrollmentQR, FactorID: pending.FactorID, QRCode: pending.QRCode}
	case isQRUnavailable(pending, err):
		return Snapshot{State: StateShowingEnrollmentQR, FactorID: pending.FactorID, Message: VerificationMessage(err)}
	default:
		log.Err(err).Str("component", "mfa").Msg("Error generating new QR code")
		return Snapshot{State: StateIdle, Message: MessageNewQRCodeFailed}
	}
}

// Submit verifies code against the user's first TOTP factor.
func (f *VerificationFlow) Submit(ctx context.Context, code string) (Snapshot, error) {
	f.lock.Lock()
	if f.snap.State == StateSubmitting {
		f.lock.Unlock()
		return f.Snapshot(), apperrors.ErrSubmissionInFlight
	}
	if err := ValidateCode(code); err != nil {
		f.lock.Unlock()
		return f.Snapshot(), err
	}
	switch f.snap.State {
	case StateIdle, StateShowingEnrollmentQR, StateError:
	default:
		f.lock.Unlock()
		return f.Snapshot(), apperrors.ErrFlowNotReady
	}
	enrolling := f.snap.FactorID != "" && (f.snap.State == StateShowingEnrollmentQR || f.snap.State == StateError)
	prev := f.snap
	f.snap.State = StateSubmitting
	f.snap.Message = ""
	f.snap.Redirect = nil
	f.lock.Unlock()

	pendingID := ""
	if enrolling {
		pendingID = prev.FactorID
	}
	err := f.verify(ctx, code, pendingID)

	f.lock.Lock()
	if err == nil {
		f.snap = Snapshot{State: StateVerified}
	} else {
		f.snap = prev
		f.snap.State = StateError
		f.snap.Message, f.snap.Redirect = f.failure(err)
	}
	snap := f.snap
	f.lock.Unlock()

	if err == nil && f.opts.onComplete != nil {
		f.opts.onComplete(ctx)
	}
	return snap, err
}

// verify checks code against pendingID when the flow is showing an enrollment, and
// against the user's first verified TOTP factor otherwise.
func (f *VerificationFlow) verify(ctx context.Context, code, pendingID string) error {
	session, err := f.provider.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil || session.User.ID == "" {
		return apperrors.ErrNoSession
	}
	userID := session.User.ID

	factorID := pendingID
	if factorID == "" {
		factors, err := f.provider.ListFactors(ctx)
		if err != nil {
			log.Err(err).Str("component", "mfa").Msg("Error getting factors")
			return err
		}
		if len(factors.TOTP) == 0 {
			log.Error().Str("component", "mfa").Msg("No TOTP factors found")
			return apperrors.ErrNoTOTPFactor
		}
		factorID = factors.TOTP[0].ID
	}

	challenge, err := f.provider.Challenge(ctx, factorID)
	if err != nil {
		log.Err(err).Str("component", "mfa").Msg("Error creating challenge")
		return err
	}
	if _, err := f.provider.Verify(ctx, factorID, challenge.ID, code); err != nil {
		log.Err(err).Str("component", "mfa").Msg("Verification error")
		return err
	}

	if err := syncSession(ctx, f.provider, f.tokens); err != nil {
		return errSessionAfterVerify{err}
	}

	now := NowTimeFunc()
	if pendingID != "" {
		f.tokens.ClearPendingEnrollment(userID)
		f.tokens.MarkMFAEnrolled(now)
	}
	f.tokens.MarkMFAVerified(userID, now)
	log.Info().Str("component", "mfa").Str("user_id", userID).Msg("MFA verification successful")
	return nil
}

func (f *VerificationFlow) failure(err error) (string, *Redirect) {
	var afterVerify errSessionAfterVerify
	switch {
	case errors.As(err, &afterVerify):
		return MessageSessionAfterVerify, nil
	case errors.Is(err, apperrors.ErrNoSession):
		return MessageAuthRequired, f.opts.loginAfterDelay()
	case errors.Is(err, apperrors.ErrNoTOTPFactor):
		return VerificationMessage(err), f.opts.loginAfterDelay()
	case Unexpected(err):
		log.Err(err).Str("component", "mfa").Msg("Unexpected error during verification")
		return MessageVerifyUnexpected, f.opts.loginAfterDelay()
	}
	return VerificationMessage(err), nil
}

// Cancel returns to the previous view. The session is kept.
func (f *VerificationFlow) Cancel() Snapshot {
	if f.opts.onCancel != nil {
		f.opts.onCancel()
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.snap.Message = ""
	f.snap.Redirect = &Redirect{Back: true}
	return f.snap
}
