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

// EnrollmentFlow registers a first TOTP factor and verifies it.
//
//	Idle → CheckingSession → {SessionInvalid, EnrollmentPending, AlreadyEnrolled, Error}
//	EnrollmentPending → Submitting → {Verified, Error}
//	Error → Submitting (retry)
type EnrollmentFlow struct {
	provider baas.Client
	tokens   *tokenstore.Store
	ensurer  *FactorEnsurer
	opts     flowOptions

	lock sync.Mutex
	snap Snapshot
}

func NewEnrollmentFlow(provider baas.Client, tokens *tokenstore.Store, opts ...FlowOption) *EnrollmentFlow {
	return &EnrollmentFlow{
		provider: provider,
		tokens:   tokens,
		ensurer:  NewFactorEnsurer(provider, tokens),
		opts:     newFlowOptions(opts),
		snap:     Snapshot{State: StateIdle},
	}
}

func (f *EnrollmentFlow) Snapshot() Snapshot {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.snap
}

// Start checks the session and prepares a factor to verify.
func (f *EnrollmentFlow) Start(ctx context.Context) Snapshot {
	f.lock.Lock()
	f.snap = Snapshot{State: StateCheckingSession}
	f.lock.Unlock()

	next := f.prepare(ctx)

	f.lock.Lock()
	defer f.lock.Unlock()
	f.snap = next
	return f.snap
}

func (f *EnrollmentFlow) prepare(ctx context.Context) Snapshot {
	session, err := f.provider.GetSession(ctx)
	if err != nil || session == nil {
		log.Err(err).Str("component", "mfa").Msg("No valid session for MFA enrollment")
		return Snapshot{State: StateSessionInvalid, Message: MessageAuthRequired, Redirect: f.opts.loginAfterDelay()}
	}
	userID := session.User.ID
	// A session without a user id is reported on the page without a redirect.
	if userID == "" {
		log.Error().Str("component", "mfa").Msg("User ID not found in session")
		return Snapshot{State: StateSessionInvalid, Message: MessageUserAuthError}
	}

	pending, err := f.ensurer.Ensure(ctx, userID)
	switch {
	case err == nil:
		return Snapshot{State: StateEnrollmentPending, FactorID: pending.FactorID, QRCode: pending.QRCode}
	case isQRUnavailable(pending, err):
		return Snapshot{State: StateEnrollmentPending, FactorID: pending.FactorID, Message: UserMessage(err)}
	case errors.Is(err, apperrors.ErrFactorAlreadyVerified):
		return Snapshot{State: StateAlreadyEnrolled, Message: UserMessage(err)}
	case Unexpected(err):
		log.Err(err).Str("component", "mfa").Msg("Unexpected error in MFA enrollment")
		return Snapshot{State: StateError, Message: MessageUnexpected, Redirect: f.opts.loginAfterDelay()}
	default:
		return Snapshot{State: StateError, Message: UserMessage(err)}
	}
}

// Submit challenges the pending factor and verifies code. Invalid codes are rejected
// before any provider call, and a second submit while one is running is refused.
func (f *EnrollmentFlow) Submit(ctx context.Context, code string) (Snapshot, error) {
	f.lock.Lock()
	if f.snap.State == StateSubmitting {
		f.lock.Unlock()
		return f.Snapshot(), apperrors.ErrSubmissionInFlight
	}
	if err := ValidateCode(code); err != nil {
		f.lock.Unlock()
		return f.Snapshot(), err
	}
	if f.snap.FactorID == "" || (f.snap.State != StateEnrollmentPending && f.snap.State != StateError) {
		f.lock.Unlock()
		return f.Snapshot(), apperrors.ErrFlowNotReady
	}
	factorID := f.snap.FactorID
	f.snap.State = StateSubmitting
	f.snap.Message = ""
	f.snap.Redirect = nil
	f.lock.Unlock()

	err := f.verify(ctx, factorID, code)

	f.lock.Lock()
	if err == nil {
		f.snap = Snapshot{State: StateVerified, FactorID: factorID}
	} else {
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

func (f *EnrollmentFlow) verify(ctx context.Context, factorID, code string) error {
	session, err := f.provider.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil || session.User.ID == "" {
		return apperrors.ErrNoSession
	}
	userID := session.User.ID

	challenge, err := f.provider.Challenge(ctx, factorID)
	if err != nil {
		log.Err(err).Str("component", "mfa").Msg("Challenge error")
		return err
	}
	if _, err := f.provider.Verify(ctx, factorID, challenge.ID, code); err != nil {
		log.Err(err).Str("component", "mfa").Msg("Verification error")
		return err
	}

	if err := syncSession(ctx, f.provider, f.tokens); err != nil {
		return errSessionAfterVerify{err}
	}

	f.tokens.ClearPendingEnrollment(userID)
	f.tokens.MarkMFAEnrolled(NowTimeFunc())
	log.Info().Str("component", "mfa").Str("user_id", userID).Msg("MFA successfully enrolled and verified")
	return nil
}

func (f *EnrollmentFlow) failure(err error) (string, *Redirect) {
	var afterVerify errSessionAfterVerify
	switch {
	case errors.As(err, &afterVerify):
		return MessageSessionAfterVerify, nil
	case errors.Is(err, apperrors.ErrNoSession):
		return MessageAuthRequired, f.opts.loginAfterDelay()
	case Unexpected(err):
		log.Err(err).Str("component", "mfa").Msg("Unexpected error during MFA setup")
		return MessageUnexpected, f.opts.loginAfterDelay()
	}
	return UserMessage(err), nil
}

// Cancel leaves the flow for the login page without clearing anything.
func (f *EnrollmentFlow) Cancel() Snapshot {
	if f.opts.onCancel != nil {
		f.opts.onCancel()
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.snap.Redirect = &Redirect{Path: LoginPath}
	return f.snap
}

// errSessionAfterVerify marks a failure to re-read the session once the code was accepted.
type errSessionAfterVerify struct {
	err error
}

func (e errSessionAfterVerify) Error() string {
	return "session error after verification: " + e.err.Error()
}

func (e errSessionAfterVerify) Unwrap() error {
	return e.err
}
