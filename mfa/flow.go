package mfa

import (
	"context"
	"time"

	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

// LoginPath is where both flows send a user whose session cannot continue.
const LoginPath = "/login"

// DefaultRedirectDelay keeps an error readable before a forced redirect.
const DefaultRedirectDelay = 1500 * time.Millisecond

// NowTimeFunc stamps the durable MFA flags.
var NowTimeFunc = time.Now

type State string

const (
	StateIdle                State = "idle"
	StateCheckingSession     State = "checking_session"
	StateSessionInvalid      State = "session_invalid"
	StateEnrollmentPending   State = "enrollment_pending"
	StateAlreadyEnrolled     State = "already_enrolled"
	StateShowingEnrollmentQR State = "showing_enrollment_qr"
	StateSubmitting          State = "submitting"
	StateVerified            State = "verified"
	StateError               State = "error"
)

// Redirect is a full navigation the view must perform. After is the delay before it
// happens; Back means return to the previous view instead of Path.
type Redirect struct {
	Path  string
	After time.Duration
	Back  bool
}

// Snapshot is everything a view needs to render a flow.
type Snapshot struct {
	State    State
	QRCode   string
	FactorID string
	Message  string
	Redirect *Redirect
}

// Submitting reports whether the submit control should be disabled.
func (s Snapshot) Submitting() bool {
	return s.State == StateSubmitting
}

type FlowOption func(*flowOptions)

type flowOptions struct {
	redirectDelay time.Duration
	onComplete    func(ctx context.Context)
	onCancel      func()
}

// WithRedirectDelay sets how long an error stays visible before a redirect to login.
func WithRedirectDelay(d time.Duration) FlowOption {
	return func(o *flowOptions) {
		o.redirectDelay = d
	}
}

// WithOnComplete is called after a successful verification.
func WithOnComplete(fn func(ctx context.Context)) FlowOption {
	return func(o *flowOptions) {
		o.onComplete = fn
	}
}

// WithOnCancel is called when the user cancels the flow.
func WithOnCancel(fn func()) FlowOption {
	return func(o *flowOptions) {
		o.onCancel = fn
	}
}

func newFlowOptions(opts []FlowOption) flowOptions {
	o := flowOptions{redirectDelay: DefaultRedirectDelay}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o flowOptions) loginAfterDelay() *Redirect {
	return &Redirect{Path: LoginPath, After: o.redirectDelay}
}

// syncSession re-reads the provider session after a verification and persists it, so
// the upgraded assurance level is what the token store holds.
func syncSession(ctx context.Context, provider baas.SessionClient, tokens *tokenstore.Store) error {
	session, err := provider.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	tokens.Save(session.AccessToken, session.RefreshToken)
	if _, err := provider.SetSession(ctx, session.AccessToken, session.RefreshToken); err != nil {
		log.Err(err).Str("component", "mfa").Msg("Failed to re-apply session after verification")
	}
	return nil
}
