package authstate

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/neuroscan-portal/baas"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/mfa"
	"github.com/jrsteele09/neuroscan-portal/restapi"
	"github.com/jrsteele09/neuroscan-portal/sessions"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

const (
	component = "authstate"
	LoginPath = "/login"
)

type SessionRefresher interface {
	Refresh(ctx context.Context) (*sessions.Result, error)
}

type StatusChecker interface {
	Check(ctx context.Context) (mfa.Status, error)
}

// IdentityAPI is the part of the REST backend the controller uses.
type IdentityAPI interface {
	Me(ctx context.Context) (*restapi.User, error)
	Logout(ctx context.Context) error
}

// SignOutResult carries the full redirect to perform after a sign-out.
type SignOutResult struct {
	RedirectTo string
}

// Controller owns AuthState. Pages and the route guard only read it.
type Controller struct {
	provider  baas.SessionClient
	tokens    *tokenstore.Store
	refresher SessionRefresher
	checker   StatusChecker
	identity  IdentityAPI

	lock        sync.Mutex
	state       AuthState
	seq         uint64
	closed      bool
	unsubscribe func()

	listenersLock sync.Mutex
	listeners     map[int]func(AuthState)
	nextListener  int
}

func NewController(provider baas.SessionClient, tokens *tokenstore.Store, refresher SessionRefresher, checker StatusChecker, identity IdentityAPI) *Controller {
	return &Controller{
		provider:  provider,
		tokens:    tokens,
		refresher: refresher,
		checker:   checker,
		identity:  identity,
		state:     AuthState{Phase: PhaseUnchecked, Loading: true},
		listeners: make(map[int]func(AuthState)),
	}
}

// Start subscribes to provider session changes and runs the initial check.
func (c *Controller) Start(ctx context.Context) AuthState {
	c.lock.Lock()
	if c.unsubscribe == nil && !c.closed {
		c.unsubscribe = c.provider.OnAuthStateChange(c.onAuthChange)
	}
	c.lock.Unlock()
	return c.CheckAuthState(ctx)
}

// Close unsubscribes from the provider. Later updates are dropped.
func (c *Controller) Close() {
	c.lock.Lock()
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Controller) State() AuthState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state.normalized()
}

// Subscribe registers fn for every state transition. The returned func removes it.
func (c *Controller) Subscribe(fn func(AuthState)) func() {
	c.listenersLock.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersLock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersLock.Lock()
			delete(c.listeners, id)
			c.listenersLock.Unlock()
		})
	}
}

// CheckAuthState resolves the current identity. Sources are tried strictly in order:
// the provider's session, the session refresher, then the REST /me endpoint with the
// stored access token. When none yields an identity the tokens are cleared.
func (c *Controller) CheckAuthState(ctx context.Context) AuthState {
	seq, ok := c.begin()
	if !ok {
		return c.State()
	}
	next := c.resolve(ctx)
	c.finish(seq, next)
	return c.State()
}

// RefreshAuthState re-runs the check, e.g. after a login or a completed MFA flow.
func (c *Controller) RefreshAuthState(ctx context.Context) AuthState {
	return c.CheckAuthState(ctx)
}

// SignOut ends the session everywhere. The backend logout is best effort; the provider
// sign-out, the token clear and the state reset always run.
func (c *Controller) SignOut(ctx context.Context) SignOutResult {
	if c.identity != nil && c.tokens.Read().AccessToken != "" {
		if err := c.identity.Logout(ctx); err != nil {
			log.Warn().Err(err).Str("component", component).Msg("Backend logout failed")
		}
	}
	if err := c.provider.SignOut(ctx); err != nil {
		log.Err(err).Str("component", component).Msg("Provider sign out failed")
	}
	c.tokens.Clear()

	c.lock.Lock()
	c.seq++
	c.lock.Unlock()
	c.apply(func(s *AuthState) {
		*s = unauthenticated()
	})
	log.Info().Str("component", component).Msg("Signed out")
	return SignOutResult{RedirectTo: LoginPath}
}

func (c *Controller) begin() (uint64, bool) {
	var seq uint64
	ok := c.apply(func(s *AuthState) {
		c.seq++
		seq = c.seq
		s.Loading = true
		s.Phase = PhaseChecking
	})
	return seq, ok
}

// finish publishes the result of check seq unless a newer check or a sign-out started since.
func (c *Controller) finish(seq uint64, next AuthState) {
	c.apply(func(s *AuthState) {
		if seq != c.seq {
			return
		}
		*s = next
		s.Loading = false
	})
}

func (c *Controller) resolve(ctx context.Context) AuthState {
	session, err := c.provider.GetSession(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", component).Msg("Error getting session")
	}
	if err == nil && session != nil && session.AccessToken != "" {
		return c.authenticated(ctx, session)
	}

	result, err := c.refresher.Refresh(ctx)
	if err == nil {
		return c.authenticated(ctx, result.Session)
	}
	if !errors.Is(err, apperrors.ErrNoRefreshToken) {
		log.Warn().Err(err).Str("component", component).Msg("Session refresh failed")
	}

	if c.identity != nil && c.tokens.Read().AccessToken != "" {
		user, err := c.identity.Me(ctx)
		if err == nil {
			return AuthState{
				User:            &baas.User{ID: user.ID, Email: user.Email, Metadata: user.Metadata},
				IsAuthenticated: true,
				Phase:           PhaseAuthenticatedNoMFA,
			}
		}
		log.Warn().Err(err).Str("component", component).Msg("Token validation failed")
	}

	c.tokens.Clear()
	return unauthenticated()
}

func (c *Controller) authenticated(ctx context.Context, session *baas.Session) AuthState {
	c.tokens.Save(session.AccessToken, session.RefreshToken)

	user := session.User
	if fetched, err := c.provider.GetUser(ctx); err != nil {
		log.Warn().Err(err).Str("component", component).Msg("Error fetching user")
	} else if fetched != nil {
		user = *fetched
	}

	status, err := c.checker.Check(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", component).Msg("MFA status check failed")
	}

	phase := PhaseAuthenticatedVerified
	if status.RequiresMFA {
		phase = PhaseAuthenticatedMFAPending
	}
	return AuthState{
		User:            &user,
		IsAuthenticated: true,
		RequiresMFA:     status.RequiresMFA,
		HasMFAEnrolled:  status.HasMFAEnrolled,
		Phase:           phase,
	}
}

// onAuthChange follows sessions rotated or replaced by the provider. It re-persists the
// tokens and the identity without re-running the MFA check. A check in flight owns the
// final state, so only the tokens are kept then.
func (c *Controller) onAuthChange(event baas.AuthEvent, session *baas.Session) {
	c.lock.Lock()
	closed := c.closed
	c.lock.Unlock()
	if closed {
		return
	}

	if session != nil && session.AccessToken != "" && session.RefreshToken != "" {
		c.tokens.Save(session.AccessToken, session.RefreshToken)
	}
	log.Debug().Str("component", component).Str("event", string(event)).Msg("Auth state changed")

	c.apply(func(s *AuthState) {
		if s.Loading {
			return
		}
		if session == nil {
			*s = unauthenticated()
			return
		}
		user := session.User
		s.User = &user
		if !s.IsAuthenticated {
			s.IsAuthenticated = true
			s.Phase = PhaseAuthenticatedNoMFA
		}
	})
}

// apply mutates the state under the lock and notifies subscribers. It reports false
// once the controller is closed.
func (c *Controller) apply(update func(*AuthState)) bool {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return false
	}
	update(&c.state)
	c.state = c.state.normalized()
	snapshot := c.state.normalized()
	c.lock.Unlock()

	c.notify(snapshot)
	return true
}

func (c *Controller) notify(state AuthState) {
	c.listenersLock.Lock()
	listeners := make([]func(AuthState), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersLock.Unlock()

	for _, l := range listeners {
		l(state)
	}
}
