package guard

import (
	"context"
	"sync/atomic"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

type StateRefresher interface {
	RefreshAuthState(ctx context.Context) authstate.AuthState
}

// Refresher keeps the cached access token fresh as the user navigates. At most one
// attempt runs at a time per Refresher.
type Refresher struct {
	provider   baas.SessionClient
	tokens     *tokenstore.Store
	controller StateRefresher
	inFlight   atomic.Bool
}

func NewRefresher(provider baas.SessionClient, tokens *tokenstore.Store, controller StateRefresher) *Refresher {
	return &Refresher{
		provider:   provider,
		tokens:     tokens,
		controller: controller,
	}
}

// OnPathChange attempts a silent refresh and reports whether one was made. The login
// page is skipped, as are visitors with no cached token.
func (r *Refresher) OnPathChange(ctx context.Context, path string) bool {
	if path == LoginPath {
		return false
	}
	if !r.tokens.Read().HasAny() {
		return false
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		log.Debug().Str("component", "guard").Str("path", path).Msg("Refresh already in flight")
		return false
	}
	defer r.inFlight.Store(false)

	session, err := r.provider.GetSession(ctx)
	if err == nil && session != nil && session.AccessToken != "" {
		r.tokens.Save(session.AccessToken, session.RefreshToken)
		return true
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "guard").Msg("Error getting session")
	}
	r.controller.RefreshAuthState(ctx)
	return true
}
