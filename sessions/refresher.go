package sessions

import (
	"context"
	"fmt"

	"github.com/jrsteele09/neuroscan-portal/baas"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

// Result is a successfully refreshed session and the user it belongs to.
type Result struct {
	Session *baas.Session
	User    baas.User
}

// Refresher exchanges the cached refresh token for a new session.
type Refresher struct {
	provider baas.SessionClient
	tokens   *tokenstore.Store
}

func NewRefresher(provider baas.SessionClient, tokens *tokenstore.Store) *Refresher {
	return &Refresher{
		provider: provider,
		tokens:   tokens,
	}
}

// Refresh fails closed: any provider failure clears the token store. On success the
// new pair is saved before Refresh returns.
func (r *Refresher) Refresh(ctx context.Context) (*Result, error) {
	refreshToken := r.tokens.Read().RefreshToken
	if refreshToken == "" {
		return nil, apperrors.ErrNoRefreshToken
	}

	session, err := r.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		log.Err(err).Str("component", "sessions").Msg("Session refresh failed")
		r.tokens.Clear()
		return nil, fmt.Errorf("[sessions Refresh] %w", err)
	}
	if session == nil || session.AccessToken == "" || session.RefreshToken == "" {
		log.Warn().Str("component", "sessions").Msg("Session refresh returned no session")
		r.tokens.Clear()
		return nil, apperrors.ErrRefreshReturnedNoSession
	}

	r.tokens.Save(session.AccessToken, session.RefreshToken)
	return &Result{Session: session, User: session.User}, nil
}
