package tokenstore

import (
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"golang.org/x/oauth2"
)

// TokenSource exposes the cached access token to oauth2 transports. Every call reads
// the store, so a token rotated by a refresh is picked up by the next request.
func (s *Store) TokenSource() oauth2.TokenSource {
	return storeTokenSource{store: s}
}

type storeTokenSource struct {
	store *Store
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	accessToken := ts.store.get(KeyAccessToken)
	if accessToken == "" {
		return nil, apperrors.ErrNoAccessToken
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil
}
