package baas

import (
	"context"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
)

type enrollRequest struct {
	FactorType   FactorType `json:"factor_type"`
	FriendlyName string     `json:"friendly_name,omitempty"`
}

type challengeResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

func (c *HTTPClient) requireSession(ctx context.Context) (*Session, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.ErrNoSession
	}
	return s, nil
}

func factorPath(factorID, action string) string {
	return "/factors/" + url.PathEscape(factorID) + "/" + action
}

func (c *HTTPClient) Enroll(ctx context.Context, factorType FactorType) (*Enrollment, error) {
	s, err := c.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	var out Enrollment
	if err := c.doJSON(ctx, "mfa_enroll", http.MethodPost, "/factors", s.AccessToken, enrollRequest{FactorType: factorType}, &out); err != nil {
		return nil, err
	}
	if out.Type == "" {
		out.Type = factorType
	}
	return &out, nil
}

func (c *HTTPClient) Challenge(ctx context.Context, factorID string) (*Challenge, error) {
	s, err := c.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	var out challengeResponse
	if err := c.doJSON(ctx, "mfa_challenge", http.MethodPost, factorPath(factorID, "challenge"), s.AccessToken, struct{}{}, &out); err != nil {
		return nil, err
	}
	ch := &Challenge{ID: out.ID}
	if out.ExpiresAt > 0 {
		ch.ExpiresAt = time.Unix(out.ExpiresAt, 0)
	}
	return ch, nil
}

// Verify completes a challenge. On success the provider issues an upgraded session,
// which replaces the current one.
func (c *HTTPClient) Verify(ctx context.Context, factorID, challengeID, code string) (*Session, error) {
	s, err := c.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	var out sessionJSON
	req := verifyRequest{ChallengeID: challengeID, Code: code}
	if err := c.doJSON(ctx, "mfa_verify", http.MethodPost, factorPath(factorID, "verify"), s.AccessToken, req, &out); err != nil {
		return nil, err
	}

	session := out.toSession(NowTimeFunc())
	if session == nil {
		return nil, &ProviderError{Op: "mfa_verify", Status: http.StatusBadGateway, Message: "verification returned no session"}
	}
	if session.User.ID == "" {
		user, err := c.fetchUser(ctx, session.AccessToken)
		if err != nil {
			return nil, err
		}
		session.User = *user
	}
	c.storeSession(session)
	c.notify(EventMFAChallengeVerified, session)
	return session.clone(), nil
}

func (c *HTTPClient) ListFactors(ctx context.Context) (*Factors, error) {
	user, err := c.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	return NewFactors(user.Factors), nil
}

// AuthenticatorAssuranceLevel reads the level from the session's access token. Next is
// aal2 once the user has a verified factor.
func (c *HTTPClient) AuthenticatorAssuranceLevel(ctx context.Context) (*AssuranceLevels, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &AssuranceLevels{}, nil
	}

	claims, err := parseAccessToken(s.AccessToken)
	if err != nil {
		return nil, &ProviderError{Op: "mfa_aal", Message: err.Error()}
	}
	return levelsFor(claims.Level, claims.Methods, s.User.Factors), nil
}

func levelsFor(current AssuranceLevel, methods []string, factors []Factor) *AssuranceLevels {
	levels := &AssuranceLevels{Current: current, Next: current, CurrentMethods: methods}
	for _, f := range factors {
		if f.Verified() {
			levels.Next = AAL2
			break
		}
	}
	return levels
}
