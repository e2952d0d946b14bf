package baas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// SessionStorageKey is where the client keeps its own copy of the session.
	SessionStorageKey = "baas.auth-token"

	defaultExpiryMargin = 10 * time.Second
	defaultTimeout      = 10 * time.Second
)

// NowTimeFunc is the clock used for expiry checks.
var NowTimeFunc = time.Now

// SessionStorage is the persistence the client uses for its session. tokenstore.Repo satisfies it.
type SessionStorage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

type Option func(*HTTPClient)

func WithSessionStorage(storage SessionStorage) Option {
	return func(c *HTTPClient) {
		c.storage = storage
	}
}

func WithExpiryMargin(margin time.Duration) Option {
	return func(c *HTTPClient) {
		c.expiryMargin = margin
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = timeout
	}
}

var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to a GoTrue-compatible auth endpoint. The refresh grant goes through
// x/oauth2 and user lookups through the provider's OIDC userinfo endpoint.
type HTTPClient struct {
	baseURL      string
	httpClient   *http.Client
	oauthConfig  *oauth2.Config
	oidcProvider *oidc.Provider
	storage      SessionStorage
	expiryMargin time.Duration

	lock    sync.Mutex
	session *Session
	loaded  bool

	listenersLock sync.Mutex
	listeners     map[int]AuthChangeListener
	nextListener  int
}

// NewHTTPClient creates a client for the auth API rooted at baseURL (e.g. https://xyz.supabase.co/auth/v1).
func NewHTTPClient(ctx context.Context, baseURL, anonKey string, opts ...Option) *HTTPClient {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: &apiKeyTransport{apiKey: anonKey, base: http.DefaultTransport},
		},
		expiryMargin: defaultExpiryMargin,
		listeners:    make(map[int]AuthChangeListener),
	}
	for _, opt := range opts {
		opt(c)
	}

	tokenURL := baseURL + "/token?grant_type=refresh_token"
	c.oauthConfig = &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	c.oidcProvider = (&oidc.ProviderConfig{
		IssuerURL:   baseURL,
		TokenURL:    tokenURL,
		UserInfoURL: baseURL + "/user",
	}).NewProvider(ctx)
	return c
}

// apiKeyTransport adds the project's public API key to every request.
type apiKeyTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.apiKey != "" {
		r.Header.Set("apikey", t.apiKey)
	}
	return t.base.RoundTrip(r)
}

func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	s := c.currentSession()
	if s == nil {
		return nil, nil
	}
	if !s.Expired(NowTimeFunc(), c.expiryMargin) {
		return s, nil
	}
	if s.RefreshToken == "" {
		c.removeSession()
		return nil, nil
	}

	refreshed, err := c.RefreshSession(ctx, s.RefreshToken)
	if err != nil {
		c.removeSession()
		c.notify(EventSignedOut, nil)
		return nil, err
	}
	return refreshed, nil
}

func (c *HTTPClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, &ProviderError{Op: "refresh_session", Status: http.StatusBadRequest, Message: "refresh token is required"}
	}

	tok, err := c.oauthConfig.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, tokenError("refresh_session", err)
	}

	session, err := c.sessionFromToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	c.storeSession(session)
	c.notify(EventTokenRefreshed, session)
	return session.clone(), nil
}

func (c *HTTPClient) SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, &ProviderError{Op: "set_session", Status: http.StatusBadRequest, Message: "access token and refresh token are required"}
	}

	claims, err := parseAccessToken(accessToken)
	if err != nil {
		return nil, &ProviderError{Op: "set_session", Status: http.StatusBadRequest, Message: err.Error()}
	}
	if !claims.ExpiresAt.IsZero() && !NowTimeFunc().Add(c.expiryMargin).Before(claims.ExpiresAt) {
		return c.RefreshSession(ctx, refreshToken)
	}

	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	session := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    claims.ExpiresAt,
		User:         *user,
	}
	c.storeSession(session)
	c.notify(EventSignedIn, session)
	return session.clone(), nil
}

func (c *HTTPClient) GetUser(ctx context.Context) (*User, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.ErrNoSession
	}

	user, err := c.fetchUser(ctx, s.AccessToken)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	if c.session != nil && c.session.AccessToken == s.AccessToken {
		c.session.User = *user
		c.persistLocked()
	}
	c.lock.Unlock()
	return user, nil
}

// SignOut revokes the session server-side and always drops the local copy.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	s := c.currentSession()

	var err error
	if s != nil && s.AccessToken != "" {
		err = c.doJSON(ctx, "sign_out", http.MethodPost, "/logout", s.AccessToken, nil, nil)
	}
	c.removeSession()
	c.notify(EventSignedOut, nil)

	// An already-invalid session is signed out as far as the caller is concerned.
	if pe, ok := AsProviderError(err); ok {
		switch pe.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil
		}
	}
	return err
}

// OnAuthStateChange registers listener for session changes. The returned func removes it.
func (c *HTTPClient) OnAuthStateChange(listener AuthChangeListener) func() {
	c.listenersLock.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = listener
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

func (c *HTTPClient) notify(event AuthEvent, session *Session) {
	c.listenersLock.Lock()
	listeners := make([]AuthChangeListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersLock.Unlock()

	for _, l := range listeners {
		l(event, session.clone())
	}
}

func (c *HTTPClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *HTTPClient) fetchUser(ctx context.Context, accessToken string) (*User, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := c.oidcProvider.UserInfo(oidc.ClientContext(ctx, c.httpClient), ts)
	if err != nil {
		return nil, &ProviderError{Op: "get_user", Status: http.StatusUnauthorized, Message: err.Error()}
	}

	var user User
	if err := info.Claims(&user); err != nil {
		return nil, fmt.Errorf("[baas GetUser] decoding user: %w", err)
	}
	if user.ID == "" {
		user.ID = info.Subject
	}
	if user.Email == "" {
		user.Email = info.Email
	}
	return &user, nil
}

func (c *HTTPClient) sessionFromToken(ctx context.Context, tok *oauth2.Token) (*Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, apperrors.ErrRefreshReturnedNoSession
	}

	session := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if session.ExpiresAt.IsZero() {
		if claims, err := parseAccessToken(tok.AccessToken); err == nil {
			session.ExpiresAt = claims.ExpiresAt
		}
	}

	if raw := tok.Extra("user"); raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(b, &session.User)
		}
	}
	if session.User.ID == "" {
		user, err := c.fetchUser(ctx, tok.AccessToken)
		if err != nil {
			return nil, err
		}
		session.User = *user
	}
	return session, nil
}

func (c *HTTPClient) currentSession() *Session {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.loadLocked()
	return c.session.clone()
}

func (c *HTTPClient) storeSession(s *Session) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.loaded = true
	c.session = s.clone()
	c.persistLocked()
}

func (c *HTTPClient) removeSession() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.loaded = true
	c.session = nil
	if c.storage == nil {
		return
	}
	if err := c.storage.Delete(SessionStorageKey); err != nil {
		log.Err(err).Str("component", "baas").Msg("Failed to remove stored session")
	}
}

func (c *HTTPClient) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	if c.storage == nil {
		return
	}

	raw, ok, err := c.storage.Get(SessionStorageKey)
	if err != nil {
		log.Err(err).Str("component", "baas").Msg("Failed to read stored session")
		return
	}
	if !ok || raw == "" {
		return
	}
	var stored sessionJSON
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Err(err).Str("component", "baas").Msg("Discarding unreadable stored session")
		return
	}
	c.session = stored.toSession(NowTimeFunc())
}

func (c *HTTPClient) persistLocked() {
	if c.storage == nil || c.session == nil {
		return
	}
	b, err := json.Marshal(newSessionJSON(c.session))
	if err != nil {
		log.Err(err).Str("component", "baas").Msg("Failed to encode session")
		return
	}
	if err := c.storage.Set(SessionStorageKey, string(b)); err != nil {
		log.Err(err).Str("component", "baas").Msg("Failed to store session")
	}
}

// sessionJSON is the provider's session object, also used for the stored copy.
type sessionJSON struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

func newSessionJSON(s *Session) sessionJSON {
	out := sessionJSON{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
	}
	if !s.ExpiresAt.IsZero() {
		out.ExpiresAt = s.ExpiresAt.Unix()
	}
	user := s.User
	out.User = &user
	return out
}

func (s sessionJSON) toSession(now time.Time) *Session {
	if s.AccessToken == "" {
		return nil
	}
	session := &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
	}
	switch {
	case s.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		session.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second)
	default:
		if claims, err := parseAccessToken(s.AccessToken); err == nil {
			session.ExpiresAt = claims.ExpiresAt
		}
	}
	if s.User != nil {
		session.User = *s.User
	}
	return session
}

// errorJSON covers the error bodies the auth API returns across versions.
type errorJSON struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorJSON) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

func (e errorJSON) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	if s, ok := e.Code.(string); ok {
		return s
	}
	return e.Error
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("[baas %s] encoding request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("[baas %s] building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorJSON
		_ = json.Unmarshal(data, &e)
		msg := e.message()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{Op: op, Status: resp.StatusCode, Code: e.code(), Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("[baas %s] decoding response: %w", op, err)
	}
	return nil
}

func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &ProviderError{Op: op, Code: re.ErrorCode, Message: re.ErrorDescription}
		if re.Response != nil {
			pe.Status = re.Response.StatusCode
		}
		if pe.Message == "" {
			var e errorJSON
			_ = json.Unmarshal(re.Body, &e)
			pe.Message = e.message()
			if pe.Code == "" {
				pe.Code = e.code()
			}
		}
		return pe
	}
	return &ProviderError{Op: op, Message: err.Error()}
}
