package server_test

import (
	"bytes"
	"context"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/jrsteele09/neuroscan-portal/baas/baasfake"
	"github.com/jrsteele09/neuroscan-portal/internal/config"
	"github.com/jrsteele09/neuroscan-portal/restapi"
	"github.com/jrsteele09/neuroscan-portal/server"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	tokenrepofake "github.com/jrsteele09/neuroscan-portal/tokenstore/repofake"
	"github.com/stretchr/testify/require"
)

const (
	email    = "ada@example.com"
	password = "correct horse"
)

type portal struct {
	provider *baasfake.Provider
	repo     *tokenrepofake.FakeRepo
	store    *tokenstore.Store
	backend  *fakeBackend
	server   *server.Server
	url      string
	client   *http.Client
	user     baas.User
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("MFA_REDIRECT_DELAY", "10ms")

	p := &portal{provider: baasfake.New(), repo: tokenrepofake.NewFakeRepo()}
	p.store = tokenstore.New(p.repo)
	p.user = p.provider.AddUser(email, password)
	p.backend = newFakeBackend(t, p.provider)

	srv, err := server.New(config.New(), p.provider, p.store, restapi.New(p.backend.URL, p.store.TokenSource()))
	require.NoError(t, err)
	t.Cleanup(srv.Controller().Close)
	p.server = srv

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	p.url = ts.URL
	p.client = &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return p
}

type page struct {
	status   int
	location string
	header   http.Header
	body     string
}

func (p *portal) do(t *testing.T, req *http.Request) page {
	t.Helper()
	resp, err := p.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return page{status: resp.StatusCode, location: resp.Header.Get("Location"), header: resp.Header, body: string(body)}
}

func (p *portal) get(t *testing.T, path string) page {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, p.url+path, nil)
	require.NoError(t, err)
	return p.do(t, req)
}

func (p *portal) post(t *testing.T, path string, form url.Values) page {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, p.url+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(t, req)
}

func (p *portal) login(t *testing.T) {
	t.Helper()
	resp := p.post(t, "/login", url.Values{"email": {email}, "password": {password}})
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/landing", resp.location)
}

// signInVerified logs in a user with an existing factor and steps the session up to aal2.
func (p *portal) signInVerified(t *testing.T) {
	t.Helper()
	p.provider.AddFactor(p.user.ID, baas.FactorStatusVerified)
	p.login(t)
	require.Equal(t, http.StatusOK, p.get(t, "/mfa").status)
	resp := p.post(t, "/mfa", url.Values{"code": {baasfake.DefaultValidCode}})
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/landing", resp.location)
	require.Equal(t, authstate.PhaseAuthenticatedVerified, p.server.Controller().State().Phase)
}

var qrImage = regexp.MustCompile(`<img class="qr" src="([^"]*)"`)

// qrSource returns the decoded src of the page's QR image.
func qrSource(t *testing.T, body string) string {
	t.Helper()
	m := qrImage.FindStringSubmatch(body)
	require.Len(t, m, 2, "no QR image on the page")
	src := html.UnescapeString(m[1])
	require.True(t, strings.HasPrefix(src, "data:image/svg+xml;base64,"), src)
	return src
}

func TestFirstLoginEnrollsMFA(t *testing.T) {
	p := newPortal(t)

	resp := p.get(t, "/upload")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/login", resp.location)

	resp = p.get(t, "/login")
	require.Equal(t, http.StatusOK, resp.status)
	require.Contains(t, resp.body, `action="/login"`)

	p.login(t)
	state := p.server.Controller().State()
	require.Equal(t, authstate.PhaseAuthenticatedMFAPending, state.Phase)
	require.False(t, state.HasMFAEnrolled)

	resp = p.get(t, "/landing")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/mfa", resp.location)

	resp = p.get(t, "/mfa")
	require.Equal(t, http.StatusOK, resp.status)
	require.Contains(t, resp.body, "Set up two-factor authentication")
	qr := qrSource(t, resp.body)
	require.Equal(t, 1, p.provider.Calls(baasfake.OpEnroll))

	resp = p.post(t, "/mfa", url.Values{"code": {"12345"}})
	require.Equal(t, http.StatusOK, resp.status)
	require.Contains(t, resp.body, "Please enter the 6-digit code from your authenticator app")
	require.Zero(t, p.provider.Calls(baasfake.OpChallenge))

	resp = p.post(t, "/mfa", url.Values{"code": {"000000"}})
	require.Equal(t, http.StatusOK, resp.status)
	require.Contains(t, resp.body, "Invalid TOTP code entered")
	require.Equal(t, qr, qrSource(t, resp.body))

	resp = p.post(t, "/mfa", url.Values{"code": {baasfake.DefaultValidCode}})
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/landing", resp.location)

	values := p.repo.Snapshot()
	require.Equal(t, "true", values[tokenstore.KeyMFAEnrolled])
	require.Equal(t, "true", values[tokenstore.KeyMFAVerified])
	require.Equal(t, p.provider.CurrentSession().AccessToken, p.store.Read().AccessToken)

	state = p.server.Controller().State()
	require.Equal(t, authstate.PhaseAuthenticatedVerified, state.Phase)
	require.True(t, state.HasMFAEnrolled)
	require.False(t, state.RequiresMFA)

	resp = p.get(t, "/landing")
	require.Equal(t, http.StatusOK, resp.status)
	require.Contains(t, resp.body, email)

	resp = p.get(t, "/mfa")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/landing", resp.location)
}

func TestEnrollmentResumesAfterRelogin(t *testing.T) {
	p := newPortal(t)
	p.login(t)
	first := qrSource(t, p.get(t, "/mfa").body)

	resp := p.post(t, "/logout", nil)
	require.Equal(t, "/login", resp.location)

	p.login(t)
	state := p.server.Controller().State()
	require.False(t, state.HasMFAEnrolled)
	require.True(t, state.RequiresMFA)

	resp = p.get(t, "/mfa")
	require.Equal(t, http.StatusOK, resp.status)
	require.Contains(t, resp.body, "Set up two-factor authentication")
	require.Equal(t, first, qrSource(t, resp.body))
	require.Equal(t, 1, p.provider.Calls(baasfake.OpEnroll))

	resp = p.post(t, "/mfa", url.Values{"code": {baasfake.DefaultValidCode}})
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/landing", resp.location)
	require.Equal(t, authstate.PhaseAuthenticatedVerified, p.server.Controller().State().Phase)
}

func TestEnrollmentCancelSignsOut(t *testing.T) {
	p := newPortal(t)
	p.login(t)
	require.Equal(t, http.StatusOK, p.get(t, "/mfa").status)

	resp := p.post(t, "/mfa/cancel", nil)
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/login", resp.location)
	require.Equal(t, tokenstore.TokenPair{}, p.store.Read())
	require.False(t, p.server.Controller().State().IsAuthenticated)
}

func TestLogin(t *testing.T) {
	t.Run("wrong password shows the backend message", func(t *testing.T) {
		p := newPortal(t)
		resp := p.post(t, "/login", url.Values{"email": {email}, "password": {"nope"}})
		require.Equal(t, http.StatusUnauthorized, resp.status)
		require.Contains(t, resp.body, "Invalid login credentials")
		require.Contains(t, resp.body, email)
		require.Equal(t, tokenstore.TokenPair{}, p.store.Read())
	})

	t.Run("missing fields", func(t *testing.T) {
		p := newPortal(t)
		resp := p.post(t, "/login", url.Values{"email": {email}})
		require.Equal(t, http.StatusBadRequest, resp.status)
		require.Contains(t, resp.body, "Email and password are required")
	})

	t.Run("mode switches the form", func(t *testing.T) {
		p := newPortal(t)
		resp := p.get(t, "/login?mode=reset-password")
		require.Equal(t, http.StatusOK, resp.status)
		require.Contains(t, resp.body, `action="/login/reset-password"`)
	})
}

func TestLogout(t *testing.T) {
	p := newPortal(t)
	p.signInVerified(t)
	access := p.store.Read().AccessToken

	resp := p.post(t, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/login", resp.location)

	require.Equal(t, []string{access}, p.backend.logoutTokens())
	require.Equal(t, 1, p.provider.Calls(baasfake.OpSignOut))
	require.Equal(t, tokenstore.TokenPair{}, p.store.Read())
	require.Nil(t, p.provider.CurrentSession())

	resp = p.get(t, "/landing")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/login", resp.location)
}

func TestRouting(t *testing.T) {
	p := newPortal(t)

	resp := p.get(t, "/")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/landing", resp.location)

	resp = p.get(t, "/no/such/page")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/404", resp.location)

	resp = p.get(t, "/404")
	require.Equal(t, http.StatusNotFound, resp.status)
	require.Contains(t, resp.body, "does not exist")

	resp = p.get(t, "/css/portal.css")
	require.Equal(t, http.StatusOK, resp.status)
	require.True(t, strings.HasPrefix(resp.header.Get("Content-Type"), "text/css"))

	resp = p.get(t, "/history")
	require.Equal(t, http.StatusSeeOther, resp.status)
	require.Equal(t, "/login", resp.location)
}

func TestProtectedPages(t *testing.T) {
	p := newPortal(t)
	p.signInVerified(t)

	t.Run("landing shows when MFA was verified", func(t *testing.T) {
		resp := p.get(t, "/landing")
		require.Equal(t, http.StatusOK, resp.status)
		require.Contains(t, resp.body, "Two-factor verified on")
	})

	t.Run("history links to results", func(t *testing.T) {
		resp := p.get(t, "/history")
		require.Equal(t, http.StatusOK, resp.status)
		require.Contains(t, resp.body, "sub-01_bold.nii.gz")
		require.Contains(t, resp.body, `href="/results/42"`)
		require.Contains(t, resp.body, "Probable to be Autistic")
	})

	t.Run("results show prediction volume and slice", func(t *testing.T) {
		resp := p.get(t, "/results/7")
		require.Equal(t, http.StatusOK, resp.status)
		require.Contains(t, resp.body, "Probable to be Autistic")
		require.Contains(t, resp.body, p.backend.URL+"/media/7.nii.gz")
		require.Contains(t, resp.body, "Slice 94 of 120")
		require.Contains(t, resp.body, "?slice=95")
	})

	t.Run("leaving results deletes temp files", func(t *testing.T) {
		resp := p.post(t, "/results/cleanup", url.Values{"next": {"/history"}})
		require.Equal(t, http.StatusSeeOther, resp.status)
		require.Equal(t, "/history", resp.location)
		require.Equal(t, 1, p.backend.cleanupCount())
	})

	t.Run("upload forwards the scan", func(t *testing.T) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile("file", "scan.nii.gz")
		require.NoError(t, err)
		_, err = part.Write([]byte("nifti"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.url+"/upload", &body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", w.FormDataContentType())
		resp := p.do(t, req)
		require.Equal(t, http.StatusSeeOther, resp.status)
		require.Equal(t, "/results/9", resp.location)

		p.backend.lock.Lock()
		defer p.backend.lock.Unlock()
		require.Equal(t, p.user.ID, p.backend.uploadUser)
		require.Equal(t, "scan.nii.gz", p.backend.uploadFile)
		require.Equal(t, "nifti", p.backend.uploadBytes)
	})
}
