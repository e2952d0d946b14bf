package server

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/rs/zerolog/log"
)

const contentTypeHTML = "text/html; charset=utf-8"

// Refresh is a delayed full navigation, sent as a Refresh header and a meta refresh.
type Refresh struct {
	After time.Duration
	URL   string
}

// Seconds renders After the way the refresh directive expects it.
func (r Refresh) Seconds() string {
	return strconv.FormatFloat(r.After.Seconds(), 'f', -1, 64)
}

// PageData is the model every page template receives.
type PageData struct {
	AppName string
	Title   string
	User    *baas.User
	Error   string
	Notice  string
	Refresh *Refresh

	Login   *LoginView
	MFA     *MFAView
	Landing *LandingView
	History *HistoryView
	Results *ResultsView
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, page string, status int, data PageData) {
	data.AppName = s.appName
	if data.User == nil {
		if state, ok := authStateFrom(r.Context()); ok {
			data.User = state.User
		}
	}

	tmpl, ok := s.pages[page]
	if !ok {
		log.Error().Str("template", page).Msg("Unknown template")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Err(err).Str("template", page).Msg("Failed to render template")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	if data.Refresh != nil {
		w.Header().Set("Refresh", data.Refresh.Seconds()+"; url="+data.Refresh.URL)
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// redirectSuccess is the full navigation after a form post or a guard decision
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError redirects and carries errorMsg in the query
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	redirectSuccess(w, r, path+"?error="+url.QueryEscape(errorMsg))
}

// localPath reduces raw to its path, so a redirect target taken from a request or its
// Referer stays on the portal.
func localPath(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "", false
	}
	return u.Path, true
}

func authStateFrom(ctx context.Context) (authstate.AuthState, bool) {
	state, ok := ctx.Value(ContextKeyAuthState).(authstate.AuthState)
	return state, ok
}
