package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/neuroscan-portal/restapi"
	"github.com/rs/zerolog/log"
)

// Login page modes
const (
	LoginModePassword  = "password"
	LoginModeMagicLink = "magic-link"
	LoginModeSignup    = "signup"
	LoginModeReset     = "reset-password"
)

// LoginView contains data for rendering the login page
type LoginView struct {
	Mode  string
	Email string // Preserve email on error
}

func loginMode(raw string) string {
	switch raw {
	case LoginModeMagicLink, LoginModeSignup, LoginModeReset:
		return raw
	}
	return LoginModePassword
}

// LoginPageHandler displays the login page (GET /login)
func (s *Server) LoginPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.render(w, r, "login.html", http.StatusOK, PageData{
			Title:  "Sign in",
			Error:  q.Get("error"),
			Notice: q.Get("notice"),
			Login:  &LoginView{Mode: loginMode(q.Get("mode")), Email: q.Get("email")},
		})
	}
}

// LoginSubmissionHandler exchanges email and password for tokens, stores them and
// re-checks the auth state. The guard sends users who still need MFA on to /mfa.
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		email := strings.TrimSpace(r.FormValue("email"))
		password := r.FormValue("password")

		if email == "" || password == "" {
			s.renderLoginError(w, r, LoginModePassword, email, "Email and password are required", http.StatusBadRequest)
			return
		}

		tokens, err := s.api.Login(r.Context(), email, password)
		if err != nil {
			log.Err(err).Str("component", "server").Msg("Login failed")
			s.renderLoginError(w, r, LoginModePassword, email, apiMessage(err, "Login failed"), http.StatusUnauthorized)
			return
		}

		if !s.tokens.Save(tokens.AccessToken, tokens.RefreshToken) {
			s.renderLoginError(w, r, LoginModePassword, email, "Failed to store session. Please try again.", http.StatusInternalServerError)
			return
		}
		s.controller.RefreshAuthState(r.Context())
		log.Info().Str("component", "server").Msg("Login successful")
		redirectSuccess(w, r, RouteLanding)
	}
}

func (s *Server) MagicLinkHandler() http.HandlerFunc {
	return s.emailActionHandler(LoginModeMagicLink, "Check your email for the login link.", func(r *http.Request, email, _ string) (string, error) {
		return s.api.MagicLink(r.Context(), email)
	})
}

func (s *Server) SignupHandler() http.HandlerFunc {
	return s.emailActionHandler(LoginModeSignup, "Check your email to confirm your account.", func(r *http.Request, email, password string) (string, error) {
		if password == "" {
			return "", errPasswordRequired
		}
		return s.api.Signup(r.Context(), email, password)
	})
}

func (s *Server) ResetPasswordHandler() http.HandlerFunc {
	return s.emailActionHandler(LoginModeReset, "Check your email for the password reset link.", func(r *http.Request, email, _ string) (string, error) {
		return s.api.ResetPassword(r.Context(), email)
	})
}

var errPasswordRequired = errors.New("password is required")

// emailActionHandler handles the login page forms that answer with a message to show.
func (s *Server) emailActionHandler(mode, fallback string, action func(r *http.Request, email, password string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		email := strings.TrimSpace(r.FormValue("email"))
		if email == "" {
			s.renderLoginError(w, r, mode, email, "Email is required", http.StatusBadRequest)
			return
		}

		msg, err := action(r, email, r.FormValue("password"))
		if err != nil {
			log.Err(err).Str("component", "server").Str("mode", mode).Msg("Login page action failed")
			s.renderLoginError(w, r, mode, email, apiMessage(err, "Something went wrong. Please try again."), http.StatusBadRequest)
			return
		}
		if msg == "" {
			msg = fallback
		}
		s.render(w, r, "login.html", http.StatusOK, PageData{
			Title:  "Sign in",
			Notice: msg,
			Login:  &LoginView{Mode: mode, Email: email},
		})
	}
}

// LogoutHandler signs out everywhere and sends the browser to the login page.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.clearFlow()
		result := s.controller.SignOut(r.Context())
		redirectSuccess(w, r, result.RedirectTo)
	}
}

func (s *Server) renderLoginError(w http.ResponseWriter, r *http.Request, mode, email, errorMsg string, status int) {
	s.render(w, r, "login.html", status, PageData{
		Title: "Sign in",
		Error: errorMsg,
		Login: &LoginView{Mode: mode, Email: email},
	})
}

// apiMessage is the backend's own error text when it sent one.
func apiMessage(err error, fallback string) string {
	var se *restapi.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	if errors.Is(err, errPasswordRequired) {
		return "Password is required"
	}
	return fallback
}
