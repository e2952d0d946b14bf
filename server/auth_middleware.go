package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/guard"
	"github.com/rs/zerolog/log"
)

const loadingRetry = time.Second

// GuardMiddleware routes every page request through the auth state. The first request
// starts the controller, and each one gives the refresher a chance to renew the session
// before the decision is made.
func (s *Server) GuardMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		path := r.URL.Path

		if s.controller.State().Phase == authstate.PhaseUnchecked {
			s.controller.Start(ctx)
		}
		s.refresher.OnPathChange(ctx, path)

		state := s.controller.State()
		decision := guard.Decide(state, path)
		switch decision.Action {
		case guard.ActionLoading:
			s.render(w, r, "loading.html", http.StatusOK, PageData{
				Title:   "Loading",
				Refresh: &Refresh{After: loadingRetry, URL: r.URL.RequestURI()},
			})
			return
		case guard.ActionRedirect:
			log.Debug().Str("component", "guard").Str("path", path).Str("target", decision.Target).Msg("Redirecting")
			redirectSuccess(w, r, decision.Target)
			return
		}

		next(w, r.WithContext(context.WithValue(ctx, ContextKeyAuthState, state)))
	}
}
