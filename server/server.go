package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/jrsteele09/neuroscan-portal/guard"
	"github.com/jrsteele09/neuroscan-portal/internal/config"
	"github.com/jrsteele09/neuroscan-portal/mfa"
	"github.com/jrsteele09/neuroscan-portal/sessions"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/rs/zerolog/log"
)

// Server serves the portal's pages for one end user. The auth state lives in the
// controller; handlers only read it.
type Server struct {
	env           string
	appName       string
	redirectDelay time.Duration
	mux           *http.ServeMux
	routes        []string
	pages         map[string]*template.Template

	provider   baas.Client
	tokens     *tokenstore.Store
	api        PortalAPI
	controller *authstate.Controller
	refresher  *guard.Refresher

	flowLock sync.Mutex
	flow     *mfaFlow
}

func New(config config.Config, provider baas.Client, tokens *tokenstore.Store, api PortalAPI) (*Server, error) {
	controller := authstate.NewController(provider, tokens, sessions.NewRefresher(provider, tokens), mfa.NewChecker(provider), api)

	s := &Server{
		env:           config.GetEnv(),
		appName:       config.GetAppName(),
		redirectDelay: config.GetMFARedirectDelay(),
		mux:           http.NewServeMux(),
		provider:      provider,
		tokens:        tokens,
		api:           api,
		controller:    controller,
		refresher:     guard.NewRefresher(provider, tokens, controller),
	}
	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse templates: %w", err)
	}
	s.pages = pages

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Controller exposes the auth state controller so the process can start and close it.
func (s *Server) Controller() *authstate.Controller {
	return s.controller
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Info().Msgf("[%-19s] %s", displayMethod, path)
}
