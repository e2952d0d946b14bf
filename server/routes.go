package server

import (
	"net/http"
	"strings"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteRoot+"{$}", ChainMiddleware(s.RootHandler(), s.HTMLMiddleWare()...))

	// LOGIN
	s.RegisterRouteFunc("GET "+RouteLogin, ChainMiddleware(s.LoginPageHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteLogin, ChainMiddleware(s.LoginSubmissionHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLoginMagicLink, ChainMiddleware(s.MagicLinkHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLoginSignup, ChainMiddleware(s.SignupHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLoginReset, ChainMiddleware(s.ResetPasswordHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// MFA
	s.RegisterRouteFunc("GET "+RouteMFA, ChainMiddleware(s.MFAPageHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteMFA, ChainMiddleware(s.MFASubmitHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteMFACancel, ChainMiddleware(s.MFACancelHandler(), s.HTMLMiddleWare()...))

	// Protected views
	s.RegisterRouteFunc("GET "+RouteLanding, ChainMiddleware(s.LandingHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteUpload, ChainMiddleware(s.UploadPageHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteUpload, ChainMiddleware(s.UploadSubmitHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteHistory, ChainMiddleware(s.HistoryHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteResults, ChainMiddleware(s.ResultsHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteResultsCleanup, ChainMiddleware(s.ResultsCleanupHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))

	s.RegisterRouteFunc("GET "+RouteNotFound, ChainMiddleware(s.NotFoundHandler(), s.HTMLMiddleWare(s.GuardMiddleware)...))

	s.RegisterRouteFunc("GET "+RouteStaticCSS, ChainMiddleware(s.serveFileHandler(), s.StaticMiddleware()...))

	// Everything else is unknown
	s.RegisterRouteFunc(RouteRoot, ChainMiddleware(s.CatchAllHandler(), s.HTMLMiddleWare()...))
}

func (s *Server) serveFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := strings.TrimPrefix(r.URL.Path, "/")
		if filePath == "" {
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
		err := StreamFile(w, r, filePath)
		if err != nil {
			logError(r.Method, filePath, err)
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
	}
}
