package server

// Route path constants
const (
	RouteRoot     = "/"
	RouteLogin    = "/login"
	RouteMFA      = "/mfa"
	RouteLogout   = "/logout"
	RouteLanding  = "/landing"
	RouteUpload   = "/upload"
	RouteHistory  = "/history"
	RouteNotFound = "/404"

	// Login page actions
	RouteLoginMagicLink = "/login/magic-link"
	RouteLoginSignup    = "/login/signup"
	RouteLoginReset     = "/login/reset-password"

	RouteMFACancel = "/mfa/cancel"

	RouteResults        = "/results/{id}"
	RouteResultsCleanup = "/results/cleanup"

	// Static Asset Routes (patterns)
	RouteStaticCSS = "/css/{file}"
)
