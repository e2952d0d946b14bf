package guard

import "github.com/jrsteele09/neuroscan-portal/authstate"

const (
	LoginPath    = "/login"
	MFAPath      = "/mfa"
	NotFoundPath = "/404"
	LandingPath  = "/landing"
)

type Action int

const (
	ActionRender Action = iota
	ActionLoading
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionRender:
		return "render"
	case ActionLoading:
		return "loading"
	case ActionRedirect:
		return "redirect"
	}
	return "unknown"
}

type Decision struct {
	Action Action
	Target string
}

// Decide maps the auth state and the requested path to what the portal shows.
//
//   - loading, off the login page: a placeholder, never a redirect
//   - signed out: the login page, unless already on /login or /404
//   - MFA required: the MFA page, unless already on /mfa or /login
//   - otherwise the requested view
func Decide(state authstate.AuthState, path string) Decision {
	if state.Loading && path != LoginPath {
		return Decision{Action: ActionLoading}
	}
	if !state.IsAuthenticated {
		if path == LoginPath || path == NotFoundPath {
			return Decision{Action: ActionRender}
		}
		return Decision{Action: ActionRedirect, Target: LoginPath}
	}
	if state.RequiresMFA && path != MFAPath && path != LoginPath {
		return Decision{Action: ActionRedirect, Target: MFAPath}
	}
	return Decision{Action: ActionRender}
}

// View is the form the MFA page shows.
type View int

const (
	ViewEnroll View = iota
	ViewVerify
)

// MFAView picks enrollment for users without a factor and verification otherwise.
func MFAView(state authstate.AuthState) View {
	if state.HasMFAEnrolled {
		return ViewVerify
	}
	return ViewEnroll
}
