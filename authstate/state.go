package authstate

import "github.com/jrsteele09/neuroscan-portal/baas"

type Phase string

const (
	PhaseUnchecked               Phase = "unchecked"
	PhaseChecking                Phase = "checking"
	PhaseUnauthenticated         Phase = "unauthenticated"
	PhaseAuthenticatedNoMFA      Phase = "authenticated_no_mfa"
	PhaseAuthenticatedMFAPending Phase = "authenticated_mfa_pending"
	PhaseAuthenticatedVerified   Phase = "authenticated_verified"
)

// AuthState is the portal's single view of who is signed in. IsAuthenticated and
// RequiresMFA are only final when Loading is false.
type AuthState struct {
	User            *baas.User
	IsAuthenticated bool
	RequiresMFA     bool
	HasMFAEnrolled  bool
	Loading         bool
	Phase           Phase
}

// normalized applies !IsAuthenticated ⇒ !RequiresMFA.
func (s AuthState) normalized() AuthState {
	if !s.IsAuthenticated {
		s.RequiresMFA = false
		s.HasMFAEnrolled = false
		s.User = nil
	}
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func unauthenticated() AuthState {
	return AuthState{Phase: PhaseUnauthenticated}
}
