package server

import (
	"context"
	"html/template"
	"net/http"
	"strings"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/guard"
	"github.com/jrsteele09/neuroscan-portal/mfa"
)

// MFAView contains data for rendering the MFA page
type MFAView struct {
	Enroll          bool
	QRCode          template.URL
	FactorID        string
	Code            string
	Submitting      bool
	AlreadyEnrolled bool
	CanSubmit       bool
}

// mfaFlow is the flow the MFA page is currently showing.
type mfaFlow struct {
	view   guard.View
	back   string
	enroll *mfa.EnrollmentFlow
	verify *mfa.VerificationFlow
}

func (f *mfaFlow) start(ctx context.Context) mfa.Snapshot {
	if f.view == guard.ViewEnroll {
		return f.enroll.Start(ctx)
	}
	return f.verify.Start(ctx)
}

func (f *mfaFlow) snapshot() mfa.Snapshot {
	if f.view == guard.ViewEnroll {
		return f.enroll.Snapshot()
	}
	return f.verify.Snapshot()
}

func (f *mfaFlow) submit(ctx context.Context, code string) (mfa.Snapshot, error) {
	if f.view == guard.ViewEnroll {
		return f.enroll.Submit(ctx, code)
	}
	return f.verify.Submit(ctx, code)
}

func (f *mfaFlow) cancel() mfa.Snapshot {
	if f.view == guard.ViewEnroll {
		return f.enroll.Cancel()
	}
	return f.verify.Cancel()
}

func (s *Server) newMFAFlow(state authstate.AuthState, back string) *mfaFlow {
	opts := []mfa.FlowOption{
		mfa.WithRedirectDelay(s.redirectDelay),
		mfa.WithOnComplete(func(ctx context.Context) {
			s.controller.RefreshAuthState(ctx)
		}),
	}

	flow := &mfaFlow{view: guard.MFAView(state), back: back}
	if flow.view == guard.ViewEnroll {
		// Enrollment is mandatory, so leaving it ends the session.
		opts = append(opts, mfa.WithOnCancel(func() {
			s.controller.SignOut(context.Background())
		}))
		flow.enroll = mfa.NewEnrollmentFlow(s.provider, s.tokens, opts...)
	} else {
		flow.verify = mfa.NewVerificationFlow(s.provider, s.tokens, opts...)
	}
	return flow
}

func (s *Server) currentFlow() *mfaFlow {
	s.flowLock.Lock()
	defer s.flowLock.Unlock()
	return s.flow
}

func (s *Server) setFlow(flow *mfaFlow) {
	s.flowLock.Lock()
	defer s.flowLock.Unlock()
	s.flow = flow
}

func (s *Server) clearFlow() {
	s.setFlow(nil)
}

// MFAPageHandler starts the enrollment flow for users without a factor and the
// verification flow for everyone else (GET /mfa).
func (s *Server) MFAPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, _ := authStateFrom(r.Context())
		if !state.RequiresMFA {
			redirectSuccess(w, r, RouteLanding)
			return
		}

		back := RouteLanding
		if p, ok := localPath(r.Referer()); ok && p != RouteMFA && p != RouteLogin {
			back = p
		}
		flow := s.newMFAFlow(state, back)
		snap := flow.start(r.Context())
		s.setFlow(flow)
		s.renderMFA(w, r, flow, snap, "")
	}
}

// MFASubmitHandler verifies the submitted code (POST /mfa).
func (s *Server) MFASubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := s.currentFlow()
		if flow == nil {
			redirectSuccess(w, r, RouteMFA)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		code := strings.TrimSpace(r.FormValue("code"))

		snap, err := flow.submit(r.Context(), code)
		if err == nil && snap.State == mfa.StateVerified {
			s.clearFlow()
			redirectSuccess(w, r, RouteLanding)
			return
		}
		if err != nil && snap.Message == "" {
			snap.Message = mfa.UserMessage(err)
		}
		s.renderMFA(w, r, flow, snap, mfa.SanitizeCode(code))
	}
}

// MFACancelHandler leaves the MFA page. Enrollment ends on the login page, verification
// returns to where the user came from.
func (s *Server) MFACancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := s.currentFlow()
		if flow == nil {
			redirectSuccess(w, r, RouteLogin)
			return
		}
		s.clearFlow()

		snap := flow.cancel()
		target := RouteLogin
		if snap.Redirect != nil {
			if snap.Redirect.Back {
				target = flow.back
			} else if snap.Redirect.Path != "" {
				target = snap.Redirect.Path
			}
		}
		redirectSuccess(w, r, target)
	}
}

func (s *Server) renderMFA(w http.ResponseWriter, r *http.Request, flow *mfaFlow, snap mfa.Snapshot, code string) {
	view := &MFAView{
		Enroll:          flow.view == guard.ViewEnroll,
		QRCode:          template.URL(snap.QRCode), // data URL from mfa.NormalizeQRCode
		FactorID:        snap.FactorID,
		Code:            code,
		Submitting:      snap.Submitting(),
		AlreadyEnrolled: snap.State == mfa.StateAlreadyEnrolled,
	}
	switch snap.State {
	case mfa.StateEnrollmentPending, mfa.StateShowingEnrollmentQR, mfa.StateIdle:
		view.CanSubmit = true
	case mfa.StateError:
		view.CanSubmit = snap.Redirect == nil && (!view.Enroll || snap.FactorID != "")
	}

	data := PageData{
		Title: "Two-factor authentication",
		Error: snap.Message,
		MFA:   view,
	}
	if snap.Redirect != nil && !snap.Redirect.Back && snap.Redirect.Path != "" {
		view.CanSubmit = false
		if snap.Redirect.After == 0 {
			redirectSuccess(w, r, snap.Redirect.Path)
			return
		}
		data.Refresh = &Refresh{After: snap.Redirect.After, URL: snap.Redirect.Path}
	}
	s.render(w, r, "mfa.html", http.StatusOK, data)
}
