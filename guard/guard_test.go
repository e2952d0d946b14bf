package guard_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jrsteele09/neuroscan-portal/authstate"
	"github.com/jrsteele09/neuroscan-portal/baas/baasfake"
	"github.com/jrsteele09/neuroscan-portal/guard"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	tokenrepofake "github.com/jrsteele09/neuroscan-portal/tokenstore/repofake"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	loading := authstate.AuthState{Loading: true, Phase: authstate.PhaseChecking}
	signedOut := authstate.AuthState{Phase: authstate.PhaseUnauthenticated}
	pending := authstate.AuthState{IsAuthenticated: true, RequiresMFA: true, Phase: authstate.PhaseAuthenticatedMFAPending}
	verified := authstate.AuthState{IsAuthenticated: true, HasMFAEnrolled: true, Phase: authstate.PhaseAuthenticatedVerified}

	tests := []struct {
		name  string
		state authstate.AuthState
		path  string
		want  guard.Decision
	}{
		{"loading never redirects", loading, "/upload", guard.Decision{Action: guard.ActionLoading}},
		{"loading on login renders", loading, "/login", guard.Decision{Action: guard.ActionRender}},
		{"signed out is sent to login", signedOut, "/upload", guard.Decision{Action: guard.ActionRedirect, Target: "/login"}},
		{"signed out on login", signedOut, "/login", guard.Decision{Action: guard.ActionRender}},
		{"signed out on not found", signedOut, "/404", guard.Decision{Action: guard.ActionRender}},
		{"signed out on mfa", signedOut, "/mfa", guard.Decision{Action: guard.ActionRedirect, Target: "/login"}},
		{"mfa pending is sent to mfa", pending, "/landing", guard.Decision{Action: guard.ActionRedirect, Target: "/mfa"}},
		{"mfa pending on results", pending, "/results/7", guard.Decision{Action: guard.ActionRedirect, Target: "/mfa"}},
		{"mfa pending on mfa", pending, "/mfa", guard.Decision{Action: guard.ActionRender}},
		{"mfa pending on login", pending, "/login", guard.Decision{Action: guard.ActionRender}},
		{"verified renders", verified, "/history", guard.Decision{Action: guard.ActionRender}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, guard.Decide(tc.state, tc.path))
		})
	}
}

func TestMFAView(t *testing.T) {
	require.Equal(t, guard.ViewEnroll, guard.MFAView(authstate.AuthState{IsAuthenticated: true, RequiresMFA: true}))
	require.Equal(t, guard.ViewVerify, guard.MFAView(authstate.AuthState{IsAuthenticated: true, RequiresMFA: true, HasMFAEnrolled: true}))
}

type stubController struct {
	lock    sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (s *stubController) RefreshAuthState(context.Context) authstate.AuthState {
	s.lock.Lock()
	s.calls++
	s.lock.Unlock()
	if s.entered != nil {
		close(s.entered)
		<-s.release
	}
	return authstate.AuthState{}
}

func (s *stubController) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.calls
}

func TestRefresherOnPathChange(t *testing.T) {
	ctx := context.Background()

	setup := func() (*baasfake.Provider, *tokenstore.Store, *stubController) {
		provider := baasfake.New()
		provider.AddUser("ada@example.com", "pw")
		return provider, tokenstore.New(tokenrepofake.NewFakeRepo()), &stubController{}
	}

	t.Run("login path is skipped", func(t *testing.T) {
		provider, store, controller := setup()
		require.True(t, store.Save("a", "r"))

		require.False(t, guard.NewRefresher(provider, store, controller).OnPathChange(ctx, "/login"))
		require.Zero(t, provider.TotalCalls())
		require.Zero(t, controller.count())
	})

	t.Run("nothing cached", func(t *testing.T) {
		provider, store, controller := setup()

		require.False(t, guard.NewRefresher(provider, store, controller).OnPathChange(ctx, "/landing"))
		require.Zero(t, provider.TotalCalls())
	})

	t.Run("live session is re-persisted", func(t *testing.T) {
		provider, store, controller := setup()
		session, err := provider.SignIn("ada@example.com", "pw")
		require.NoError(t, err)
		require.True(t, store.Save("old-access", "old-refresh"))

		require.True(t, guard.NewRefresher(provider, store, controller).OnPathChange(ctx, "/landing"))
		require.Equal(t, tokenstore.TokenPair{AccessToken: session.AccessToken, RefreshToken: session.RefreshToken}, store.Read())
		require.Zero(t, controller.count())
	})

	t.Run("no session asks the controller", func(t *testing.T) {
		provider, store, controller := setup()
		require.True(t, store.Save("a", "r"))

		require.True(t, guard.NewRefresher(provider, store, controller).OnPathChange(ctx, "/history"))
		require.Equal(t, 1, controller.count())
	})

	t.Run("concurrent attempts are suppressed", func(t *testing.T) {
		provider, store, controller := setup()
		controller.entered = make(chan struct{})
		controller.release = make(chan struct{})
		require.True(t, store.Save("a", "r"))
		refresher := guard.NewRefresher(provider, store, controller)

		done := make(chan bool, 1)
		go func() {
			done <- refresher.OnPathChange(ctx, "/landing")
		}()
		<-controller.entered

		require.False(t, refresher.OnPathChange(ctx, "/upload"))
		close(controller.release)
		require.True(t, <-done)
		require.Equal(t, 1, controller.count())

		controller.entered = nil
		require.True(t, refresher.OnPathChange(ctx, "/upload"))
		require.Equal(t, 2, controller.count())
	})
}
