package restapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/restapi"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	tokenrepofake "github.com/jrsteele09/neuroscan-portal/tokenstore/repofake"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.HandlerFunc) (*restapi.Client, *tokenstore.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store := tokenstore.New(tokenrepofake.NewFakeRepo())
	return restapi.New(srv.URL, store.TokenSource()), store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin(t *testing.T) {
	t.Run("returns the token pair", func(t *testing.T) {
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/login", r.URL.Path)
			require.Empty(t, r.Header.Get("Authorization"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "ada@example.com", body["email"])
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "at",
				"refresh_token": "rt",
				"user":          map[string]any{"id": "u1", "email": "ada@example.com"},
				"message":       "Login successful",
			})
		})

		tokens, err := client.Login(context.Background(), "ada@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, "at", tokens.AccessToken)
		require.Equal(t, "rt", tokens.RefreshToken)
		require.Equal(t, "u1", tokens.User.ID)
	})

	t.Run("object detail", func(t *testing.T) {
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": map[string]string{"message": "Invalid login credentials", "error": "Authentication failed"},
			})
		})

		_, err := client.Login(context.Background(), "ada@example.com", "bad")
		var se *restapi.StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, http.StatusUnauthorized, se.Status)
		require.Equal(t, "Invalid login credentials", se.Error())
		require.Equal(t, "Authentication failed", se.Code)
	})

	t.Run("string detail", func(t *testing.T) {
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Email not confirmed"})
		})

		_, err := client.Login(context.Background(), "ada@example.com", "pw")
		require.EqualError(t, err, "Email not confirmed")
	})

	t.Run("no body", func(t *testing.T) {
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.Login(context.Background(), "ada@example.com", "pw")
		require.EqualError(t, err, "request failed: 502 Bad Gateway")
	})
}

func TestMessageEndpoints(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "sent to " + r.URL.Path})
	})
	ctx := context.Background()

	msg, err := client.Signup(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "sent to /signup", msg)

	msg, err = client.MagicLink(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "sent to /magic-link", msg)

	msg, err = client.ResetPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "sent to /reset-password", msg)
}

func TestMe(t *testing.T) {
	t.Run("sends the cached access token", func(t *testing.T) {
		client, store := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "u1", "email": "ada@example.com"}, "message": "ok"})
		})
		require.True(t, store.Save("at-1", "rt-1"))

		user, err := client.Me(context.Background())
		require.NoError(t, err)
		require.Equal(t, "u1", user.ID)
	})

	t.Run("accepts a bare identity", func(t *testing.T) {
		client, store := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "u2", "email": "bo@example.com"})
		})
		require.True(t, store.Save("at", "rt"))

		user, err := client.Me(context.Background())
		require.NoError(t, err)
		require.Equal(t, "bo@example.com", user.Email)
	})

	t.Run("picks up a rotated token", func(t *testing.T) {
		var (
			lock sync.Mutex
			seen []string
		)
		client, store := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			lock.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			lock.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "u1"}})
		})
		require.True(t, store.Save("at-1", "rt-1"))
		_, err := client.Me(context.Background())
		require.NoError(t, err)
		require.True(t, store.Save("at-2", "rt-2"))
		_, err = client.Me(context.Background())
		require.NoError(t, err)

		lock.Lock()
		defer lock.Unlock()
		require.Equal(t, []string{"Bearer at-1", "Bearer at-2"}, seen)
	})

	t.Run("no access token fails before the request", func(t *testing.T) {
		var called atomic.Bool
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			called.Store(true)
		})

		_, err := client.Me(context.Background())
		require.ErrorIs(t, err, apperrors.ErrNoAccessToken)
		require.False(t, called.Load())
	})
}

func TestHistory(t *testing.T) {
	for name, body := range map[string]string{
		"wrapped": `{"history":[{"fmri_id":42,"file_name":"scan.nii.gz","model_result":1}]}`,
		"array":   `[{"fmri_id":"42","file_name":"scan.nii.gz","model_result":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/user-fmri-history/u1", r.URL.Path)
				_, _ = io.WriteString(w, body)
			})

			entries, err := client.History(context.Background(), "u1")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, "42", entries[0].ScanID())
			require.Equal(t, 1, *entries[0].ModelResult)
		})
	}
}

func TestResultsEndpoints(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/2d-fmri-data/7/30":
			_, _ = io.WriteString(w, `{"brain":[[0,1]],"atlas":[[2,3]],"labels":["a"],"max_index":90}`)
		case r.URL.Path == "/3d-fmri-file/7/":
			writeJSON(w, http.StatusOK, map[string]string{"url": "/static/7.nii.gz", "filename": "7.nii.gz"})
		case r.URL.Path == "/model-prediction/7/":
			writeJSON(w, http.StatusOK, map[string]int{"model_result": 0})
		case r.URL.Path == "/delete-temp-files/" && r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	slice, err := client.Slice2D(ctx, "7", 30)
	require.NoError(t, err)
	require.Equal(t, 90, slice.MaxIndex)
	require.JSONEq(t, `[[0,1]]`, string(slice.Brain))

	file, err := client.Volume3D(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "7.nii.gz", file.Filename)

	prediction, err := client.ModelPrediction(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "Probable to be Neurotypical", prediction.Label())
	require.Equal(t, "Probable to be Autistic", restapi.Prediction{ModelResult: 1}.Label())

	require.NoError(t, client.DeleteTempFiles(ctx))

	_, err = client.ModelPrediction(ctx, "missing")
	var se *restapi.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Status)
}

func TestUpload(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "u1", r.FormValue("user_id"))
		require.Equal(t, "rest", r.FormValue("scan_type"))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "scan.nii.gz", header.Filename)
		data, _ := io.ReadAll(f)
		require.Equal(t, "voxels", string(data))
		writeJSON(w, http.StatusOK, map[string]int{"fmri_id": 9})
	})

	result, err := client.Upload(context.Background(), restapi.UploadRequest{
		UserID:   "u1",
		FileName: "scan.nii.gz",
		File:     strings.NewReader("voxels"),
		Fields:   map[string]string{"scan_type": "rest"},
	})
	require.NoError(t, err)
	require.Equal(t, restapi.ID("9"), result.FMRIID)
}

func TestLogout(t *testing.T) {
	client, store := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	})
	require.True(t, store.Save("at", "rt"))
	require.NoError(t, client.Logout(context.Background()))
}
