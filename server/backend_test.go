package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jrsteele09/neuroscan-portal/baas/baasfake"
)

// fakeBackend is the portal's REST API backed by the fake auth provider.
type fakeBackend struct {
	*httptest.Server
	provider *baasfake.Provider

	lock        sync.Mutex
	logouts     []string
	cleanups    int
	uploadUser  string
	uploadFile  string
	uploadBytes string
}

func newFakeBackend(t *testing.T, provider *baasfake.Provider) *fakeBackend {
	t.Helper()
	b := &fakeBackend{provider: provider}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", b.login)
	mux.HandleFunc("GET /me", b.me)
	mux.HandleFunc("POST /logout", b.logout)
	mux.HandleFunc("GET /user-fmri-history/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"history": []map[string]any{
			{"id": 1, "fmri_id": 42, "file_name": "sub-01_bold.nii.gz", "created_at": "2026-03-14T09:26:53Z", "model_result": 1},
		}})
	})
	mux.HandleFunc("GET /model-prediction/{id}/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"model_result": 1})
	})
	mux.HandleFunc("GET /3d-fmri-file/{id}/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"url": "/media/" + r.PathValue("id") + ".nii.gz", "filename": r.PathValue("id") + ".nii.gz"})
	})
	mux.HandleFunc("GET /2d-fmri-data/{id}/{index}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"brain": [][]int{{0}}, "atlas": [][]int{{0}}, "labels": []string{}, "max_index": 120})
	})
	mux.HandleFunc("DELETE /delete-temp-files/", func(w http.ResponseWriter, r *http.Request) {
		b.lock.Lock()
		b.cleanups++
		b.lock.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
	})
	mux.HandleFunc("POST /upload", b.upload)

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Invalid request"})
		return
	}
	session, err := b.provider.IssueSession(creds.Email, creds.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid login credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  session.AccessToken,
		"refresh_token": session.RefreshToken,
		"user":          map[string]any{"id": session.User.ID, "email": session.User.Email},
		"message":       "Login successful",
	})
}

func (b *fakeBackend) me(w http.ResponseWriter, r *http.Request) {
	user, ok := b.provider.UserForAccessToken(bearer(r))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": user.ID, "email": user.Email}})
}

func (b *fakeBackend) logout(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	b.logouts = append(b.logouts, bearer(r))
	b.lock.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (b *fakeBackend) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Invalid upload"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "No file"})
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	b.lock.Lock()
	b.uploadUser = r.FormValue("user_id")
	b.uploadFile = header.Filename
	b.uploadBytes = string(data)
	b.lock.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"fmri_id": 9})
}

func (b *fakeBackend) logoutTokens() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.logouts...)
}

func (b *fakeBackend) cleanupCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.cleanups
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
