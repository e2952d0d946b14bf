package tokenstore

import (
	"time"

	"github.com/rs/zerolog/log"
)

const component = "tokenstore"

// TokenPair is the locally persisted projection of a provider session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// HasAny reports whether at least one token is cached.
func (p TokenPair) HasAny() bool {
	return p.AccessToken != "" || p.RefreshToken != ""
}

// PendingEnrollment is a TOTP factor that was enrolled but not yet verified.
type PendingEnrollment struct {
	FactorID string
	QRCode   string
}

// Store is the single owner of persisted session state. Nothing else in the
// portal reads or writes the underlying Repo.
type Store struct {
	repo Repo
}

func New(repo Repo) *Store {
	return &Store{repo: repo}
}

// Save persists the token pair. Empty tokens are rejected and prior state is kept.
func (s *Store) Save(accessToken, refreshToken string) bool {
	if accessToken == "" || refreshToken == "" {
		log.Error().Str("component", component).Msg("Attempted to store empty tokens")
		return false
	}

	if err := s.repo.Set(KeyAccessToken, accessToken); err != nil {
		log.Err(err).Str("component", component).Msg("Failed to store access token")
		return false
	}
	if err := s.repo.Set(KeyRefreshToken, refreshToken); err != nil {
		log.Err(err).Str("component", component).Msg("Failed to store refresh token")
		return false
	}
	return true
}

// Clear removes both tokens. It only fails when the backend is unavailable.
func (s *Store) Clear() bool {
	if err := s.repo.Delete(KeyAccessToken, KeyRefreshToken); err != nil {
		log.Err(err).Str("component", component).Msg("Failed to clear auth tokens")
		return false
	}
	return true
}

// Read returns the cached tokens; anything missing or unreadable is empty.
func (s *Store) Read() TokenPair {
	return TokenPair{
		AccessToken:  s.get(KeyAccessToken),
		RefreshToken: s.get(KeyRefreshToken),
	}
}

// MarkMFAEnrolled records a completed enrollment, which is also a completed verification.
func (s *Store) MarkMFAEnrolled(at time.Time) bool {
	return s.set(KeyMFAVerified, "true") &&
		s.set(KeyMFAEnrolled, "true") &&
		s.set(KeyMFAVerifiedAt, at.UTC().Format(time.RFC3339))
}

// MarkMFAVerified sets the per-user flags and the global flags kept for older readers.
func (s *Store) MarkMFAVerified(userID string, at time.Time) bool {
	ts := at.UTC().Format(time.RFC3339)
	return s.set(UserKey{PurposeMFAVerified, userID}.String(), "true") &&
		s.set(UserKey{PurposeMFAVerifiedAt, userID}.String(), ts) &&
		s.set(KeyMFAVerified, "true") &&
		s.set(KeyMFAVerifiedAt, ts)
}

// MFAVerifiedAt returns when userID last completed step-up, if ever recorded.
func (s *Store) MFAVerifiedAt(userID string) (time.Time, bool) {
	if s.get(UserKey{PurposeMFAVerified, userID}.String()) != "true" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, s.get(UserKey{PurposeMFAVerifiedAt, userID}.String()))
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// PendingEnrollment returns the cached unverified factor for userID. Both the
// factor id and the QR image must be present for the entry to count.
func (s *Store) PendingEnrollment(userID string) (PendingEnrollment, bool) {
	if userID == "" {
		return PendingEnrollment{}, false
	}
	p := PendingEnrollment{
		FactorID: s.get(UserKey{PurposeFactorID, userID}.String()),
		QRCode:   s.get(UserKey{PurposeQRCode, userID}.String()),
	}
	if p.FactorID == "" || p.QRCode == "" {
		return PendingEnrollment{}, false
	}
	return p, true
}

func (s *Store) SavePendingEnrollment(userID string, p PendingEnrollment) bool {
	if userID == "" || p.FactorID == "" {
		return false
	}
	ok := s.set(UserKey{PurposeFactorID, userID}.String(), p.FactorID)
	if p.QRCode != "" {
		ok = s.set(UserKey{PurposeQRCode, userID}.String(), p.QRCode) && ok
	}
	return ok
}

func (s *Store) ClearPendingEnrollment(userID string) bool {
	if err := s.repo.Delete(UserKey{PurposeFactorID, userID}.String(), UserKey{PurposeQRCode, userID}.String()); err != nil {
		log.Err(err).Str("component", component).Str("user_id", userID).Msg("Failed to clear pending enrollment")
		return false
	}
	return true
}

func (s *Store) get(key string) string {
	value, found, err := s.repo.Get(key)
	if err != nil {
		log.Err(err).Str("component", component).Str("key", key).Msg("Failed to read stored value")
		return ""
	}
	if !found {
		return ""
	}
	return value
}

func (s *Store) set(key, value string) bool {
	if err := s.repo.Set(key, value); err != nil {
		log.Err(err).Str("component", component).Str("key", key).Msg("Failed to store value")
		return false
	}
	return true
}
