package tokenrepofake

import (
	"sync"

	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
)

var _ tokenstore.Repo = (*FakeRepo)(nil)

// FakeRepo is an in-memory tokenstore.Repo. Setting Unavailable makes every call fail
// the way a disabled browser storage would.
type FakeRepo struct {
	values      map[string]string
	unavailable bool
	lock        sync.RWMutex
}

func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		values: make(map[string]string),
	}
}

func (r *FakeRepo) SetUnavailable(unavailable bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.unavailable = unavailable
}

func (r *FakeRepo) Get(key string) (string, bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.unavailable {
		return "", false, apperrors.ErrStorageUnavailable
	}
	value, ok := r.values[key]
	return value, ok, nil
}

func (r *FakeRepo) Set(key, value string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.unavailable {
		return apperrors.ErrStorageUnavailable
	}
	r.values[key] = value
	return nil
}

func (r *FakeRepo) Delete(keys ...string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.unavailable {
		return apperrors.ErrStorageUnavailable
	}
	for _, key := range keys {
		delete(r.values, key)
	}
	return nil
}

// Snapshot returns a copy of everything currently stored.
func (r *FakeRepo) Snapshot() map[string]string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
