package filerepo

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"golang.org/x/crypto/nacl/secretbox"
)

var _ tokenstore.Repo = (*FileRepo)(nil)

const nonceSize = 24

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type Option func(*FileRepo)

// WithSealKey encrypts the persisted document with NaCl secretbox.
func WithSealKey(key *[32]byte) Option {
	return func(r *FileRepo) {
		r.sealKey = key
	}
}

// FileRepo keeps one JSON document per storage namespace. Writes go to a temp file
// that is renamed over the document, so readers never observe a torn write.
type FileRepo struct {
	path    string
	sealKey *[32]byte

	lock   sync.Mutex
	values map[string]string
	loaded bool
}

func New(folder, namespace string, opts ...Option) (*FileRepo, error) {
	if namespace == "" {
		return nil, errors.New("[filerepo New] namespace is required")
	}
	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, fmt.Errorf("[filerepo New] create data folder: %w", err)
	}

	r := &FileRepo{}
	for _, opt := range opts {
		opt(r)
	}

	ext := ".json"
	if r.sealKey != nil {
		ext = ".sealed"
	}
	r.path = filepath.Join(folder, unsafeNameChars.ReplaceAllString(namespace, "-")+ext)
	return r, nil
}

// ParseSealKey accepts a 32 byte key encoded as hex or standard base64.
func ParseSealKey(encoded string) (*[32]byte, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.New("[filerepo ParseSealKey] key must be hex or base64")
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("[filerepo ParseSealKey] key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func (r *FileRepo) Path() string {
	return r.path
}

func (r *FileRepo) Get(key string) (string, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return "", false, err
	}
	value, ok := r.values[key]
	return value, ok, nil
}

func (r *FileRepo) Set(key, value string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	previous, existed := r.values[key]
	r.values[key] = value
	if err := r.persist(); err != nil {
		if existed {
			r.values[key] = previous
		} else {
			delete(r.values, key)
		}
		return err
	}
	return nil
}

func (r *FileRepo) Delete(keys ...string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	removed := make(map[string]string)
	for _, key := range keys {
		if value, ok := r.values[key]; ok {
			removed[key] = value
			delete(r.values, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := r.persist(); err != nil {
		for k, v := range removed {
			r.values[k] = v
		}
		return err
	}
	return nil
}

func (r *FileRepo) ensureLoaded() error {
	if r.loaded {
		return nil
	}

	values := make(map[string]string)
	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("[filerepo load] read %s: %w", r.path, err)
	default:
		if r.sealKey != nil {
			if data, err = r.open(data); err != nil {
				return err
			}
		}
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("[filerepo load] decode %s: %w", r.path, err)
		}
	}

	r.values = values
	r.loaded = true
	return nil
}

func (r *FileRepo) persist() error {
	data, err := json.Marshal(r.values)
	if err != nil {
		return fmt.Errorf("[filerepo persist] encode: %w", err)
	}
	if r.sealKey != nil {
		if data, err = r.seal(data); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".tokenstore-*")
	if err != nil {
		return fmt.Errorf("[filerepo persist] create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[filerepo persist] write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[filerepo persist] chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filerepo persist] close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("[filerepo persist] rename: %w", err)
	}
	return nil
}

func (r *FileRepo) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("[filerepo seal] nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, r.sealKey), nil
}

func (r *FileRepo) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("[filerepo open] sealed store is truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, r.sealKey)
	if !ok {
		return nil, errors.New("[filerepo open] sealed store could not be decrypted")
	}
	return plaintext, nil
}
