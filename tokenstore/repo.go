package tokenstore

// Repo is the persisted key/value backend behind the Store.
// Every call is a single key operation; a Repo never applies partial multi-key updates.
type Repo interface {
	// Get returns the value stored under key and whether it was present
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value
	Set(key, value string) error

	// Delete removes the given keys; missing keys are not an error
	Delete(keys ...string) error
}
