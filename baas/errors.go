package baas

import "errors"

// ProviderError is an error object returned by the provider. Error() is the
// provider's message unchanged so that forms can show it verbatim.
type ProviderError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Op + " failed"
	}
	return e.Message
}

// AsProviderError unwraps err to a *ProviderError when it carries one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
