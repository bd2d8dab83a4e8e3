package llm

import (
	"errors"
	"fmt"
)

// ErrBadRequest marks a request the backend rejected as structurally invalid.
// Retrying the same request cannot succeed.
var ErrBadRequest = errors.New("bad request")

// IsBadRequest reports whether err is a request-validation failure.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// classify wraps a provider error, tagging it with ErrBadRequest when the
// provider-specific check says the request itself was invalid.
func classify(provider string, err error, badRequest bool) error {
	if badRequest {
		return fmt.Errorf("%s chat completion failed: %w: %w", provider, ErrBadRequest, err)
	}
	return fmt.Errorf("%s chat completion failed: %w", provider, err)
}
