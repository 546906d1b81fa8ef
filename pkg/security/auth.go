package security

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// APIKeyAuthenticator checks bearer tokens against a fixed set of keys.
// An authenticator without keys accepts every request.
type APIKeyAuthenticator struct {
	keys [][]byte
}

// NewAPIKeyAuthenticator creates an authenticator for the given keys.
// Empty keys are ignored.
func NewAPIKeyAuthenticator(keys ...string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

// Enabled reports whether any key is configured
func (a *APIKeyAuthenticator) Enabled() bool {
	return len(a.keys) > 0
}

// Authenticate verifies an Authorization header value ("Bearer <key>" or the bare key)
func (a *APIKeyAuthenticator) Authenticate(header string) error {
	if !a.Enabled() {
		return nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer "))
	if token == "" {
		return ErrMissingToken
	}

	for _, key := range a.keys {
		if subtle.ConstantTimeCompare(key, []byte(token)) == 1 {
			return nil
		}
	}
	return ErrInvalidToken
}
