// Package auth provides shared-secret bearer token authentication for blobvault.
package auth

import (
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingCredentials indicates the Authorization header is absent.
	ErrMissingCredentials = errors.New("not authenticated")

	// ErrInvalidScheme indicates the Authorization header does not use the Bearer scheme.
	ErrInvalidScheme = errors.New("invalid authentication scheme")

	// ErrInvalidToken indicates the bearer token does not match the configured secret.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoSecretConfigured indicates neither a secret nor a secret hash is set.
	ErrNoSecretConfigured = errors.New("no bearer secret configured")
)

// AuthError is an authentication failure ready to be written as a response.
type AuthError struct {
	// Message is the client-facing detail.
	Message string

	// HTTPStatus is the HTTP status code.
	HTTPStatus int
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthError maps an authentication error to its response.
// Every failure is a 401 so clients are always told to present a bearer token.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return &AuthError{Message: "Not authenticated", HTTPStatus: http.StatusUnauthorized}

	case errors.Is(err, ErrInvalidScheme):
		return &AuthError{Message: "Invalid authentication scheme.", HTTPStatus: http.StatusUnauthorized}

	default:
		return &AuthError{Message: "Invalid token.", HTTPStatus: http.StatusUnauthorized}
	}
}
