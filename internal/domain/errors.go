// Package domain contains the core business entities for blobvault.
package domain

import (
	"errors"
	"fmt"
)

// Failure kinds. Storage layers wrap their driver errors around one of
// these so the service and HTTP layers can branch with errors.Is.
var (
	// ErrObjectNotFound means there is no metadata record for the ID, or the
	// medium cannot find the payload the record points at.
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectAlreadyExists means the ID is already in use.
	ErrObjectAlreadyExists = errors.New("object already exists")

	// ErrObjectCorrupted means a fetched payload disagrees with its recorded size.
	ErrObjectCorrupted = errors.New("object payload is corrupted")

	// ErrInvalidObjectID means the ID is empty or cannot be used as a key.
	ErrInvalidObjectID = errors.New("invalid object ID")

	// ErrStorageFailure covers disk, database and remote store errors.
	// Nothing below the HTTP layer retries them.
	ErrStorageFailure = errors.New("storage failure")

	// ErrUnknownStorageKind means the configured backend name is not recognized.
	ErrUnknownStorageKind = errors.New("unknown storage backend")

	// ErrInvalidConfiguration means a known backend is missing settings or
	// its target could not be prepared at startup.
	ErrInvalidConfiguration = errors.New("invalid storage configuration")
)

// DomainError attaches context to one of the failure kinds above.
type DomainError struct {
	Err      error
	Message  string
	Resource string // object ID or storage locator, if known
}

func (e *DomainError) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError wraps kind with a message and the affected resource.
func NewDomainError(kind error, message, resource string) *DomainError {
	return &DomainError{Err: kind, Message: message, Resource: resource}
}

// IsInvalidInput reports whether err was caused by the caller's input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidObjectID)
}

// IsConfigurationError reports whether err should stop the server at startup.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownStorageKind) || errors.Is(err, ErrInvalidConfiguration)
}
