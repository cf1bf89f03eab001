// Package storage defines the storage medium contract and its implementations.
// A medium only persists and fetches raw payload bytes for an object ID;
// metadata bookkeeping belongs to the repository layer.
package storage

import (
	"context"
	"time"

	"github.com/prn-tf/blobvault/internal/domain"
)

// Medium defines the interface for payload storage backends.
// Implementations must be safe for concurrent use.
type Medium interface {
	// Kind returns the storage kind recorded in metadata for payloads
	// persisted through this medium.
	Kind() domain.StorageKind

	// Persist durably stores data for objectID and returns its locator.
	// The write is all-or-nothing: on error no partial payload is left behind.
	// An existing payload is never overwritten; that case returns
	// domain.ErrObjectAlreadyExists together with the existing payload's
	// locator, so the caller can reclaim it if nothing references it.
	Persist(ctx context.Context, objectID string, data []byte) (locator string, err error)

	// Fetch returns exactly the bytes given to Persist for objectID.
	// Returns domain.ErrObjectNotFound if the locator does not resolve.
	Fetch(ctx context.Context, objectID, locator string) ([]byte, error)
}

// Discarder is implemented by media that can remove a payload.
// Used to compensate a failed store and by the orphan sweeper.
type Discarder interface {
	// Discard removes the payload. Discarding an absent payload returns
	// domain.ErrObjectNotFound on media that can tell, and nil otherwise.
	Discard(ctx context.Context, objectID, locator string) error
}

// Enumerator is implemented by media that can list their stored payloads.
type Enumerator interface {
	// Enumerate calls fn for every stored payload until fn returns an error.
	// Payloads written during the walk may or may not be visited.
	Enumerate(ctx context.Context, fn func(StoredPayload) error) error
}

// StoredPayload describes one payload found by Enumerate.
type StoredPayload struct {
	// ObjectID is the ID the payload was persisted under.
	ObjectID string

	// Locator is the value Persist returned for it.
	Locator string

	// Size is the payload length in bytes, or -1 if the medium cannot tell cheaply.
	Size int64

	// ModTime is when the payload was written. Zero if the medium does not track it.
	ModTime time.Time
}
