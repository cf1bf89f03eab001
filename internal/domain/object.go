// Package domain contains the core business entities for blobvault.
package domain

import (
	"strings"
	"time"
)

// MaxObjectIDLength is the maximum length of an object ID in bytes.
// Matches the width of the object_id column.
const MaxObjectIDLength = 255

// Metadata is the bookkeeping record that ties an object ID to the medium
// holding its payload. Records are immutable once written.
type Metadata struct {
	// ID is the surrogate row ID assigned by the database.
	ID int64 `json:"-"`

	// ObjectID is the caller-supplied identifier, unique across the system.
	ObjectID string `json:"id"`

	// Size is the byte length of the original payload.
	Size int64 `json:"size"`

	// CreatedAt is the UTC store time.
	CreatedAt time.Time `json:"created_at"`

	// StorageKind names the medium that holds the payload.
	StorageKind StorageKind `json:"storage_kind"`

	// Locator is the medium-specific pointer to the payload.
	// A filesystem path for local storage, empty for database storage,
	// and an s3:// URI for object storage.
	Locator string `json:"locator,omitempty"`
}

// NewMetadata creates a metadata record stamped with the current UTC time.
// The timestamp is truncated to microseconds so it survives a database round trip unchanged.
func NewMetadata(objectID string, size int64, kind StorageKind, locator string) *Metadata {
	return &Metadata{
		ObjectID:    objectID,
		Size:        size,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		StorageKind: kind,
		Locator:     locator,
	}
}

// HasLocator reports whether the record carries an explicit locator.
func (m *Metadata) HasLocator() bool {
	return m.Locator != ""
}

// ValidateObjectID checks that an object ID is usable by every medium.
// IDs double as file names and object keys, so path separators and
// relative path components are rejected.
func ValidateObjectID(objectID string) error {
	if objectID == "" {
		return NewDomainError(ErrInvalidObjectID, "object ID is required", "")
	}

	if len(objectID) > MaxObjectIDLength {
		return NewDomainError(ErrInvalidObjectID, "object ID exceeds 255 bytes", "")
	}

	if objectID == "." || objectID == ".." {
		return NewDomainError(ErrInvalidObjectID, "object ID cannot be a relative path component", objectID)
	}

	if strings.ContainsAny(objectID, "/\\\x00") {
		return NewDomainError(ErrInvalidObjectID, "object ID cannot contain path separators or NUL", objectID)
	}

	return nil
}
