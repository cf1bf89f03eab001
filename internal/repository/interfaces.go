// Package repository defines data access interfaces for blobvault.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"

	"github.com/prn-tf/blobvault/internal/domain"
)

// =============================================================================
// Metadata Repository
// =============================================================================

// MetadataRepository defines the interface for object metadata access.
// Exactly one record exists per object ID.
type MetadataRepository interface {
	// Create inserts a new metadata record and fills in its ID.
	// Returns domain.ErrObjectAlreadyExists if the object ID is taken.
	Create(ctx context.Context, meta *domain.Metadata) error

	// GetByObjectID retrieves the record for an object ID.
	// Returns domain.ErrObjectNotFound if no record exists.
	GetByObjectID(ctx context.Context, objectID string) (*domain.Metadata, error)

	// Exists checks if a record exists for the object ID.
	Exists(ctx context.Context, objectID string) (bool, error)

	// ListLocators returns the recorded locator of each given object ID that
	// has a record. Records without a locator map to "".
	// Used by the orphan sweeper to check payloads in bulk.
	ListLocators(ctx context.Context, objectIDs []string) (map[string]string, error)
}

// =============================================================================
// Blob Data Repository
// =============================================================================

// BlobDataRepository defines the interface for payload rows kept in the
// metadata database itself. It backs the database storage medium.
type BlobDataRepository interface {
	// Put inserts the payload for an object ID.
	// Returns domain.ErrObjectAlreadyExists if a payload row already exists.
	Put(ctx context.Context, objectID string, data []byte) error

	// Get returns the payload for an object ID.
	// Returns domain.ErrObjectNotFound if no row exists.
	Get(ctx context.Context, objectID string) ([]byte, error)

	// Delete removes the payload row for an object ID.
	// Returns domain.ErrObjectNotFound if no row exists.
	Delete(ctx context.Context, objectID string) error

	// ListObjectIDs returns up to limit object IDs greater than after, in order.
	ListObjectIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// =============================================================================
// Repository Set
// =============================================================================

// Repositories holds all repository instances for one database.
type Repositories struct {
	Metadata MetadataRepository
	BlobData BlobDataRepository
}

// DatabaseHealth is the liveness surface of a database handle.
// It satisfies handler.HealthChecker.
type DatabaseHealth interface {
	Health(ctx context.Context) error
	Close() error
}
