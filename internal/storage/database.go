package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/repository"
)

// databaseListPage is the number of IDs fetched per Enumerate round trip.
const databaseListPage = 500

// DatabaseMedium stores payloads as rows in the blob_data table, next to
// (but separate from) the metadata table. The locator is always empty.
type DatabaseMedium struct {
	rows repository.BlobDataRepository
}

// NewDatabaseMedium creates a medium over the given payload table.
func NewDatabaseMedium(rows repository.BlobDataRepository) *DatabaseMedium {
	return &DatabaseMedium{rows: rows}
}

// Kind returns domain.StorageKindDatabase.
func (m *DatabaseMedium) Kind() domain.StorageKind {
	return domain.StorageKindDatabase
}

// Persist inserts the payload row. The unique index on object_id rejects duplicates.
func (m *DatabaseMedium) Persist(ctx context.Context, objectID string, data []byte) (string, error) {
	if err := m.rows.Put(ctx, objectID, data); err != nil {
		return "", wrapRowError(err, "insert", objectID)
	}
	return "", nil
}

// Fetch loads the payload row. The locator is ignored.
func (m *DatabaseMedium) Fetch(ctx context.Context, objectID, _ string) ([]byte, error) {
	data, err := m.rows.Get(ctx, objectID)
	if err != nil {
		return nil, wrapRowError(err, "select", objectID)
	}
	return data, nil
}

// Discard deletes the payload row.
func (m *DatabaseMedium) Discard(ctx context.Context, objectID, _ string) error {
	if err := m.rows.Delete(ctx, objectID); err != nil {
		return wrapRowError(err, "delete", objectID)
	}
	return nil
}

// Enumerate pages through blob_data in object_id order.
// Rows carry no timestamp, so ModTime is zero and Size is unknown.
func (m *DatabaseMedium) Enumerate(ctx context.Context, fn func(StoredPayload) error) error {
	after := ""
	for {
		ids, err := m.rows.ListObjectIDs(ctx, after, databaseListPage)
		if err != nil {
			return wrapRowError(err, "list", "")
		}

		for _, id := range ids {
			if err := fn(StoredPayload{ObjectID: id, Size: -1}); err != nil {
				return err
			}
		}

		if len(ids) < databaseListPage {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// wrapRowError keeps domain errors and context errors as they are and marks
// everything else as a storage failure.
func wrapRowError(err error, op, objectID string) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if objectID == "" {
		return fmt.Errorf("%w: %s blob_data: %w", domain.ErrStorageFailure, op, err)
	}
	return fmt.Errorf("%w: %s blob_data %s: %w", domain.ErrStorageFailure, op, objectID, err)
}

// Ensure DatabaseMedium implements the medium interfaces.
var (
	_ Medium     = (*DatabaseMedium)(nil)
	_ Discarder  = (*DatabaseMedium)(nil)
	_ Enumerator = (*DatabaseMedium)(nil)
)
