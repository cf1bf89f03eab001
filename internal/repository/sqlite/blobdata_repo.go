package sqlite

import (
	"context"
	"fmt"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/repository"
)

// blobDataRepository implements repository.BlobDataRepository for SQLite.
type blobDataRepository struct {
	db *DB
}

// NewBlobDataRepository creates a new SQLite blob data repository.
func NewBlobDataRepository(db *DB) repository.BlobDataRepository {
	return &blobDataRepository{db: db}
}

// Put inserts the payload row for an object ID.
func (r *blobDataRepository) Put(ctx context.Context, objectID string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blob_data (object_id, data) VALUES (?, ?)`,
		objectID, data,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrObjectAlreadyExists, "payload row exists", objectID)
		}
		return fmt.Errorf("failed to insert blob data: %w", err)
	}
	return nil
}

// Get returns the payload for an object ID.
func (r *blobDataRepository) Get(ctx context.Context, objectID string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM blob_data WHERE object_id = ?`,
		objectID,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrObjectNotFound, "no payload row", objectID)
		}
		return nil, fmt.Errorf("failed to get blob data: %w", err)
	}

	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Delete removes the payload row for an object ID.
func (r *blobDataRepository) Delete(ctx context.Context, objectID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blob_data WHERE object_id = ?`, objectID)
	if err != nil {
		return fmt.Errorf("failed to delete blob data: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.NewDomainError(domain.ErrObjectNotFound, "no payload row", objectID)
	}
	return nil
}

// ListObjectIDs returns up to limit object IDs ordered after the given ID.
func (r *blobDataRepository) ListObjectIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT object_id FROM blob_data WHERE object_id > ? ORDER BY object_id ASC LIMIT ?`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob data: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan object ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blob data: %w", err)
	}

	return ids, nil
}

// Ensure blobDataRepository implements repository.BlobDataRepository.
var _ repository.BlobDataRepository = (*blobDataRepository)(nil)
