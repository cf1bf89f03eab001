package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/repository"
)

// blobDataRepository implements repository.BlobDataRepository.
type blobDataRepository struct {
	db *DB
}

// NewBlobDataRepository creates a new PostgreSQL blob data repository.
func NewBlobDataRepository(db *DB) repository.BlobDataRepository {
	return &blobDataRepository{db: db}
}

// Put inserts the payload row for an object ID.
func (r *blobDataRepository) Put(ctx context.Context, objectID string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	_, err := r.db.Pool.Exec(ctx, `INSERT INTO blob_data (object_id, data) VALUES ($1, $2)`, objectID, data)
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
	err := r.db.Pool.QueryRow(ctx, `SELECT data FROM blob_data WHERE object_id = $1`, objectID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM blob_data WHERE object_id = $1`, objectID)
	if err != nil {
		return fmt.Errorf("failed to delete blob data: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrObjectNotFound, "no payload row", objectID)
	}
	return nil
}

// ListObjectIDs returns up to limit object IDs ordered after the given ID.
func (r *blobDataRepository) ListObjectIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT object_id FROM blob_data WHERE object_id > $1 ORDER BY object_id ASC LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob data: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect object IDs: %w", err)
	}
	return ids, nil
}

// Ensure blobDataRepository implements repository.BlobDataRepository
var _ repository.BlobDataRepository = (*blobDataRepository)(nil)
