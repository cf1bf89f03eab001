package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/repository"
)

// metadataRepository implements repository.MetadataRepository.
type metadataRepository struct {
	db *DB
}

// NewMetadataRepository creates a new PostgreSQL metadata repository.
func NewMetadataRepository(db *DB) repository.MetadataRepository {
	return &metadataRepository{db: db}
}

// Create inserts a new metadata record.
func (r *metadataRepository) Create(ctx context.Context, meta *domain.Metadata) error {
	query := `
		INSERT INTO metadata (object_id, size, created_at, storage_type, file_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var filePath *string
	if meta.HasLocator() {
		filePath = &meta.Locator
	}

	err := r.db.Pool.QueryRow(ctx, query,
		meta.ObjectID,
		meta.Size,
		meta.CreatedAt.UTC(),
		string(meta.StorageKind),
		filePath,
	).Scan(&meta.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrObjectAlreadyExists, "metadata record exists", meta.ObjectID)
		}
		return fmt.Errorf("failed to insert metadata: %w", err)
	}

	return nil
}

// GetByObjectID retrieves the metadata record for an object ID.
func (r *metadataRepository) GetByObjectID(ctx context.Context, objectID string) (*domain.Metadata, error) {
	query := `
		SELECT id, object_id, size, created_at, storage_type, file_path
		FROM metadata
		WHERE object_id = $1
	`

	meta := &domain.Metadata{}
	var storageType string
	var filePath *string

	err := r.db.Pool.QueryRow(ctx, query, objectID).Scan(
		&meta.ID,
		&meta.ObjectID,
		&meta.Size,
		&meta.CreatedAt,
		&storageType,
		&filePath,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewDomainError(domain.ErrObjectNotFound, "no metadata record", objectID)
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	meta.CreatedAt = meta.CreatedAt.UTC()
	meta.StorageKind = domain.StorageKind(storageType)
	if filePath != nil {
		meta.Locator = *filePath
	}

	return meta, nil
}

// Exists checks if a metadata record exists for the object ID.
func (r *metadataRepository) Exists(ctx context.Context, objectID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM metadata WHERE object_id = $1)`, objectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check metadata existence: %w", err)
	}
	return exists, nil
}

// ListLocators returns the recorded locator of each given object ID.
func (r *metadataRepository) ListLocators(ctx context.Context, objectIDs []string) (map[string]string, error) {
	found := make(map[string]string, len(objectIDs))
	if len(objectIDs) == 0 {
		return found, nil
	}

	rows, err := r.db.Pool.Query(ctx, `SELECT object_id, file_path FROM metadata WHERE object_id = ANY($1)`, objectIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var filePath *string
		if err := rows.Scan(&id, &filePath); err != nil {
			return nil, fmt.Errorf("failed to scan object ID: %w", err)
		}
		found[id] = ""
		if filePath != nil {
			found[id] = *filePath
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata: %w", err)
	}

	return found, nil
}

// Ensure metadataRepository implements repository.MetadataRepository
var _ repository.MetadataRepository = (*metadataRepository)(nil)
