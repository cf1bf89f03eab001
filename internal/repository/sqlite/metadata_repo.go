package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/repository"
)

// SQLite has no native timestamp type; times are stored as RFC3339 text in UTC.
const timeLayout = time.RFC3339Nano

// maxQueryParams keeps IN lists below SQLite's bound parameter limit.
const maxQueryParams = 500

// metadataRepository implements repository.MetadataRepository for SQLite.
type metadataRepository struct {
	db *DB
}

// NewMetadataRepository creates a new SQLite metadata repository.
func NewMetadataRepository(db *DB) repository.MetadataRepository {
	return &metadataRepository{db: db}
}

// Create inserts a new metadata record.
func (r *metadataRepository) Create(ctx context.Context, meta *domain.Metadata) error {
	query := `
		INSERT INTO metadata (object_id, size, created_at, storage_type, file_path)
		VALUES (?, ?, ?, ?, ?)
	`

	var filePath sql.NullString
	if meta.HasLocator() {
		filePath = sql.NullString{String: meta.Locator, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		meta.ObjectID,
		meta.Size,
		meta.CreatedAt.UTC().Format(timeLayout),
		string(meta.StorageKind),
		filePath,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrObjectAlreadyExists, "metadata record exists", meta.ObjectID)
		}
		return fmt.Errorf("failed to insert metadata: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get metadata ID: %w", err)
	}
	meta.ID = id

	return nil
}

// GetByObjectID retrieves the metadata record for an object ID.
func (r *metadataRepository) GetByObjectID(ctx context.Context, objectID string) (*domain.Metadata, error) {
	query := `
		SELECT id, object_id, size, created_at, storage_type, file_path
		FROM metadata
		WHERE object_id = ?
	`

	meta := &domain.Metadata{}
	var createdAt, storageType string
	var filePath sql.NullString

	err := r.db.QueryRowContext(ctx, query, objectID).Scan(
		&meta.ID,
		&meta.ObjectID,
		&meta.Size,
		&createdAt,
		&storageType,
		&filePath,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrObjectNotFound, "no metadata record", objectID)
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	meta.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	meta.StorageKind = domain.StorageKind(storageType)
	meta.Locator = filePath.String

	return meta, nil
}

// Exists checks if a metadata record exists for the object ID.
func (r *metadataRepository) Exists(ctx context.Context, objectID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM metadata WHERE object_id = ?)`,
		objectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check metadata existence: %w", err)
	}
	return exists == 1, nil
}

// ListLocators returns the recorded locator of each given object ID.
func (r *metadataRepository) ListLocators(ctx context.Context, objectIDs []string) (map[string]string, error) {
	found := make(map[string]string, len(objectIDs))

	for start := 0; start < len(objectIDs); start += maxQueryParams {
		end := min(start+maxQueryParams, len(objectIDs))
		chunk := objectIDs[start:end]

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := fmt.Sprintf(`SELECT object_id, file_path FROM metadata WHERE object_id IN (%s)`, placeholders(len(chunk)))
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to list metadata: %w", err)
		}

		for rows.Next() {
			var id string
			var filePath sql.NullString
			if err := rows.Scan(&id, &filePath); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan object ID: %w", err)
			}
			found[id] = filePath.String
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating metadata: %w", err)
		}
	}

	return found, nil
}

// Ensure metadataRepository implements repository.MetadataRepository.
var _ repository.MetadataRepository = (*metadataRepository)(nil)
