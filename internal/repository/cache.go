package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/domain"
)

// Cache is a byte-value store keyed by string. Get returns ErrCacheMiss for
// absent or expired keys; a zero ttl in Set never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// metadataCacheKey namespaces metadata entries inside a shared cache.
func metadataCacheKey(objectID string) string {
	return "cache:metadata:" + objectID
}

// CachedMetadataRepository decorates a MetadataRepository with a read-through cache.
// Metadata records are never updated, so entries are only ever added.
// Cache failures are logged and fall through to the database.
type CachedMetadataRepository struct {
	next   MetadataRepository
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedMetadataRepository wraps next with cache.
func NewCachedMetadataRepository(next MetadataRepository, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedMetadataRepository {
	return &CachedMetadataRepository{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "metadata_cache").Logger(),
	}
}

// Create inserts the record and primes the cache with it.
func (r *CachedMetadataRepository) Create(ctx context.Context, meta *domain.Metadata) error {
	if err := r.next.Create(ctx, meta); err != nil {
		return err
	}
	r.store(ctx, meta)
	return nil
}

// GetByObjectID serves from cache when possible.
func (r *CachedMetadataRepository) GetByObjectID(ctx context.Context, objectID string) (*domain.Metadata, error) {
	if meta, ok := r.load(ctx, objectID); ok {
		return meta, nil
	}

	meta, err := r.next.GetByObjectID(ctx, objectID)
	if err != nil {
		return nil, err
	}

	r.store(ctx, meta)
	return meta, nil
}

// Exists answers true from cache, and asks the database otherwise.
func (r *CachedMetadataRepository) Exists(ctx context.Context, objectID string) (bool, error) {
	if _, ok := r.load(ctx, objectID); ok {
		return true, nil
	}
	return r.next.Exists(ctx, objectID)
}

// ListLocators always goes to the database.
func (r *CachedMetadataRepository) ListLocators(ctx context.Context, objectIDs []string) (map[string]string, error) {
	return r.next.ListLocators(ctx, objectIDs)
}

func (r *CachedMetadataRepository) load(ctx context.Context, objectID string) (*domain.Metadata, bool) {
	raw, err := r.cache.Get(ctx, metadataCacheKey(objectID))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn().Err(err).Str("object_id", objectID).Msg("cache read failed")
		}
		return nil, false
	}

	var meta domain.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		r.logger.Warn().Err(err).Str("object_id", objectID).Msg("discarding undecodable cache entry")
		_ = r.cache.Delete(ctx, metadataCacheKey(objectID))
		return nil, false
	}
	return &meta, true
}

func (r *CachedMetadataRepository) store(ctx context.Context, meta *domain.Metadata) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, metadataCacheKey(meta.ObjectID), raw, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("object_id", meta.ObjectID).Msg("cache write failed")
	}
}

var _ MetadataRepository = (*CachedMetadataRepository)(nil)
