package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/lock"
	"github.com/prn-tf/blobvault/internal/metrics"
	"github.com/prn-tf/blobvault/internal/repository"
	"github.com/prn-tf/blobvault/internal/storage"
	"github.com/prn-tf/blobvault/internal/telemetry"
)

const (
	// compensationTimeout bounds the discard issued after a failed metadata write.
	compensationTimeout = 30 * time.Second

	// storeLockTTL bounds how long one store may hold its object ID.
	storeLockTTL = 5 * time.Minute
)

// BlobService ties the active storage medium to the metadata store.
// It is safe for concurrent use.
type BlobService struct {
	metadata repository.MetadataRepository
	medium   storage.Medium
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewBlobService creates a new BlobService.
//
// With a locker, each store holds a per-ID lock, and a payload left on the
// medium without a metadata record is reclaimed when its ID is stored again.
// Without one (nil), such a payload blocks the ID until the orphan sweeper
// removes it.
func NewBlobService(
	metadata repository.MetadataRepository,
	medium storage.Medium,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *BlobService {
	return &BlobService{
		metadata: metadata,
		medium:   medium,
		locker:   locker,
		metrics:  m,
		logger: logger.With().
			Str("service", "blob").
			Str("storage_kind", medium.Kind().String()).
			Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// StoreInput contains the data needed to store an object.
type StoreInput struct {
	ObjectID string
	Data     []byte
}

// RetrieveOutput contains a stored payload and its metadata.
type RetrieveOutput struct {
	Data     []byte
	Metadata *domain.Metadata
}

// Kind returns the storage kind of the active medium.
func (s *BlobService) Kind() domain.StorageKind {
	return s.medium.Kind()
}

// =============================================================================
// Service Methods
// =============================================================================

// Store persists the payload on the active medium and then records its metadata.
// A second store with the same object ID fails with domain.ErrObjectAlreadyExists.
// If recording fails, the persisted payload is discarded on a best-effort basis.
func (s *BlobService) Store(ctx context.Context, input StoreInput) (*domain.Metadata, error) {
	kind := s.medium.Kind().String()
	ctx, span := telemetry.StartSpan(ctx, "BlobService.Store",
		attribute.String("blob.id", input.ObjectID),
		attribute.String("storage.kind", kind),
		attribute.Int("blob.size", len(input.Data)),
	)
	start := time.Now()

	meta, err := s.store(ctx, input)

	s.metrics.RecordOperation(OpStore, kind, resultOf(err), time.Since(start))
	telemetry.EndSpan(span, err)
	return meta, err
}

func (s *BlobService) store(ctx context.Context, input StoreInput) (*domain.Metadata, error) {
	if err := domain.ValidateObjectID(input.ObjectID); err != nil {
		return nil, err
	}

	if s.locker != nil {
		lease, err := lock.TryAcquire(ctx, s.locker, lock.Keys.Store(input.ObjectID), storeLockTTL)
		if err != nil {
			return nil, s.failure(err, "lock object ID", input.ObjectID)
		}
		if lease == nil {
			return nil, domain.NewDomainError(domain.ErrObjectAlreadyExists, "another store is in progress", input.ObjectID)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn().Err(err).Str("object_id", input.ObjectID).Msg("failed to release store lock")
			}
		}()
	}

	exists, err := s.metadata.Exists(ctx, input.ObjectID)
	if err != nil {
		return nil, s.failure(err, "check metadata", input.ObjectID)
	}
	if exists {
		return nil, domain.NewDomainError(domain.ErrObjectAlreadyExists, "object ID is taken", input.ObjectID)
	}

	locator, err := s.persist(ctx, input)
	if err != nil {
		return nil, s.failure(err, "persist", input.ObjectID)
	}

	meta := domain.NewMetadata(input.ObjectID, int64(len(input.Data)), s.medium.Kind(), locator)
	if err := s.metadata.Create(ctx, meta); err != nil {
		s.compensate(ctx, input.ObjectID, locator)
		return nil, s.failure(err, "record metadata", input.ObjectID)
	}

	s.metrics.RecordStored(meta.StorageKind.String(), meta.Size)

	s.logger.Info().
		Str("object_id", meta.ObjectID).
		Int64("size", meta.Size).
		Str("locator", meta.Locator).
		Msg("blob stored")

	return meta, nil
}

// persist writes the payload. If the medium already holds a payload for the
// ID while no metadata record exists, that payload is an orphan from an
// interrupted store: it is discarded and the write is retried once. Reclaim
// requires the store lock and is skipped without a locker.
func (s *BlobService) persist(ctx context.Context, input StoreInput) (string, error) {
	locator, err := s.medium.Persist(ctx, input.ObjectID, input.Data)
	if err == nil || s.locker == nil || !errors.Is(err, domain.ErrObjectAlreadyExists) {
		return locator, err
	}

	discarder, ok := s.medium.(storage.Discarder)
	if !ok {
		return "", err
	}

	recorded, xerr := s.metadata.Exists(ctx, input.ObjectID)
	if xerr != nil {
		return "", xerr
	}
	if recorded {
		return "", err
	}

	if derr := discarder.Discard(ctx, input.ObjectID, locator); derr != nil && !errors.Is(derr, domain.ErrObjectNotFound) {
		return "", derr
	}
	s.logger.Warn().
		Str("object_id", input.ObjectID).
		Str("locator", locator).
		Msg("reclaimed orphaned payload")

	return s.medium.Persist(ctx, input.ObjectID, input.Data)
}

// compensate discards a payload whose metadata could not be written.
// The caller's context may already be canceled, so a detached one is used.
// Anything left behind is picked up by the orphan sweeper.
func (s *BlobService) compensate(ctx context.Context, objectID, locator string) {
	kind := s.medium.Kind().String()

	discarder, ok := s.medium.(storage.Discarder)
	if !ok {
		s.logger.Warn().Str("object_id", objectID).Msg("medium cannot discard payloads, leaving orphan")
		s.metrics.RecordCompensation(kind, metrics.ResultError)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := discarder.Discard(ctx, objectID, locator); err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
		s.logger.Error().
			Err(err).
			Str("object_id", objectID).
			Str("locator", locator).
			Msg("failed to discard payload after metadata failure")
		s.metrics.RecordCompensation(kind, metrics.ResultError)
		return
	}

	s.logger.Warn().
		Str("object_id", objectID).
		Str("locator", locator).
		Msg("discarded payload after metadata failure")
	s.metrics.RecordCompensation(kind, metrics.ResultSuccess)
}

// Retrieve looks up the metadata record and fetches the payload it points at.
// Unknown IDs fail with domain.ErrObjectNotFound before the medium is touched.
func (s *BlobService) Retrieve(ctx context.Context, objectID string) (*RetrieveOutput, error) {
	kind := s.medium.Kind().String()
	ctx, span := telemetry.StartSpan(ctx, "BlobService.Retrieve",
		attribute.String("blob.id", objectID),
		attribute.String("storage.kind", kind),
	)
	start := time.Now()

	out, err := s.retrieve(ctx, objectID)

	s.metrics.RecordOperation(OpRetrieve, kind, resultOf(err), time.Since(start))
	telemetry.EndSpan(span, err)
	return out, err
}

func (s *BlobService) retrieve(ctx context.Context, objectID string) (*RetrieveOutput, error) {
	meta, err := s.lookup(ctx, objectID)
	if err != nil {
		return nil, err
	}

	data, err := s.medium.Fetch(ctx, objectID, meta.Locator)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			s.logger.Warn().
				Err(err).
				Str("object_id", objectID).
				Str("locator", meta.Locator).
				Msg("metadata exists but payload is missing")
			s.metrics.RecordDivergence(meta.StorageKind.String())
			return nil, err
		}
		return nil, s.failure(err, "fetch", objectID)
	}

	if int64(len(data)) != meta.Size {
		s.logger.Error().
			Str("object_id", objectID).
			Int64("expected_size", meta.Size).
			Int("actual_size", len(data)).
			Msg("payload size does not match metadata")
		return nil, domain.NewDomainError(domain.ErrObjectCorrupted, "payload size does not match metadata", objectID)
	}

	return &RetrieveOutput{Data: data, Metadata: meta}, nil
}

// Stat returns the metadata record without fetching the payload.
func (s *BlobService) Stat(ctx context.Context, objectID string) (*domain.Metadata, error) {
	kind := s.medium.Kind().String()
	ctx, span := telemetry.StartSpan(ctx, "BlobService.Stat",
		attribute.String("blob.id", objectID),
		attribute.String("storage.kind", kind),
	)
	start := time.Now()

	meta, err := s.lookup(ctx, objectID)

	s.metrics.RecordOperation(OpStat, kind, resultOf(err), time.Since(start))
	telemetry.EndSpan(span, err)
	return meta, err
}

// lookup fetches the metadata record and hides records owned by another medium.
func (s *BlobService) lookup(ctx context.Context, objectID string) (*domain.Metadata, error) {
	meta, err := s.metadata.GetByObjectID(ctx, objectID)
	if err != nil {
		return nil, s.failure(err, "lookup metadata", objectID)
	}

	if meta.StorageKind != s.medium.Kind() {
		s.logger.Debug().
			Str("object_id", objectID).
			Str("record_kind", meta.StorageKind.String()).
			Msg("object is stored on another medium")
		return nil, domain.NewDomainError(domain.ErrObjectNotFound, "object is stored on another medium", objectID)
	}

	return meta, nil
}

// failure logs unexpected errors with context and marks them as storage failures.
// Caller-facing conditions are returned unchanged.
func (s *BlobService) failure(err error, op, objectID string) error {
	if isCallerError(err) {
		return err
	}

	s.logger.Error().
		Err(err).
		Str("object_id", objectID).
		Str("operation", op).
		Msg("storage operation failed")

	return asStorageFailure(err, op)
}
