package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/lock"
	"github.com/prn-tf/blobvault/internal/metrics"
	"github.com/prn-tf/blobvault/internal/repository"
	"github.com/prn-tf/blobvault/internal/storage"
)

// errSweepBatchFull stops enumeration once a run has handled BatchSize orphans.
var errSweepBatchFull = errors.New("sweep batch full")

// sweepable is a medium that can both list and remove payloads.
type sweepable interface {
	storage.Medium
	storage.Discarder
	storage.Enumerator
}

// OrphanSweeper removes payloads that have no metadata record.
// Orphans come from a crash between persist and record, or from a failed
// compensation. A payload is removed only once it has been orphaned for
// the grace period, so in-flight stores are never touched.
type OrphanSweeper struct {
	metadata repository.MetadataRepository
	medium   sweepable
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   SweeperConfig
	now      func() time.Time

	// marks records when each orphan was first seen, for media that
	// do not report modification times.
	marksMu sync.Mutex
	marks   map[string]time.Time

	// Control
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// SweeperConfig contains orphan sweeper configuration.
type SweeperConfig struct {
	// Enabled determines if the sweeper runs automatically.
	Enabled bool

	// Interval is how often to sweep.
	Interval time.Duration

	// GracePeriod is how long a payload must be orphaned before removal.
	GracePeriod time.Duration

	// BatchSize is the maximum number of orphans handled per run, and the
	// number of IDs checked against metadata per query.
	BatchSize int

	// DryRun logs what would be removed without removing it.
	DryRun bool
}

// DefaultSweeperConfig returns the defaults used when nothing is configured.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:     true,
		Interval:    time.Hour,
		GracePeriod: 24 * time.Hour,
		BatchSize:   500,
		DryRun:      false,
	}
}

// SweeperConfigFrom converts the application sweeper settings.
func SweeperConfigFrom(cfg config.SweeperConfig) SweeperConfig {
	return SweeperConfig{
		Enabled:     cfg.Enabled,
		Interval:    cfg.Interval,
		GracePeriod: cfg.GracePeriod,
		BatchSize:   cfg.BatchSize,
		DryRun:      cfg.DryRun,
	}
}

// NewOrphanSweeper creates a sweeper for the given medium.
// The medium must be able to enumerate and discard payloads.
func NewOrphanSweeper(
	metadata repository.MetadataRepository,
	medium storage.Medium,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	cfg SweeperConfig,
) (*OrphanSweeper, error) {
	sm, ok := medium.(sweepable)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, "medium cannot be swept", medium.Kind().String())
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultSweeperConfig().BatchSize
	}

	return &OrphanSweeper{
		metadata: metadata,
		medium:   sm,
		locker:   locker,
		metrics:  m,
		logger: logger.With().
			Str("service", "sweeper").
			Str("storage_kind", medium.Kind().String()).
			Logger(),
		config: cfg,
		now:    time.Now,
		marks:  make(map[string]time.Time),
	}, nil
}

// Start begins the sweep scheduler. It is a no-op if already running.
func (s *OrphanSweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("grace_period", s.config.GracePeriod).
		Int("batch_size", s.config.BatchSize).
		Bool("dry_run", s.config.DryRun).
		Msg("starting orphan sweeper")

	go s.runLoop(ctx, s.doneChan)
}

// Stop cancels any run in progress and waits for the scheduler to exit.
func (s *OrphanSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.doneChan
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info().Msg("orphan sweeper stopped")
}

func (s *OrphanSweeper) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("orphan sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepResult contains the result of one sweep run.
type SweepResult struct {
	// Scanned is the number of payloads enumerated.
	Scanned int

	// Orphans is the number of payloads without a metadata record.
	Orphans int

	// Deleted is the number of orphans removed (or that would be, in dry-run mode).
	Deleted int

	// BytesFreed is the total size of removed orphans whose size is known.
	BytesFreed int64

	// Pending is the number of orphans still inside the grace period.
	Pending int

	// Errors is the number of orphans that could not be removed.
	Errors int

	// Truncated is set when the run stopped at BatchSize; more orphans may remain.
	Truncated bool

	// Skipped is set when another process holds the sweep lock.
	Skipped bool

	// Duration is how long the run took.
	Duration time.Duration
}

// RunOnce executes a single sweep. It can be called by the scheduler or manually.
func (s *OrphanSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	result := SweepResult{}
	kind := s.medium.Kind().String()

	lockKey := lock.Keys.OrphanSweep(kind)
	lockTTL := s.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	lease, err := lock.TryAcquire(ctx, s.locker, lockKey, lockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to acquire sweep lock")
		result.Duration = time.Since(start)
		s.metrics.RecordSweepRun(kind, metrics.ResultError, result.Duration, 0, 0, 0)
		return result, err
	}
	if lease == nil {
		s.logger.Debug().Msg("sweep lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error().Err(err).Msg("failed to release sweep lock")
		}
	}()

	err = s.sweep(ctx, lease, &result)
	result.Duration = time.Since(start)

	deleted := result.Deleted
	if s.config.DryRun {
		deleted = 0
	}
	s.metrics.RecordSweepRun(kind, resultOf(err), result.Duration, deleted, result.BytesFreed, result.Pending)

	if err != nil {
		return result, err
	}

	if result.Truncated {
		s.logger.Info().Msg("more orphans remain for next run")
	}

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("orphans", result.Orphans).
		Int("deleted", result.Deleted).
		Int64("bytes_freed", result.BytesFreed).
		Int("pending", result.Pending).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("orphan sweep completed")

	return result, nil
}

// sweep enumerates the medium and checks payload IDs against metadata in
// batches. The lease is renewed before each batch so long runs keep the lock.
func (s *OrphanSweeper) sweep(ctx context.Context, lease *lock.Lease, result *SweepResult) error {
	now := s.now()
	seen := make(map[string]struct{})
	batch := make([]storage.StoredPayload, 0, s.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := lease.Renew(ctx); err != nil {
			return fmt.Errorf("sweep lock: %w", err)
		}
		err := s.processBatch(ctx, now, batch, seen, result)
		batch = batch[:0]
		return err
	}

	err := s.medium.Enumerate(ctx, func(p storage.StoredPayload) error {
		result.Scanned++
		batch = append(batch, p)
		if len(batch) < s.config.BatchSize {
			return nil
		}
		return flush()
	})
	if err == nil {
		err = flush()
	}

	if errors.Is(err, errSweepBatchFull) {
		result.Truncated = true
		return nil
	}
	if err != nil {
		return err
	}

	// Every orphan was visited, so marks for anything not seen are stale.
	s.pruneMarks(seen)
	return nil
}

func (s *OrphanSweeper) processBatch(
	ctx context.Context,
	now time.Time,
	batch []storage.StoredPayload,
	seen map[string]struct{},
	result *SweepResult,
) error {
	if result.Deleted+result.Errors >= s.config.BatchSize {
		return errSweepBatchFull
	}

	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.ObjectID
	}

	known, err := s.metadata.ListLocators(ctx, ids)
	if err != nil {
		return asStorageFailure(err, "list metadata")
	}

	for _, p := range batch {
		if s.referenced(p, known) {
			continue
		}

		result.Orphans++
		seen[p.ObjectID] = struct{}{}

		if !s.eligible(p, now) {
			result.Pending++
			continue
		}

		if result.Deleted+result.Errors >= s.config.BatchSize {
			return errSweepBatchFull
		}

		if s.config.DryRun {
			s.logger.Info().
				Str("object_id", p.ObjectID).
				Str("locator", p.Locator).
				Int64("size", p.Size).
				Msg("[DRY RUN] would delete orphan payload")
			result.Deleted++
			if p.Size > 0 {
				result.BytesFreed += p.Size
			}
			continue
		}

		if err := s.medium.Discard(ctx, p.ObjectID, p.Locator); err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().
				Err(err).
				Str("object_id", p.ObjectID).
				Str("locator", p.Locator).
				Msg("failed to delete orphan payload")
			result.Errors++
			continue
		}

		s.forget(p.ObjectID)

		s.logger.Debug().
			Str("object_id", p.ObjectID).
			Str("locator", p.Locator).
			Int64("size", p.Size).
			Msg("deleted orphan payload")

		result.Deleted++
		if p.Size > 0 {
			result.BytesFreed += p.Size
		}
	}

	return nil
}

// referenced reports whether a metadata record points at the payload. Local
// files are read back through the recorded path, so a file for a recorded ID
// at any other path is unreachable. Other media resolve payloads by object
// ID, and any record for the ID keeps them.
func (s *OrphanSweeper) referenced(p storage.StoredPayload, known map[string]string) bool {
	locator, ok := known[p.ObjectID]
	if !ok {
		return false
	}
	return s.medium.Kind() != domain.StorageKindLocal || locator == p.Locator
}

// eligible reports whether an orphan has outlived the grace period, by its
// modification time or by when this sweeper first saw it. The first sighting
// is recorded as a side effect.
func (s *OrphanSweeper) eligible(p storage.StoredPayload, now time.Time) bool {
	if !p.ModTime.IsZero() && now.Sub(p.ModTime) >= s.config.GracePeriod {
		return true
	}

	s.marksMu.Lock()
	defer s.marksMu.Unlock()

	first, ok := s.marks[p.ObjectID]
	if !ok {
		s.marks[p.ObjectID] = now
		return s.config.GracePeriod <= 0
	}
	return now.Sub(first) >= s.config.GracePeriod
}

func (s *OrphanSweeper) forget(objectID string) {
	s.marksMu.Lock()
	delete(s.marks, objectID)
	s.marksMu.Unlock()
}

func (s *OrphanSweeper) pruneMarks(seen map[string]struct{}) {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()

	for id := range s.marks {
		if _, ok := seen[id]; !ok {
			delete(s.marks, id)
		}
	}
}

// PendingMarks returns the number of orphans waiting out the grace period.
func (s *OrphanSweeper) PendingMarks() int {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	return len(s.marks)
}
