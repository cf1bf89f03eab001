// Package app wires the blobvault components from configuration.
// It is shared by the server and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/cache/memory"
	rediscache "github.com/prn-tf/blobvault/internal/cache/redis"
	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/lock"
	"github.com/prn-tf/blobvault/internal/metrics"
	"github.com/prn-tf/blobvault/internal/repository"
	"github.com/prn-tf/blobvault/internal/repository/postgres"
	"github.com/prn-tf/blobvault/internal/repository/sqlite"
	"github.com/prn-tf/blobvault/internal/service"
	"github.com/prn-tf/blobvault/internal/storage"
)

// memoryCacheEntries caps the in-process metadata cache.
const memoryCacheEntries = 10000

// redisKeyPrefix namespaces blobvault keys in a shared Redis.
const redisKeyPrefix = "blobvault:"

// Database is a metadata database with its own schema management.
type Database interface {
	repository.DatabaseHealth
	repository.Migrator
	Repositories() *repository.Repositories
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	DB           Database
	Repositories *repository.Repositories
	Medium       storage.Medium
	Blobs        *service.BlobService
	Sweeper      *service.OrphanSweeper
	Locker       lock.Locker

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	closers []func() error
}

// OpenDatabase connects to the database selected by cfg.Driver.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Database, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverSQLite:
		db, err := sqlite.NewDB(ctx, sqlite.ConfigFrom(cfg), logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// New wires every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// Metrics
	a.Registry = metrics.NewRegistry()
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(a.Registry)
	}

	// Database
	a.DB, err = OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.DB.Close)

	if cfg.Database.AutoMigrate {
		if err = a.DB.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	a.Repositories = a.DB.Repositories()

	// Redis
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = rediscache.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisClient.Close)
	}

	// Metadata cache
	metadata := a.Repositories.Metadata
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		metadata = repository.NewCachedMetadataRepository(metadata, memory.NewCache(memoryCacheEntries), cfg.Cache.TTL, logger)
	case config.CacheBackendRedis:
		metadata = repository.NewCachedMetadataRepository(metadata, rediscache.NewCache(redisClient, redisKeyPrefix), cfg.Cache.TTL, logger)
	}

	// Locker
	if redisClient != nil {
		a.Locker = lock.NewRedisLocker(redisClient)
	} else {
		ml := lock.NewMemoryLocker()
		a.closers = append(a.closers, func() error { ml.Stop(); return nil })
		a.Locker = ml
	}

	// Storage
	a.Medium, err = storage.NewMedium(ctx, cfg.Storage, storage.Dependencies{
		BlobData: a.Repositories.BlobData,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	// Services
	a.Blobs = service.NewBlobService(metadata, a.Medium, a.Locker, a.Metrics, logger)

	a.Sweeper, err = service.NewOrphanSweeper(
		a.Repositories.Metadata,
		a.Medium,
		a.Locker,
		a.Metrics,
		logger,
		service.SweeperConfigFrom(cfg.Sweeper),
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
