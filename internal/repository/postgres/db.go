// Package postgres stores blob metadata and payloads in PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/repository"
	"github.com/prn-tf/blobvault/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const connectTimeout = 10 * time.Second

// DB is the connection pool shared by the metadata and blob data
// repositories. Schema methods come from the embedded Schema.
type DB struct {
	*repository.Schema

	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB connects to the configured server and verifies the connection.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	logger = logger.With().Str("component", "postgres").Logger()
	poolConfig.ConnConfig.Tracer = &queryTracer{logger: logger}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to PostgreSQL")

	return newDB(pool, logger), nil
}

func newDB(pool *pgxpool.Pool, logger zerolog.Logger) *DB {
	db := &DB{Pool: pool, logger: logger}
	db.Schema = repository.NewSchema(schemaStore{pool}, migrationsFS, "migrations", logger)
	return db
}

// Close closes the pool.
func (db *DB) Close() error {
	db.Pool.Close()
	db.logger.Debug().Msg("connection pool closed")
	return nil
}

// Health pings the server.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Repositories returns the repository set backed by this database.
func (db *DB) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Metadata: NewMetadataRepository(db),
		BlobData: NewBlobDataRepository(db),
	}
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// queryTracer opens a span per query and logs it at debug level.
// Arguments are never logged since they carry blob payloads.
type queryTracer struct {
	logger zerolog.Logger
}

type querySpanKey struct{}

type querySpan struct {
	span  trace.Span
	start time.Time
	sql   string
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := telemetry.StartSpan(ctx, "postgres.query",
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", data.SQL),
	)
	return context.WithValue(ctx, querySpanKey{}, &querySpan{span: span, start: time.Now(), sql: data.SQL})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(querySpanKey{}).(*querySpan)
	if !ok {
		return
	}
	telemetry.EndSpan(qs.span, data.Err)

	if e := t.logger.Debug(); e.Enabled() {
		e.Str("sql", qs.sql).
			Dur("duration", time.Since(qs.start)).
			Str("command_tag", data.CommandTag.String()).
			AnErr("error", data.Err).
			Msg("query executed")
	}
}

// schemaStore records applied migrations in schema_migrations.
type schemaStore struct {
	pool *pgxpool.Pool
}

func (s schemaStore) AppliedVersion(ctx context.Context) (int, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (s schemaStore) Apply(ctx context.Context, version int, script string, up bool) error {
	record := `INSERT INTO schema_migrations (version) VALUES ($1)`
	if !up {
		record = `DELETE FROM schema_migrations WHERE version = $1`
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, script); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, record, version); err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
		return nil
	})
}

var (
	_ repository.DatabaseHealth = (*DB)(nil)
	_ repository.Migrator       = (*DB)(nil)
	_ repository.SchemaStore    = schemaStore{}
	_ pgx.QueryTracer           = (*queryTracer)(nil)
)
