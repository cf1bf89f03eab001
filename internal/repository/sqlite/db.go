// Package sqlite stores blob metadata and payloads in a single SQLite file.
// It uses modernc.org/sqlite, so the server builds without CGO.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// Config holds the file location and the pragmas applied to each connection.
type Config struct {
	Path            string
	JournalMode     string
	BusyTimeout     int // milliseconds
	CacheSize       int // negative is KiB, positive is pages
	SynchronousMode string
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns WAL mode settings for the file at path.
// The pool is pinned to one connection since SQLite allows a single writer.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		JournalMode:     "WAL",
		BusyTimeout:     5000,
		CacheSize:       -2000,
		SynchronousMode: "NORMAL",
		ConnMaxLifetime: time.Hour,
	}
}

// ConfigFrom builds a Config from the application database settings.
func ConfigFrom(cfg config.DatabaseConfig) Config {
	c := DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		c.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		c.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		c.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		c.SynchronousMode = cfg.SynchronousMode
	}
	return c
}

func (c Config) dsn() string {
	pragmas := []string{
		"journal_mode(" + c.JournalMode + ")",
		"busy_timeout(" + strconv.Itoa(c.BusyTimeout) + ")",
		"cache_size(" + strconv.Itoa(c.CacheSize) + ")",
		"synchronous(" + c.SynchronousMode + ")",
		"foreign_keys(1)",
	}
	return c.Path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// DB is the SQLite handle shared by the metadata and blob data repositories.
// Schema methods (Migrate, Rollback, Version, Status) come from the
// embedded Schema.
type DB struct {
	*repository.Schema

	conn   *sql.DB
	logger zerolog.Logger
}

// NewDB opens the database file, creating its parent directory if needed.
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	if cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	logger = logger.With().Str("component", "sqlite").Logger()
	logger.Info().
		Str("path", cfg.Path).
		Str("journal_mode", cfg.JournalMode).
		Msg("opened SQLite database")

	db := &DB{conn: conn, logger: logger}
	db.Schema = repository.NewSchema(schemaStore{conn}, migrationsFS, "migrations", logger)
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	db.logger.Debug().Msg("closing SQLite database")
	return db.conn.Close()
}

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// ExecContext executes a statement without returning rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Repositories returns the repository set backed by this database.
func (db *DB) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Metadata: NewMetadataRepository(db),
		BlobData: NewBlobDataRepository(db),
	}
}

// schemaStore records applied migrations in schema_migrations.
type schemaStore struct {
	conn *sql.DB
}

func (s schemaStore) AppliedVersion(ctx context.Context) (int, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version int
	if err := s.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (s schemaStore) Apply(ctx context.Context, version int, script string, up bool) (err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return err
	}

	record := `INSERT INTO schema_migrations (version) VALUES (?)`
	if !up {
		record = `DELETE FROM schema_migrations WHERE version = ?`
	}
	if _, err = tx.ExecContext(ctx, record, version); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}

	return tx.Commit()
}

var (
	_ repository.DatabaseHealth = (*DB)(nil)
	_ repository.Migrator       = (*DB)(nil)
	_ repository.SchemaStore    = schemaStore{}
)
