package repository

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Migration is one versioned schema change loaded from an embedded directory.
// Files are named NNNNNN_description.up.sql and NNNNNN_description.down.sql.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// LoadMigrations reads every migration pair under dir in fsys, ordered by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		var direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			direction = "up"
		case strings.HasSuffix(name, ".down.sql"):
			direction = "down"
		default:
			continue
		}

		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %q has no version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q has invalid version: %w", name, err)
		}

		body, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", name, err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{
				Version: version,
				Name:    strings.TrimSuffix(strings.TrimSuffix(rest, ".up.sql"), ".down.sql"),
			}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d (%s) has no up script", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// MigrationStatus describes one migration and whether it has been applied.
type MigrationStatus struct {
	Version int
	Name    string
	Applied bool
}

// Migrator is implemented by databases that manage their own schema.
type Migrator interface {
	// Migrate applies all pending migrations.
	Migrate(ctx context.Context) error

	// Rollback reverts the most recently applied migration.
	Rollback(ctx context.Context) error

	// Version returns the highest applied migration version, or 0.
	Version(ctx context.Context) (int, error)

	// Status lists every known migration with its applied state.
	Status(ctx context.Context) ([]MigrationStatus, error)
}

// SchemaStore is the driver-specific half of schema management.
type SchemaStore interface {
	// AppliedVersion returns the highest recorded version, creating the
	// bookkeeping table on first use.
	AppliedVersion(ctx context.Context) (int, error)

	// Apply runs script and records version in one transaction. With up
	// false the version record is removed instead.
	Apply(ctx context.Context, version int, script string, up bool) error
}

// Schema runs the migrations in one embedded directory against a store.
// Each migration is applied in its own transaction.
type Schema struct {
	store  SchemaStore
	fsys   fs.FS
	dir    string
	logger zerolog.Logger
}

// NewSchema creates a Schema for the migrations under dir in fsys.
func NewSchema(store SchemaStore, fsys fs.FS, dir string, logger zerolog.Logger) *Schema {
	return &Schema{store: store, fsys: fsys, dir: dir, logger: logger}
}

// Version returns the highest applied migration version, or 0.
func (s *Schema) Version(ctx context.Context) (int, error) {
	return s.store.AppliedVersion(ctx)
}

// load reads the embedded migrations and the applied version together.
func (s *Schema) load(ctx context.Context) ([]Migration, int, error) {
	migrations, err := LoadMigrations(s.fsys, s.dir)
	if err != nil {
		return nil, 0, err
	}
	current, err := s.store.AppliedVersion(ctx)
	if err != nil {
		return nil, 0, err
	}
	return migrations, current, nil
}

// Migrate applies every migration newer than the applied version.
func (s *Schema) Migrate(ctx context.Context) error {
	migrations, current, err := s.load(ctx)
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.store.Apply(ctx, m.Version, m.Up, true); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		pending++
		s.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}

	s.logger.Debug().Int("from_version", current).Int("applied", pending).Msg("schema up to date")
	return nil
}

// Rollback reverts the most recently applied migration. It is a no-op on
// an empty schema.
func (s *Schema) Rollback(ctx context.Context) error {
	migrations, current, err := s.load(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return nil
	}

	idx := sort.Search(len(migrations), func(i int) bool { return migrations[i].Version >= current })
	if idx == len(migrations) || migrations[idx].Version != current {
		return fmt.Errorf("applied migration %d is not known to this binary", current)
	}

	m := migrations[idx]
	if m.Down == "" {
		return fmt.Errorf("migration %d has no down script", m.Version)
	}
	if err := s.store.Apply(ctx, m.Version, m.Down, false); err != nil {
		return fmt.Errorf("rollback %d (%s): %w", m.Version, m.Name, err)
	}

	s.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("rolled back migration")
	return nil
}

// Status lists every known migration with its applied state.
func (s *Schema) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, current, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, len(migrations))
	for i, m := range migrations {
		status[i] = MigrationStatus{Version: m.Version, Name: m.Name, Applied: m.Version <= current}
	}
	return status, nil
}

var _ Migrator = (*Schema)(nil)
