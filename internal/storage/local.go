package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prn-tf/blobvault/internal/domain"
)

// tempPrefix marks in-progress writes inside day directories.
const tempPrefix = ".tmp-"

// LocalMedium stores payloads as files under a root directory,
// bucketed by the UTC day of the store.
type LocalMedium struct {
	root string
	now  func() time.Time
}

// NewLocalMedium creates a local-disk medium rooted at root.
// The root directory is created if it does not exist.
func NewLocalMedium(root string) (*LocalMedium, error) {
	if root == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidConfiguration, "local storage requires a data directory", "")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory %s: %w", root, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory %s: %w", domain.ErrStorageFailure, abs, err)
	}

	return &LocalMedium{root: abs, now: time.Now}, nil
}

// Root returns the absolute data directory.
func (m *LocalMedium) Root() string {
	return m.root
}

// Kind returns domain.StorageKindLocal.
func (m *LocalMedium) Kind() domain.StorageKind {
	return domain.StorageKindLocal
}

// Persist writes data to a temp file in today's directory, syncs it and
// hard-links it into place. Linking fails if the name is taken, so an
// existing payload is never replaced.
func (m *LocalMedium) Persist(ctx context.Context, objectID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := DateDir(m.root, m.now())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory %s: %w", domain.ErrStorageFailure, dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", domain.ErrStorageFailure, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %w", domain.ErrStorageFailure, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: sync %s: %w", domain.ErrStorageFailure, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", domain.ErrStorageFailure, tmpPath, err)
	}

	path := filepath.Join(dir, objectID)
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return path, domain.NewDomainError(domain.ErrObjectAlreadyExists, "payload file exists", objectID)
		}
		return "", fmt.Errorf("%w: link %s: %w", domain.ErrStorageFailure, path, err)
	}

	syncDir(dir)

	return path, nil
}

// syncDir flushes directory entries so the new link survives a crash.
// Not every platform supports syncing a directory, so errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Fetch reads the file at locator.
func (m *LocalMedium) Fetch(ctx context.Context, objectID, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if locator == "" {
		return nil, domain.NewDomainError(domain.ErrObjectNotFound, "no file path recorded", objectID)
	}

	data, err := os.ReadFile(locator)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewDomainError(domain.ErrObjectNotFound, "payload file missing", objectID)
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStorageFailure, locator, err)
	}

	return data, nil
}

// Discard removes the file at locator.
func (m *LocalMedium) Discard(ctx context.Context, objectID, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if locator == "" {
		return domain.NewDomainError(domain.ErrObjectNotFound, "no file path recorded", objectID)
	}

	if err := os.Remove(locator); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NewDomainError(domain.ErrObjectNotFound, "payload file missing", objectID)
		}
		return fmt.Errorf("%w: remove %s: %w", domain.ErrStorageFailure, locator, err)
	}
	return nil
}

// Enumerate walks the day directories under the root.
// Files outside YYYY/MM/DD directories and in-progress temp files are skipped.
func (m *LocalMedium) Enumerate(ctx context.Context, fn func(StoredPayload) error) error {
	return filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("%w: walk %s: %w", domain.ErrStorageFailure, path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			rel, _ := filepath.Rel(m.root, path)
			if depth := strings.Count(filepath.ToSlash(rel), "/"); rel != "." && depth > 2 {
				return fs.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), tempPrefix) || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(m.root, filepath.Dir(path))
		if err != nil || !isDateDirs(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("%w: stat %s: %w", domain.ErrStorageFailure, path, err)
		}

		return fn(StoredPayload{
			ObjectID: d.Name(),
			Locator:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	})
}

// Ensure LocalMedium implements the medium interfaces.
var (
	_ Medium     = (*LocalMedium)(nil)
	_ Discarder  = (*LocalMedium)(nil)
	_ Enumerator = (*LocalMedium)(nil)
)
