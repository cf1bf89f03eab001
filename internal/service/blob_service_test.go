package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/lock"
	"github.com/prn-tf/blobvault/internal/metrics"
	"github.com/prn-tf/blobvault/internal/repository"
	"github.com/prn-tf/blobvault/internal/repository/sqlite"
	"github.com/prn-tf/blobvault/internal/storage"
)

func TestBlobService_Store(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("database is locked")

	tests := []struct {
		name    string
		input   StoreInput
		setup   func(meta *mockMetadataRepository, medium *mockMedium)
		wantErr error
	}{
		{
			name:  "stores payload and records metadata",
			input: StoreInput{ObjectID: "a1", Data: []byte("hello")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, nil)
				medium.On("Persist", mock.Anything, "a1", []byte("hello")).Return("/data/2026/10/18/a1", nil)
				meta.On("Create", mock.Anything, mock.MatchedBy(func(m *domain.Metadata) bool {
					return m.ObjectID == "a1" &&
						m.Size == 5 &&
						m.StorageKind == domain.StorageKindLocal &&
						m.Locator == "/data/2026/10/18/a1" &&
						m.CreatedAt.Location().String() == "UTC"
				})).Return(nil)
			},
		},
		{
			name:    "rejects invalid ID before any I/O",
			input:   StoreInput{ObjectID: "../etc/passwd", Data: []byte("x")},
			setup:   func(meta *mockMetadataRepository, medium *mockMedium) {},
			wantErr: domain.ErrInvalidObjectID,
		},
		{
			name:    "rejects empty ID",
			input:   StoreInput{ObjectID: "", Data: []byte("x")},
			setup:   func(meta *mockMetadataRepository, medium *mockMedium) {},
			wantErr: domain.ErrInvalidObjectID,
		},
		{
			name:  "rejects duplicate ID before persisting",
			input: StoreInput{ObjectID: "a1", Data: []byte("second")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(true, nil)
			},
			wantErr: domain.ErrObjectAlreadyExists,
		},
		{
			name:  "metadata check failure",
			input: StoreInput{ObjectID: "a1", Data: []byte("x")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, dbErr)
			},
			wantErr: domain.ErrStorageFailure,
		},
		{
			name:  "medium failure",
			input: StoreInput{ObjectID: "a1", Data: []byte("x")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, nil)
				medium.On("Persist", mock.Anything, "a1", []byte("x")).
					Return("", errors.Join(domain.ErrStorageFailure, errors.New("no space left on device")))
			},
			wantErr: domain.ErrStorageFailure,
		},
		{
			name:  "medium reports existing payload",
			input: StoreInput{ObjectID: "a1", Data: []byte("x")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, nil)
				medium.On("Persist", mock.Anything, "a1", []byte("x")).
					Return("", domain.NewDomainError(domain.ErrObjectAlreadyExists, "payload row exists", "a1"))
			},
			wantErr: domain.ErrObjectAlreadyExists,
		},
		{
			name:  "discards payload when metadata write fails",
			input: StoreInput{ObjectID: "a1", Data: []byte("x")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, nil)
				medium.On("Persist", mock.Anything, "a1", []byte("x")).Return("/data/a1", nil)
				meta.On("Create", mock.Anything, mock.Anything).Return(dbErr)
				medium.On("Discard", mock.Anything, "a1", "/data/a1").Return(nil)
			},
			wantErr: domain.ErrStorageFailure,
		},
		{
			name:  "discards payload when losing the metadata race",
			input: StoreInput{ObjectID: "a1", Data: []byte("x")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, nil)
				medium.On("Persist", mock.Anything, "a1", []byte("x")).Return("/data/2026/10/19/a1", nil)
				meta.On("Create", mock.Anything, mock.Anything).
					Return(domain.NewDomainError(domain.ErrObjectAlreadyExists, "object ID exists", "a1"))
				medium.On("Discard", mock.Anything, "a1", "/data/2026/10/19/a1").Return(nil)
			},
			wantErr: domain.ErrObjectAlreadyExists,
		},
		{
			name:  "compensation failure keeps the original error",
			input: StoreInput{ObjectID: "a1", Data: []byte("x")},
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("Exists", mock.Anything, "a1").Return(false, nil)
				medium.On("Persist", mock.Anything, "a1", []byte("x")).Return("/data/a1", nil)
				meta.On("Create", mock.Anything, mock.Anything).Return(dbErr)
				medium.On("Discard", mock.Anything, "a1", "/data/a1").Return(errors.New("permission denied"))
			},
			wantErr: dbErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := new(mockMetadataRepository)
			medium := newMockMedium(domain.StorageKindLocal)
			tt.setup(meta, medium)

			svc := NewBlobService(meta, medium, nil, nil, zerolog.Nop())
			got, err := svc.Store(ctx, tt.input)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.input.ObjectID, got.ObjectID)
				assert.Equal(t, int64(len(tt.input.Data)), got.Size)
			}

			meta.AssertExpectations(t)
			medium.AssertExpectations(t)
		})
	}
}

func TestBlobService_StoreWithoutDiscarder(t *testing.T) {
	meta := new(mockMetadataRepository)
	medium := new(persistOnlyMedium)

	meta.On("Exists", mock.Anything, "a1").Return(false, nil)
	medium.On("Persist", mock.Anything, "a1", []byte("x")).Return("/data/a1", nil)
	meta.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	m := metrics.New(prometheus.NewRegistry())
	svc := NewBlobService(meta, medium, nil, m, zerolog.Nop())

	_, err := svc.Store(context.Background(), StoreInput{ObjectID: "a1", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("local", metrics.ResultError)))
}

func TestBlobService_Retrieve(t *testing.T) {
	ctx := context.Background()
	record := &domain.Metadata{
		ObjectID:    "a1",
		Size:        5,
		StorageKind: domain.StorageKindLocal,
		Locator:     "/data/a1",
	}

	tests := []struct {
		name    string
		setup   func(meta *mockMetadataRepository, medium *mockMedium)
		want    []byte
		wantErr error
	}{
		{
			name: "returns payload and metadata",
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("GetByObjectID", mock.Anything, "a1").Return(record, nil)
				medium.On("Fetch", mock.Anything, "a1", "/data/a1").Return([]byte("hello"), nil)
			},
			want: []byte("hello"),
		},
		{
			name: "unknown ID never touches the medium",
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("GetByObjectID", mock.Anything, "a1").
					Return(nil, domain.NewDomainError(domain.ErrObjectNotFound, "no metadata record", "a1"))
			},
			wantErr: domain.ErrObjectNotFound,
		},
		{
			name: "record owned by another medium",
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				other := *record
				other.StorageKind = domain.StorageKindDatabase
				meta.On("GetByObjectID", mock.Anything, "a1").Return(&other, nil)
			},
			wantErr: domain.ErrObjectNotFound,
		},
		{
			name: "payload missing from medium",
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("GetByObjectID", mock.Anything, "a1").Return(record, nil)
				medium.On("Fetch", mock.Anything, "a1", "/data/a1").
					Return(nil, domain.NewDomainError(domain.ErrObjectNotFound, "payload file missing", "a1"))
			},
			wantErr: domain.ErrObjectNotFound,
		},
		{
			name: "size mismatch",
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("GetByObjectID", mock.Anything, "a1").Return(record, nil)
				medium.On("Fetch", mock.Anything, "a1", "/data/a1").Return([]byte("hell"), nil)
			},
			wantErr: domain.ErrObjectCorrupted,
		},
		{
			name: "medium failure",
			setup: func(meta *mockMetadataRepository, medium *mockMedium) {
				meta.On("GetByObjectID", mock.Anything, "a1").Return(record, nil)
				medium.On("Fetch", mock.Anything, "a1", "/data/a1").Return(nil, errors.New("input/output error"))
			},
			wantErr: domain.ErrStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := new(mockMetadataRepository)
			medium := newMockMedium(domain.StorageKindLocal)
			tt.setup(meta, medium)

			svc := NewBlobService(meta, medium, nil, nil, zerolog.Nop())
			out, err := svc.Retrieve(ctx, "a1")

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, out)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, out.Data)
				assert.Equal(t, record, out.Metadata)
			}

			meta.AssertExpectations(t)
			medium.AssertExpectations(t)
		})
	}
}

func TestBlobService_RetrieveCountsDivergence(t *testing.T) {
	meta := new(mockMetadataRepository)
	medium := newMockMedium(domain.StorageKindDatabase)
	meta.On("GetByObjectID", mock.Anything, "a1").
		Return(&domain.Metadata{ObjectID: "a1", Size: 1, StorageKind: domain.StorageKindDatabase}, nil)
	medium.On("Fetch", mock.Anything, "a1", "").
		Return(nil, domain.NewDomainError(domain.ErrObjectNotFound, "no payload row", "a1"))

	m := metrics.New(prometheus.NewRegistry())
	svc := NewBlobService(meta, medium, nil, m, zerolog.Nop())

	_, err := svc.Retrieve(context.Background(), "a1")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Divergences.WithLabelValues("database")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues(OpRetrieve, "database", metrics.ResultNotFound)))
}

func TestBlobService_Stat(t *testing.T) {
	meta := new(mockMetadataRepository)
	medium := newMockMedium(domain.StorageKindObjectStore)
	record := &domain.Metadata{ObjectID: "a1", Size: 3, StorageKind: domain.StorageKindObjectStore, Locator: "s3://b/a1"}
	meta.On("GetByObjectID", mock.Anything, "a1").Return(record, nil)

	svc := NewBlobService(meta, medium, nil, nil, zerolog.Nop())

	got, err := svc.Stat(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, record, got)
	medium.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// End-to-end over real storage
// =============================================================================

func newTestRepositories(t *testing.T) *repository.Repositories {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "blobvault.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	return db.Repositories()
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestBlobService_RoundTrip(t *testing.T) {
	ctx := context.Background()

	media := map[string]func(t *testing.T, repos *repository.Repositories) storage.Medium{
		"local": func(t *testing.T, _ *repository.Repositories) storage.Medium {
			m, err := storage.NewLocalMedium(filepath.Join(t.TempDir(), "blobs"))
			require.NoError(t, err)
			return m
		},
		"database": func(t *testing.T, repos *repository.Repositories) storage.Medium {
			return storage.NewDatabaseMedium(repos.BlobData)
		},
	}

	for name, newMedium := range media {
		t.Run(name, func(t *testing.T) {
			repos := newTestRepositories(t)
			svc := NewBlobService(repos.Metadata, newMedium(t, repos), nil, nil, zerolog.Nop())

			payloads := map[string][]byte{
				"a1":    randomBytes(t, 1_000_000),
				"empty": {},
				"small": []byte("hello"),
			}

			for id, data := range payloads {
				meta, err := svc.Store(ctx, StoreInput{ObjectID: id, Data: data})
				require.NoError(t, err)
				assert.Equal(t, int64(len(data)), meta.Size)

				out, err := svc.Retrieve(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(out.Data))
				assert.True(t, string(data) == string(out.Data), "payload %s must round-trip", id)
				assert.True(t, meta.CreatedAt.Equal(out.Metadata.CreatedAt))
			}

			_, err := svc.Retrieve(ctx, "never-stored")
			assert.ErrorIs(t, err, domain.ErrObjectNotFound)

			_, err = svc.Store(ctx, StoreInput{ObjectID: "small", Data: []byte("overwrite")})
			assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)

			out, err := svc.Retrieve(ctx, "small")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), out.Data)
		})
	}
}

func TestBlobService_BackendIsolation(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepositories(t)

	local, err := storage.NewLocalMedium(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	database := storage.NewDatabaseMedium(repos.BlobData)

	localSvc := NewBlobService(repos.Metadata, local, nil, nil, zerolog.Nop())
	dbSvc := NewBlobService(repos.Metadata, database, nil, nil, zerolog.Nop())

	_, err = localSvc.Store(ctx, StoreInput{ObjectID: "on-disk", Data: []byte("disk")})
	require.NoError(t, err)

	_, err = dbSvc.Retrieve(ctx, "on-disk")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)

	// The ID stays taken across media.
	_, err = dbSvc.Store(ctx, StoreInput{ObjectID: "on-disk", Data: []byte("db")})
	assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)

	out, err := localSvc.Retrieve(ctx, "on-disk")
	require.NoError(t, err)
	assert.Equal(t, []byte("disk"), out.Data)
}

func testMedia() map[string]func(t *testing.T, repos *repository.Repositories) storage.Medium {
	return map[string]func(t *testing.T, repos *repository.Repositories) storage.Medium{
		"local": func(t *testing.T, _ *repository.Repositories) storage.Medium {
			m, err := storage.NewLocalMedium(filepath.Join(t.TempDir(), "blobs"))
			require.NoError(t, err)
			return m
		},
		"database": func(t *testing.T, repos *repository.Repositories) storage.Medium {
			return storage.NewDatabaseMedium(repos.BlobData)
		},
	}
}

func newMemoryLocker(t *testing.T) lock.Locker {
	t.Helper()

	l := lock.NewMemoryLocker()
	t.Cleanup(l.Stop)
	return l
}

func TestBlobService_ConcurrentStoresOfOneID(t *testing.T) {
	const writers = 16
	ctx := context.Background()

	lockers := map[string]func(t *testing.T) lock.Locker{
		"unlocked": func(*testing.T) lock.Locker { return nil },
		"locked":   newMemoryLocker,
	}

	for mediumName, newMedium := range testMedia() {
		for lockerName, newLocker := range lockers {
			t.Run(mediumName+"/"+lockerName, func(t *testing.T) {
				repos := newTestRepositories(t)
				svc := NewBlobService(repos.Metadata, newMedium(t, repos), newLocker(t), nil, zerolog.Nop())

				var (
					wg       sync.WaitGroup
					mu       sync.Mutex
					winners  []int
					failures []error
				)
				start := make(chan struct{})
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						<-start
						_, err := svc.Store(ctx, StoreInput{ObjectID: "race", Data: []byte(fmt.Sprintf("writer-%02d", i))})

						mu.Lock()
						defer mu.Unlock()
						if err == nil {
							winners = append(winners, i)
						} else {
							failures = append(failures, err)
						}
					}(i)
				}
				close(start)
				wg.Wait()

				require.Len(t, winners, 1)
				require.Len(t, failures, writers-1)
				for _, err := range failures {
					assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)
				}

				out, err := svc.Retrieve(ctx, "race")
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("writer-%02d", winners[0]), string(out.Data))
			})
		}
	}
}

func TestBlobService_ReclaimsOrphanedPayload(t *testing.T) {
	ctx := context.Background()

	for name, newMedium := range testMedia() {
		t.Run(name, func(t *testing.T) {
			repos := newTestRepositories(t)
			medium := newMedium(t, repos)
			svc := NewBlobService(repos.Metadata, medium, newMemoryLocker(t), nil, zerolog.Nop())

			// Left behind by a store that crashed before recording metadata.
			_, err := medium.Persist(ctx, "crash2", []byte("stale"))
			require.NoError(t, err)

			_, err = svc.Retrieve(ctx, "crash2")
			require.ErrorIs(t, err, domain.ErrObjectNotFound)

			meta, err := svc.Store(ctx, StoreInput{ObjectID: "crash2", Data: []byte("fresh")})
			require.NoError(t, err)
			assert.Equal(t, int64(5), meta.Size)

			out, err := svc.Retrieve(ctx, "crash2")
			require.NoError(t, err)
			assert.Equal(t, []byte("fresh"), out.Data)

			// Recorded payloads are never reclaimed.
			_, err = svc.Store(ctx, StoreInput{ObjectID: "crash2", Data: []byte("again")})
			assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)
		})
	}
}

func TestBlobService_OrphanBlocksIDWithoutLocker(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepositories(t)
	medium := storage.NewDatabaseMedium(repos.BlobData)
	svc := NewBlobService(repos.Metadata, medium, nil, nil, zerolog.Nop())

	_, err := medium.Persist(ctx, "crash3", []byte("stale"))
	require.NoError(t, err)

	_, err = svc.Store(ctx, StoreInput{ObjectID: "crash3", Data: []byte("fresh")})
	assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)
}

func TestBlobService_StoreInProgressConflicts(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepositories(t)
	locker := newMemoryLocker(t)
	svc := NewBlobService(repos.Metadata, storage.NewDatabaseMedium(repos.BlobData), locker, nil, zerolog.Nop())

	held, err := locker.Acquire(ctx, lock.Keys.Store("busy"), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = svc.Store(ctx, StoreInput{ObjectID: "busy", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrObjectAlreadyExists)

	_, err = locker.Release(ctx, lock.Keys.Store("busy"))
	require.NoError(t, err)

	_, err = svc.Store(ctx, StoreInput{ObjectID: "busy", Data: []byte("x")})
	require.NoError(t, err)

	// The store lock is released afterwards.
	held, err = locker.IsHeld(ctx, lock.Keys.Store("busy"))
	require.NoError(t, err)
	assert.False(t, held)
}
