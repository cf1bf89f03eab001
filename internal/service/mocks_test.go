package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/storage"
)

// =============================================================================
// Mock Types
// =============================================================================

type mockMetadataRepository struct {
	mock.Mock
}

func (m *mockMetadataRepository) Create(ctx context.Context, meta *domain.Metadata) error {
	args := m.Called(ctx, meta)
	return args.Error(0)
}

func (m *mockMetadataRepository) GetByObjectID(ctx context.Context, objectID string) (*domain.Metadata, error) {
	args := m.Called(ctx, objectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Metadata), args.Error(1)
}

func (m *mockMetadataRepository) Exists(ctx context.Context, objectID string) (bool, error) {
	args := m.Called(ctx, objectID)
	return args.Bool(0), args.Error(1)
}

func (m *mockMetadataRepository) ListLocators(ctx context.Context, objectIDs []string) (map[string]string, error) {
	args := m.Called(ctx, objectIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// mockMedium implements storage.Medium, storage.Discarder and storage.Enumerator.
type mockMedium struct {
	mock.Mock
	kind     domain.StorageKind
	payloads []storage.StoredPayload
}

func newMockMedium(kind domain.StorageKind) *mockMedium {
	return &mockMedium{kind: kind}
}

func (m *mockMedium) Kind() domain.StorageKind {
	return m.kind
}

func (m *mockMedium) Persist(ctx context.Context, objectID string, data []byte) (string, error) {
	args := m.Called(ctx, objectID, data)
	return args.String(0), args.Error(1)
}

func (m *mockMedium) Fetch(ctx context.Context, objectID, locator string) ([]byte, error) {
	args := m.Called(ctx, objectID, locator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockMedium) Discard(ctx context.Context, objectID, locator string) error {
	args := m.Called(ctx, objectID, locator)
	return args.Error(0)
}

// Enumerate walks the fixed payload list set by the test.
func (m *mockMedium) Enumerate(ctx context.Context, fn func(storage.StoredPayload) error) error {
	for _, p := range m.payloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// persistOnlyMedium implements only storage.Medium.
type persistOnlyMedium struct {
	mock.Mock
}

func (m *persistOnlyMedium) Kind() domain.StorageKind {
	return domain.StorageKindLocal
}

func (m *persistOnlyMedium) Persist(ctx context.Context, objectID string, data []byte) (string, error) {
	args := m.Called(ctx, objectID, data)
	return args.String(0), args.Error(1)
}

func (m *persistOnlyMedium) Fetch(ctx context.Context, objectID, locator string) ([]byte, error) {
	args := m.Called(ctx, objectID, locator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
