package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateObjectID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "5f0c2a4e-8e1b-4a53-9a43-1c2f3b4d5e6f", false},
		{"plain", "a1", false},
		{"dots inside", "report.v2.bin", false},
		{"max length", strings.Repeat("x", MaxObjectIDLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", MaxObjectIDLength+1), true},
		{"dot", ".", true},
		{"dot dot", "..", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"nul", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidObjectID))
				require.True(t, IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseStorageKind(t *testing.T) {
	for _, kind := range AllStorageKinds {
		parsed, err := ParseStorageKind(string(kind))
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}

	_, err := ParseStorageKind("gcs")
	require.ErrorIs(t, err, ErrUnknownStorageKind)
}

func TestNewMetadata(t *testing.T) {
	meta := NewMetadata("a1", 42, StorageKindLocal, "/data/2024/01/02/a1")

	require.Equal(t, "a1", meta.ObjectID)
	require.Equal(t, int64(42), meta.Size)
	require.Equal(t, time.UTC, meta.CreatedAt.Location())
	require.Equal(t, meta.CreatedAt, meta.CreatedAt.Truncate(time.Microsecond))
	require.True(t, meta.HasLocator())

	dbMeta := NewMetadata("a2", 0, StorageKindDatabase, "")
	require.False(t, dbMeta.HasLocator())
}

func TestDomainErrorWrapping(t *testing.T) {
	err := NewDomainError(ErrObjectNotFound, "payload missing", "a1")
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.Equal(t, "object not found: payload missing (a1)", err.Error())

	bare := NewDomainError(ErrStorageFailure, "", "")
	require.Equal(t, "storage failure", bare.Error())

	wrapped := fmt.Errorf("put: %w", NewDomainError(ErrInvalidObjectID, "empty", ""))
	require.True(t, IsInvalidInput(wrapped))
	require.False(t, IsConfigurationError(wrapped))
	require.True(t, IsConfigurationError(NewDomainError(ErrUnknownStorageKind, "", "tape")))

	var de *DomainError
	require.True(t, errors.As(wrapped, &de))
	require.Equal(t, "empty", de.Message)
}
