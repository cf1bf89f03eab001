package sqlite

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blobvault/internal/domain"
)

func TestBlobDataRepository_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobDataRepository(newTestDB(t))

	payload := bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 1000)
	require.NoError(t, repo.Put(ctx, "bin", payload))

	got, err := repo.Get(ctx, "bin")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, repo.Delete(ctx, "bin"))

	_, err = repo.Get(ctx, "bin")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	err = repo.Delete(ctx, "bin")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestBlobDataRepository_EmptyPayload(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobDataRepository(newTestDB(t))

	require.NoError(t, repo.Put(ctx, "empty", nil))

	got, err := repo.Get(ctx, "empty")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestBlobDataRepository_NoOverwrite(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobDataRepository(newTestDB(t))

	require.NoError(t, repo.Put(ctx, "once", []byte("first")))

	err := repo.Put(ctx, "once", []byte("second"))
	require.ErrorIs(t, err, domain.ErrObjectAlreadyExists)

	got, err := repo.Get(ctx, "once")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)
}

func TestBlobDataRepository_ListObjectIDsPages(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobDataRepository(newTestDB(t))

	for _, id := range []string{"c", "a", "e", "b", "d"} {
		require.NoError(t, repo.Put(ctx, id, []byte(id)))
	}

	page, err := repo.ListObjectIDs(ctx, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, page)

	page, err = repo.ListObjectIDs(ctx, "b", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, page)

	page, err = repo.ListObjectIDs(ctx, "d", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"e"}, page)

	page, err = repo.ListObjectIDs(ctx, "e", 2)
	require.NoError(t, err)
	require.Empty(t, page)
}
