package blobstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/digest"
)

// suite runs the same behavioral checks against any Store
// implementation, the way the original FileStorage tests shared a
// castorage test module across implementations.
func suite(t *testing.T, store blobstore.Store) {
	t.Helper()

	d1, err := store.Put([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, digest.Of([]byte("hello world")), d1)

	d2, err := store.Put([]byte("hello world"))
	require.NoError(t, err)
	require.True(t, d1.Equal(d2), "put is idempotent")

	got, err := store.Get(d1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)

	exists, err := store.Exists(d1)
	require.NoError(t, err)
	require.True(t, exists)

	missing := digest.Of([]byte("never stored"))
	_, err = store.Get(missing)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	exists, err = store.Exists(missing)
	require.NoError(t, err)
	require.False(t, exists)

	d3, err := store.Put([]byte("second blob"))
	require.NoError(t, err)

	list, err := store.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []digest.Digest{d1, d3}, list)

	require.NoError(t, store.Reset())
	list, err = store.List()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemStore(t *testing.T) {
	suite(t, blobstore.NewMemStore())
}

func TestDiskStore(t *testing.T) {
	store, err := blobstore.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	suite(t, store)
}
