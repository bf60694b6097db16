package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavsnet/operator/pkg/kv"
)

// conformance runs the same behavioral suite against any Store
// implementation, mirroring the shared castorage test-suite pattern used
// for the blob store's two implementations.
func conformance(t *testing.T, store kv.Store) {
	t.Helper()

	require.NoError(t, store.Set("widgets", []byte("a"), []byte("1")))
	require.NoError(t, store.Set("widgets", []byte("b"), []byte("2")))
	require.NoError(t, store.Set("widgets", []byte("c"), []byte("3")))
	require.NoError(t, store.Set("other", []byte("a"), []byte("other-value")))

	v, err := store.Get("widgets", []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, err = store.Get("widgets", []byte("missing"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	entries, err := store.Range("widgets", kv.Range{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries, err = store.Range("widgets", kv.Range{Start: kv.Inclusive([]byte("b"))})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("b"), entries[0].Key)

	entries, err = store.Range("widgets", kv.Range{Start: kv.Exclusive([]byte("a")), End: kv.Inclusive([]byte("b"))})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("b"), entries[0].Key)

	require.NoError(t, store.Delete("widgets", []byte("a")))
	_, err = store.Get("widgets", []byte("a"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	v, err = store.Get("other", []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("other-value"), v)
}

func TestMemStoreConformance(t *testing.T) {
	conformance(t, kv.NewMemStore())
}

func TestLevelStoreConformance(t *testing.T) {
	store, err := kv.OpenLevelStore("conformance", t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	conformance(t, store)
}
