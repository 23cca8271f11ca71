package entitlement

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	t.Run("get set delete", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "kv.json"))
		require.NoError(t, err)

		_, ok, err := store.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.Set("k", "v1"))
		v, ok, err := store.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, store.Set("k", "v2"))
		v, _, _ = store.Get("k")
		assert.Equal(t, "v2", v)

		require.NoError(t, store.Delete("k"))
		_, ok, err = store.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting an absent key is not an error
		assert.NoError(t, store.Delete("k"))
	})

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "kv.json")
		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Set("k", "v"))

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("values survive reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kv.json")
		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Set("k", "v"))

		reopened, err := NewFileStore(path)
		require.NoError(t, err)
		v, ok, err := reopened.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("unreadable file treated as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kv.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

		store, err := NewFileStore(path)
		require.NoError(t, err)
		_, ok, err := store.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestFileStoreWithCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	cache := newTestCache(t, store)
	rec := validRecord(time.Now().Add(time.Hour).UnixMilli(), true)
	require.NoError(t, cache.Save(rec))

	// A fresh cache over a fresh store sees the same record, as on a
	// process restart.
	store2, err := NewFileStore(path)
	require.NoError(t, err)
	cache2 := newTestCache(t, store2)

	loaded, err := cache2.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec, loaded)
}
