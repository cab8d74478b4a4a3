package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscope-index/pkg/errors"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "artifacts")

		storage, err := NewLocalStorage(path)
		require.NoError(t, err)
		assert.Equal(t, path, storage.BasePath())

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("EmptyPathUsesDefault", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		dir := t.TempDir()
		require.NoError(t, os.Chdir(dir))
		t.Cleanup(func() { _ = os.Chdir(wd) })

		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, "./storage", storage.BasePath())
	})
}

func TestLocalStorage_PutGet(t *testing.T) {
	ctx := context.Background()
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, storage.Put(ctx, "indexes/abc.msix", []byte("first")))
	data, err := storage.Get(ctx, "indexes/abc.msix")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	require.NoError(t, storage.Put(ctx, "indexes/abc.msix", []byte("second")))
	data, err = storage.Get(ctx, "indexes/abc.msix")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	entries, err := os.ReadDir(filepath.Join(storage.BasePath(), "indexes"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestLocalStorage_ExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ok, err := storage.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.Put(ctx, "a/b", []byte("x")))
	ok, err = storage.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, storage.Delete(ctx, "a/b"))
	ok, err = storage.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, storage.Delete(ctx, "a/b"), "deleting a missing key succeeds")
}

func TestLocalStorage_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/", "../escape", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, storage.Put(ctx, key, []byte("x")))
			_, err := storage.Get(ctx, key)
			assert.Error(t, err)
		})
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, storage.Put(ctx, "k", []byte("x")), context.Canceled)
	_, err = storage.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = storage.Exists(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, storage.Delete(ctx, "k"), context.Canceled)
}

func TestLocalStorage_URL(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage.BasePath(), "indexes/x"), storage.URL("indexes/x"))
}
