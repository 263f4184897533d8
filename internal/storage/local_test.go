package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocalStorage(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	ls, err := NewLocalStorage(dir)
	require.NoError(t, err)
	return ls, dir
}

func put(t *testing.T, ls *LocalStorage, key, content string) *Object {
	t.Helper()
	obj, err := ls.Put(context.Background(), key, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	return obj
}

func TestNewLocalStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dist")

	ls, err := NewLocalStorage(dir)

	require.NoError(t, err)
	assert.Equal(t, "local", ls.Name())
	assert.DirExists(t, dir)
}

func TestLocalStorage_Check(t *testing.T) {
	t.Run("writable directory", func(t *testing.T) {
		ls, dir := setupLocalStorage(t)

		require.NoError(t, ls.Check(context.Background()))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "scratch file is removed")
	})

	t.Run("root removed", func(t *testing.T) {
		ls, dir := setupLocalStorage(t)
		require.NoError(t, os.RemoveAll(dir))

		assert.ErrorIs(t, ls.Check(context.Background()), ErrTargetUnavailable)
	})

	t.Run("root is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "dist")
		require.NoError(t, os.WriteFile(file, nil, 0644))

		assert.ErrorIs(t, (&LocalStorage{root: file}).Check(context.Background()), ErrTargetUnavailable)
	})
}

func TestLocalStorage_Put(t *testing.T) {
	ls, dir := setupLocalStorage(t)
	content := "console.log(1)"

	obj := put(t, ls, "_aleph/pages/index.bundle.0123abcd.js", content)

	assert.Equal(t, "_aleph/pages/index.bundle.0123abcd.js", obj.Key)
	assert.Equal(t, int64(len(content)), obj.Size)
	assert.Equal(t, "application/javascript; charset=utf-8", obj.ContentType)
	assert.Equal(t, ImmutableCacheControl, obj.CacheControl)
	assert.Len(t, obj.ETag, 32)

	data, err := os.ReadFile(filepath.Join(dir, "_aleph", "pages", "index.bundle.0123abcd.js"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "_aleph", "pages"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not remain")
}

func TestLocalStorage_PutOverwrite(t *testing.T) {
	ls, dir := setupLocalStorage(t)

	put(t, ls, "_aleph/index.html", "one")
	obj := put(t, ls, "_aleph/index.html", "two")

	data, err := os.ReadFile(filepath.Join(dir, "_aleph", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Equal(t, RevalidateCacheControl, obj.CacheControl)
}

func TestLocalStorage_PutShortRead(t *testing.T) {
	ls, dir := setupLocalStorage(t)

	_, err := ls.Put(context.Background(), "main.bundle.0123abcd.js", strings.NewReader("abc"), 10)

	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "main.bundle.0123abcd.js"))
}

func TestLocalStorage_HasAndRemove(t *testing.T) {
	ls, _ := setupLocalStorage(t)
	ctx := context.Background()
	key := "_aleph/main.bundle.0123abcd.js"

	ok, err := ls.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	put(t, ls, key, "x")

	ok, err = ls.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ls.Has(ctx, "_aleph")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not objects")

	require.NoError(t, ls.Remove(ctx, key))
	assert.ErrorIs(t, ls.Remove(ctx, key), ErrObjectNotFound)
}

func TestLocalStorage_Keys(t *testing.T) {
	ls, dir := setupLocalStorage(t)

	for _, key := range []string{"_aleph/pages/b.js", "_aleph/a.js", "other/c.js"} {
		put(t, ls, key, "x")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_aleph", tempPrefix+"123"), []byte("partial"), 0644))

	objects, err := ls.Keys(context.Background(), "_aleph/")
	require.NoError(t, err)

	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"_aleph/a.js", "_aleph/pages/b.js"}, keys)
}

func TestLocalStorage_KeysCanceled(t *testing.T) {
	ls, _ := setupLocalStorage(t)
	put(t, ls, "a.js", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ls.Keys(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}
