package bundler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxbase-eu/fluxpack/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	buildDir := t.TempDir()
	outputDir := t.TempDir()
	f := newFixture(t, buildDir, "export default 1;\n")
	res, err := f.bundler().Bundle(context.Background(), e2eEntries)
	require.NoError(t, err)

	target, err := storage.NewLocalStorage(outputDir)
	require.NoError(t, err)

	out, err := Publish(context.Background(), res, buildDir, target, PublishOptions{})
	require.NoError(t, err)
	assert.Len(t, out.Uploaded, 4)
	assert.Empty(t, out.Skipped)

	for _, file := range res.Files {
		want, err := os.ReadFile(filepath.Join(buildDir, filepath.FromSlash(file)))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(outputDir, "_aleph", filepath.FromSlash(strings.TrimPrefix(file, "/"))))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	again, err := Publish(context.Background(), res, buildDir, target, PublishOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Uploaded)
	assert.Len(t, again.Skipped, 4)
}

func TestPublish_Prune(t *testing.T) {
	buildDir := t.TempDir()
	outputDir := t.TempDir()
	target, err := storage.NewLocalStorage(outputDir)
	require.NoError(t, err)

	first, err := newFixture(t, buildDir, "export default 1;\n").bundler().Bundle(context.Background(), e2eEntries)
	require.NoError(t, err)
	_, err = Publish(context.Background(), first, buildDir, target, PublishOptions{})
	require.NoError(t, err)

	unrelated := filepath.Join(outputDir, "_aleph", "pages", "about.bundle.0123abcd.js")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0644))

	second, err := newFixture(t, buildDir, "export default 2;\n").bundler().Bundle(context.Background(), e2eEntries)
	require.NoError(t, err)
	out, err := Publish(context.Background(), second, buildDir, target, PublishOptions{Prune: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"_aleph" + first.Files["/pages/index"],
		"_aleph" + first.Files[ChunkMain],
	}, out.Pruned)
	assert.FileExists(t, unrelated, "bundles of other chunks are left alone")
	assert.FileExists(t, filepath.Join(outputDir, "_aleph", filepath.FromSlash(strings.TrimPrefix(second.Files["/pages/index"], "/"))))
}

func TestPublish_UnavailableTarget(t *testing.T) {
	buildDir := t.TempDir()
	outputDir := filepath.Join(t.TempDir(), "dist")
	res, err := newFixture(t, buildDir, "export default 1;\n").bundler().Bundle(context.Background(), e2eEntries)
	require.NoError(t, err)

	target, err := storage.NewLocalStorage(outputDir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(outputDir))

	out, err := Publish(context.Background(), res, buildDir, target, PublishOptions{})

	assert.ErrorIs(t, err, storage.ErrTargetUnavailable)
	assert.Nil(t, out)
	assert.NoDirExists(t, outputDir, "nothing is written to an unavailable target")
}

func TestPublish_UploadPolicy(t *testing.T) {
	buildDir := t.TempDir()
	res, err := newFixture(t, buildDir, "export default 1;\n").bundler().Bundle(context.Background(), e2eEntries)
	require.NoError(t, err)
	target := &recordingTarget{}

	_, err = Publish(context.Background(), res, buildDir, target, PublishOptions{})
	require.NoError(t, err)

	require.Len(t, target.objects, len(res.Files))
	for _, obj := range target.objects {
		assert.True(t, strings.HasPrefix(obj.Key, PublicDir+"/"), obj.Key)
		assert.Equal(t, storage.ImmutableCacheControl, obj.CacheControl, obj.Key)
		assert.Equal(t, "application/javascript; charset=utf-8", obj.ContentType, obj.Key)
	}
}

// recordingTarget keeps published objects in memory.
type recordingTarget struct {
	objects []storage.Object
}

func (r *recordingTarget) Name() string                    { return "memory" }
func (r *recordingTarget) Check(ctx context.Context) error { return nil }

func (r *recordingTarget) Put(ctx context.Context, key string, data io.Reader, size int64) (*storage.Object, error) {
	obj := storage.Object{Key: key, Size: size, ContentType: storage.ContentType(key), CacheControl: storage.CacheControl(key)}
	r.objects = append(r.objects, obj)
	return &obj, nil
}

func (r *recordingTarget) Has(ctx context.Context, key string) (bool, error) {
	for _, o := range r.objects {
		if o.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *recordingTarget) Remove(ctx context.Context, key string) error { return nil }

func (r *recordingTarget) Keys(ctx context.Context, prefix string) ([]storage.Object, error) {
	return r.objects, nil
}

func TestPublishKey(t *testing.T) {
	assert.Equal(t, "_aleph/main.bundle.0123abcd.js", publishKey("/main.bundle.0123abcd.js"))
	assert.Equal(t, "_aleph/pages/index.bundle.0123abcd.js", publishKey("/pages/index.bundle.0123abcd.js"))
}
