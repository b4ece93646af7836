// Package local_test tests the local filesystem artifact store.
package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/storage"
	"github.com/JakeFAU/listing-tracker/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingBaseDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "raw")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BadTemplate", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: t.TempDir(), PathTemplate: "{id}.html"})
		assert.Error(t, err)
	})

	t.Run("TemplateWithoutResourceDirectory", func(t *testing.T) {
		for _, tmpl := range []string{"{timestamp}/{id}.html", "raw/{id}/{timestamp}.html", "{id}/x/{timestamp}.html"} {
			_, err := local.New(local.Config{BaseDir: t.TempDir(), PathTemplate: storage.PathTemplate(tmpl)})
			assert.Error(t, err, tmpl)
		}
		_, err := local.New(local.Config{BaseDir: t.TempDir(), PathTemplate: "{id}/{timestamp}.htm"})
		assert.NoError(t, err)
	})
}

func TestWriteReadExists(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	key, err := store.Write(ctx, "ID4f1", started, []byte("<html>one</html>"))
	require.NoError(t, err)
	assert.Equal(t, store.Path("ID4f1", started), key)
	assert.Equal(t, "ID4f1/20240501T080000Z.html", key)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	body, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "<html>one</html>", string(body))

	ok, err = store.Exists(ctx, "ID4f1/missing.html")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Read(ctx, "ID4f1/missing.html")
	var missing *crawler.ArtifactMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "ID4f1/missing.html", missing.Path)

	_, err = store.Read(ctx, "../outside.html")
	assert.ErrorContains(t, err, "path traversal")
}

func TestPrune(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	var keys []string
	for i := range 4 {
		key, err := store.Write(ctx, "ID1", base.Add(time.Duration(i)*time.Hour), []byte("x"))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	_, err = store.Write(ctx, "ID2", base, []byte("y"))
	require.NoError(t, err)

	removed, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for i, key := range keys {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, i >= 2, ok, key)
	}

	_, err = store.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestPruneKeepsImages(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	var keys []string
	for _, id := range []string{"a", "b", "c"} {
		key, err := store.Put(ctx, storage.ImageKey("ID1", id, "jpeg"), []byte("img"))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	removed, err := store.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, removed)
	for _, key := range keys {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	_, err = store.Put(ctx, "../escape", []byte("x"))
	assert.Error(t, err)
}
