package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func writeModelDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{
		"config.json":      `{"architecture": "x"}`,
		"head.msgpack":     "weights",
		"nested/notes.txt": "notes",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return files
}

func assertDirContents(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}

func TestLocalObjectStore_PutObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	content := []byte("Test content")
	err := objectStore.PutObject(context.Background(), "test-bucket", "dir/test-file.txt", bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, "test-bucket", "dir", "test-file.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_CreateBucket(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	require.NoError(t, objectStore.CreateBucket(context.Background(), "models"))
	assert.DirExists(t, filepath.Join(baseDir, "models"))

	// Creating it twice is fine.
	require.NoError(t, objectStore.CreateBucket(context.Background(), "models"))
}

func TestLocalObjectStore_UploadDownloadDir(t *testing.T) {
	ctx := context.Background()
	objectStore, baseDir := setupTestObjectStore(t)

	src := filepath.Join(t.TempDir(), "model")
	files := writeModelDir(t, src)

	require.NoError(t, objectStore.UploadDir(ctx, "models", "runs/abc", src))
	assertDirContents(t, filepath.Join(baseDir, "models", "runs", "abc"), files)

	// Uploads are copies, later changes to the source are not visible.
	require.NoError(t, os.WriteFile(filepath.Join(src, "head.msgpack"), []byte("changed"), 0o644))

	dest := filepath.Join(t.TempDir(), "download")
	require.NoError(t, objectStore.DownloadDir(ctx, "models", "runs/abc", dest, false))
	assertDirContents(t, dest, files)

	err := objectStore.DownloadDir(ctx, "models", "runs/abc", dest, false)
	assert.Error(t, err)

	require.NoError(t, objectStore.DownloadDir(ctx, "models", "runs/abc", dest, true))
	assertDirContents(t, dest, files)
}

func TestLocalObjectStore_DownloadMissingPrefix(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	err := objectStore.DownloadDir(context.Background(), "models", "missing", filepath.Join(t.TempDir(), "x"), true)
	assert.Error(t, err)
}

func TestParseURI(t *testing.T) {
	loc, err := ParseURI("s3://models/runs/abc/")
	require.NoError(t, err)
	assert.Equal(t, Location{Bucket: "models", Prefix: "runs/abc"}, loc)
	assert.Equal(t, "s3://models/runs/abc", loc.String())

	loc, err = ParseURI("s3://models")
	require.NoError(t, err)
	assert.Equal(t, Location{Bucket: "models"}, loc)

	_, err = ParseURI("gs://models/x")
	assert.Error(t, err)

	_, err = ParseURI("s3:///x")
	assert.Error(t, err)

	assert.True(t, IsS3URI("s3://a/b"))
	assert.False(t, IsS3URI("/tmp/model"))
}
