package integrationtests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"query-classifier/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-models"

func setupTestObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
	return objectStore
}

func writeModelDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{
		"config.json":    `{"architecture": "onnx-encoder+linear-head"}`,
		"head.msgpack":   "weights",
		"tokenizer.json": "{}",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return files
}

func TestS3ObjectStore_UploadDownloadDir(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	// Creating an existing bucket is not an error.
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	src := t.TempDir()
	files := writeModelDir(t, src)

	require.NoError(t, objectStore.UploadDir(ctx, bucketName, "runs/first", src))

	dest := filepath.Join(t.TempDir(), "model")
	require.NoError(t, objectStore.DownloadDir(ctx, bucketName, "runs/first", dest, false))

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dest, name))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	// The destination exists now, so only an overwriting download succeeds.
	assert.Error(t, objectStore.DownloadDir(ctx, bucketName, "runs/first", dest, false))
	assert.NoError(t, objectStore.DownloadDir(ctx, bucketName, "runs/first", dest, true))
}

func TestS3ObjectStore_PutObject(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	require.NoError(t, objectStore.PutObject(ctx, bucketName, "single/config.json", bytes.NewReader([]byte("cfg"))))

	dest := filepath.Join(t.TempDir(), "single")
	require.NoError(t, objectStore.DownloadDir(ctx, bucketName, "single", dest, true))

	data, err := os.ReadFile(filepath.Join(dest, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "cfg", string(data))
}

func TestS3ObjectStore_DownloadMissingPrefix(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	err := objectStore.DownloadDir(ctx, bucketName, "does-not-exist", filepath.Join(t.TempDir(), "x"), true)
	assert.Error(t, err)
}
