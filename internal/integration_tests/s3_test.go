//go:build integration

package integrationtests

import (
	"bytes"
	"context"
	"testing"
	"time"

	"cesium-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func setupTestProvider(t *testing.T, ctx context.Context) *storage.S3Provider {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     endpoint,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	require.NoError(t, provider.CreateBucket(ctx, bucketName))

	return provider
}

func TestS3Provider_PutGetObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupTestProvider(t, ctx)

	key := "datasets/abc/series.csv"
	content := []byte("0,1.5\n1,2.5\n")

	require.NoError(t, provider.PutObject(ctx, bucketName, key, bytes.NewReader(content)))

	data, err := provider.GetObject(ctx, bucketName, key)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3Provider_ListObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupTestProvider(t, ctx)

	keys := []string{"datasets/a/file1.csv", "datasets/a/file2.csv", "datasets/b/file3.csv"}
	for _, key := range keys {
		require.NoError(t, provider.PutObject(ctx, bucketName, key, bytes.NewReader([]byte("content"))))
	}

	objects, err := provider.ListObjects(ctx, bucketName, "datasets/a/")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	names := []string{objects[0].Name, objects[1].Name}
	assert.ElementsMatch(t, []string{"datasets/a/file1.csv", "datasets/a/file2.csv"}, names)
}

func TestS3Provider_DeleteObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupTestProvider(t, ctx)

	keys := []string{"datasets/a/file1.csv", "datasets/a/file2.csv", "datasets/b/file3.csv"}
	for _, key := range keys {
		require.NoError(t, provider.PutObject(ctx, bucketName, key, bytes.NewReader([]byte("content"))))
	}

	require.NoError(t, provider.DeleteObjects(ctx, bucketName, "datasets/a/"))

	objects, err := provider.ListObjects(ctx, bucketName, "datasets/a/")
	require.NoError(t, err)
	assert.Empty(t, objects)

	objects, err = provider.ListObjects(ctx, bucketName, "datasets/b/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}
