package minio

import (
	"context"
	"os"
	"testing"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	assert.Error(t, err)

	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "indexes", Prefix: "/deep1m/"})
	require.NoError(t, err)
	assert.Equal(t, "deep1m/lvl_0/node_1/border", s.key("lvl_0/node_1/border"))
	assert.Equal(t, "lvl_0/node_1/border", s.name("deep1m/lvl_0/node_1/border"))

	bare := NewStore(nil, "indexes", "")
	assert.Equal(t, "CURRENT", bare.key("CURRENT"))
	assert.Equal(t, "CURRENT", bare.name("CURRENT"))
}

// TestStore_Integration requires a running MinIO instance at MINIO_ENDPOINT.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	store, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-ecp",
		Prefix:    "test-prefix",
	})
	require.NoError(t, err)

	exists, err := store.client.BucketExists(ctx, store.bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}))
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "test.bin", data))

	got, err := blobstore.ReadAll(ctx, store, "test.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "test.bin")

	require.NoError(t, store.Delete(ctx, "test.bin"))
	_, err = store.Open(ctx, "test.bin")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
