package s3

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommitStore(ddb *fakeDDB, baseURI string) *DDBCommitStore {
	return NewDDBCommitStore(NewStore(newFakeS3(), "test-bucket", "test"), ddb, "ecp-commits", baseURI)
}

func readCurrent(t *testing.T, s blobstore.BlobStore) string {
	t.Helper()
	b, err := blobstore.ReadAll(context.Background(), s, CurrentName)
	require.NoError(t, err)
	return string(b)
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	store := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test")

	_, err := store.Open(ctx, CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, CurrentName, []byte("MANIFEST-000001.json")))
	assert.Equal(t, "MANIFEST-000001.json", readCurrent(t, store))
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test")

	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Put(ctx, CurrentName, []byte(fmt.Sprintf("MANIFEST-%06d.json", i))))
	}
	assert.Equal(t, "MANIFEST-000012.json", readCurrent(t, store))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test")
	require.NoError(t, store.Put(ctx, CurrentName, []byte("MANIFEST-000001.json")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, CurrentName, []byte(fmt.Sprintf("MANIFEST-%06d.json", id+2)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrentModification):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Positive(t, successes)
}

func TestDDBCommitStore_PassThrough(t *testing.T) {
	ctx := context.Background()
	store := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test")

	require.NoError(t, store.Put(ctx, "MANIFEST-000001.json", []byte(`{"levels":2}`)))
	got, err := blobstore.ReadAll(ctx, store, "MANIFEST-000001.json")
	require.NoError(t, err)
	assert.Equal(t, `{"levels":2}`, string(got))

	names, err := store.List(ctx, "MANIFEST-")
	require.NoError(t, err)
	assert.Equal(t, []string{"MANIFEST-000001.json"}, names)

	require.NoError(t, store.Delete(ctx, "MANIFEST-000001.json"))
	_, err = store.Open(ctx, "MANIFEST-000001.json")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	a := newTestCommitStore(ddb, "s3://bucket-a/path")
	b := newTestCommitStore(ddb, "s3://bucket-b/path")

	require.NoError(t, a.Put(ctx, CurrentName, []byte("MANIFEST-A")))
	require.NoError(t, b.Put(ctx, CurrentName, []byte("MANIFEST-B")))

	assert.Equal(t, "MANIFEST-A", readCurrent(t, a))
	assert.Equal(t, "MANIFEST-B", readCurrent(t, b))
}
