package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract runs the behaviour every BlobStore must share.
func testStoreContract(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	data := []byte("hello world, this is a test blob")
	require.NoError(t, store.Put(ctx, "lvl_0/node_1/embeddings/part-000000", data))
	require.NoError(t, store.Put(ctx, "lvl_0/node_1/border/part-000000", []byte{1, 2}))
	require.NoError(t, store.Put(ctx, "root/item_ids/part-000000", []byte{3}))

	blob, err := store.Open(ctx, "lvl_0/node_1/embeddings/part-000000")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	buf = make([]byte, 10)
	n, err = blob.ReadAt(ctx, buf, int64(len(data)-4))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)
	assert.Equal(t, "blob", string(buf[:n]))

	_, err = blob.ReadAt(ctx, buf, int64(len(data)))
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, blob.Close())

	names, err := store.List(ctx, "lvl_0/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"lvl_0/node_1/border/part-000000",
		"lvl_0/node_1/embeddings/part-000000",
	}, names)

	// prefixes may end inside a path segment
	names, err = store.List(ctx, "lvl_0/node_1/emb")
	require.NoError(t, err)
	assert.Equal(t, []string{"lvl_0/node_1/embeddings/part-000000"}, names)

	names, err = store.List(ctx, "lvl_0/no")
	require.NoError(t, err)
	assert.Len(t, names, 2)

	names, err = store.List(ctx, "lvl_1/")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Put(ctx, "MANIFEST-000001.json", []byte("{}")))
	names, err = store.List(ctx, "MANIFEST-")
	require.NoError(t, err)
	assert.Equal(t, []string{"MANIFEST-000001.json"}, names)
	require.NoError(t, store.Delete(ctx, "MANIFEST-000001.json"))

	// overwrite
	require.NoError(t, store.Put(ctx, "lvl_0/node_1/border/part-000000", []byte{9, 9, 9}))
	got, err := ReadAll(ctx, store, "lvl_0/node_1/border/part-000000")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, got)

	require.NoError(t, store.Delete(ctx, "root/item_ids/part-000000"))
	require.NoError(t, store.Delete(ctx, "root/item_ids/part-000000"))
	_, err = ReadAll(ctx, store, "root/item_ids/part-000000")
	assert.True(t, errors.Is(err, ErrNotFound))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	testStoreContract(t, s)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_PutCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	data := []byte{1, 2, 3}
	require.NoError(t, s.Put(ctx, "a", data))
	data[0] = 42

	got, err := ReadAll(ctx, s, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestLocalStore(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	testStoreContract(t, s)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	s := NewLocalStore(t.TempDir() + "/does-not-exist")
	names, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_EmptyBlob(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "empty", nil))

	got, err := ReadAll(ctx, s, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}
