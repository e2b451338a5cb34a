package arraystore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/hupe1980/ecp/internal/compress"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/resource"
	"github.com/hupe1980/ecp/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFloat32(t *testing.T) {
	for _, c := range []compress.Type{compress.None, compress.LZ4, compress.ZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			blobs := blobstore.NewMemoryStore()
			s := New(blobs, WithCompression(c))

			first := []float32{1, 2, 3, 4, 5, 6}
			second := []float32{7, 8, 9}
			require.NoError(t, s.AppendFloat32(ctx, "lvl_0/node_0/embeddings", first, 3, Float32))
			require.NoError(t, s.AppendFloat32(ctx, "lvl_0/node_0/embeddings", second, 3, Float32))

			got, cols, err := s.ReadFloat32(ctx, "lvl_0/node_0/embeddings")
			require.NoError(t, err)
			assert.Equal(t, 3, cols)
			assert.Equal(t, append(append([]float32{}, first...), second...), got)

			n, err := s.Parts(ctx, "lvl_0/node_0/embeddings")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// a second store over the same blobs continues the part sequence
			s2 := New(blobs, WithCompression(c))
			require.NoError(t, s2.AppendFloat32(ctx, "lvl_0/node_0/embeddings", []float32{0, 0, 0}, 3, Float32))
			names, err := blobs.List(ctx, "lvl_0/node_0/embeddings/")
			require.NoError(t, err)
			assert.Equal(t, []string{
				"lvl_0/node_0/embeddings/part-000000",
				"lvl_0/node_0/embeddings/part-000001",
				"lvl_0/node_0/embeddings/part-000002",
			}, names)
		})
	}
}

func TestAppendDoesNotRewritePersistedParts(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(blobs)

	require.NoError(t, s.AppendUint32(ctx, "k", []uint32{1, 2}))
	before, err := blobstore.ReadAll(ctx, blobs, PartName("k", 0))
	require.NoError(t, err)

	require.NoError(t, s.AppendUint32(ctx, "k", []uint32{3}))
	after, err := blobstore.ReadAll(ctx, blobs, PartName("k", 0))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	ids, err := s.ReadUint32(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, ids)
}

func TestReadAddressesPartsByName(t *testing.T) {
	ctx := context.Background()
	blobs := testutil.NewRecordingStore(nil)
	w := New(blobs)
	for j := range 50 {
		require.NoError(t, w.AppendUint32(ctx, fmt.Sprintf("lvl_1/node_%d/item_ids", j), []uint32{uint32(j)}))
	}
	require.NoError(t, w.AppendUint32(ctx, "lvl_1/node_3/item_ids", []uint32{99}))
	assert.Zero(t, blobs.Lists())

	r := New(blobs)
	blobs.Reset()
	ids, err := r.ReadUint32(ctx, "lvl_1/node_3/item_ids")
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 99}, ids)
	assert.Zero(t, blobs.Lists())
	assert.Equal(t, []string{
		"lvl_1/node_3/item_ids/part-000000",
		"lvl_1/node_3/item_ids/part-000001",
		"lvl_1/node_3/item_ids/part-000002",
	}, blobs.Opened())

	// the part count is remembered
	blobs.Reset()
	_, err = r.ReadUint32(ctx, "lvl_1/node_3/item_ids")
	require.NoError(t, err)
	ok, err := r.Exists(ctx, "lvl_1/node_3/item_ids")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"lvl_1/node_3/item_ids/part-000000",
		"lvl_1/node_3/item_ids/part-000001",
	}, blobs.Opened())

	blobs.Reset()
	require.NoError(t, r.Delete(ctx, "lvl_1/node_3/item_ids"))
	assert.Zero(t, blobs.Lists())
	ok, err = New(blobs).Exists(ctx, "lvl_1/node_3/item_ids")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = New(blobs).Exists(ctx, "lvl_1/node_4/item_ids")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFloat16(t *testing.T) {
	ctx := context.Background()
	s := New(blobstore.NewMemoryStore())

	data := []float32{0.5, -1.25, 3, 1000}
	require.NoError(t, s.AppendFloat32(ctx, "emb", data, 2, Float16))

	got, cols, err := s.ReadFloat32(ctx, "emb")
	require.NoError(t, err)
	assert.Equal(t, 2, cols)
	assert.InDeltaSlice(t, data, got, 1e-3)

	err = s.AppendFloat32(ctx, "emb", data, 2, Uint32)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New(blobstore.NewMemoryStore())

	require.NoError(t, s.PutFloat64(ctx, "lvl_1/node_4/border", []float64{-1, -1e30}))
	require.NoError(t, s.PutFloat64(ctx, "lvl_1/node_4/border", []float64{2, 4.5}))
	border, err := s.ReadFloat64(ctx, "lvl_1/node_4/border")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4.5}, border)

	require.NoError(t, s.AppendUint32(ctx, "ids", []uint32{1}))
	require.NoError(t, s.AppendUint32(ctx, "ids", []uint32{2}))
	require.NoError(t, s.PutUint32(ctx, "ids", []uint32{9, 8}))
	ids, err := s.ReadUint32(ctx, "ids")
	require.NoError(t, err)
	assert.Equal(t, []uint32{9, 8}, ids)

	require.NoError(t, s.PutFloat32(ctx, "root/embeddings", []float32{1, 2}, 2, Float32))
	emb, _, err := s.ReadFloat32(ctx, "root/embeddings")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, emb)
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(blobs)

	_, _, err := s.ReadFloat32(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	ok, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.AppendFloat32(ctx, "x", []float32{1, 2, 3}, 2, Float32), errs.ErrInvalidArgument)
	assert.ErrorIs(t, s.AppendFloat32(ctx, "x", []float32{1, 2}, 0, Float32), errs.ErrInvalidArgument)

	require.NoError(t, s.AppendUint32(ctx, "ids", []uint32{1, 2, 3}))
	_, _, err = s.ReadFloat32(ctx, "ids")
	assert.ErrorIs(t, err, errs.ErrCorrupt)

	// flip a payload byte
	name := PartName("ids", 0)
	part, err := blobstore.ReadAll(ctx, blobs, name)
	require.NoError(t, err)
	part[len(part)-1] ^= 0xff
	require.NoError(t, blobs.Put(ctx, name, part))
	_, err = s.ReadUint32(ctx, "ids")
	assert.True(t, errors.Is(err, errs.ErrCorrupt))

	_, _, err = DecodePart([]byte("nope"))
	assert.ErrorIs(t, err, errs.ErrCorrupt)
}

func TestRateLimitedWrites(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	s := New(blobstore.NewMemoryStore(), WithResourceController(rc))

	require.NoError(t, s.AppendUint32(context.Background(), "ids", []uint32{1, 2, 3}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.AppendUint32(ctx, "ids", []uint32{4}), context.Canceled)
}

func TestDType(t *testing.T) {
	for _, d := range []DType{Float32, Float16, Float64, Uint32} {
		b, err := d.MarshalText()
		require.NoError(t, err)
		var got DType
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, d, got)
	}
	dt, err := ParseDType("")
	require.NoError(t, err)
	assert.Equal(t, Float32, dt)
	_, err = ParseDType("bfloat16")
	assert.Error(t, err)
	_, err = DType(0).MarshalText()
	assert.Error(t, err)
}
