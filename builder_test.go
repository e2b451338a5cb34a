package ecp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ecp"
	"github.com/hupe1980/ecp/blobstore"
	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/embedding"
	"github.com/hupe1980/ecp/testutil"
)

func source(t *testing.T, n, dim int) *embedding.Matrix {
	t.Helper()
	src, err := embedding.NewMatrix(testutil.NewRNG(42).UniformMatrix(n, dim), dim)
	require.NoError(t, err)
	return src
}

func params(m distance.Metric) ecp.BuildParams {
	return ecp.BuildParams{
		Levels:            2,
		TargetClusterSize: 50,
		Metric:            m,
	}
}

func toTestResults(rs []ecp.Result) []testutil.SearchResult {
	out := make([]testutil.SearchResult, len(rs))
	for i, r := range rs {
		out[i] = testutil.SearchResult{ID: r.ID, Score: r.Score}
	}
	return out
}

func TestBuilderScenario(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := source(t, 1000, 8)
	metrics := &ecp.BasicMetricsCollector{}

	b, err := ecp.NewBuilder(store, src, params(distance.MetricL2),
		ecp.WithMetricsCollector(metrics),
		ecp.WithCompression(ecp.CompressionLZ4),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, b.BuildID())
	assert.Equal(t, 20, b.TotalClusters())

	require.NoError(t, b.SelectRepresentatives(ctx))
	reps := b.Representatives()
	require.Len(t, reps, 20)
	assert.Equal(t, uint32(0), reps[0])
	assert.Equal(t, uint32(50), reps[1])

	require.NoError(t, b.BuildTree(ctx))
	require.NoError(t, b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 128, Workers: 2}))

	m, err := b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, b.BuildID(), m.BuildID)
	assert.Equal(t, 5, m.NodeSize)
	assert.Equal(t, 20, m.TotalClusters)
	assert.Equal(t, 1000, m.TotalItems)
	assert.Equal(t, "L2", m.Metric)
	assert.Equal(t, "lz4", m.Compression)
	assert.True(t, m.Assigned)

	stats := metrics.GetStats()
	assert.Equal(t, int64(4), stats.BuildPhaseCount)
	assert.Zero(t, stats.BuildPhaseErrors)

	idx, err := ecp.Open(ctx, store)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, 8, idx.Dim())
	assert.Equal(t, 20, idx.TotalClusters())
	assert.Equal(t, distance.MetricL2, idx.Metric())
	assert.Equal(t, b.BuildID(), idx.Manifest().BuildID)

	// Every item lives in exactly one leaf.
	all, err := idx.Search(ctx, src.Row(0), idx.TotalClusters(), 2000)
	require.NoError(t, err)
	require.Len(t, all, 1000)
	seen := make(map[uint32]bool, len(all))
	for _, r := range all {
		assert.False(t, seen[r.ID], "item %d returned twice", r.ID)
		seen[r.ID] = true
	}
}

func TestExhaustiveSearchMatchesExact(t *testing.T) {
	for _, metric := range []distance.Metric{distance.MetricL2, distance.MetricDot, distance.MetricCosine} {
		t.Run(metric.String(), func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()
			src := source(t, 800, 6)

			_, err := ecp.Build(ctx, store, src, ecp.BuildParams{
				Levels:            3,
				TargetClusterSize: 10,
				Metric:            metric,
			}, ecp.AssignOptions{ChunkSize: 100})
			require.NoError(t, err)

			idx, err := ecp.Open(ctx, store)
			require.NoError(t, err)
			defer idx.Close()

			for _, qi := range []int{3, 250, 799} {
				q := src.Row(qi)
				got, err := idx.Search(ctx, q, idx.TotalClusters(), 10)
				require.NoError(t, err)
				want := testutil.ExactTopK(metric, q, src.Data(), 6, 10)
				assert.Equal(t, want, toTestResults(got))
			}
		})
	}
}

func TestAssignAllMatchesConcurrent(t *testing.T) {
	ctx := context.Background()
	src := source(t, 600, 4)
	p := ecp.BuildParams{Levels: 2, TargetClusterSize: 20, Metric: distance.MetricDot}

	open := func(concurrent bool) *ecp.Index {
		store := blobstore.NewMemoryStore()
		b, err := ecp.NewBuilder(store, src, p)
		require.NoError(t, err)
		require.NoError(t, b.SelectRepresentatives(ctx))
		require.NoError(t, b.BuildTree(ctx))
		if concurrent {
			require.NoError(t, b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 64, Workers: 3}))
		} else {
			require.NoError(t, b.AssignAll(ctx))
		}
		_, err = b.Commit(ctx)
		require.NoError(t, err)
		idx, err := ecp.Open(ctx, store)
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		return idx
	}

	single, parallel := open(false), open(true)
	for _, qi := range []int{0, 17, 333} {
		for _, budget := range []int{1, 3, 8} {
			a, err := single.Search(ctx, src.Row(qi), budget, 15)
			require.NoError(t, err)
			b, err := parallel.Search(ctx, src.Row(qi), budget, 15)
			require.NoError(t, err)
			assert.Equal(t, a, b, "query %d budget %d", qi, budget)
		}
	}
}

func TestBuilderPreconditions(t *testing.T) {
	ctx := context.Background()
	src := source(t, 200, 4)
	b, err := ecp.NewBuilder(nil, src, params(distance.MetricL2))
	require.NoError(t, err)

	assert.ErrorIs(t, b.BuildTree(ctx), ecp.ErrPreconditionNotMet)
	assert.ErrorIs(t, b.AssignAll(ctx), ecp.ErrPreconditionNotMet)
	assert.ErrorIs(t, b.AssignConcurrent(ctx, ecp.AssignOptions{}), ecp.ErrPreconditionNotMet)
	assert.ErrorIs(t, b.SaveRepresentatives(ctx, "", ""), ecp.ErrPreconditionNotMet)
	_, err = b.NewSearcher()
	assert.ErrorIs(t, err, ecp.ErrPreconditionNotMet)

	require.NoError(t, b.SelectRepresentatives(ctx))
	require.NoError(t, b.BuildTree(ctx))
	_, err = b.Commit(ctx)
	assert.ErrorIs(t, err, ecp.ErrPreconditionNotMet)

	require.NoError(t, b.AssignAll(ctx))
	assert.ErrorIs(t, b.AssignAll(ctx), ecp.ErrPreconditionNotMet)
	_, err = b.Commit(ctx)
	require.NoError(t, err)
}

func TestNewBuilderErrors(t *testing.T) {
	src := source(t, 100, 4)

	_, err := ecp.NewBuilder(nil, nil, params(distance.MetricL2))
	assert.ErrorIs(t, err, ecp.ErrInvalidArgument)

	for _, p := range []ecp.BuildParams{
		{Levels: 0, TargetClusterSize: 10},
		{Levels: 2, TargetClusterSize: 0},
		{Levels: 2, TargetClusterSize: 10, Metric: distance.Metric(9)},
		{Levels: 2, TargetClusterSize: 10, TotalClusters: -1},
	} {
		_, err := ecp.NewBuilder(nil, src, p)
		assert.ErrorIs(t, err, ecp.ErrInvalidArgument, "%+v", p)
	}

	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	_, err = ecp.Build(ctx, store, src, ecp.BuildParams{Levels: 1, TargetClusterSize: 10, Metric: distance.MetricL2}, ecp.AssignOptions{})
	require.NoError(t, err)
	_, err = ecp.NewBuilder(store, src, params(distance.MetricL2))
	assert.ErrorIs(t, err, ecp.ErrConfigurationInconsistent)
}

func TestTotalClustersOverride(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := source(t, 1000, 8)

	b, err := ecp.NewBuilder(store, src, ecp.BuildParams{
		Levels:            2,
		TargetClusterSize: 50,
		Metric:            distance.MetricL2,
		Selection:         ecp.SelectRandom,
		Seed:              3,
		TotalClusters:     30,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, b.TotalClusters())

	require.NoError(t, b.SelectRepresentatives(ctx))
	assert.Len(t, b.Representatives(), 30)
	require.NoError(t, b.BuildTree(ctx))
	assert.Equal(t, 30, b.TotalClusters())
	require.NoError(t, b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 100}))

	m, err := b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, m.TotalClusters)
	assert.Equal(t, 6, m.NodeSize)

	idx, err := ecp.Open(ctx, store)
	require.NoError(t, err)
	defer idx.Close()
	all, err := idx.Search(ctx, src.Row(1), idx.TotalClusters(), 2000)
	require.NoError(t, err)
	assert.Len(t, all, 1000)
}

func TestSelectionModes(t *testing.T) {
	ctx := context.Background()
	src := source(t, 100, 4)

	b, err := ecp.NewBuilder(nil, src, ecp.BuildParams{
		Levels:            2,
		TargetClusterSize: 10,
		Metric:            distance.MetricL2,
		Selection:         ecp.SelectRandom,
		TotalClusters:     150,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, b.SelectRepresentatives(ctx), ecp.ErrConfigurationInconsistent)

	b, err = ecp.NewBuilder(nil, src, ecp.BuildParams{
		Levels:            2,
		TargetClusterSize: 10,
		Metric:            distance.MetricL2,
		Selection:         ecp.SelectDissimilar,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, b.SelectRepresentatives(ctx), ecp.ErrUnimplemented)

	b, err = ecp.NewBuilder(nil, src, ecp.BuildParams{
		Levels:            2,
		TargetClusterSize: 10,
		Metric:            distance.MetricL2,
		Selection:         ecp.SelectRandom,
		Seed:              7,
	})
	require.NoError(t, err)
	require.NoError(t, b.SelectRepresentatives(ctx))
	first := b.Representatives()
	require.Len(t, first, 10)
	require.NoError(t, b.SelectRepresentatives(ctx))
	assert.Equal(t, first, b.Representatives())
}

func TestSaveLoadRepresentatives(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := source(t, 300, 4)
	p := ecp.BuildParams{Levels: 2, TargetClusterSize: 30, Metric: distance.MetricL2, Selection: ecp.SelectRandom, Seed: 3}

	b, err := ecp.NewBuilder(store, src, p)
	require.NoError(t, err)
	require.NoError(t, b.SelectRepresentatives(ctx))
	require.NoError(t, b.SaveRepresentatives(ctx, "reps/ids", "reps/emb"))

	other, err := ecp.NewBuilder(store, src, p)
	require.NoError(t, err)
	require.NoError(t, other.LoadRepresentatives(ctx, "reps/ids", "reps/emb"))
	assert.Equal(t, b.Representatives(), other.Representatives())

	err = other.LoadRepresentatives(ctx, "missing", "")
	assert.ErrorIs(t, err, ecp.ErrNotFound)

	require.NoError(t, other.BuildTree(ctx))
	require.NoError(t, other.AssignAll(ctx))
	m, err := other.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reps/ids", m.Representatives.IDs)
	assert.Equal(t, "reps/emb", m.Representatives.Embeddings)
	assert.Equal(t, "random", m.Selection)
}

func TestBuilderSearcher(t *testing.T) {
	ctx := context.Background()
	src := source(t, 400, 5)
	b, err := ecp.NewBuilder(nil, src, ecp.BuildParams{Levels: 2, TargetClusterSize: 20, Metric: distance.MetricCosine})
	require.NoError(t, err)
	require.NoError(t, b.SelectRepresentatives(ctx))
	require.NoError(t, b.BuildTree(ctx))

	s, err := b.NewSearcher()
	require.NoError(t, err)
	got, err := s.Search(ctx, src.Row(9), 20, 5, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 50}))
	got, err = s.Search(ctx, src.Row(9), 20, 5, true)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, uint32(9), got[0].ID)
}

func TestAssignRetryAfterFailedFlush(t *testing.T) {
	tests := []struct {
		name   string
		assign func(ctx context.Context, b *ecp.Builder) error
	}{
		{"Concurrent", func(ctx context.Context, b *ecp.Builder) error {
			return b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 128, Workers: 2})
		}},
		{"All", func(ctx context.Context, b *ecp.Builder) error {
			return b.AssignAll(ctx)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			blobs := testutil.NewRecordingStore(nil)
			src := source(t, 1000, 8)
			b, err := ecp.NewBuilder(blobs, src, params(distance.MetricL2))
			require.NoError(t, err)
			require.NoError(t, b.SelectRepresentatives(ctx))
			require.NoError(t, b.BuildTree(ctx))

			blobs.FailPutsAfter(30)
			err = tt.assign(ctx, b)
			require.ErrorIs(t, err, testutil.ErrInjected)
			_, err = b.Commit(ctx)
			assert.ErrorIs(t, err, ecp.ErrPreconditionNotMet)

			blobs.FailPutsAfter(-1)
			require.NoError(t, tt.assign(ctx, b))
			_, err = b.Commit(ctx)
			require.NoError(t, err)

			idx, err := ecp.Open(ctx, blobs)
			require.NoError(t, err)
			defer idx.Close()

			all, err := idx.Search(ctx, src.Row(0), idx.TotalClusters(), 2000)
			require.NoError(t, err)
			require.Len(t, all, 1000)
			seen := make(map[uint32]bool, len(all))
			for _, r := range all {
				assert.False(t, seen[r.ID], "item %d returned twice", r.ID)
				seen[r.ID] = true
			}
		})
	}
}

func TestAssignFailureWithoutCleanupIsFinal(t *testing.T) {
	ctx := context.Background()
	blobs := testutil.NewRecordingStore(nil)
	b, err := ecp.NewBuilder(blobs, source(t, 1000, 8), params(distance.MetricL2))
	require.NoError(t, err)
	require.NoError(t, b.SelectRepresentatives(ctx))
	require.NoError(t, b.BuildTree(ctx))

	blobs.FailPutsAfter(30)
	blobs.FailDeletes(true)
	require.ErrorIs(t, b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 128}), testutil.ErrInjected)

	blobs.FailPutsAfter(-1)
	blobs.FailDeletes(false)
	assert.ErrorIs(t, b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 128}), ecp.ErrPreconditionNotMet)
	assert.ErrorIs(t, b.AssignAll(ctx), ecp.ErrPreconditionNotMet)
	_, err = b.Commit(ctx)
	assert.ErrorIs(t, err, ecp.ErrPreconditionNotMet)

	_, err = ecp.Open(ctx, blobs)
	assert.ErrorIs(t, err, ecp.ErrNotFound)
}

func TestAssignCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := source(t, 500, 4)
	b, err := ecp.NewBuilder(nil, src, params(distance.MetricL2))
	require.NoError(t, err)
	require.NoError(t, b.SelectRepresentatives(ctx))
	require.NoError(t, b.BuildTree(ctx))

	cancel()
	err = b.AssignConcurrent(ctx, ecp.AssignOptions{ChunkSize: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
