package ecp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/cache"
	"github.com/hupe1980/ecp/internal/leafstore"
	"github.com/hupe1980/ecp/internal/manifest"
	"github.com/hupe1980/ecp/internal/tree"
)

// Index is a committed index opened for search. The tree is held in memory
// and leaf clusters are read from the store on demand through a block cache.
// An Index is safe for concurrent use; each goroutine needs its own Searcher.
type Index struct {
	manifest Manifest
	tree     *tree.Tree
	leaves   *leafstore.Reader
	cache    *cache.LRU
	opts     options
	logger   *Logger
	closed   atomic.Bool
}

// Open loads the index committed to store.
// It returns ErrNotFound if nothing has been committed.
func Open(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)

	m, err := manifest.NewStore(store, o.codec).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if !m.Assigned {
		return nil, fmt.Errorf("%w: index %s has no assigned items", ErrPreconditionNotMet, m.BuildID)
	}
	metric, err := distance.Parse(m.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest metric: %w", ErrCorrupt, err)
	}

	var lru *cache.LRU
	blobs := store
	if o.leafCacheBytes > 0 {
		lru = cache.NewLRU(o.leafCacheBytes, o.resources)
		blobs = blobstore.NewCachingStore(store, lru, 0)
	}
	arrays := arraystore.New(blobs)

	t, err := tree.Load(ctx, arrays, &tree.Tree{
		Metric:        metric,
		Dim:           m.Dim,
		NumLevels:     m.Levels,
		NodeSize:      m.NodeSize,
		TotalItems:    m.TotalItems,
		TotalClusters: m.TotalClusters,
	})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	logger := o.logger.WithBuildID(m.BuildID).WithDimension(m.Dim)
	logger.LogTree(ctx, t.NumLevels, t.NodeSize, t.TotalClusters, t.TotalItems)

	return &Index{
		manifest: *m,
		tree:     t,
		leaves:   leafstore.NewReader(arrays, t),
		cache:    lru,
		opts:     o,
		logger:   logger,
	}, nil
}

// Manifest returns the manifest the index was opened from.
func (idx *Index) Manifest() Manifest { return idx.manifest }

// Dim returns the embedding dimension.
func (idx *Index) Dim() int { return idx.tree.Dim }

// Metric returns the metric the index was built with.
func (idx *Index) Metric() distance.Metric { return idx.tree.Metric }

// TotalClusters returns the number of leaf clusters.
func (idx *Index) TotalClusters() int { return idx.tree.TotalClusters }

func (idx *Index) check() error {
	if idx.closed.Load() {
		return ErrClosed
	}
	return nil
}

// NewSearcher returns a new search session.
func (idx *Index) NewSearcher() *Searcher {
	return newSearcher(idx.tree, idx.leaves, &idx.opts, idx.logger, idx.check)
}

// Search runs a fresh search that expands up to budget leaf clusters and
// returns the best k items.
func (idx *Index) Search(ctx context.Context, query []float32, budget, k int) ([]Result, error) {
	return idx.NewSearcher().Search(ctx, query, budget, k, true)
}

// CacheStats returns the hits and misses of the block cache.
func (idx *Index) CacheStats() (hits, misses int64) {
	if idx.cache == nil {
		return 0, 0
	}
	return idx.cache.Stats()
}

// Close releases the block cache. Searches fail with ErrClosed afterwards.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}
	if idx.cache != nil {
		idx.cache.Invalidate(func(cache.Key) bool { return true })
	}
	return nil
}
