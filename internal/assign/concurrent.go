package assign

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ecp/embedding"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/resource"
	"github.com/hupe1980/ecp/internal/tree"
)

const (
	// DefaultChunkSize is the number of items one task assigns.
	DefaultChunkSize = 250_000
	// flushSlices is the number of cluster slices the merge is split into.
	flushSlices = 20
)

// Sink receives merged leaf contents.
type Sink interface {
	// Append adds items to a leaf. emb holds one row per id. The slices are
	// reused after Append returns.
	Append(leaf uint32, ids []uint32, dists, emb []float32) error
	// Flush persists the given leaves.
	Flush(ctx context.Context, leaves []uint32) error
}

// Options configure Concurrent.
type Options struct {
	// ChunkSize is the number of contiguous items per task.
	ChunkSize int
	// Workers bounds the number of tasks in flight. Values above the
	// available parallelism are clamped to max(1, GOMAXPROCS-1).
	Workers int
	// Timeout aborts the map phase when positive.
	Timeout time.Duration
	// Resources optionally gates tasks on worker slots.
	Resources *resource.Controller
	Logger    *slog.Logger
}

// Workers resolves the effective worker count for a requested value.
func Workers(requested int) (n int, clamped bool) {
	avail := runtime.GOMAXPROCS(0)
	switch {
	case requested <= 0:
		return max(1, avail-1), false
	case requested > avail:
		return max(1, avail-1), true
	default:
		return requested, false
	}
}

// Concurrent assigns every item of src with a bounded pool of goroutines over
// contiguous chunks, then merges the partial maps into sink in slices of
// max(1, TotalClusters/20) clusters, flushing after each slice.
//
// The first failing task cancels the others and its error is returned.
// Every item must be assigned exactly once or ErrIncompleteAssignment is
// returned before anything reaches the sink.
func Concurrent(ctx context.Context, t *tree.Tree, src embedding.Source, opts Options, sink Sink) error {
	if err := errs.CheckDim(t.Dim, src.Dim()); err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	workers, clamped := Workers(opts.Workers)
	if clamped {
		logger.WarnContext(ctx, "worker count exceeds available parallelism",
			"requested", opts.Workers,
			"workers", workers,
		)
	}

	partials, err := mapPhase(ctx, t, src, chunkSize, workers, opts)
	if err != nil {
		return err
	}
	if err := verifyCoverage(partials, src.Len()); err != nil {
		return err
	}
	return merge(ctx, t, src, partials, sink, logger)
}

func mapPhase(ctx context.Context, t *tree.Tree, src embedding.Source, chunkSize, workers int, opts Options) ([]map[uint32][]Entry, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	n := src.Len()
	chunks := (n + chunkSize - 1) / chunkSize
	partials := make([]map[uint32][]Entry, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for c := range chunks {
		lo, hi := c*chunkSize, min((c+1)*chunkSize, n)
		g.Go(func() error {
			if err := opts.Resources.AcquireWorker(gctx); err != nil {
				return err
			}
			defer opts.Resources.ReleaseWorker()

			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := src.Range(lo, hi, nil)
			if err != nil {
				return fmt.Errorf("read items [%d, %d): %w", lo, hi, err)
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := NewLocator(t).NodeMap(rows, uint32(lo))
			if err != nil {
				return err
			}
			partials[c] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assign items: %w", err)
	}
	return partials, nil
}

func verifyCoverage(partials []map[uint32][]Entry, total int) error {
	seen := roaring.New()
	for _, m := range partials {
		for _, entries := range m {
			for _, e := range entries {
				if !seen.CheckedAdd(e.ItemID) {
					return fmt.Errorf("%w: item %d assigned twice", errs.ErrIncompleteAssignment, e.ItemID)
				}
			}
		}
	}
	if got := seen.GetCardinality(); got != uint64(total) {
		return fmt.Errorf("%w: %d of %d items assigned", errs.ErrIncompleteAssignment, got, total)
	}
	if total > 0 && seen.Maximum() != uint32(total-1) {
		return fmt.Errorf("%w: item %d out of range", errs.ErrIncompleteAssignment, seen.Maximum())
	}
	return nil
}

// FlushSliceSize returns the number of clusters merged per flush.
func FlushSliceSize(totalClusters int) int {
	return max(1, totalClusters/flushSlices)
}

func merge(ctx context.Context, t *tree.Tree, src embedding.Source, partials []map[uint32][]Entry, sink Sink, logger *slog.Logger) error {
	step := FlushSliceSize(t.TotalClusters)
	var (
		ids   []uint32
		dists []float32
		emb   []float32
	)
	for lo := 0; lo < t.TotalClusters; lo += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		hi := min(lo+step, t.TotalClusters)
		leaves := make([]uint32, 0, hi-lo)
		for leaf := uint32(lo); leaf < uint32(hi); leaf++ {
			leaves = append(leaves, leaf)
			ids, dists = ids[:0], dists[:0]
			for _, m := range partials {
				for _, e := range m[leaf] {
					ids = append(ids, e.ItemID)
					dists = append(dists, e.Distance)
				}
			}
			if len(ids) == 0 {
				continue
			}
			var err error
			if emb, err = src.Gather(ids, emb[:0]); err != nil {
				return fmt.Errorf("gather items of leaf %d: %w", leaf, err)
			}
			if err := sink.Append(leaf, ids, dists, emb); err != nil {
				return fmt.Errorf("append to leaf %d: %w", leaf, err)
			}
		}
		if err := sink.Flush(ctx, leaves); err != nil {
			return fmt.Errorf("flush leaves [%d, %d): %w", lo, hi, err)
		}
		logger.DebugContext(ctx, "leaf slice flushed", "first", lo, "last", hi-1)
	}
	return nil
}
