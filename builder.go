package ecp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/embedding"
	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/assign"
	"github.com/hupe1980/ecp/internal/leafstore"
	"github.com/hupe1980/ecp/internal/manifest"
	"github.com/hupe1980/ecp/internal/selector"
	"github.com/hupe1980/ecp/internal/tree"
)

// DefaultChunkSize is the number of items per concurrent assignment task.
const DefaultChunkSize = assign.DefaultChunkSize

// Manifest describes a committed index.
type Manifest = manifest.Manifest

// BuildParams configure the shape of an index.
type BuildParams struct {
	// Levels is the depth of the tree below the root.
	Levels int
	// TargetClusterSize is the intended number of items per leaf cluster.
	TargetClusterSize int
	Metric            distance.Metric
	Selection         SelectionMode
	// Seed drives random selection.
	Seed int64
	// TotalClusters overrides ceil(items / TargetClusterSize) when positive.
	// It sets both the number of representatives random selection draws and
	// the number of leaf clusters of the tree.
	TotalClusters int
}

func (p BuildParams) validate() error {
	if p.Levels < 1 {
		return fmt.Errorf("%w: levels must be at least 1, got %d", ErrInvalidArgument, p.Levels)
	}
	if p.TargetClusterSize < 1 {
		return fmt.Errorf("%w: target cluster size must be at least 1, got %d", ErrInvalidArgument, p.TargetClusterSize)
	}
	if !p.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %d", ErrInvalidArgument, int(p.Metric))
	}
	if p.TotalClusters < 0 {
		return fmt.Errorf("%w: total clusters must not be negative", ErrInvalidArgument)
	}
	return nil
}

// AssignOptions configure concurrent assignment.
type AssignOptions struct {
	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int
	// Workers defaults to GOMAXPROCS-1 and is clamped to it.
	Workers int
	// Timeout aborts assignment when positive.
	Timeout time.Duration
}

// Builder is a single index build session. Its steps run in order:
// SelectRepresentatives (or LoadRepresentatives), BuildTree, one of
// AssignConcurrent or AssignAll, and Commit. A Builder is not safe for
// concurrent use.
type Builder struct {
	arrays    *arraystore.Store
	manifests *manifest.Store
	src       embedding.Source
	params    BuildParams
	opts      options
	logger    *Logger
	buildID   string

	reps     *selector.Set
	repNames manifest.RepresentativesInfo
	tree     *tree.Tree
	leaves   *leafstore.Store
	assigned bool
	// failed is set when a partial assignment could not be discarded.
	failed error
}

// NewBuilder starts a build session over src writing to store.
// A nil store builds in memory. store must not hold a committed index.
func NewBuilder(store blobstore.BlobStore, src embedding.Source, p BuildParams, optFns ...Option) (*Builder, error) {
	if src == nil || src.Dim() <= 0 {
		return nil, fmt.Errorf("%w: an embedding source with a positive dimension is required", ErrInvalidArgument)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = blobstore.NewMemoryStore()
	}

	o := applyOptions(optFns)
	ms := manifest.NewStore(store, o.codec)
	if _, err := ms.Load(context.Background()); err == nil {
		return nil, fmt.Errorf("%w: store already holds a committed index", ErrConfigurationInconsistent)
	} else if !errors.Is(err, manifest.ErrNotFound) {
		return nil, err
	}

	arrOpts := []arraystore.Option{arraystore.WithCompression(o.compression)}
	if o.resources != nil {
		arrOpts = append(arrOpts, arraystore.WithResourceController(o.resources))
	}

	buildID := uuid.NewString()
	return &Builder{
		arrays:    arraystore.New(store, arrOpts...),
		manifests: ms,
		src:       src,
		params:    p,
		opts:      o,
		logger:    o.logger.WithBuildID(buildID).WithDimension(src.Dim()),
		buildID:   buildID,
	}, nil
}

// BuildID identifies this session in logs and in the manifest.
func (b *Builder) BuildID() string { return b.buildID }

// TotalClusters returns the number of leaf clusters of the index.
func (b *Builder) TotalClusters() int {
	if b.tree != nil {
		return b.tree.TotalClusters
	}
	if b.params.TotalClusters > 0 {
		return b.params.TotalClusters
	}
	n, _, err := tree.Shape(b.src.Len(), b.params.TargetClusterSize, b.params.Levels)
	if err != nil {
		return 0
	}
	return n
}

func (b *Builder) phase(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := translateError(fn())
	elapsed := time.Since(start)
	b.opts.metricsCollector.RecordBuildPhase(name, elapsed, err)
	b.logger.LogPhase(ctx, name, elapsed, err)
	return err
}

// reset discards everything derived from the representatives.
func (b *Builder) reset() {
	b.tree = nil
	b.leaves = nil
	b.assigned = false
}

// SelectRepresentatives picks the cluster representatives from the source.
func (b *Builder) SelectRepresentatives(ctx context.Context) error {
	return b.phase(ctx, PhaseSelect, func() error {
		set, err := selector.Select(ctx, b.src, b.params.Selection, selector.Params{
			TotalItems:        b.src.Len(),
			TargetClusterSize: b.params.TargetClusterSize,
			TotalClusters:     b.TotalClusters(),
			Seed:              b.params.Seed,
			Metric:            b.params.Metric,
		}, b.logger.Logger)
		if err != nil {
			return fmt.Errorf("select representatives: %w", err)
		}
		b.reset()
		b.reps = set
		b.repNames = manifest.RepresentativesInfo{}
		return nil
	})
}

// SaveRepresentatives persists the selected representatives under the
// given array names. Empty names select clst_item_ids and clst_embeddings.
func (b *Builder) SaveRepresentatives(ctx context.Context, idsName, embName string) error {
	if b.reps == nil {
		return fmt.Errorf("%w: no representatives selected", ErrPreconditionNotMet)
	}
	idsName, embName = representativeNames(idsName, embName)
	if err := selector.Save(ctx, b.arrays, b.reps, idsName, embName, b.opts.dtype); err != nil {
		return translateError(err)
	}
	b.repNames = manifest.RepresentativesInfo{IDs: idsName, Embeddings: embName}
	return nil
}

// LoadRepresentatives replaces the representatives with a set saved by
// SaveRepresentatives.
func (b *Builder) LoadRepresentatives(ctx context.Context, idsName, embName string) error {
	idsName, embName = representativeNames(idsName, embName)
	set, err := selector.Load(ctx, b.arrays, idsName, embName)
	if err != nil {
		return translateError(err)
	}
	if set.Len() > 0 && set.Dim != b.src.Dim() {
		return &ErrDimensionMismatch{Expected: b.src.Dim(), Actual: set.Dim}
	}
	b.reset()
	b.reps = set
	b.repNames = manifest.RepresentativesInfo{IDs: idsName, Embeddings: embName}
	return nil
}

func representativeNames(idsName, embName string) (string, string) {
	if idsName == "" {
		idsName = selector.DefaultIDsName
	}
	if embName == "" {
		embName = selector.DefaultEmbeddingsName
	}
	return idsName, embName
}

// Representatives returns the ids of the representatives in rank order.
func (b *Builder) Representatives() []uint32 {
	if b.reps == nil {
		return nil
	}
	return append([]uint32(nil), b.reps.IDs...)
}

// BuildTree builds the root and internal levels from the representatives
// and persists them.
func (b *Builder) BuildTree(ctx context.Context) error {
	if b.reps == nil {
		return fmt.Errorf("%w: no representatives selected", ErrPreconditionNotMet)
	}
	return b.phase(ctx, PhaseTree, func() error {
		t, err := tree.Build(ctx, b.reps, tree.Params{
			Levels:            b.params.Levels,
			TargetClusterSize: b.params.TargetClusterSize,
			TotalItems:        b.src.Len(),
			Metric:            b.params.Metric,
			TotalClusters:     b.params.TotalClusters,
			Logger:            b.logger.Logger,
		})
		if err != nil {
			return fmt.Errorf("build tree: %w", err)
		}
		if err := tree.Save(ctx, b.arrays, t, b.opts.dtype); err != nil {
			return fmt.Errorf("save tree: %w", err)
		}
		b.reset()
		b.tree = t
		b.leaves = leafstore.New(t, b.arrays, b.opts.dtype, b.logger.Logger)
		b.logger.LogTree(ctx, t.NumLevels, t.NodeSize, t.TotalClusters, t.TotalItems)
		return nil
	})
}

func (b *Builder) checkAssignable() error {
	if b.failed != nil {
		return fmt.Errorf("%w: build session failed: %w", ErrPreconditionNotMet, b.failed)
	}
	if b.tree == nil {
		return fmt.Errorf("%w: tree not built", ErrPreconditionNotMet)
	}
	if b.assigned {
		return fmt.Errorf("%w: items already assigned", ErrPreconditionNotMet)
	}
	return nil
}

// AssignConcurrent assigns every item to its leaf cluster with a bounded
// pool of goroutines and flushes the leaves in slices of clusters.
func (b *Builder) AssignConcurrent(ctx context.Context, ao AssignOptions) error {
	if err := b.checkAssignable(); err != nil {
		return err
	}
	return b.phase(ctx, PhaseAssign, func() error {
		err := assign.Concurrent(ctx, b.tree, b.src, assign.Options{
			ChunkSize: ao.ChunkSize,
			Workers:   ao.Workers,
			Timeout:   ao.Timeout,
			Resources: b.opts.resources,
			Logger:    b.logger.Logger,
		}, b.leaves)
		if err != nil {
			return b.abortAssignment(ctx, fmt.Errorf("assign items: %w", err))
		}
		b.assigned = true
		return nil
	})
}

// AssignAll assigns every item in a single pass and persists all leaves
// in one flush.
func (b *Builder) AssignAll(ctx context.Context) error {
	if err := b.checkAssignable(); err != nil {
		return err
	}
	return b.phase(ctx, PhaseAssign, func() error {
		assignments, err := assign.AssignAll(ctx, b.tree, b.src, DefaultChunkSize)
		if err != nil {
			return fmt.Errorf("assign items: %w", err)
		}
		if err := b.leaves.AppendAssignments(ctx, assignments, b.src); err != nil {
			return b.abortAssignment(ctx, fmt.Errorf("assign items: %w", err))
		}
		if err := b.leaves.FlushAll(ctx); err != nil {
			return b.abortAssignment(ctx, fmt.Errorf("assign items: %w", err))
		}
		b.assigned = true
		return nil
	})
}

// abortAssignment discards the leaves written by a failed assignment so that
// it can be retried. If they cannot be discarded, the session fails for good.
func (b *Builder) abortAssignment(ctx context.Context, cause error) error {
	if err := b.leaves.Reset(context.WithoutCancel(ctx)); err != nil {
		b.failed = fmt.Errorf("discard partial assignment: %w", err)
		b.logger.ErrorContext(ctx, "build session failed", "error", b.failed)
		return errors.Join(cause, b.failed)
	}
	return cause
}

// NewSearcher returns a Searcher over the in-memory tree of this session.
// Leaves hold only the items assigned so far.
func (b *Builder) NewSearcher() (*Searcher, error) {
	if b.tree == nil {
		return nil, fmt.Errorf("%w: tree not built", ErrPreconditionNotMet)
	}
	return newSearcher(b.tree, b.leaves, &b.opts, b.logger, nil), nil
}

// Commit writes the manifest that makes the index visible to Open.
func (b *Builder) Commit(ctx context.Context) (*Manifest, error) {
	if b.failed != nil {
		return nil, fmt.Errorf("%w: build session failed: %w", ErrPreconditionNotMet, b.failed)
	}
	if b.tree == nil || !b.assigned {
		return nil, fmt.Errorf("%w: items not assigned", ErrPreconditionNotMet)
	}
	var m *Manifest
	err := b.phase(ctx, PhaseCommit, func() error {
		t := b.tree
		m = &Manifest{
			BuildID:           b.buildID,
			Dim:               t.Dim,
			Metric:            t.Metric.String(),
			Levels:            t.NumLevels,
			NodeSize:          t.NodeSize,
			TargetClusterSize: b.params.TargetClusterSize,
			TotalItems:        t.TotalItems,
			TotalClusters:     t.TotalClusters,
			DType:             b.opts.dtype.String(),
			Compression:       b.opts.compression.String(),
			Selection:         b.params.Selection.String(),
			Representatives:   b.repNames,
			Assigned:          true,
		}
		err := b.manifests.Save(ctx, m)
		b.logger.LogCommit(ctx, m.ID, err)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Build runs a complete session over src and commits the index to store.
func Build(ctx context.Context, store blobstore.BlobStore, src embedding.Source, p BuildParams, ao AssignOptions, optFns ...Option) (*Manifest, error) {
	b, err := NewBuilder(store, src, p, optFns...)
	if err != nil {
		return nil, err
	}
	if err := b.SelectRepresentatives(ctx); err != nil {
		return nil, err
	}
	if err := b.BuildTree(ctx); err != nil {
		return nil, err
	}
	if err := b.AssignConcurrent(ctx, ao); err != nil {
		return nil, err
	}
	return b.Commit(ctx)
}
