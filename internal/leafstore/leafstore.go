// Package leafstore accumulates assigned items in the leaf clusters of a tree
// and persists them as append-only array parts.
package leafstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/btree"

	"github.com/hupe1980/ecp/embedding"
	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/assign"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/tree"
)

// Store owns the leaf level of a tree while items are assigned.
// Append and Flush may be called from different goroutines but not concurrently
// for the same leaf.
type Store struct {
	tree   *tree.Tree
	arrays *arraystore.Store
	dtype  arraystore.DType
	logger *slog.Logger

	mu sync.Mutex
	// persisted[j] is the number of rows of leaf j already written,
	// or -1 before the leaf's group exists.
	persisted []int
}

// New returns a Store over the leaves of t. arrays may be nil for a purely
// in-memory build, in which case Flush only recomputes borders.
func New(t *tree.Tree, arrays *arraystore.Store, dt arraystore.DType, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	persisted := make([]int, len(t.Leaves()))
	for i := range persisted {
		persisted[i] = -1
	}
	return &Store{
		tree:      t,
		arrays:    arrays,
		dtype:     dt,
		logger:    logger,
		persisted: persisted,
	}
}

// Append adds items to a leaf, growing its arrays in NodeSize-row
// increments, and recomputes the leaf border.
func (s *Store) Append(leaf uint32, ids []uint32, dists, emb []float32) error {
	leaves := s.tree.Leaves()
	if int(leaf) >= len(leaves) {
		return fmt.Errorf("%w: leaf %d of %d", errs.ErrInvalidArgument, leaf, len(leaves))
	}
	dim := s.tree.Dim
	if len(dists) != len(ids) || len(emb) != len(ids)*dim {
		return fmt.Errorf("%w: %d ids, %d distances, %d values of dimension %d",
			errs.ErrInvalidArgument, len(ids), len(dists), len(emb), dim)
	}

	n := leaves[leaf]
	m := s.tree.Metric
	for i, id := range ids {
		n.AppendItem(m, emb[i*dim:(i+1)*dim], id, dists[i], s.tree.NodeSize)
	}
	n.UpdateBorder(m)
	return nil
}

// AppendAssignments adds a complete single-pass assignment, gathering each
// leaf's embeddings from src. Items keep ascending id order within a leaf.
func (s *Store) AppendAssignments(ctx context.Context, assignments *btree.Map[uint32, assign.Assignment], src embedding.Source) error {
	type batch struct {
		ids   []uint32
		dists []float32
	}
	byLeaf := make(map[uint32]*batch)
	order := make([]uint32, 0)
	assignments.Scan(func(id uint32, a assign.Assignment) bool {
		b, ok := byLeaf[a.Leaf]
		if !ok {
			b = &batch{}
			byLeaf[a.Leaf] = b
			order = append(order, a.Leaf)
		}
		b.ids = append(b.ids, id)
		b.dists = append(b.dists, a.Distance)
		return true
	})

	var emb []float32
	for _, leaf := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := byLeaf[leaf]
		var err error
		if emb, err = src.Gather(b.ids, emb[:0]); err != nil {
			return fmt.Errorf("gather items of leaf %d: %w", leaf, err)
		}
		if err := s.Append(leaf, b.ids, b.dists, emb); err != nil {
			return err
		}
	}
	return nil
}

// Flush persists the given leaves. The first flush of a leaf creates its
// arrays; later flushes append only the rows added since, as new parts.
// The border record is overwritten every time.
func (s *Store) Flush(ctx context.Context, leaves []uint32) error {
	if s.arrays == nil {
		return nil
	}
	for _, leaf := range leaves {
		if err := s.flushLeaf(ctx, leaf); err != nil {
			return fmt.Errorf("flush leaf %d: %w", leaf, err)
		}
	}
	s.logger.DebugContext(ctx, "leaves flushed", "count", len(leaves))
	return nil
}

// FlushAll persists every leaf.
func (s *Store) FlushAll(ctx context.Context) error {
	all := make([]uint32, len(s.tree.Leaves()))
	for i := range all {
		all[i] = uint32(i)
	}
	return s.Flush(ctx, all)
}

func (s *Store) flushLeaf(ctx context.Context, leaf uint32) error {
	leaves := s.tree.Leaves()
	if int(leaf) >= len(leaves) {
		return fmt.Errorf("%w: leaf %d of %d", errs.ErrInvalidArgument, leaf, len(leaves))
	}
	n := leaves[leaf]
	level := s.tree.LeafLevel()

	s.mu.Lock()
	from := s.persisted[leaf]
	s.mu.Unlock()

	rows := n.Len()
	if from < 0 || rows > from {
		from = max(from, 0)
		dim := s.tree.Dim
		if err := s.arrays.AppendFloat32(ctx, tree.NodeKey(level, leaf, tree.ArrayEmbeddings), n.Rows()[from*dim:], dim, s.dtype); err != nil {
			return err
		}
		if err := s.arrays.AppendFloat32(ctx, tree.NodeKey(level, leaf, tree.ArrayDistances), n.Scores()[from:], 1, arraystore.Float32); err != nil {
			return err
		}
		if err := s.arrays.AppendUint32(ctx, tree.NodeKey(level, leaf, tree.ArrayItemIDs), n.ItemIDs[from:]); err != nil {
			return err
		}
	}
	if err := tree.SaveBorder(ctx, s.arrays, level, leaf, n.Border); err != nil {
		return err
	}

	s.mu.Lock()
	s.persisted[leaf] = rows
	s.mu.Unlock()
	return nil
}

// leafArrays are the persisted arrays of a leaf.
var leafArrays = []string{tree.ArrayEmbeddings, tree.ArrayDistances, tree.ArrayItemIDs, tree.ArrayBorder}

// Reset empties every leaf in memory and deletes every persisted leaf
// array, including those of leaves whose flush failed part way.
func (s *Store) Reset(ctx context.Context) error {
	s.tree.ClearLeaves()
	s.mu.Lock()
	for i := range s.persisted {
		s.persisted[i] = -1
	}
	s.mu.Unlock()

	if s.arrays == nil {
		return nil
	}
	level := s.tree.LeafLevel()
	for j := range s.tree.Leaves() {
		for _, name := range leafArrays {
			if err := s.arrays.Delete(ctx, tree.NodeKey(level, uint32(j), name)); err != nil {
				return fmt.Errorf("reset leaf %d: %w", j, err)
			}
		}
	}
	s.logger.DebugContext(ctx, "leaves reset", "count", len(s.persisted))
	return nil
}

// Leaf returns an in-memory leaf.
func (s *Store) Leaf(ctx context.Context, id uint32) (*tree.Node, error) {
	return s.tree.Leaf(ctx, id)
}

// Load reads a persisted leaf. A leaf that was never flushed is empty.
func Load(ctx context.Context, arrays *arraystore.Store, t *tree.Tree, id uint32) (*tree.Node, error) {
	if int(id) >= tree.LevelSize(t.NodeSize, t.TotalClusters, t.LeafLevel()) {
		return nil, fmt.Errorf("%w: leaf %d of %d", errs.ErrInvalidArgument, id, t.TotalClusters)
	}
	ok, err := arrays.Exists(ctx, tree.NodeKey(t.LeafLevel(), id, tree.ArrayItemIDs))
	if err != nil {
		return nil, fmt.Errorf("load leaf %d: %w", id, err)
	}
	if !ok {
		return tree.NewNode(t.Metric, t.Dim, 0), nil
	}
	n, err := tree.LoadNode(ctx, arrays, t.LeafLevel(), id, t.Dim, false)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%w: load leaf %d: %w", errs.ErrCorrupt, id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load leaf %d: %w", id, err)
	}
	return n, nil
}

// Reader serves persisted leaves for search.
type Reader struct {
	arrays *arraystore.Store
	tree   *tree.Tree
}

// NewReader returns a Reader over the leaves of t stored in arrays.
func NewReader(arrays *arraystore.Store, t *tree.Tree) *Reader {
	return &Reader{arrays: arrays, tree: t}
}

// Leaf loads leaf id.
func (r *Reader) Leaf(ctx context.Context, id uint32) (*tree.Node, error) {
	return Load(ctx, r.arrays, r.tree, id)
}
