package tree

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/errs"
)

// Array names of a persisted node.
const (
	ArrayEmbeddings = "embeddings"
	ArrayDistances  = "distances"
	ArrayItemIDs    = "item_ids"
	ArrayNodeIDs    = "node_ids"
	ArrayBorder     = "border"
)

// loadConcurrency bounds parallel node reads.
const loadConcurrency = 16

// RootKey returns the array key of a root array.
func RootKey(name string) string { return "root/" + name }

// NodeKey returns the array key of an array of node j at level i.
func NodeKey(level int, node uint32, name string) string {
	return fmt.Sprintf("lvl_%d/node_%d/%s", level, node, name)
}

// Save writes the root and every internal level, replacing existing arrays.
// Leaves are written by the leaf store as items are assigned.
func Save(ctx context.Context, store *arraystore.Store, t *Tree, dt arraystore.DType) error {
	if err := store.PutFloat32(ctx, RootKey(ArrayEmbeddings), t.Root.Embeddings, t.Dim, dt); err != nil {
		return fmt.Errorf("save root: %w", err)
	}
	if err := store.PutUint32(ctx, RootKey(ArrayItemIDs), t.Root.ItemIDs); err != nil {
		return fmt.Errorf("save root: %w", err)
	}
	for i := 0; i < t.LeafLevel(); i++ {
		for j, n := range t.Levels[i] {
			if err := SaveNode(ctx, store, i, uint32(j), n, dt); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveNode writes every array of an internal node, replacing existing ones.
func SaveNode(ctx context.Context, store *arraystore.Store, level int, j uint32, n *Node, dt arraystore.DType) error {
	if err := store.PutFloat32(ctx, NodeKey(level, j, ArrayEmbeddings), n.Rows(), n.Dim(), dt); err != nil {
		return fmt.Errorf("save lvl_%d/node_%d: %w", level, j, err)
	}
	if err := store.PutFloat32(ctx, NodeKey(level, j, ArrayDistances), n.Scores(), 1, arraystore.Float32); err != nil {
		return fmt.Errorf("save lvl_%d/node_%d: %w", level, j, err)
	}
	if err := store.PutUint32(ctx, NodeKey(level, j, ArrayItemIDs), n.ItemIDs); err != nil {
		return fmt.Errorf("save lvl_%d/node_%d: %w", level, j, err)
	}
	if err := store.PutUint32(ctx, NodeKey(level, j, ArrayNodeIDs), n.NodeIDs); err != nil {
		return fmt.Errorf("save lvl_%d/node_%d: %w", level, j, err)
	}
	return SaveBorder(ctx, store, level, j, n.Border)
}

// SaveBorder overwrites the two-value border record of a node.
func SaveBorder(ctx context.Context, store *arraystore.Store, level int, j uint32, b Border) error {
	if err := store.PutFloat64(ctx, NodeKey(level, j, ArrayBorder), []float64{float64(b.Index), float64(b.Score)}); err != nil {
		return fmt.Errorf("save lvl_%d/node_%d border: %w", level, j, err)
	}
	return nil
}

// LoadNode reads a node written by SaveNode or by the leaf store.
// withPointers selects whether node_ids is read.
func LoadNode(ctx context.Context, store *arraystore.Store, level int, j uint32, dim int, withPointers bool) (*Node, error) {
	emb, cols, err := store.ReadFloat32(ctx, NodeKey(level, j, ArrayEmbeddings))
	if err != nil {
		return nil, err
	}
	if len(emb) > 0 && cols != dim {
		return nil, fmt.Errorf("%w: lvl_%d/node_%d has dimension %d, want %d", errs.ErrCorrupt, level, j, cols, dim)
	}
	dists, _, err := store.ReadFloat32(ctx, NodeKey(level, j, ArrayDistances))
	if err != nil {
		return nil, err
	}
	ids, err := store.ReadUint32(ctx, NodeKey(level, j, ArrayItemIDs))
	if err != nil {
		return nil, err
	}
	var ptrs []uint32
	if withPointers {
		if ptrs, err = store.ReadUint32(ctx, NodeKey(level, j, ArrayNodeIDs)); err != nil {
			return nil, err
		}
		if len(ptrs) != len(ids) {
			return nil, fmt.Errorf("%w: lvl_%d/node_%d has %d pointers for %d items", errs.ErrCorrupt, level, j, len(ptrs), len(ids))
		}
	}
	rec, err := store.ReadFloat64(ctx, NodeKey(level, j, ArrayBorder))
	if err != nil {
		return nil, err
	}
	if len(rec) != 2 {
		return nil, fmt.Errorf("%w: lvl_%d/node_%d border has %d values", errs.ErrCorrupt, level, j, len(rec))
	}
	if len(emb) != len(ids)*dim || len(dists) != len(ids) {
		return nil, fmt.Errorf("%w: lvl_%d/node_%d arrays disagree", errs.ErrCorrupt, level, j)
	}
	if emb == nil {
		emb = []float32{}
	}
	if dists == nil {
		dists = []float32{}
	}
	return Restore(dim, emb, dists, ids, ptrs, Border{Index: int(rec[0]), Score: float32(rec[1])}), nil
}

// Load reads the root and internal levels described by shape, whose Levels
// and Root are ignored. Leaf nodes are allocated empty; the leaf store
// serves their contents. The returned tree is sealed and validated.
func Load(ctx context.Context, store *arraystore.Store, shape *Tree) (*Tree, error) {
	t := &Tree{
		Metric:        shape.Metric,
		Dim:           shape.Dim,
		NumLevels:     shape.NumLevels,
		NodeSize:      shape.NodeSize,
		TotalItems:    shape.TotalItems,
		TotalClusters: shape.TotalClusters,
		Levels:        make([][]*Node, shape.NumLevels),
	}
	if t.NumLevels <= 0 || t.Dim <= 0 {
		return nil, fmt.Errorf("%w: tree shape %d levels, dimension %d", errs.ErrCorrupt, t.NumLevels, t.Dim)
	}

	emb, _, err := store.ReadFloat32(ctx, RootKey(ArrayEmbeddings))
	if err != nil {
		return nil, fmt.Errorf("load root: %w", err)
	}
	ids, err := store.ReadUint32(ctx, RootKey(ArrayItemIDs))
	if err != nil {
		return nil, fmt.Errorf("load root: %w", err)
	}
	t.Root = Root{Embeddings: emb, ItemIDs: ids}

	for i := range t.Levels {
		t.Levels[i] = make([]*Node, LevelSize(t.NodeSize, t.TotalClusters, i))
		if t.IsLeaf(i) {
			for j := range t.Levels[i] {
				t.Levels[i][j] = NewNode(t.Metric, t.Dim, 0)
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(loadConcurrency)
		for j := range t.Levels[i] {
			g.Go(func() error {
				n, err := LoadNode(gctx, store, i, uint32(j), t.Dim, true)
				if err != nil {
					return fmt.Errorf("load lvl_%d/node_%d: %w", i, j, err)
				}
				t.Levels[i][j] = n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, fmt.Errorf("%w: %w", errs.ErrCorrupt, err)
			}
			return nil, err
		}
	}

	t.Seal()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Leaf returns leaf cluster id. It serves trees whose leaves live in memory.
func (t *Tree) Leaf(_ context.Context, id uint32) (*Node, error) {
	leaves := t.Leaves()
	if int(id) >= len(leaves) {
		return nil, fmt.Errorf("%w: leaf %d of %d", errs.ErrInvalidArgument, id, len(leaves))
	}
	return leaves[id], nil
}
