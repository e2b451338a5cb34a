package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/selector"
)

// Params configure Build.
type Params struct {
	Levels            int
	TargetClusterSize int
	TotalItems        int
	Metric            distance.Metric
	// TotalClusters overrides ceil(TotalItems / TargetClusterSize) when positive.
	TotalClusters int
	Logger        *slog.Logger
}

// Build constructs the root and every internal level from the ranked
// representatives in set. Leaves are allocated empty.
//
// Representative r with rank below min(NodeSize^(l+2), TotalClusters) is
// inserted at level l by greedy descent from the root; the node it lands in
// records the distance computed at the parent step and a pointer to node r
// of level l+1. Build is deterministic.
func Build(ctx context.Context, set *selector.Set, p Params) (*Tree, error) {
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: no representatives selected", errs.ErrPreconditionNotMet)
	}
	if !p.Metric.Valid() {
		return nil, fmt.Errorf("%w: unsupported metric %d", errs.ErrInvalidArgument, int(p.Metric))
	}
	if len(set.Embeddings) != set.Len()*set.Dim {
		return nil, fmt.Errorf("%w: %d representative ids for %d values of dimension %d",
			errs.ErrInvalidArgument, set.Len(), len(set.Embeddings), set.Dim)
	}
	totalClusters, nodeSize, err := Shape(p.TotalItems, p.TargetClusterSize, p.Levels)
	if err != nil {
		return nil, err
	}
	if p.TotalClusters > 0 {
		totalClusters = p.TotalClusters
		if nodeSize, err = NodeSize(totalClusters, p.Levels); err != nil {
			return nil, err
		}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if set.Len() != totalClusters {
		logger.WarnContext(ctx, "representative count differs from total clusters",
			"representatives", set.Len(), "total_clusters", totalClusters)
	}

	dim := set.Dim
	t := &Tree{
		Metric:        p.Metric,
		Dim:           dim,
		NumLevels:     p.Levels,
		NodeSize:      nodeSize,
		TotalItems:    p.TotalItems,
		TotalClusters: totalClusters,
		Levels:        make([][]*Node, p.Levels),
		occupied:      make([]*bitset.BitSet, p.Levels-1),
	}

	rootLen := min(nodeSize, set.Len())
	t.Root = Root{
		Embeddings: append([]float32(nil), set.Embeddings[:rootLen*dim]...),
		ItemIDs:    append([]uint32(nil), set.IDs[:rootLen]...),
	}
	for i := range t.Levels {
		size := LevelSize(nodeSize, totalClusters, i)
		t.Levels[i] = make([]*Node, size)
		for j := range size {
			t.Levels[i][j] = NewNode(p.Metric, dim, nodeSize)
		}
	}

	ranker := distance.NewRanker(p.Metric, dim)
	for l := 0; l < p.Levels-1; l++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		span := min(LevelSize(nodeSize, totalClusters, l+1), set.Len())
		for r := 0; r < span; r++ {
			emb := set.Row(r)
			node, dist, err := t.Descend(ranker, emb, l)
			if err != nil {
				return nil, fmt.Errorf("insert representative %d at level %d: %w", set.IDs[r], l, err)
			}
			t.Levels[l][node].AppendChild(p.Metric, emb, set.IDs[r], uint32(r), dist, nodeSize)
		}
		t.markOccupied(l)
		logger.DebugContext(ctx, "tree level populated", "level", l, "representatives", span)
	}

	for _, level := range t.Levels {
		for _, n := range level {
			n.Align(p.Metric)
		}
	}

	logger.InfoContext(ctx, "tree built",
		"levels", t.NumLevels,
		"node_size", t.NodeSize,
		"total_clusters", t.TotalClusters,
	)
	return t, nil
}

// Descend ranks the root and then one node per level down to level target
// and returns the node reached there with the score against its anchor.
//
// Levels above target are already populated; a candidate pointing at an
// empty node there is skipped in favour of the next ranked one. Under inner
// product a representative need not rank itself first, so such nodes exist.
func (t *Tree) Descend(ranker *distance.Ranker, emb []float32, target int) (uint32, float32, error) {
	order, scores := ranker.Rank(emb, t.Root.Embeddings)
	node, dist, ok := t.pick(order, scores, nil, 0, target > 0)
	if !ok {
		return 0, 0, fmt.Errorf("%w: no populated level 0 node", errs.ErrPreconditionNotMet)
	}
	for l := 0; l < target; l++ {
		n := t.Levels[l][node]
		order, scores = ranker.Rank(emb, n.Rows())
		next, d, ok := t.pick(order, scores, n.NodeIDs, l+1, l+1 < target)
		if !ok {
			return 0, 0, fmt.Errorf("%w: lvl_%d/node_%d has no populated child", errs.ErrPreconditionNotMet, l, node)
		}
		node, dist = next, d
	}
	return node, dist, nil
}

// pick returns the first ranked candidate. With skipEmpty it returns the
// first one whose node at level is non-empty. ptrs maps candidates to node
// ids; nil means the identity (root children).
func (t *Tree) pick(order []int, scores []float32, ptrs []uint32, level int, skipEmpty bool) (uint32, float32, bool) {
	for _, c := range order {
		id := uint32(c)
		if ptrs != nil {
			id = ptrs[c]
		}
		if skipEmpty && !t.populated(level, id) {
			continue
		}
		return id, scores[c], true
	}
	return 0, 0, false
}
