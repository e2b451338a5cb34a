// Package search answers top-k queries over an eCP tree with a best-first
// expansion bounded by a leaf budget.
package search

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/queue"
	"github.com/hupe1980/ecp/internal/tree"
)

// LeafReader serves the contents of leaf clusters.
type LeafReader interface {
	Leaf(ctx context.Context, id uint32) (*tree.Node, error)
}

// Result is one ranked item.
type Result struct {
	ItemID uint32
	Score  float32
}

type candidate struct {
	score float32
	leaf  bool
	level int
	node  uint32
}

// Stats describes the work done by an Engine since its last restart.
type Stats struct {
	LeavesExpanded   int
	InternalExpanded int
	ItemsScored      int
}

// Engine is a restartable search session.
//
// The frontier holds unexpanded nodes ordered by adjusted score, internal
// nodes before leaves on ties, then by level and node id. The results hold
// every item of every expanded leaf ordered by exact score, then item id.
// An Engine is not safe for concurrent use; give each goroutine its own.
type Engine struct {
	tree   *tree.Tree
	leaves LeafReader
	ranker *distance.Ranker

	frontier *queue.Heap[candidate]
	results  *queue.Heap[Result]
	query    []float32
	active   bool
	stats    Stats
	scores   []float32
}

// New returns an Engine over t whose leaves are read from leaves.
func New(t *tree.Tree, leaves LeafReader) *Engine {
	m := t.Metric
	return &Engine{
		tree:   t,
		leaves: leaves,
		ranker: distance.NewRanker(m, t.Dim),
		frontier: queue.New(func(a, b candidate) bool {
			if c := m.Compare(a.score, b.score); c != 0 {
				return c < 0
			}
			if a.leaf != b.leaf {
				return !a.leaf
			}
			if a.level != b.level {
				return a.level < b.level
			}
			return a.node < b.node
		}, 64),
		results: queue.New(func(a, b Result) bool {
			if c := m.Compare(a.Score, b.Score); c != 0 {
				return c < 0
			}
			return a.ItemID < b.ItemID
		}, 256),
	}
}

// Stats returns the work done since the last restart.
func (e *Engine) Stats() Stats { return e.stats }

// Reset discards the session.
func (e *Engine) Reset() {
	e.frontier.Reset()
	e.results.Reset()
	e.query = e.query[:0]
	e.active = false
	e.stats = Stats{}
}

// Search expands up to budget leaves, best first, and returns the best k
// items found so far.
//
// With restart, or on the first call, the session starts over from the root.
// Without restart the session continues from the previous call's frontier and
// keeps its results, so successive calls widen the search; the query must
// then be the one the session started with. Results are not consumed.
func (e *Engine) Search(ctx context.Context, query []float32, budget, k int, restart bool) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", errs.ErrInvalidK, k)
	}
	if budget < 0 {
		return nil, fmt.Errorf("%w: leaf budget must not be negative, got %d", errs.ErrInvalidArgument, budget)
	}
	if err := errs.CheckDim(e.tree.Dim, len(query)); err != nil {
		return nil, err
	}

	if restart || !e.active {
		e.Reset()
		e.query = append(e.query, query...)
		e.active = true
		e.seed()
	} else if !slices.Equal(e.query, query) {
		return nil, fmt.Errorf("%w: continued search with a different query", errs.ErrInvalidArgument)
	}

	for expanded := 0; expanded < budget; {
		c, ok := e.frontier.Pop()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			e.frontier.Push(c)
			return nil, err
		}
		if c.leaf {
			if err := e.expandLeaf(ctx, c); err != nil {
				e.frontier.Push(c)
				return nil, err
			}
			expanded++
			continue
		}
		e.expandInternal(c)
	}
	return e.top(k), nil
}

// seed pushes the root's children, which are the nodes of level 0.
func (e *Engine) seed() {
	e.scores = e.ranker.Scores(e.query, e.tree.Root.Embeddings, e.scores)
	leaf := e.tree.IsLeaf(0)
	for j, s := range e.scores {
		e.frontier.Push(candidate{score: s, leaf: leaf, level: 0, node: uint32(j)})
	}
}

func (e *Engine) expandInternal(c candidate) {
	n := e.tree.Node(c.level, c.node)
	e.stats.InternalExpanded++
	e.scores = e.ranker.Scores(e.query, n.Rows(), e.scores)
	leaf := e.tree.IsLeaf(c.level + 1)
	for i, s := range e.scores {
		e.frontier.Push(candidate{
			score: e.tree.Metric.Adjust(s, n.Border.Score),
			leaf:  leaf,
			level: c.level + 1,
			node:  n.NodeIDs[i],
		})
	}
}

func (e *Engine) expandLeaf(ctx context.Context, c candidate) error {
	n, err := e.leaves.Leaf(ctx, c.node)
	if err != nil {
		return fmt.Errorf("read leaf %d: %w", c.node, err)
	}
	e.stats.LeavesExpanded++
	e.stats.ItemsScored += n.Len()
	e.scores = e.ranker.Scores(e.query, n.Rows(), e.scores)
	for i, s := range e.scores {
		e.results.Push(Result{ItemID: n.ItemIDs[i], Score: s})
	}
	return nil
}

// top returns the best k results and leaves the results intact.
func (e *Engine) top(k int) []Result {
	k = min(k, e.results.Len())
	out := make([]Result, 0, k)
	for range k {
		r, _ := e.results.Pop()
		out = append(out, r)
	}
	for _, r := range out {
		e.results.Push(r)
	}
	return out
}
