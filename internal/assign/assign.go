// Package assign places every item in the leaf cluster reached by greedy
// descent through a built tree.
package assign

import (
	"context"
	"fmt"

	"github.com/tidwall/btree"

	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/embedding"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/tree"
)

// Assignment is the leaf an item belongs to and its score against the
// representative anchoring that leaf.
type Assignment struct {
	Leaf     uint32
	Distance float32
}

// Entry is one item of a leaf in a node map.
type Entry struct {
	ItemID   uint32
	Distance float32
}

// Locator finds leaves for embeddings. It is not safe for concurrent use;
// each goroutine creates its own over the shared tree.
type Locator struct {
	tree   *tree.Tree
	ranker *distance.Ranker
}

// NewLocator returns a Locator over t.
func NewLocator(t *tree.Tree) *Locator {
	return &Locator{tree: t, ranker: distance.NewRanker(t.Metric, t.Dim)}
}

// LocateLeaf descends from the root to a leaf. Ranked candidates pointing at
// empty internal nodes are skipped; at the last internal level the best child
// is the leaf and its score is the reported distance.
func (l *Locator) LocateLeaf(emb []float32) (uint32, float32, error) {
	if err := errs.CheckDim(l.tree.Dim, len(emb)); err != nil {
		return 0, 0, err
	}
	return l.tree.Descend(l.ranker, emb, l.tree.LeafLevel())
}

// LocateLeaf is a convenience wrapper that allocates a Locator for a single call.
func LocateLeaf(t *tree.Tree, emb []float32) (uint32, float32, error) {
	return NewLocator(t).LocateLeaf(emb)
}

// AssignAll assigns every item of src in one pass and returns the
// assignments ordered by item id.
func AssignAll(ctx context.Context, t *tree.Tree, src embedding.Source, chunkSize int) (*btree.Map[uint32, Assignment], error) {
	if err := errs.CheckDim(t.Dim, src.Dim()); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	loc := NewLocator(t)
	out := new(btree.Map[uint32, Assignment])
	var buf []float32
	for lo := 0; lo < src.Len(); lo += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+chunkSize, src.Len())
		var err error
		if buf, err = src.Range(lo, hi, buf[:0]); err != nil {
			return nil, fmt.Errorf("read items [%d, %d): %w", lo, hi, err)
		}
		for i := 0; i < hi-lo; i++ {
			leaf, dist, err := loc.LocateLeaf(buf[i*t.Dim : (i+1)*t.Dim])
			if err != nil {
				return nil, fmt.Errorf("locate item %d: %w", lo+i, err)
			}
			out.Set(uint32(lo+i), Assignment{Leaf: leaf, Distance: dist})
		}
	}
	return out, nil
}

// NodeMap assigns a contiguous block of row-major embeddings whose first row
// is item offset. Entries of each leaf keep input order.
func NodeMap(t *tree.Tree, rows []float32, offset uint32) (map[uint32][]Entry, error) {
	return NewLocator(t).NodeMap(rows, offset)
}

// NodeMap is the Locator form of the package-level NodeMap.
func (l *Locator) NodeMap(rows []float32, offset uint32) (map[uint32][]Entry, error) {
	dim := l.tree.Dim
	if len(rows)%dim != 0 {
		return nil, fmt.Errorf("%w: %d values do not fill rows of %d", errs.ErrInvalidArgument, len(rows), dim)
	}
	out := make(map[uint32][]Entry)
	for i := 0; i < len(rows)/dim; i++ {
		leaf, dist, err := l.LocateLeaf(rows[i*dim : (i+1)*dim])
		if err != nil {
			return nil, fmt.Errorf("locate item %d: %w", offset+uint32(i), err)
		}
		out[leaf] = append(out[leaf], Entry{ItemID: offset + uint32(i), Distance: dist})
	}
	return out, nil
}
