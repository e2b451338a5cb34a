package tree

import (
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/internal/errs"
)

// Shape returns the number of leaf clusters and the fan-out of a tree with
// the given number of levels: TotalClusters = ceil(items / target) and
// NodeSize is the smallest integer whose levels-th power reaches TotalClusters.
func Shape(totalItems, targetClusterSize, levels int) (totalClusters, nodeSize int, err error) {
	switch {
	case totalItems <= 0:
		return 0, 0, fmt.Errorf("%w: total items must be positive, got %d", errs.ErrInvalidArgument, totalItems)
	case targetClusterSize <= 0:
		return 0, 0, fmt.Errorf("%w: target cluster size must be positive, got %d", errs.ErrInvalidArgument, targetClusterSize)
	}
	totalClusters = (totalItems + targetClusterSize - 1) / targetClusterSize
	nodeSize, err = NodeSize(totalClusters, levels)
	return totalClusters, nodeSize, err
}

// NodeSize returns the smallest fan-out whose levels-th power reaches
// totalClusters.
func NodeSize(totalClusters, levels int) (int, error) {
	switch {
	case totalClusters <= 0:
		return 0, fmt.Errorf("%w: total clusters must be positive, got %d", errs.ErrInvalidArgument, totalClusters)
	case levels <= 0:
		return 0, fmt.Errorf("%w: levels must be positive, got %d", errs.ErrInvalidArgument, levels)
	}
	nodeSize := max(1, int(math.Ceil(math.Pow(float64(totalClusters), 1/float64(levels)))))
	// pow is inexact near integer roots
	for nodeSize > 1 && pow(nodeSize-1, levels, totalClusters) >= totalClusters {
		nodeSize--
	}
	for pow(nodeSize, levels, totalClusters) < totalClusters {
		nodeSize++
	}
	return nodeSize, nil
}

// pow returns min(base^exp, limit).
func pow(base, exp, limit int) int {
	v := 1
	for range exp {
		v *= base
		if v >= limit {
			return limit
		}
	}
	return v
}

// Root holds the top-level representatives. Child i of the root is node i of level 0.
type Root struct {
	Embeddings []float32
	ItemIDs    []uint32
}

// Len returns the number of root children.
func (r *Root) Len() int { return len(r.ItemIDs) }

// Tree is an eCP index tree.
//
// Levels[i][j] is node j of level i. Internal child pointers (Node.NodeIDs)
// index into the next level. The last level holds the leaf clusters, which
// stay empty until items are assigned.
type Tree struct {
	Metric        distance.Metric
	Dim           int
	NumLevels     int
	NodeSize      int
	TotalItems    int
	TotalClusters int
	Root          Root
	Levels        [][]*Node

	// occupied[i] marks the non-empty nodes of internal level i.
	occupied []*bitset.BitSet
}

// Seal records which internal nodes are populated. Build seals the tree;
// a tree assembled from storage must be sealed before descent.
func (t *Tree) Seal() {
	t.occupied = make([]*bitset.BitSet, max(t.NumLevels-1, 0))
	for l := range t.occupied {
		t.markOccupied(l)
	}
}

func (t *Tree) markOccupied(level int) {
	set := bitset.New(uint(len(t.Levels[level])))
	for j, n := range t.Levels[level] {
		if !n.Empty() {
			set.Set(uint(j))
		}
	}
	t.occupied[level] = set
}

// populated reports whether node id of an internal level has children.
func (t *Tree) populated(level int, id uint32) bool {
	if level < len(t.occupied) && t.occupied[level] != nil {
		return t.occupied[level].Test(uint(id))
	}
	return !t.Levels[level][id].Empty()
}

// LevelSize returns the number of nodes at level i.
func LevelSize(nodeSize, totalClusters, i int) int {
	return pow(nodeSize, i+1, totalClusters)
}

// LeafLevel returns the index of the leaf level.
func (t *Tree) LeafLevel() int { return t.NumLevels - 1 }

// IsLeaf reports whether level is the leaf level.
func (t *Tree) IsLeaf(level int) bool { return level == t.NumLevels-1 }

// Node returns node j of level i.
func (t *Tree) Node(level int, j uint32) *Node { return t.Levels[level][j] }

// Leaves returns the leaf clusters.
func (t *Tree) Leaves() []*Node { return t.Levels[t.NumLevels-1] }

// ClearLeaves replaces every leaf cluster with an empty node.
func (t *Tree) ClearLeaves() {
	leaves := t.Leaves()
	for j := range leaves {
		leaves[j] = NewNode(t.Metric, t.Dim, t.NodeSize)
	}
}

// Validate checks the structural invariants of a tree loaded from storage.
func (t *Tree) Validate() error {
	if !t.Metric.Valid() {
		return fmt.Errorf("%w: unsupported metric %d", errs.ErrCorrupt, int(t.Metric))
	}
	if t.NumLevels <= 0 || len(t.Levels) != t.NumLevels {
		return fmt.Errorf("%w: tree has %d of %d levels", errs.ErrCorrupt, len(t.Levels), t.NumLevels)
	}
	if len(t.Root.Embeddings) != t.Root.Len()*t.Dim {
		return fmt.Errorf("%w: root has %d values for %d rows", errs.ErrCorrupt, len(t.Root.Embeddings), t.Root.Len())
	}
	if t.Root.Len() > len(t.Levels[0]) {
		return fmt.Errorf("%w: root has %d children for %d level 0 nodes", errs.ErrCorrupt, t.Root.Len(), len(t.Levels[0]))
	}
	for i, level := range t.Levels {
		if want := LevelSize(t.NodeSize, t.TotalClusters, i); len(level) != want {
			return fmt.Errorf("%w: level %d has %d nodes, want %d", errs.ErrCorrupt, i, len(level), want)
		}
		for j, n := range level {
			if n.Dim() != t.Dim || len(n.Embeddings) < n.Len()*t.Dim || len(n.Distances) < n.Len() {
				return fmt.Errorf("%w: lvl_%d/node_%d arrays disagree", errs.ErrCorrupt, i, j)
			}
			if t.IsLeaf(i) {
				continue
			}
			if len(n.NodeIDs) != n.Len() {
				return fmt.Errorf("%w: lvl_%d/node_%d has %d pointers for %d children", errs.ErrCorrupt, i, j, len(n.NodeIDs), n.Len())
			}
			for _, c := range n.NodeIDs {
				if int(c) >= len(t.Levels[i+1]) {
					return fmt.Errorf("%w: lvl_%d/node_%d points past level %d", errs.ErrCorrupt, i, j, i+1)
				}
			}
		}
	}
	return nil
}
