package tree

import (
	"slices"

	"github.com/hupe1980/ecp/distance"
)

// Border is the least favorable child of a node: the largest distance
// under L2, the smallest similarity under IP and cosine.
// An empty node has Index -1 and the metric's EmptyBorder score.
type Border struct {
	Index int
	Score float32
}

// EmptyBorder returns the sentinel border of a node without children.
func EmptyBorder(m distance.Metric) Border {
	return Border{Index: -1, Score: m.EmptyBorder()}
}

// Node is an internal node or a leaf cluster.
//
// Embeddings and Distances are growable buffers: their capacity in rows may
// exceed Len until Align trims them. ItemIDs and NodeIDs always have exactly
// Len entries. NodeIDs is empty for leaves.
type Node struct {
	dim        int
	Embeddings []float32
	Distances  []float32
	ItemIDs    []uint32
	NodeIDs    []uint32
	Border     Border
}

// NewNode returns an empty node with room for capRows rows.
func NewNode(m distance.Metric, dim, capRows int) *Node {
	return &Node{
		dim:        dim,
		Embeddings: make([]float32, capRows*dim),
		Distances:  make([]float32, capRows),
		Border:     EmptyBorder(m),
	}
}

// Dim returns the embedding dimension.
func (n *Node) Dim() int { return n.dim }

// Len returns the number of occupied rows.
func (n *Node) Len() int { return len(n.ItemIDs) }

// Cap returns the number of allocated rows.
func (n *Node) Cap() int { return len(n.Distances) }

// Empty reports whether the node has no children.
func (n *Node) Empty() bool { return len(n.ItemIDs) == 0 }

// Rows returns the occupied embeddings, row-major.
func (n *Node) Rows() []float32 { return n.Embeddings[:n.Len()*n.dim] }

// Row returns embedding row i.
func (n *Node) Row(i int) []float32 { return n.Embeddings[i*n.dim : (i+1)*n.dim] }

// Scores returns the occupied distances.
func (n *Node) Scores() []float32 { return n.Distances[:n.Len()] }

// grow makes room for one more row, adding growBy rows when full.
func (n *Node) grow(growBy int) {
	if n.Len() < n.Cap() {
		return
	}
	growBy = max(growBy, 1)
	n.Embeddings = append(n.Embeddings, make([]float32, growBy*n.dim)...)
	n.Distances = append(n.Distances, make([]float32, growBy)...)
}

func (n *Node) put(m distance.Metric, emb []float32, dist float32, growBy int) int {
	n.grow(growBy)
	slot := n.Len()
	copy(n.Row(slot), emb)
	n.Distances[slot] = dist
	if n.Border.Index < 0 || m.ExceedsBorder(n.Border.Score, dist) {
		n.Border = Border{Index: slot, Score: dist}
	}
	return slot
}

// AppendChild adds a representative pointing at node nodeID one level deeper.
// The border is updated incrementally.
func (n *Node) AppendChild(m distance.Metric, emb []float32, itemID, nodeID uint32, dist float32, growBy int) {
	n.put(m, emb, dist, growBy)
	n.ItemIDs = append(n.ItemIDs, itemID)
	n.NodeIDs = append(n.NodeIDs, nodeID)
}

// AppendItem adds an assigned item to a leaf. The border is updated incrementally.
func (n *Node) AppendItem(m distance.Metric, emb []float32, itemID uint32, dist float32, growBy int) {
	n.put(m, emb, dist, growBy)
	n.ItemIDs = append(n.ItemIDs, itemID)
}

// UpdateBorder recomputes the border from the occupied distances.
func (n *Node) UpdateBorder(m distance.Metric) {
	idx, score := m.Extremum(n.Scores())
	n.Border = Border{Index: idx, Score: score}
}

// Align trims the buffers to the occupied length and recomputes the border.
func (n *Node) Align(m distance.Metric) {
	n.Embeddings = slices.Clip(n.Embeddings[:n.Len()*n.dim])
	n.Distances = slices.Clip(n.Distances[:n.Len()])
	n.UpdateBorder(m)
}

// Restore builds an aligned node from persisted arrays. nodeIDs is nil for leaves.
func Restore(dim int, emb, dists []float32, itemIDs, nodeIDs []uint32, border Border) *Node {
	return &Node{
		dim:        dim,
		Embeddings: emb,
		Distances:  dists,
		ItemIDs:    itemIDs,
		NodeIDs:    nodeIDs,
		Border:     border,
	}
}
