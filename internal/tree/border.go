package tree

import "github.com/hupe1980/ecp/distance"

// ReplaceBorder overwrites the border child of a full node with a candidate
// that scores strictly better than the border, then recomputes the border.
// It reports whether the node changed. Leaves pass nodeID 0; it is ignored
// when the node has no child pointers.
func ReplaceBorder(m distance.Metric, n *Node, emb []float32, itemID, nodeID uint32, score float32) bool {
	b := n.Border.Index
	if b < 0 || !m.Better(score, n.Border.Score) {
		return false
	}
	copy(n.Row(b), emb)
	n.ItemIDs[b] = itemID
	n.Distances[b] = score
	if len(n.NodeIDs) > b {
		n.NodeIDs[b] = nodeID
	}
	n.UpdateBorder(m)
	return true
}
