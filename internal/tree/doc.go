// Package tree holds the eCP index tree and its top-down construction.
//
// The tree is an arena of levels. Level i is a flat slice of nodes and a
// child pointer is the index of a node one level deeper, so descent needs
// no references between nodes and a built tree can be shared read-only
// between goroutines. The nodes of the last level are the leaf clusters.
package tree
