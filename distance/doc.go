// Package distance provides the scoring functions and ranking rules of an eCP index.
//
// The float32 kernels are backed by gonum's pure-Go BLAS implementation.
//
// # Supported Metrics
//
//   - MetricL2: Euclidean distance (smaller is better)
//   - MetricDot: Inner product (larger is better)
//   - MetricCosine: Cosine similarity (larger is better)
//
// A metric fixes three things for the lifetime of an index: the raw score of a
// reference against a query, the best-first ordering of those scores, and the
// direction of the per-node border (the least favorable child) that search uses
// as a local radius.
//
// # Usage
//
//	order, scores := distance.Rank(distance.MetricL2, query, refs, dim)
//	best := order[0]
//	idx, border := distance.MetricL2.Extremum(scores)
package distance
