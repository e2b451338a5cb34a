package distance

import (
	"slices"
)

// Score computes the raw score of ref against query under m.
func Score(m Metric, query, ref []float32) float32 {
	switch m {
	case MetricL2:
		return L2(ref, query, make([]float32, len(ref)))
	case MetricDot:
		return Dot(ref, query)
	default:
		return CosineSimilarity(ref, query)
	}
}

// Ranker scores a query against a row-major reference matrix and orders the rows best-first.
//
// A Ranker reuses internal scratch space and is not safe for concurrent use.
// Give each goroutine its own Ranker.
type Ranker struct {
	metric  Metric
	dim     int
	scratch []float32
}

// NewRanker creates a Ranker for vectors of the given dimension.
func NewRanker(m Metric, dim int) *Ranker {
	return &Ranker{
		metric:  m,
		dim:     dim,
		scratch: make([]float32, dim),
	}
}

// Metric returns the metric of the ranker.
func (r *Ranker) Metric() Metric { return r.metric }

// Scores writes the raw score of every row of refs into dst and returns it.
// dst is grown if needed; scores are in row order.
func (r *Ranker) Scores(query, refs []float32, dst []float32) []float32 {
	rows := 0
	if r.dim > 0 {
		rows = len(refs) / r.dim
	}
	dst = slices.Grow(dst[:0], rows)[:rows]

	var qnorm float32
	if r.metric == MetricCosine {
		qnorm = Norm(query)
	}

	for i := 0; i < rows; i++ {
		row := refs[i*r.dim : (i+1)*r.dim]
		switch r.metric {
		case MetricL2:
			dst[i] = L2(row, query, r.scratch)
		case MetricDot:
			dst[i] = Dot(row, query)
		default:
			rn := Norm(row)
			if rn == 0 || qnorm == 0 {
				dst[i] = 0
			} else {
				dst[i] = Dot(row, query) / (rn * qnorm)
			}
		}
	}
	return dst
}

// Rank returns the best-first ordering of the rows of refs and their raw scores.
// Scores are not reordered; order[0] is the index of the best row.
// Ties keep row order.
func (r *Ranker) Rank(query, refs []float32) ([]int, []float32) {
	scores := r.Scores(query, refs, nil)
	return r.Order(scores), scores
}

// Order returns the best-first permutation of scores using a stable sort.
func (r *Ranker) Order(scores []float32) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	m := r.metric
	slices.SortStableFunc(order, func(a, b int) int {
		return m.Compare(scores[a], scores[b])
	})
	return order
}

// Rank is a convenience wrapper that allocates a Ranker for a single call.
func Rank(m Metric, query, refs []float32, dim int) ([]int, []float32) {
	return NewRanker(m, dim).Rank(query, refs)
}
