package distance

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank(t *testing.T) {
	refs := []float32{
		0, 0, // 0
		10, 10, // 1
		1, 1, // 2
		-5, 2, // 3
	}
	query := []float32{0.5, 0.5}

	t.Run("L2", func(t *testing.T) {
		order, scores := Rank(MetricL2, query, refs, 2)
		require.Len(t, scores, 4)
		assert.ElementsMatch(t, []int{0, 1, 2, 3}, order)
		// 0 and 2 are equidistant from the query; row order breaks the tie
		assert.Equal(t, []int{0, 2, 3, 1}, order)
		assert.InDelta(t, 0.7071, scores[0], 1e-4)
	})

	t.Run("IP", func(t *testing.T) {
		order, scores := Rank(MetricDot, query, refs, 2)
		assert.Equal(t, 1, order[0])
		assert.Equal(t, float32(10), scores[1])
		assert.Equal(t, 3, order[3])
	})

	t.Run("Cosine", func(t *testing.T) {
		order, scores := Rank(MetricCosine, query, refs, 2)
		// rows 1 and 2 both point exactly along the query
		assert.ElementsMatch(t, []int{1, 2}, order[:2])
		assert.Equal(t, []int{0, 3}, order[2:])
		assert.InDelta(t, 1.0, scores[1], 1e-5)
		// zero vector scores 0
		assert.Equal(t, float32(0), scores[0])
	})

	t.Run("Empty", func(t *testing.T) {
		order, scores := Rank(MetricL2, query, nil, 2)
		assert.Empty(t, order)
		assert.Empty(t, scores)
	})
}

func TestRankMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const dim, rows = 16, 200

	refs := make([]float32, dim*rows)
	for i := range refs {
		refs[i] = rng.Float32()*2 - 1
	}
	query := make([]float32, dim)
	for i := range query {
		query[i] = rng.Float32()*2 - 1
	}

	for _, m := range []Metric{MetricL2, MetricDot, MetricCosine} {
		t.Run(m.String(), func(t *testing.T) {
			order, scores := Rank(m, query, refs, dim)
			for i := 1; i < len(order); i++ {
				prev, cur := scores[order[i-1]], scores[order[i]]
				if m.LowerIsBetter() {
					assert.LessOrEqual(t, prev, cur)
				} else {
					assert.GreaterOrEqual(t, prev, cur)
				}
			}
		})
	}
}

func TestRankerReuse(t *testing.T) {
	r := NewRanker(MetricL2, 2)
	refs := []float32{3, 4, 0, 0}

	buf := r.Scores([]float32{0, 0}, refs, nil)
	assert.Equal(t, []float32{5, 0}, buf)

	buf = r.Scores([]float32{3, 4}, refs, buf)
	assert.Equal(t, []float32{0, 5}, buf)
	assert.Equal(t, float32(5), Score(MetricL2, []float32{0, 0}, []float32{3, 4}))
}
