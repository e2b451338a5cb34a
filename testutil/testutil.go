package testutil

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/ecp/distance"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID    uint32
	Score float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformMatrix returns num row-major vectors with values in range [0, 1).
func (r *RNG) UniformMatrix(num, dim int) []float32 {
	data := make([]float32, num*dim)
	r.FillUniform(data)
	return data
}

// UnitMatrix returns num L2-normalized row-major vectors.
// Uses a Gaussian draw per component for a uniform distribution on the sphere.
func (r *RNG) UnitMatrix(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range num {
		normalize(r.gaussian(data[i*dim : (i+1)*dim]))
	}
	return data
}

// ClusteredMatrix returns num row-major vectors scattered around random unit centroids.
// Row i belongs to centroid i % clusters.
func (r *RNG) ClusteredMatrix(num, dim, clusters int, spread float32) []float32 {
	centroids := r.UnitMatrix(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range num {
		c := centroids[(i%clusters)*dim : (i%clusters+1)*dim]
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return data
}

func (r *RNG) gaussian(vec []float32) []float32 {
	for j := range vec {
		vec[j] = float32(r.rand.NormFloat64())
	}
	return vec
}

func normalize(vec []float32) {
	n := distance.Norm(vec)
	if n == 0 {
		return
	}
	inv := 1 / n
	for j := range vec {
		vec[j] *= inv
	}
}

// ExactTopK ranks every row of data against query and returns the best k,
// ties broken by id.
func ExactTopK(m distance.Metric, query, data []float32, dim, k int) []SearchResult {
	ranker := distance.NewRanker(m, dim)
	scores := ranker.Scores(query, data, nil)

	out := make([]SearchResult, len(scores))
	for i, s := range scores {
		out[i] = SearchResult{ID: uint32(i), Score: s}
	}
	slices.SortFunc(out, func(a, b SearchResult) int {
		if c := m.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out[:min(k, len(out))]
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint32]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate[:k] {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// AlmostEqual reports whether a and b differ by at most eps.
func AlmostEqual(a, b, eps float32) bool {
	return math.Abs(float64(a-b)) <= float64(eps)
}
