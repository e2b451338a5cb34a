package distance

import (
	"gonum.org/v1/gonum/blas/gonum"
)

var blas gonum.Implementation

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return blas.Sdot(len(a), a, 1, b, 1)
}

// Norm calculates the L2 norm (magnitude) of v.
func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return blas.Snrm2(len(v), v, 1)
}

// L2 calculates the Euclidean distance between a and b.
// scratch must have at least len(a) elements; it is overwritten.
func L2(a, b, scratch []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}
	diff := scratch[:n]
	copy(diff, a)
	blas.Saxpy(n, -1, b, 1, diff, 1)
	return blas.Snrm2(n, diff, 1)
}

// CosineSimilarity calculates the cosine similarity between a and b.
// Returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float32 {
	na := Norm(a)
	nb := Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}
