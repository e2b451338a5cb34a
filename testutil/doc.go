// Package testutil provides testing utilities for ecp.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors, computing exact
// nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	data := rng.UniformMatrix(1000, 8) // row-major, values in [0, 1)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.ExactTopK(distance.MetricL2, query, data, dim, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
