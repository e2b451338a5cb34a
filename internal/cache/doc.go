// Package cache provides an LRU cache for immutable blob blocks.
//
// Persisted index arrays are append-only, so a cached block never goes stale
// unless its blob is overwritten or deleted; callers invalidate by path then.
package cache
