// Package resource bounds the resources an index build and its readers may use.
//
// A Controller tracks three things:
//
//   - Memory: bytes held by the leaf cache (fail-fast, never blocks)
//   - Workers: concurrent assignment tasks (weighted semaphore)
//   - IO: bytes written by leaf flushes per second (token bucket)
//
// All methods accept a nil *Controller and become no-ops, so callers can
// pass resource limits optionally without nil checks.
package resource
