// Package blobstore provides the storage abstraction behind persisted indexes.
//
// Every index array part, border record and manifest is a named blob.
// Blobs are written whole with Put and read with ranged ReadAt calls.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, reads through mmap
//   - MemoryStore: in-process, for tests and ephemeral indexes
//   - CachingStore: wraps any store with an LRU block cache
//   - s3.Store, s3.DDBCommitStore: Amazon S3 (optionally with DynamoDB commits)
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
