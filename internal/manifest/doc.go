// Package manifest implements atomic manifest persistence for an eCP index.
//
// # Overview
//
// The manifest describes a persisted index: its shape (levels, node size,
// cluster count), the metric and dimension, the storage encoding of its arrays
// and whether the leaves have been populated. Every save writes a new version.
//
// # Atomic Protocol
//
// Save follows a two-phase commit protocol for atomic updates:
//
//  1. Write the manifest blob to MANIFEST-NNNNNN.json (where N is the version ID)
//  2. Update the CURRENT pointer blob to reference the new manifest
//
// On local filesystems, step 2 uses atomic rename. On S3 the pointer can be
// kept in DynamoDB (blobstore/s3.DDBCommitStore), which turns step 2 into a
// conditional write.
//
// Load reads CURRENT to find the active manifest name, then loads that blob.
//
// # Thread Safety
//
// All Store methods are protected by a mutex and safe for concurrent use.
package manifest
