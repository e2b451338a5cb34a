// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", "indexes/deep1m")
//
//	idx, err := ecp.Open(ctx, store)
//
// For concurrent builders, wrap the store in a DDBCommitStore so the
// CURRENT manifest pointer is advanced with a DynamoDB conditional write.
//
// # Features
//
//   - Range reads for partial fetches of array parts
//   - Multipart uploads through the S3 transfer manager
//   - Automatic pagination for listing
//   - Key prefix for sharing a bucket between indexes
package s3
