// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible systems (Ceph, SeaweedFS, Garage)
// and needs no AWS configuration.
//
// # Basic Usage
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "indexes",
//	    Prefix:    "deep1m",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	idx, err := ecp.Open(ctx, store)
package minio
