package ecp

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/ecp/blobstore"
	miniostore "github.com/hupe1980/ecp/blobstore/minio"
	s3store "github.com/hupe1980/ecp/blobstore/s3"
)

// OpenStore creates the blob store described by s. Remote clients are
// created from the default AWS credential chain or the static MinIO keys;
// no request is made until the store is used.
func (s *StorageConfig) OpenStore(ctx context.Context) (blobstore.BlobStore, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(s.Backend) {
	case BackendMemory:
		return blobstore.NewMemoryStore(), nil
	case BackendS3:
		if s.DynamoDBTable != "" {
			store, err := s3store.NewWithCommits(ctx, s.Bucket, s.Prefix, s.DynamoDBTable)
			if err != nil {
				return nil, fmt.Errorf("open s3 store: %w", err)
			}
			return store, nil
		}
		var optFns []func(*s3.Options)
		if s.Region != "" {
			optFns = append(optFns, func(o *s3.Options) { o.Region = s.Region })
		}
		store, err := s3store.New(ctx, s.Bucket, s.Prefix, optFns...)
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil
	case BackendMinIO:
		store, err := miniostore.New(miniostore.Config{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Secure:    s.Secure,
			Region:    s.Region,
			Bucket:    s.Bucket,
			Prefix:    s.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open minio store: %w", err)
		}
		return store, nil
	default:
		return blobstore.NewLocalStore(s.Path), nil
	}
}
