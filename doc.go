// Package ecp implements the eCP hierarchical cluster-pruning index for
// approximate nearest-neighbour search over fixed-dimension embeddings.
//
// An index is built in four steps. Representatives are selected from the
// embedding source, organized into an L-level tree, and every item is
// assigned to the leaf cluster its embedding descends to. Queries then walk
// the tree best-first and expand a bounded number of leaf clusters.
//
// # Quick Start
//
//	ctx := context.Background()
//	store := blobstore.NewLocalStore("./index")
//	src, _ := embedding.OpenFvecs("./base.fvecs")
//	defer src.Close()
//
//	b, _ := ecp.NewBuilder(store, src, ecp.BuildParams{
//	    Levels:            2,
//	    TargetClusterSize: 100,
//	    Metric:            distance.MetricL2,
//	})
//	_ = b.SelectRepresentatives(ctx)
//	_ = b.BuildTree(ctx)
//	_ = b.AssignConcurrent(ctx, ecp.AssignOptions{})
//	_, _ = b.Commit(ctx)
//
//	idx, _ := ecp.Open(ctx, store)
//	defer idx.Close()
//	results, _ := idx.Search(ctx, query, 8, 10)
//
// # Incremental Search
//
// A Searcher keeps its frontier between calls. Calling Search again with the
// same query and restart=false expands further leaves and refines the
// previous answer:
//
//	s := idx.NewSearcher()
//	first, _ := s.Search(ctx, query, 4, 10, true)
//	wider, _ := s.Search(ctx, query, 4, 10, false)
//
// # Storage
//
// Index arrays live in a blobstore.BlobStore: the local filesystem, memory,
// S3 (with an optional DynamoDB commit store for the CURRENT pointer) or
// MinIO. Arrays are written as append-only parts, optionally compressed
// with LZ4 or Zstandard, and embeddings may be stored as float16.
package ecp
