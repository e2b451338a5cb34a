package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/ecp/internal/cache"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the cache block size used when none is given.
const DefaultBlockSize = 64 << 10

// CachingStore wraps a BlobStore and adds block-level read caching.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Inner returns the wrapped store.
func (s *CachingStore) Inner() BlobStore { return s.inner }

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Path == name
	})
}

type cachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	want := p
	if rem := size - off; int64(len(want)) > rem {
		want = want[:rem]
	}

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(want)) - 1) / b.blockSize

	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	total := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize
		lo := max(blkStart, off)
		hi := min(blkStart+b.blockSize, off+int64(len(want)))

		data, err := b.block(ctx, blk)
		if err != nil {
			return total, err
		}
		src := lo - blkStart
		if src >= int64(len(data)) {
			break
		}
		total += copy(want[lo-off:hi-off], data[src:])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// fillCache loads missing blocks in [startBlock, endBlock], fetching each
// contiguous run of misses with a single backend read.
func (b *cachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	type run struct{ start, count int64 }
	var missing []run

	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := b.cache.Get(cache.Key{Path: b.name, Block: uint64(blk)}); ok {
			continue
		}
		if n := len(missing); n > 0 && missing[n-1].start+missing[n-1].count == blk {
			missing[n-1].count++
		} else {
			missing = append(missing, run{blk, 1})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)

	for _, r := range missing {
		g.Go(func() error {
			byteStart := r.start * b.blockSize
			byteSize := min(r.count*b.blockSize, b.Size()-byteStart)
			if byteSize <= 0 {
				return nil
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := int64(0); i < r.count; i++ {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// copy so the cache does not pin the whole run
				blk := append([]byte(nil), buf[lo:hi]...)
				b.cache.Set(cache.Key{Path: b.name, Block: uint64(r.start + i)}, blk)
			}
			return nil
		})
	}
	return g.Wait()
}

// block returns one block, reading through when the cache refused it.
func (b *cachingBlob) block(ctx context.Context, blk int64) ([]byte, error) {
	key := cache.Key{Path: b.name, Block: uint64(blk)}
	if data, ok := b.cache.Get(key); ok {
		return data, nil
	}

	off := blk * b.blockSize
	buf := make([]byte, min(b.blockSize, b.Size()-off))
	n, err := b.inner.ReadAt(ctx, buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]
	if n > 0 {
		b.cache.Set(key, buf)
	}
	return buf, nil
}
