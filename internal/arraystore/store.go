package arraystore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/hupe1980/ecp/internal/compress"
	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/resource"
)

const (
	magic         = "ECPA"
	formatVersion = 1
	headerSize    = 20
	partPrefix    = "/part-"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Store reads and writes arrays. It is safe for concurrent use; concurrent
// appends to the same key must be serialized by the caller.
//
// The parts of a key are numbered contiguously from zero and are addressed
// by name, so no operation lists the blob store. Part counts are remembered
// once written or discovered; arrays must not be changed behind a Store's
// back by another writer.
type Store struct {
	blobs       blobstore.BlobStore
	compression compress.Type
	rc          *resource.Controller

	mu    sync.Mutex
	parts map[string]int // part count per key
}

// Option configures a Store.
type Option func(*Store)

// WithCompression sets the block compression for new parts.
func WithCompression(t compress.Type) Option {
	return func(s *Store) { s.compression = t }
}

// WithResourceController rate-limits part writes with rc's IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Store) { s.rc = rc }
}

// New creates a Store on top of blobs.
func New(blobs blobstore.BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs:       blobs,
		compression: compress.None,
		parts:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blobstore.BlobStore { return s.blobs }

// Header describes one part.
type Header struct {
	DType       DType
	Compression compress.Type
	Rows        int
	Cols        int
}

// PartName returns the blob name of part n of key.
func PartName(key string, n int) string {
	return fmt.Sprintf("%s%s%06d", key, partPrefix, n)
}

// AppendFloat32 appends rows of a row-major float32 array, stored as dt
// (Float32 or Float16).
func (s *Store) AppendFloat32(ctx context.Context, key string, data []float32, cols int, dt DType) error {
	if dt != Float32 && dt != Float16 {
		return fmt.Errorf("%w: float32 array stored as %s", errs.ErrInvalidArgument, dt)
	}
	rows, err := shape(len(data), cols)
	if err != nil {
		return err
	}
	return s.appendPart(ctx, key, Header{DType: dt, Rows: rows, Cols: cols}, encodeFloat32(nil, data, dt))
}

// AppendUint32 appends values to a one-column uint32 array.
func (s *Store) AppendUint32(ctx context.Context, key string, data []uint32) error {
	return s.appendPart(ctx, key, Header{DType: Uint32, Rows: len(data), Cols: 1}, encodeUint32(nil, data))
}

// PutFloat32 replaces the array with a single part.
func (s *Store) PutFloat32(ctx context.Context, key string, data []float32, cols int, dt DType) error {
	if err := s.Delete(ctx, key); err != nil {
		return err
	}
	return s.AppendFloat32(ctx, key, data, cols, dt)
}

// PutUint32 replaces the array with a single part.
func (s *Store) PutUint32(ctx context.Context, key string, data []uint32) error {
	if err := s.Delete(ctx, key); err != nil {
		return err
	}
	return s.AppendUint32(ctx, key, data)
}

// PutFloat64 overwrites a small fixed record such as a border.
func (s *Store) PutFloat64(ctx context.Context, key string, data []float64) error {
	name := PartName(key, 0)
	part, err := s.encodePart(Header{DType: Float64, Rows: 1, Cols: len(data)}, encodeFloat64(nil, data))
	if err != nil {
		return err
	}
	if err := s.rc.AcquireIO(ctx, len(part)); err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, name, part); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	s.remember(key, 1)
	return nil
}

// ReadFloat32 returns the concatenated rows of a float32 or float16 array
// and its column count.
func (s *Store) ReadFloat32(ctx context.Context, key string) ([]float32, int, error) {
	var (
		out  []float32
		cols int
	)
	err := s.readParts(ctx, key, func(h Header, raw []byte) error {
		if h.DType != Float32 && h.DType != Float16 {
			return fmt.Errorf("%w: %s is %s, want float", errs.ErrCorrupt, key, h.DType)
		}
		if cols != 0 && h.Cols != cols {
			return fmt.Errorf("%w: %s has parts with %d and %d columns", errs.ErrCorrupt, key, cols, h.Cols)
		}
		cols = h.Cols
		out = decodeFloat32(out, raw, h.DType)
		return nil
	})
	return out, cols, err
}

// ReadUint32 returns the concatenated values of a uint32 array.
func (s *Store) ReadUint32(ctx context.Context, key string) ([]uint32, error) {
	var out []uint32
	err := s.readParts(ctx, key, func(h Header, raw []byte) error {
		if h.DType != Uint32 {
			return fmt.Errorf("%w: %s is %s, want uint32", errs.ErrCorrupt, key, h.DType)
		}
		out = decodeUint32(out, raw)
		return nil
	})
	return out, err
}

// ReadFloat64 returns the concatenated values of a float64 array.
func (s *Store) ReadFloat64(ctx context.Context, key string) ([]float64, error) {
	var out []float64
	err := s.readParts(ctx, key, func(h Header, raw []byte) error {
		if h.DType != Float64 {
			return fmt.Errorf("%w: %s is %s, want float64", errs.ErrCorrupt, key, h.DType)
		}
		out = decodeFloat64(out, raw)
		return nil
	})
	return out, err
}

// Exists reports whether key has at least one part.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if n, ok := s.knownParts(key); ok {
		return n > 0, nil
	}
	return s.partExists(ctx, PartName(key, 0))
}

// Parts returns the number of persisted parts of key.
func (s *Store) Parts(ctx context.Context, key string) (int, error) {
	return s.partCount(ctx, key)
}

// Delete removes every part of key, last part first.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.partCount(ctx, key)
	if err != nil {
		return err
	}
	for i := n - 1; i >= 0; i-- {
		name := PartName(key, i)
		if err := s.blobs.Delete(ctx, name); err != nil {
			s.forget(key)
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	s.remember(key, 0)
	return nil
}

func shape(n, cols int) (int, error) {
	if cols <= 0 {
		return 0, fmt.Errorf("%w: columns must be positive, got %d", errs.ErrInvalidArgument, cols)
	}
	if n%cols != 0 {
		return 0, fmt.Errorf("%w: %d values do not fill rows of %d", errs.ErrInvalidArgument, n, cols)
	}
	return n / cols, nil
}

func (s *Store) appendPart(ctx context.Context, key string, h Header, raw []byte) error {
	next, err := s.partCount(ctx, key)
	if err != nil {
		return err
	}

	part, err := s.encodePart(h, raw)
	if err != nil {
		return err
	}
	if err := s.rc.AcquireIO(ctx, len(part)); err != nil {
		return err
	}

	name := PartName(key, next)
	if err := s.blobs.Put(ctx, name, part); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	s.remember(key, next+1)
	return nil
}

func (s *Store) knownParts(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.parts[key]
	return n, ok
}

func (s *Store) remember(key string, n int) {
	s.mu.Lock()
	s.parts[key] = n
	s.mu.Unlock()
}

func (s *Store) forget(key string) {
	s.mu.Lock()
	delete(s.parts, key)
	s.mu.Unlock()
}

// partCount returns the number of parts of key, probing part names in
// order when the count is not yet known.
func (s *Store) partCount(ctx context.Context, key string) (int, error) {
	if n, ok := s.knownParts(key); ok {
		return n, nil
	}
	n := 0
	for {
		ok, err := s.partExists(ctx, PartName(key, n))
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	s.remember(key, n)
	return n, nil
}

func (s *Store) partExists(ctx context.Context, name string) (bool, error) {
	b, err := s.blobs.Open(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %s: %w", name, err)
	}
	_ = b.Close()
	return true, nil
}

func (s *Store) encodePart(h Header, raw []byte) ([]byte, error) {
	block, err := compress.Encode(raw, s.compression)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize, headerSize+len(block))
	copy(out, magic)
	out[4] = formatVersion
	out[5] = byte(h.DType)
	out[6] = byte(s.compression)
	binary.LittleEndian.PutUint32(out[8:], uint32(h.Rows))
	binary.LittleEndian.PutUint32(out[12:], uint32(h.Cols))
	binary.LittleEndian.PutUint32(out[16:], crc32.Checksum(block, castagnoli))
	return append(out, block...), nil
}

// DecodePart validates a part and returns its header and raw payload.
func DecodePart(part []byte) (Header, []byte, error) {
	if len(part) < headerSize || string(part[:4]) != magic {
		return Header{}, nil, fmt.Errorf("%w: bad part header", errs.ErrCorrupt)
	}
	if part[4] != formatVersion {
		return Header{}, nil, fmt.Errorf("%w: unsupported part version %d", errs.ErrCorrupt, part[4])
	}

	h := Header{
		DType:       DType(part[5]),
		Compression: compress.Type(part[6]),
		Rows:        int(binary.LittleEndian.Uint32(part[8:])),
		Cols:        int(binary.LittleEndian.Uint32(part[12:])),
	}
	block := part[headerSize:]
	if crc32.Checksum(block, castagnoli) != binary.LittleEndian.Uint32(part[16:]) {
		return Header{}, nil, fmt.Errorf("%w: checksum mismatch", errs.ErrCorrupt)
	}

	raw, err := compress.Decode(block, h.Compression)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %w", errs.ErrCorrupt, err)
	}
	if want := h.Rows * h.Cols * h.DType.Size(); want != len(raw) || h.DType.Size() == 0 {
		return Header{}, nil, fmt.Errorf("%w: payload is %d bytes, header says %d", errs.ErrCorrupt, len(raw), want)
	}
	return h, raw, nil
}

func (s *Store) readParts(ctx context.Context, key string, fn func(Header, []byte) error) error {
	n, known := s.knownParts(key)
	i := 0
	for ; !known || i < n; i++ {
		name := PartName(key, i)
		part, err := blobstore.ReadAll(ctx, s.blobs, name)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				if !known {
					break
				}
				return fmt.Errorf("%w: part %s", errs.ErrNotFound, name)
			}
			return err
		}
		h, raw, err := DecodePart(part)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := fn(h, raw); err != nil {
			return err
		}
	}
	if !known {
		s.remember(key, i)
	}
	if i == 0 {
		return fmt.Errorf("%w: array %s", errs.ErrNotFound, key)
	}
	return nil
}
