package ecp

import (
	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/compress"
	"github.com/hupe1980/ecp/internal/resource"
	"github.com/hupe1980/ecp/internal/selector"
)

// SelectionMode chooses how representatives are drawn from the items.
type SelectionMode = selector.Mode

const (
	// SelectOffset takes every TargetClusterSize-th item.
	SelectOffset = selector.Offset
	// SelectRandom draws a seeded uniform sample without replacement.
	SelectRandom = selector.Random
	// SelectDissimilar is recognised but returns ErrUnimplemented.
	SelectDissimilar = selector.Dissimilar
)

// ParseSelectionMode parses "offset", "random" or "dissimilar".
func ParseSelectionMode(s string) (SelectionMode, error) { return selector.ParseMode(s) }

// Compression is the block compression of persisted arrays.
type Compression = compress.Type

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// DType is the storage type of persisted embeddings.
type DType = arraystore.DType

const (
	Float32 = arraystore.Float32
	Float16 = arraystore.Float16
)

// ResourceConfig limits memory, assignment workers and flush throughput.
type ResourceConfig = resource.Config
