// Package compress implements the block compression used for persisted index arrays.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None stores blocks uncompressed.
	None Type = 0
	// LZ4 is fast block compression, good for hot data.
	LZ4 Type = 1
	// ZSTD has a better ratio, good for cold data.
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Parse returns the compression type for a name ("", "none", "lz4", "zstd").
func Parse(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("unsupported compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize == 0 means the data is stored as-is.
const headerSize = 8

var (
	errShortBlock    = errors.New("compress: block too small")
	errSizeMismatch  = errors.New("compress: decompressed size mismatch")
)

// Encode compresses data with the given algorithm and prepends the block header.
// Data that does not shrink below 90% of its size is stored uncompressed.
func Encode(data []byte, t Type) ([]byte, error) {
	var compressed []byte
	var err error

	switch t {
	case LZ4:
		compressed, err = encodeLZ4(data)
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case None:
	default:
		return nil, fmt.Errorf("compress: unsupported type %d", t)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

func encodeLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

// Decode reverses Encode. t must be the type the block was written with.
func Decode(block []byte, t Type) ([]byte, error) {
	if len(block) < headerSize {
		return nil, errShortBlock
	}

	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])

	if compressedSize == 0 {
		if uint32(len(block)) < headerSize+uncompressedSize {
			return nil, errShortBlock
		}
		return block[headerSize : headerSize+uncompressedSize], nil
	}

	if uint32(len(block)) < headerSize+compressedSize {
		return nil, errShortBlock
	}
	payload := block[headerSize : headerSize+compressedSize]
	out := make([]byte, uncompressedSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errSizeMismatch
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(payload, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errSizeMismatch
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("compress: compressed block with type %s", t)
	}
}
