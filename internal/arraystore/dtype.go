package arraystore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// DType is the element type of a stored array.
type DType uint8

const (
	Float32 DType = iota + 1
	Float16
	Float64
	Uint32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Float64:
		return "float64"
	case Uint32:
		return "uint32"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// Size returns the encoded size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32, Uint32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// ParseDType parses an embedding storage type ("float32" or "float16").
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "f32":
		return Float32, nil
	case "float16", "f16":
		return Float16, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if d.Size() == 0 {
		return nil, fmt.Errorf("unsupported dtype %d", uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "float64":
		*d = Float64
		return nil
	case "uint32":
		*d = Uint32
		return nil
	}
	v, err := ParseDType(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func encodeFloat32(dst []byte, src []float32, dt DType) []byte {
	switch dt {
	case Float16:
		for _, v := range src {
			dst = binary.LittleEndian.AppendUint16(dst, float16.Fromfloat32(v).Bits())
		}
	default:
		for _, v := range src {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}
	}
	return dst
}

func decodeFloat32(dst []float32, src []byte, dt DType) []float32 {
	switch dt {
	case Float16:
		for i := 0; i+2 <= len(src); i += 2 {
			dst = append(dst, float16.Frombits(binary.LittleEndian.Uint16(src[i:])).Float32())
		}
	default:
		for i := 0; i+4 <= len(src); i += 4 {
			dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(src[i:])))
		}
	}
	return dst
}

func encodeFloat64(dst []byte, src []float64) []byte {
	for _, v := range src {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
	}
	return dst
}

func decodeFloat64(dst []float64, src []byte) []float64 {
	for i := 0; i+8 <= len(src); i += 8 {
		dst = append(dst, math.Float64frombits(binary.LittleEndian.Uint64(src[i:])))
	}
	return dst
}

func encodeUint32(dst []byte, src []uint32) []byte {
	for _, v := range src {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

func decodeUint32(dst []uint32, src []byte) []uint32 {
	for i := 0; i+4 <= len(src); i += 4 {
		dst = append(dst, binary.LittleEndian.Uint32(src[i:]))
	}
	return dst
}
