// Package embedding provides the vector sources an index is built from.
package embedding

import (
	"fmt"

	"github.com/hupe1980/ecp/internal/errs"
)

// Source is a read-only collection of fixed-dimension embeddings addressed
// by item id (the row number). Implementations must be safe for concurrent reads.
type Source interface {
	// Len returns the number of items.
	Len() int
	// Dim returns the embedding dimension.
	Dim() int
	// Range appends rows [lo, hi) in row-major order to dst.
	Range(lo, hi int, dst []float32) ([]float32, error)
	// Gather appends the rows of ids, in the given order, to dst.
	Gather(ids []uint32, dst []float32) ([]float32, error)
}

// Matrix is an in-memory Source over a row-major slice.
type Matrix struct {
	data []float32
	dim  int
}

// NewMatrix wraps data as rows of dim values. data is not copied.
func NewMatrix(data []float32, dim int) (*Matrix, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", errs.ErrInvalidArgument, dim)
	}
	if len(data)%dim != 0 {
		return nil, fmt.Errorf("%w: %d values do not fill rows of %d", errs.ErrInvalidArgument, len(data), dim)
	}
	return &Matrix{data: data, dim: dim}, nil
}

// FromRows copies rows into a Matrix. All rows must have the same length.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", errs.ErrInvalidArgument)
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for _, r := range rows {
		if err := errs.CheckDim(dim, len(r)); err != nil {
			return nil, err
		}
		data = append(data, r...)
	}
	return NewMatrix(data, dim)
}

func (m *Matrix) Len() int { return len(m.data) / m.dim }

func (m *Matrix) Dim() int { return m.dim }

// Row returns row i without copying.
func (m *Matrix) Row(i int) []float32 { return m.data[i*m.dim : (i+1)*m.dim] }

// Data returns the backing slice.
func (m *Matrix) Data() []float32 { return m.data }

func (m *Matrix) Range(lo, hi int, dst []float32) ([]float32, error) {
	if err := checkRange(lo, hi, m.Len()); err != nil {
		return dst, err
	}
	return append(dst, m.data[lo*m.dim:hi*m.dim]...), nil
}

func (m *Matrix) Gather(ids []uint32, dst []float32) ([]float32, error) {
	n := m.Len()
	for _, id := range ids {
		if int(id) >= n {
			return dst, fmt.Errorf("%w: item %d out of range [0, %d)", errs.ErrInvalidArgument, id, n)
		}
		dst = append(dst, m.Row(int(id))...)
	}
	return dst, nil
}

func checkRange(lo, hi, n int) error {
	if lo < 0 || hi > n || lo > hi {
		return fmt.Errorf("%w: range [%d, %d) outside [0, %d)", errs.ErrInvalidArgument, lo, hi, n)
	}
	return nil
}
