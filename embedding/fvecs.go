package embedding

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/hupe1980/ecp/internal/errs"
	"github.com/hupe1980/ecp/internal/mmap"
)

// FileSource is a Source over a memory-mapped .fvecs file.
//
// Each record is a little-endian int32 dimension followed by that many float32 values.
// All records must share one dimension.
type FileSource struct {
	m      *mmap.File
	dim    int
	n      int
	stride int // bytes per record
}

// OpenFvecs maps an .fvecs file.
func OpenFvecs(path string) (*FileSource, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	data := m.Bytes()
	if len(data) < 4 {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %s is not an fvecs file", errs.ErrInvalidArgument, path)
	}

	dim := int(int32(binary.LittleEndian.Uint32(data)))
	if dim <= 0 {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %s declares dimension %d", errs.ErrInvalidArgument, path, dim)
	}
	stride := 4 + 4*dim
	if len(data)%stride != 0 {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of record size %d", errs.ErrInvalidArgument, path, len(data), stride)
	}

	s := &FileSource{m: m, dim: dim, n: len(data) / stride, stride: stride}
	for i := 0; i < s.n; i++ {
		if d := int(int32(binary.LittleEndian.Uint32(data[i*stride:]))); d != dim {
			_ = m.Close()
			return nil, fmt.Errorf("%s record %d: %w", path, i, errs.CheckDim(dim, d))
		}
	}
	_ = m.Advise(mmap.AccessSequential)
	return s, nil
}

func (s *FileSource) Len() int { return s.n }

func (s *FileSource) Dim() int { return s.dim }

// Close unmaps the file.
func (s *FileSource) Close() error { return s.m.Close() }

func (s *FileSource) appendRow(dst []float32, i int) []float32 {
	rec := s.m.Bytes()[i*s.stride+4 : (i+1)*s.stride]
	for j := 0; j < s.dim; j++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(rec[4*j:])))
	}
	return dst
}

func (s *FileSource) Range(lo, hi int, dst []float32) ([]float32, error) {
	if err := checkRange(lo, hi, s.n); err != nil {
		return dst, err
	}
	if s.m.Bytes() == nil {
		return dst, mmap.ErrClosed
	}
	for i := lo; i < hi; i++ {
		dst = s.appendRow(dst, i)
	}
	return dst, nil
}

func (s *FileSource) Gather(ids []uint32, dst []float32) ([]float32, error) {
	if s.m.Bytes() == nil {
		return dst, mmap.ErrClosed
	}
	for _, id := range ids {
		if int(id) >= s.n {
			return dst, fmt.Errorf("%w: item %d out of range [0, %d)", errs.ErrInvalidArgument, id, s.n)
		}
		dst = s.appendRow(dst, int(id))
	}
	return dst, nil
}

// WriteFvecs writes rows of src to path in .fvecs format.
func WriteFvecs(path string, src Source) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	var buf [4]byte
	row := make([]float32, 0, src.Dim())
	for i := 0; i < src.Len(); i++ {
		row, err = src.Range(i, i+1, row[:0])
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[:], uint32(src.Dim()))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}
