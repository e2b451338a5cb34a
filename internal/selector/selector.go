// Package selector chooses the cluster representatives an eCP tree is built from.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/embedding"
	"github.com/hupe1980/ecp/internal/errs"
)

// Mode is a representative selection strategy.
type Mode int

const (
	// Offset takes every TargetClusterSize-th item starting at 0.
	Offset Mode = iota
	// Random samples TotalClusters distinct items uniformly.
	Random
	// Dissimilar is recognised but not supported.
	Dissimilar
)

func (m Mode) String() string {
	switch m {
	case Offset:
		return "offset"
	case Random:
		return "random"
	case Dissimilar:
		return "dissimilar"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode returns the mode for a textual name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "offset":
		return Offset, nil
	case "random":
		return Random, nil
	case "dissimilar":
		return Dissimilar, nil
	default:
		return 0, fmt.Errorf("%w: unknown selection mode %q", errs.ErrInvalidArgument, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Params are the sizes a selection works with.
type Params struct {
	TotalItems        int
	TargetClusterSize int
	TotalClusters     int
	Seed              int64
	Metric            distance.Metric
}

// Set is an ordered collection of representatives.
// Rank i has item id IDs[i] and embedding row i.
type Set struct {
	IDs        []uint32
	Embeddings []float32
	Dim        int
}

// Len returns the number of representatives.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.IDs)
}

// Row returns the embedding of rank i.
func (s *Set) Row(i int) []float32 { return s.Embeddings[i*s.Dim : (i+1)*s.Dim] }

// Select picks representatives from src.
func Select(ctx context.Context, src embedding.Source, mode Mode, p Params, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if p.TargetClusterSize <= 0 {
		return nil, fmt.Errorf("%w: target cluster size must be positive, got %d", errs.ErrInvalidArgument, p.TargetClusterSize)
	}

	var ids []uint32
	switch mode {
	case Offset:
		for i := 0; i < p.TotalItems; i += p.TargetClusterSize {
			ids = append(ids, uint32(i))
		}
		if len(ids) != p.TotalClusters {
			logger.WarnContext(ctx, "offset selection count differs from total clusters",
				"selected", len(ids),
				"total_clusters", p.TotalClusters,
			)
		}
	case Random:
		if p.TotalClusters > p.TotalItems {
			return nil, fmt.Errorf("%w: %d clusters requested from %d items",
				errs.ErrConfigurationInconsistent, p.TotalClusters, p.TotalItems)
		}
		ids = sample(rand.New(rand.NewSource(p.Seed)), p.TotalItems, p.TotalClusters)
	case Dissimilar:
		return nil, fmt.Errorf("%w: dissimilar selection (metric %s)", errs.ErrUnimplemented, p.Metric)
	default:
		return nil, fmt.Errorf("%w: unknown selection mode %d", errs.ErrInvalidArgument, int(mode))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb, err := src.Gather(ids, make([]float32, 0, len(ids)*src.Dim()))
	if err != nil {
		return nil, fmt.Errorf("read representative embeddings: %w", err)
	}

	logger.InfoContext(ctx, "representatives selected",
		"mode", mode.String(),
		"count", len(ids),
	)
	return &Set{IDs: ids, Embeddings: emb, Dim: src.Dim()}, nil
}

// sample draws k distinct values from [0, n) with a partial Fisher-Yates shuffle.
func sample(r *rand.Rand, n, k int) []uint32 {
	perm := make([]uint32, n)
	for i := range perm {
		perm[i] = uint32(i)
	}
	for i := 0; i < k; i++ {
		j := i + r.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k:k]
}
