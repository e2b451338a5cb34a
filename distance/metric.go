package distance

import (
	"cmp"
	"fmt"
	"math"
	"strings"
)

// Metric represents the scoring rule used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricDot
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricDot:
		return "IP"
	case MetricCosine:
		return "cos"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Valid reports whether m is one of the supported metrics.
func (m Metric) Valid() bool {
	return m == MetricL2 || m == MetricDot || m == MetricCosine
}

// Parse returns the metric for a textual name.
// Accepted names are "L2", "IP", "dot", "cos" and "cosine" (case-insensitive).
func Parse(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2", "euclidean":
		return MetricL2, nil
	case "ip", "dot":
		return MetricDot, nil
	case "cos", "cosine":
		return MetricCosine, nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unsupported metric %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// LowerIsBetter reports whether smaller raw scores rank first.
func (m Metric) LowerIsBetter() bool { return m == MetricL2 }

// Compare orders two raw scores best-first.
// It returns a negative number when a ranks before b.
func (m Metric) Compare(a, b float32) int {
	if m.LowerIsBetter() {
		return cmp.Compare(a, b)
	}
	return cmp.Compare(b, a)
}

// Better reports whether a ranks strictly before b.
func (m Metric) Better(a, b float32) bool { return m.Compare(a, b) < 0 }

// EmptyBorder is the border score of a node that holds nothing yet.
// Any real score replaces it on the first insert.
func (m Metric) EmptyBorder() float32 {
	if m.LowerIsBetter() {
		return float32(math.Inf(-1))
	}
	return float32(math.Inf(1))
}

// ExceedsBorder reports whether score is less favorable than the current border,
// i.e. whether it should become the new border.
func (m Metric) ExceedsBorder(border, score float32) bool {
	if m.LowerIsBetter() {
		return score > border
	}
	return score < border
}

// Extremum returns the position and value of the least favorable score:
// the maximum for L2 and the minimum for IP and cosine.
// Ties resolve to the first position. An empty slice yields (-1, EmptyBorder()).
func (m Metric) Extremum(scores []float32) (int, float32) {
	idx, border := -1, m.EmptyBorder()
	for i, s := range scores {
		if idx < 0 || m.ExceedsBorder(border, s) {
			idx, border = i, s
		}
	}
	return idx, border
}

// Adjust combines a child's raw score with its parent's border score.
// L2 subtracts the border and the similarity metrics add it, which makes the
// adjusted value an optimistic estimate for anything below the child.
func (m Metric) Adjust(raw, border float32) float32 {
	if m.LowerIsBetter() {
		return raw - border
	}
	return raw + border
}
