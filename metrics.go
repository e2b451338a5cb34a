package ecp

import (
	"sync/atomic"
	"time"
)

// Build phase names passed to MetricsCollector.RecordBuildPhase.
const (
	PhaseSelect = "select"
	PhaseTree   = "tree"
	PhaseAssign = "assign"
	PhaseCommit = "commit"
)

// MetricsCollector defines an interface for collecting operational metrics.
// PrometheusCollector implements it on top of client_golang.
type MetricsCollector interface {
	// RecordBuildPhase is called after each build phase.
	// err is nil if successful.
	RecordBuildPhase(phase string, duration time.Duration, err error)

	// RecordSearch is called after each search call.
	// leaves is the number of leaf clusters expanded by the call.
	RecordSearch(k, leaves int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuildPhase(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildPhaseCount      atomic.Int64
	BuildPhaseErrors     atomic.Int64
	BuildPhaseTotalNanos atomic.Int64
	SearchCount          atomic.Int64
	SearchErrors         atomic.Int64
	SearchTotalNanos     atomic.Int64
	LeavesExpanded       atomic.Int64
}

// RecordBuildPhase implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuildPhase(_ string, duration time.Duration, err error) {
	b.BuildPhaseCount.Add(1)
	b.BuildPhaseTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildPhaseErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, leaves int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	b.LeavesExpanded.Add(int64(leaves))
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildPhaseCount:  b.BuildPhaseCount.Load(),
		BuildPhaseErrors: b.BuildPhaseErrors.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchAvgNanos:   b.getAvgSearchNanos(),
		LeavesExpanded:   b.LeavesExpanded.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildPhaseCount  int64
	BuildPhaseErrors int64
	SearchCount      int64
	SearchErrors     int64
	SearchAvgNanos   int64
	LeavesExpanded   int64
}
