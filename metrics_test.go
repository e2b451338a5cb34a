package ecp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ecp"
	"github.com/hupe1980/ecp/distance"
)

func TestBasicMetricsCollector(t *testing.T) {
	var m ecp.BasicMetricsCollector
	m.RecordBuildPhase(ecp.PhaseSelect, time.Millisecond, nil)
	m.RecordBuildPhase(ecp.PhaseTree, time.Millisecond, errors.New("boom"))
	m.RecordSearch(10, 3, 2*time.Millisecond, nil)
	m.RecordSearch(10, 1, 4*time.Millisecond, errors.New("boom"))

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats.BuildPhaseCount)
	assert.Equal(t, int64(1), stats.BuildPhaseErrors)
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SearchErrors)
	assert.Equal(t, int64(4), stats.LeavesExpanded)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), stats.SearchAvgNanos)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := ecp.NewPrometheusCollector(reg)

	ctx := context.Background()
	src := source(t, 300, 4)
	idx := buildIndex(t, src, ecp.BuildParams{Levels: 2, TargetClusterSize: 30, Metric: distance.MetricL2},
		ecp.WithMetricsCollector(collector))

	_, err := idx.Search(ctx, src.Row(1), 3, 5)
	require.NoError(t, err)
	_, err = idx.Search(ctx, src.Row(1), 3, 0)
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetHistogram() != nil:
				byName[mf.GetName()] += float64(metric.GetHistogram().GetSampleCount())
			case metric.GetCounter() != nil:
				byName[mf.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 4.0, byName["ecp_build_phase_duration_seconds"])
	assert.Equal(t, 2.0, byName["ecp_search_duration_seconds"])
	assert.Equal(t, 2.0, byName["ecp_search_leaves_expanded"])
	assert.Equal(t, 1.0, byName["ecp_search_errors_total"])
	assert.Zero(t, byName["ecp_build_phase_errors_total"])
}
