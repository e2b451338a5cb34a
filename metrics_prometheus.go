package ecp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports build and search metrics to Prometheus.
type PrometheusCollector struct {
	phaseDuration  *prometheus.HistogramVec
	phaseErrors    *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searchErrors   prometheus.Counter
	leavesExpanded prometheus.Histogram
}

// NewPrometheusCollector registers the index metrics with reg.
// A nil reg selects prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ecp_build_phase_duration_seconds",
				Help:    "Duration of index build phases in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"phase"},
		),
		phaseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecp_build_phase_errors_total",
				Help: "Total number of failed index build phases",
			},
			[]string{"phase"},
		),
		searchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ecp_search_duration_seconds",
				Help:    "Duration of search calls in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		searchErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ecp_search_errors_total",
				Help: "Total number of failed search calls",
			},
		),
		leavesExpanded: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ecp_search_leaves_expanded",
				Help:    "Leaf clusters expanded per search call",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
}

// RecordBuildPhase implements MetricsCollector.
func (p *PrometheusCollector) RecordBuildPhase(phase string, duration time.Duration, err error) {
	p.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		p.phaseErrors.WithLabelValues(phase).Inc()
	}
}

// RecordSearch implements MetricsCollector.
func (p *PrometheusCollector) RecordSearch(_ int, leaves int, duration time.Duration, err error) {
	p.searchDuration.Observe(duration.Seconds())
	p.leavesExpanded.Observe(float64(leaves))
	if err != nil {
		p.searchErrors.Inc()
	}
}
