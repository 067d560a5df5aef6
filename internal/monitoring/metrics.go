// Package monitoring exposes Prometheus metrics for the registry:
// write-pipeline outcomes, search latency and notification fan-out.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the registry.
type Metrics struct {
	// Write pipeline
	WritesTotal    *prometheus.CounterVec // stage outcome per write: committed, skipped_bare, degraded, failed
	WriteDuration  prometheus.Histogram
	DegradedWrites prometheus.Counter

	// Search
	SearchesTotal  prometheus.Counter
	SearchDuration prometheus.Histogram

	// Sync
	SyncsTotal prometheus.Counter

	// Index
	IndexedSkills prometheus.Gauge

	// Notification hub
	WSConnections prometheus.Gauge
	Broadcasts    prometheus.Counter
	SendFailures  prometheus.Counter
}

// New creates the metric set on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use their own
// registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_writes_total",
				Help: "Skill writes by outcome",
			},
			[]string{"outcome"},
		),
		WriteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "registry_write_duration_seconds",
				Help:    "End-to-end skill write duration",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		DegradedWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_degraded_writes_total",
				Help: "Writes that committed to the store but failed index upsert",
			},
		),
		SearchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_searches_total",
				Help: "Semantic searches served",
			},
		),
		SearchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "registry_search_duration_seconds",
				Help:    "Semantic search duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
			},
		),
		SyncsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_syncs_total",
				Help: "Agent sync requests served",
			},
		),
		IndexedSkills: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "registry_indexed_skills",
				Help: "Documents currently in the semantic index",
			},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "registry_ws_connections",
				Help: "Open WebSocket connections",
			},
		),
		Broadcasts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_ws_broadcasts_total",
				Help: "Events fanned out to connected agents",
			},
		),
		SendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_ws_send_failures_total",
				Help: "Failed WebSocket sends (logged, never raised)",
			},
		),
	}
}

// ObserveWrite records one write outcome with its duration.
func (m *Metrics) ObserveWrite(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(outcome).Inc()
	m.WriteDuration.Observe(time.Since(start).Seconds())
}

// ObserveSearch records one search with its duration.
func (m *Metrics) ObserveSearch(start time.Time) {
	if m == nil {
		return
	}
	m.SearchesTotal.Inc()
	m.SearchDuration.Observe(time.Since(start).Seconds())
}
