// Package telemetry exposes Prometheus metrics for the screening pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors, registered on a private registry
// so the /metrics endpoint only carries what this process owns.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal *prometheus.CounterVec
	AlertsTotal   *prometheus.CounterVec
	BlocksTotal   prometheus.Counter
	ThreatScore   prometheus.Histogram
	BlockedGauge  prometheus.Gauge
}

// NewMetrics builds and registers the pipeline metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinelle_analyses_total",
			Help: "Analyses performed, by scoring strategy and resulting threat level.",
		}, []string{"strategy", "level"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinelle_alerts_total",
			Help: "Alerts created, by type and severity.",
		}, []string{"type", "severity"}),
		BlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinelle_blocks_total",
			Help: "System block transitions.",
		}),
		ThreatScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinelle_threat_score",
			Help:    "Distribution of fused threat scores.",
			Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 2.5, 3, 4},
		}),
		BlockedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinelle_system_blocked",
			Help: "1 while the system is blocked, 0 otherwise.",
		}),
	}

	registry.MustRegister(m.AnalysesTotal, m.AlertsTotal, m.BlocksTotal, m.ThreatScore, m.BlockedGauge)
	return m
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
