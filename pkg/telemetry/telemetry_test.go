package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics()
	m.AnalysesTotal.WithLabelValues("weighted", "critical").Inc()
	m.AlertsTotal.WithLabelValues("system", "critical").Inc()
	m.BlocksTotal.Inc()
	m.ThreatScore.Observe(2.07)
	m.BlockedGauge.Set(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"sentinelle_analyses_total",
		"sentinelle_alerts_total",
		"sentinelle_blocks_total",
		"sentinelle_threat_score",
		"sentinelle_system_blocked 1",
		"go_goroutines",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %s in /metrics output", metric)
		}
	}
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.BlocksTotal.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rec.Body.String(), "sentinelle_blocks_total 1") {
		t.Fatal("registries must not share state")
	}
}
