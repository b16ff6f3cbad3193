// Package metrics defines the Prometheus collectors of the orientation
// engine and the /metrics handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Simulation outcomes used as the "result" label.
const (
	ResultOK      = "ok"
	ResultCached  = "cached"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	SimulationsTotal    *prometheus.CounterVec
	SimulationDuration  prometheus.Histogram
	SimulationOverrides prometheus.Histogram

	RankingRebuildsTotal   *prometheus.CounterVec
	RankingRebuildDuration prometheus.Histogram
	RankingSectionSize     *prometheus.GaugeVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SimulationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orientation_simulations_total",
			Help: "Simulations by result",
		}, []string{"result"}),
		SimulationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orientation_simulation_duration_seconds",
			Help:    "Simulation latency including data fetches",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		SimulationOverrides: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orientation_simulation_overrides",
			Help:    "Number of overrides per simulation",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		}),

		RankingRebuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orientation_ranking_rebuilds_total",
			Help: "Section ranking rebuilds by status",
		}, []string{"status"}),
		RankingRebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orientation_ranking_rebuild_duration_seconds",
			Help:    "Duration of a full ranking rebuild run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		RankingSectionSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orientation_ranking_section_students",
			Help: "Students in the last built standings of a section",
		}, []string{"section"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orientation_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orientation_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSimulation records one simulation.
func (m *Metrics) ObserveSimulation(result string, overrides int, d time.Duration) {
	if m == nil {
		return
	}
	m.SimulationsTotal.WithLabelValues(result).Inc()
	m.SimulationDuration.Observe(d.Seconds())
	if result != ResultInvalid {
		m.SimulationOverrides.Observe(float64(overrides))
	}
}

// ObserveRebuild records one ranking rebuild run.
func (m *Metrics) ObserveRebuild(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RankingRebuildsTotal.WithLabelValues(status).Inc()
	m.RankingRebuildDuration.Observe(d.Seconds())
}

// SetSectionSize records the number of students in a section's standings.
func (m *Metrics) SetSectionSize(section string, n int) {
	if m == nil {
		return
	}
	m.RankingSectionSize.WithLabelValues(section).Set(float64(n))
}
