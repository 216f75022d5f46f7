package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the validation engine
type Metrics struct {
	// Pipeline metrics
	ValidationsTotal    *prometheus.CounterVec
	ValidationDuration  *prometheus.HistogramVec
	ViolationsTotal     *prometheus.CounterVec
	RuleEvaluationsTotal *prometheus.CounterVec
	RuleFailuresTotal   *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheEntries     *prometheus.GaugeVec

	// System invariant sweeps
	SystemSweepsTotal     *prometheus.CounterVec
	SystemSweepDuration   prometheus.Histogram
	SystemViolationsFound prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_validations_total",
				Help: "Total number of entity validations",
			},
			[]string{"operation", "entity_type", "outcome"},
		),
		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_validation_duration_seconds",
				Help:    "Entity validation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "entity_type"},
		),
		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_violations_total",
				Help: "Total number of violations reported",
			},
			[]string{"kind", "severity"},
		),
		RuleEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rule_evaluations_total",
				Help: "Total number of business rule evaluations",
			},
			[]string{"rule", "outcome"},
		),
		RuleFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rule_failures_total",
				Help: "Total number of rules that faulted during evaluation",
			},
			[]string{"rule"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of validation cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of validation cache misses",
			},
			[]string{"cache"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_cache_entries",
				Help: "Current number of validation cache entries",
			},
			[]string{"cache"},
		),
		SystemSweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_system_sweeps_total",
				Help: "Total number of system invariant sweeps",
			},
			[]string{"outcome"},
		),
		SystemSweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_system_sweep_duration_seconds",
				Help:    "System invariant sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SystemViolationsFound: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_system_violations_found",
				Help: "Violations found by the most recent system invariant sweep",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.ValidationsTotal,
		m.ValidationDuration,
		m.ViolationsTotal,
		m.RuleEvaluationsTotal,
		m.RuleFailuresTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.SystemSweepsTotal,
		m.SystemSweepDuration,
		m.SystemViolationsFound,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
