// Package metrics provides Prometheus metrics export for the turn pipeline.
package metrics

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports turn-processing metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Turn metrics
	turnLatency *prometheus.HistogramVec
	turnsTotal  *prometheus.CounterVec
	turnsActive prometheus.Gauge

	// Phase metrics
	phaseLatency *prometheus.HistogramVec

	// LLM metrics
	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmInFlight prometheus.Gauge

	// Outcome parsing metrics
	parseOutcomes *prometheus.CounterVec

	// Rate limiting metrics
	rateLimitRejections *prometheus.CounterVec

	// Journey-log write metrics
	storeWrites *prometheus.CounterVec

	// Memory spark fetches
	sparkFetches *prometheus.CounterVec

	// Audit store metrics
	auditEntries   prometheus.Gauge
	auditEvictions *prometheus.CounterVec

	mu sync.RWMutex
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{
		registry: registry,
	}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	e.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "turns_total",
			Help:      "Total number of processed turns",
		},
		[]string{"outcome"},
	)

	e.turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "turns_active",
			Help:      "Number of turns currently in flight",
		},
	)

	e.phaseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "phase_latency_seconds",
			Help:      "Per-phase latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"phase"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "llm_latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "provider"},
	)

	e.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"model", "status"},
	)

	e.llmInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "llm_in_flight",
			Help:      "LLM calls currently holding a concurrency permit",
		},
	)

	e.parseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "outcome_parses_total",
			Help:      "Outcome parse results by conformance class",
		},
		[]string{"result"},
	)

	e.rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "rate_limit_rejections_total",
			Help:      "Turns rejected by the per-character rate limiter",
		},
		[]string{"gate"},
	)

	e.storeWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "journeylog_writes_total",
			Help:      "Journey-log write attempts by subsystem and status",
		},
		[]string{"subsystem", "status"},
	)

	e.sparkFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "memory_spark_fetches_total",
			Help:      "Random POI fetches for memory sparks",
		},
		[]string{"status"},
	)

	e.auditEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "audit_entries",
			Help:      "Turn records currently held by the audit store",
		},
	)

	e.auditEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taleweaver",
			Subsystem: "game",
			Name:      "audit_evictions_total",
			Help:      "Turn records evicted from the audit store",
		},
		[]string{"reason"},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turnsTotal,
		e.turnsActive,
		e.phaseLatency,
		e.llmLatency,
		e.llmRequests,
		e.llmInFlight,
		e.parseOutcomes,
		e.rateLimitRejections,
		e.storeWrites,
		e.sparkFetches,
		e.auditEntries,
		e.auditEvictions,
	)

	return e
}

// RecordTurn records a completed turn with its outcome classification.
func (e *PrometheusExporter) RecordTurn(outcome string, latency time.Duration) {
	e.turnsTotal.WithLabelValues(outcome).Inc()
	e.turnLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// TurnStarted increments the in-flight turn gauge.
func (e *PrometheusExporter) TurnStarted() {
	e.turnsActive.Inc()
}

// TurnFinished decrements the in-flight turn gauge.
func (e *PrometheusExporter) TurnFinished() {
	e.turnsActive.Dec()
}

// RecordPhase records a single phase latency.
func (e *PrometheusExporter) RecordPhase(phase string, latency time.Duration) {
	e.phaseLatency.WithLabelValues(phase).Observe(latency.Seconds())
}

// RecordLLMRequest records an LLM request with its latency.
func (e *PrometheusExporter) RecordLLMRequest(model, provider string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.llmRequests.WithLabelValues(model, status).Inc()
	e.llmLatency.WithLabelValues(model, provider).Observe(latency.Seconds())
}

// LLMCallStarted increments the in-flight LLM gauge (permit held).
func (e *PrometheusExporter) LLMCallStarted() {
	e.llmInFlight.Inc()
}

// LLMCallFinished decrements the in-flight LLM gauge (permit released).
func (e *PrometheusExporter) LLMCallFinished() {
	e.llmInFlight.Dec()
}

// RecordParse records an outcome parse result: valid, decode_error or
// schema_error.
func (e *PrometheusExporter) RecordParse(result string) {
	e.parseOutcomes.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection records a rejected admission, gate is
// "character" or "llm".
func (e *PrometheusExporter) RecordRateLimitRejection(gate string) {
	e.rateLimitRejections.WithLabelValues(gate).Inc()
}

// RecordStoreWrite records a journey-log write attempt.
func (e *PrometheusExporter) RecordStoreWrite(subsystem string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	e.storeWrites.WithLabelValues(subsystem, status).Inc()
}

// RecordSparkFetch records a memory-spark fetch attempt.
func (e *PrometheusExporter) RecordSparkFetch(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	e.sparkFetches.WithLabelValues(status).Inc()
}

// SetAuditEntries sets the current audit store size.
func (e *PrometheusExporter) SetAuditEntries(count int) {
	e.auditEntries.Set(float64(count))
}

// RecordAuditEviction records an eviction, reason is "expired" or
// "capacity".
func (e *PrometheusExporter) RecordAuditEviction(reason string) {
	e.auditEvictions.WithLabelValues(reason).Inc()
}

// GetHandler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) GetHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return e.GetHandler()
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.GetHandler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

// Snapshot captures a snapshot of all metrics for debugging.
func (e *PrometheusExporter) Snapshot() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := make(map[string]interface{})
	snapshot["timestamp"] = time.Now().Unix()
	gatherResult, err := e.registry.Gather()
	if err != nil {
		slog.Error("metrics: failed to gather", "error", err)
	}
	snapshot["registry"] = gatherResult

	return snapshot
}
