// Package metrics exposes the ledger core's operational counters via a
// real Prometheus registry, replacing a hand-rolled counter/gauge/
// histogram exporter with github.com/prometheus/client_golang.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the registered set of Prometheus collectors for the ledger
// core. Fields are exported collectors rather than wrapped accessors;
// callers use the native WithLabelValues()/Observe()/Inc() API directly.
type Metrics struct {
	registry *prometheus.Registry

	SyncDuration     *prometheus.HistogramVec
	SyncConflicts    *prometheus.CounterVec
	SyncAttempts     *prometheus.CounterVec
	MergeEntities    *prometheus.CounterVec
	ClassifierScore  *prometheus.HistogramVec
	ClassifierSource *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	LLMHealthy       *prometheus.GaugeVec
	AuditDropped     prometheus.Counter
	AuditWritten     prometheus.Counter
	CacheHits        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New builds a fresh registry and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgercore",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of a full sync round trip (pull, merge, apply, push).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		SyncConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Field-level conflicts surfaced by the merge kernel, by entity kind.",
		}, []string{"entity_kind"}),

		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Sync attempts, by outcome (success, skipped, error).",
		}, []string{"outcome"}),

		MergeEntities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "merge",
			Name:      "entities_total",
			Help:      "Entities processed by the merge kernel, by entity kind and resolution branch.",
		}, []string{"entity_kind", "branch"}),

		ClassifierScore: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgercore",
			Subsystem: "classifier",
			Name:      "confidence",
			Help:      "Confidence of the winning prediction.",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 0.95, 1.0},
		}, []string{"source"}),

		ClassifierSource: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "classifier",
			Name:      "predictions_total",
			Help:      "Predictions made, by winning source (local, llm).",
		}, []string{"source"}),

		LLMLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgercore",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of calls to the LLM classification provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		LLMHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledgercore",
			Subsystem: "llm",
			Name:      "provider_healthy",
			Help:      "1 if the last health probe succeeded, 0 otherwise.",
		}, []string{"provider"}),

		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Audit events dropped because the buffer was full.",
		}),

		AuditWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "audit",
			Name:      "events_written_total",
			Help:      "Audit events successfully flushed to the sink.",
		}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Read-cache lookups, by key category (books, entries, categories, fx) and result (hit, miss).",
		}, []string{"category", "result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status class.",
		}, []string{"route", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgercore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
