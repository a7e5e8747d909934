// Package metrics exposes the pipeline's Prometheus instruments. Instrument
// names are contractual — a rewrite must preserve them for scraper
// compatibility.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter, gauge, and histogram the pipeline emits,
// registered against its own prometheus.Registry so tests can spin up an
// isolated instance instead of sharing the global default registry.
type Registry struct {
	reg *prometheus.Registry

	rowsProcessed       *prometheus.CounterVec
	errors              *prometheus.CounterVec
	latency             *prometheus.HistogramVec
	throttleEvents      *prometheus.CounterVec
	retryLatency        *prometheus.HistogramVec
	tokensRemaining     *prometheus.GaugeVec
	quotaPerMinute      *prometheus.GaugeVec
	outlierDetected     *prometheus.CounterVec
}

// New constructs and registers every instrument.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		rowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_processed_total",
			Help: "Number of records successfully upserted, by source",
		}, []string{"source"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_errors_total",
			Help: "Number of errors encountered during extraction or loading",
		}, []string{"source", "type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_latency_seconds",
			Help:    "Latency of a pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		throttleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_events_total",
			Help: "Number of times a source's rate gate denied admission",
		}, []string{"source"}),
		retryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retry_latency_seconds",
			Help:    "Time spent sleeping after a throttle before retrying admission",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		}, []string{"source"}),
		tokensRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokens_remaining",
			Help: "Current token count in a source's bucket",
		}, []string{"source"}),
		quotaPerMinute: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quota_requests_per_minute",
			Help: "Configured requests-per-minute quota for a source",
		}, []string{"source"}),
		outlierDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlier_detected_total",
			Help: "Number of records flagged by the outlier detector (metered only, never dropped)",
		}, []string{"field", "type", "symbol"}),
	}

	reg.MustRegister(
		r.rowsProcessed,
		r.errors,
		r.latency,
		r.throttleEvents,
		r.retryLatency,
		r.tokensRemaining,
		r.quotaPerMinute,
		r.outlierDetected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler returns the Prometheus text-exposition HTTP handler for this
// registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncRowsProcessed(source string, n int) {
	r.rowsProcessed.WithLabelValues(source).Add(float64(n))
}

func (r *Registry) IncErrors(source, errType string) {
	r.errors.WithLabelValues(source, errType).Inc()
}

func (r *Registry) ObserveLatency(stage string, seconds float64) {
	r.latency.WithLabelValues(stage).Observe(seconds)
}

func (r *Registry) IncThrottleEvents(source string) {
	r.throttleEvents.WithLabelValues(source).Inc()
}

func (r *Registry) ObserveRetryLatency(source string, seconds float64) {
	r.retryLatency.WithLabelValues(source).Observe(seconds)
}

func (r *Registry) SetTokensRemaining(source string, tokens float64) {
	r.tokensRemaining.WithLabelValues(source).Set(tokens)
}

func (r *Registry) SetQuotaRequestsPerMinute(source string, rpm float64) {
	r.quotaPerMinute.WithLabelValues(source).Set(rpm)
}

func (r *Registry) IncOutlierDetected(field, outlierType, symbol string) {
	r.outlierDetected.WithLabelValues(field, outlierType, symbol).Inc()
}
