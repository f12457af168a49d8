// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestRunsTotal            *prometheus.CounterVec
	ingestItemsUpsertedTotal   prometheus.Counter
	ingestEnrichFailuresTotal  prometheus.Counter
	ingestStepDurationSeconds  *prometheus.HistogramVec
	ingestActiveRuns           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total number of finished scrape runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		ingestItemsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_items_upserted_total",
				Help: "Total number of item rows written by batch upserts.",
			},
		)

		ingestEnrichFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_enrich_failures_total",
				Help: "Total number of candidates whose detail enrichment failed.",
			},
		)

		ingestStepDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_step_duration_seconds",
				Help:    "Histogram of orchestration step durations, labeled by step.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"step"},
		)

		ingestActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_runs",
				Help: "Number of runs currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRunFinished increments the run counter for the given terminal status.
func ObserveRunFinished(status string) {
	ingestRunsTotal.WithLabelValues(status).Inc()
}

// ObserveItemsUpserted records rows written by one batch upsert.
func ObserveItemsUpserted(n int) {
	if n > 0 {
		ingestItemsUpsertedTotal.Add(float64(n))
	}
}

// ObserveEnrichFailure increments the enrichment failure counter.
func ObserveEnrichFailure() {
	ingestEnrichFailuresTotal.Inc()
}

// ObserveStep records the duration of one orchestration step.
func ObserveStep(step string, duration time.Duration) {
	ingestStepDurationSeconds.WithLabelValues(step).Observe(duration.Seconds())
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	ingestActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	ingestActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
