// Package metrics exposes Prometheus collectors for the extraction service.
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
	extractorItemsTotal          *prometheus.CounterVec
	extractorAttemptsTotal       *prometheus.CounterVec
	extractorRetryWaitSeconds    *prometheus.HistogramVec
	extractorModelLatencySeconds prometheus.Histogram
	extractorRunsTotal           *prometheus.CounterVec
	extractorActiveRuns          prometheus.Gauge
	extractorRecordsTotal        prometheus.Counter
	extractorSchemaIssuesTotal   prometheus.Counter
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractorItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_items_total",
				Help: "Total number of URLs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		extractorAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_attempts_total",
				Help: "Total number of extraction attempts, labeled by result.",
			},
			[]string{"result"},
		)

		extractorRetryWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_retry_wait_seconds",
				Help:    "Histogram of waits applied between attempts, labeled by error class.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"class"},
		)

		extractorModelLatencySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extractor_model_latency_seconds",
				Help:    "Histogram of extraction service call latencies.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		extractorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_runs_total",
				Help: "Total number of runs finished, labeled by status.",
			},
			[]string{"status"},
		)

		extractorActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_active_runs",
				Help: "Number of runs currently in progress.",
			},
		)

		extractorRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_records_total",
				Help: "Total number of records appended to the output.",
			},
		)

		extractorSchemaIssuesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_schema_issues_total",
				Help: "Total number of advisory schema issues found in persisted records.",
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

// ObserveItem counts a processed URL.
func ObserveItem(outcome string) {
	extractorItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttempt counts one extraction attempt and its call latency.
func ObserveAttempt(result string, latency time.Duration) {
	extractorAttemptsTotal.WithLabelValues(result).Inc()
	if latency > 0 {
		extractorModelLatencySeconds.Observe(latency.Seconds())
	}
}

// ObserveRetryWait records a wait applied before the next attempt.
func ObserveRetryWait(class string, wait time.Duration) {
	extractorRetryWaitSeconds.WithLabelValues(class).Observe(wait.Seconds())
}

// ObserveRun counts a finished run.
func ObserveRun(status string) {
	extractorRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	extractorActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	extractorActiveRuns.Dec()
}

// ObserveRecord counts an appended record and its advisory schema issues.
func ObserveRecord(schemaIssues int) {
	extractorRecordsTotal.Inc()
	if schemaIssues > 0 {
		extractorSchemaIssuesTotal.Add(float64(schemaIssues))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
