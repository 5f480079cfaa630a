// Package observability exposes prometheus metrics and health checks
// for the query client, plus the HTTP server that serves them.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Query metrics
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentquery_queries_total",
			Help: "Total number of agent queries by terminal outcome",
		},
		[]string{"outcome"},
	)

	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentquery_query_duration_seconds",
			Help:    "Agent query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	queryQuality = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentquery_query_quality_score",
			Help:    "Quality score reported with successful answers",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	inflightQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentquery_inflight_queries",
			Help: "Number of queries currently in flight",
		},
	)

	// Feedback metrics
	feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentquery_feedback_total",
			Help: "Total number of feedback submissions",
		},
		[]string{"outcome"},
	)

	// Archive metrics
	archiveWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentquery_archive_writes_total",
			Help: "Total number of exchange archive writes",
		},
		[]string{"backend", "outcome"},
	)

	initOnce sync.Once
)

// InitMetrics registers the prometheus collectors. Idempotent.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			queriesTotal,
			queryDuration,
			queryQuality,
			inflightQueries,
			feedbackTotal,
			archiveWritesTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordQuery records one settled query. Outcome is "success",
// "error", or "canceled".
func RecordQuery(outcome string, duration time.Duration) {
	queriesTotal.WithLabelValues(outcome).Inc()
	queryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordQueryQuality records the quality score of a successful answer.
func RecordQueryQuality(score float64) {
	queryQuality.Observe(score)
}

// QueryStarted marks a query in flight; QueryFinished undoes it.
func QueryStarted()  { inflightQueries.Inc() }
func QueryFinished() { inflightQueries.Dec() }

// RecordFeedback records one feedback submission attempt.
func RecordFeedback(outcome string) {
	feedbackTotal.WithLabelValues(outcome).Inc()
}

// RecordArchiveWrite records one archive write attempt.
func RecordArchiveWrite(backend, outcome string) {
	archiveWritesTotal.WithLabelValues(backend, outcome).Inc()
}
