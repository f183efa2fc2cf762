// Package metrics declares the Prometheus instruments of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reads_api_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reads_api_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method"},
	)

	// Profiles
	ProfileUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reads_profile_updates_total",
			Help: "Profile updates by signal source",
		},
		[]string{"source"},
	)

	// Recommendations
	RecommendationPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reads_recommendation_passes_total",
			Help: "Recommendation passes by mode; empty when nothing matched",
		},
		[]string{"mode"},
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reads_recommendation_duration_seconds",
			Help:    "Time to score and rank the catalog for one reader",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reads_snapshot_failures_total",
			Help: "Recommendation snapshots that could not be stored",
		},
	)

	// Analyzer
	AnalyzerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reads_analyzer_calls_total",
			Help: "Text analyzer calls by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	AnalyzerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reads_analyzer_duration_seconds",
			Help:    "Text analyzer latency by backend",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reads_analyzer_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	// Catalog
	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reads_catalog_works",
			Help: "Works returned by the last catalog listing",
		},
	)
)

// ObserveRequest records one finished HTTP request
func ObserveRequest(route, method string, status int, elapsed time.Duration) {
	APIRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveAnalyzer records one analyzer call
func ObserveAnalyzer(backend string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	AnalyzerCalls.WithLabelValues(backend, outcome).Inc()
	AnalyzerDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}
