// Package metrics exposes Prometheus instrumentation for terrain lookups,
// analysis runs and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flightassure"

var (
	// Terrain
	ElevationLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elevation_lookups_total",
			Help:      "Elevation lookups by the source that answered (cache, primary, secondary, fallback)",
		},
		[]string{"source"},
	)

	ElevationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elevation_primary_retries_total",
			Help:      "Primary terrain source retries",
		},
	)

	ElevationCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elevation_cache_entries",
			Help:      "Current number of memoised elevation cells",
		},
	)

	// Analysis
	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Analysis runs by type and final state",
		},
		[]string{"type", "state"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analysis runs",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	AnalysisCells = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_cells_total",
			Help:      "Grid cells checked, by outcome (visible, obstructed, failed)",
		},
		[]string{"outcome"},
	)

	AnalysisInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_in_flight",
			Help:      "1 while an analysis is running",
		},
	)

	LOSChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "los_checks_total",
			Help:      "Point-to-point line of sight checks by result",
		},
		[]string{"result"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_websocket_clients",
			Help:      "Connected progress stream clients",
		},
	)
)

// RecordElevation counts one answered elevation lookup.
func RecordElevation(source string) {
	ElevationLookups.WithLabelValues(source).Inc()
}

// RecordAnalysis records a finished run.
func RecordAnalysis(analysisType, state string, duration time.Duration) {
	AnalysisRuns.WithLabelValues(analysisType, state).Inc()
	AnalysisDuration.WithLabelValues(analysisType).Observe(duration.Seconds())
}

// RecordCell counts a single cell outcome.
func RecordCell(outcome string) {
	AnalysisCells.WithLabelValues(outcome).Inc()
}

// RecordLOS counts a point-to-point check.
func RecordLOS(clear bool) {
	if clear {
		LOSChecks.WithLabelValues("clear").Inc()
		return
	}
	LOSChecks.WithLabelValues("obstructed").Inc()
}

// TrackAnalysis flips the in-flight gauge.
func TrackAnalysis(running bool) {
	if running {
		AnalysisInFlight.Set(1)
	} else {
		AnalysisInFlight.Set(0)
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
