package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors scraped from /metrics. The Registry methods feed
// them alongside the OTLP instruments.
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cfe",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	claimScoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cfe",
			Subsystem: "claim",
			Name:      "scoring_duration_seconds",
			Help:      "Full claim analysis latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15),
		},
		[]string{"risk_level"},
	)

	claimsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "claim",
			Name:      "scored_total",
			Help:      "Total number of claims scored",
		},
		[]string{"risk_level", "outcome"},
	)

	realtimeScores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "claim",
			Name:      "realtime_total",
			Help:      "Total number of real-time prechecks",
		},
		[]string{"recommendation"},
	)

	persistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "claim",
			Name:      "persist_failures_total",
			Help:      "Claim or alert writes that failed",
		},
		[]string{"operation"},
	)

	alertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "fraud",
			Name:      "alerts_total",
			Help:      "Fraud alerts raised",
		},
		[]string{"fraud_type", "severity"},
	)

	detectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "fraud",
			Name:      "detector_failures_total",
			Help:      "Detector runs that failed or panicked",
		},
		[]string{"detector"},
	)

	advisorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "advisor",
			Name:      "calls_total",
			Help:      "Risk advisor calls by outcome",
		},
		[]string{"outcome"},
	)

	batchClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "batch",
			Name:      "claims_total",
			Help:      "Claims processed through batches",
		},
		[]string{"result"},
	)

	batchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cfe",
			Subsystem: "batch",
			Name:      "in_flight",
			Help:      "Batches currently being processed",
		},
	)

	networkAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cfe",
			Subsystem: "network",
			Name:      "analysis_duration_seconds",
			Help:      "Network analysis duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)

	fraudRings = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "network",
			Name:      "fraud_rings_total",
			Help:      "Fraud rings matched during network analysis",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfe",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups",
		},
		[]string{"cache", "result"},
	)
)

// Handler exposes the Prometheus collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusCodeClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
