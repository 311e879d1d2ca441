package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the engine's OpenTelemetry instruments. Every Record method
// is safe on a nil *Registry so components can run without metrics wired.
type Registry struct {
	meter metric.Meter

	// Scoring
	ClaimScoringDuration metric.Float64Histogram
	ClaimsScored         metric.Int64Counter
	RealtimeScores       metric.Int64Counter
	AlertsRaised         metric.Int64Counter
	DetectorFailures     metric.Int64Counter
	AdvisorCalls         metric.Int64Counter

	// Persistence and batches
	PersistFailures metric.Int64Counter
	BatchSize       metric.Int64Histogram
	BatchDuration   metric.Float64Histogram
	BatchesInFlight metric.Int64ObservableGauge

	// Network analysis
	NetworkAnalysisDuration metric.Float64Histogram
	NetworkProviders        metric.Int64Histogram
	FraudRingsDetected      metric.Int64Counter

	// System
	CacheLookups       metric.Int64Counter
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	mu              sync.RWMutex
	batchesInFlight int64
}

// NewRegistry creates a registry backed by the global meter provider.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initScoringMetrics(); err != nil {
		return nil, err
	}
	if err := r.initBatchMetrics(); err != nil {
		return nil, err
	}
	if err := r.initNetworkMetrics(); err != nil {
		return nil, err
	}
	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initScoringMetrics() error {
	var err error

	r.ClaimScoringDuration, err = r.meter.Float64Histogram(
		"cfe.claim.scoring_duration",
		metric.WithDescription("Duration of full claim analysis in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.ClaimsScored, err = r.meter.Int64Counter(
		"cfe.claim.scored_total",
		metric.WithDescription("Total number of claims scored"),
	)
	if err != nil {
		return err
	}

	r.RealtimeScores, err = r.meter.Int64Counter(
		"cfe.claim.realtime_total",
		metric.WithDescription("Total number of real-time prechecks"),
	)
	if err != nil {
		return err
	}

	r.AlertsRaised, err = r.meter.Int64Counter(
		"cfe.fraud.alerts_total",
		metric.WithDescription("Fraud alerts raised by type and severity"),
	)
	if err != nil {
		return err
	}

	r.DetectorFailures, err = r.meter.Int64Counter(
		"cfe.fraud.detector_failures_total",
		metric.WithDescription("Detector runs that failed or panicked"),
	)
	if err != nil {
		return err
	}

	r.AdvisorCalls, err = r.meter.Int64Counter(
		"cfe.advisor.calls_total",
		metric.WithDescription("Risk advisor calls by outcome"),
	)
	return err
}

func (r *Registry) initBatchMetrics() error {
	var err error

	r.PersistFailures, err = r.meter.Int64Counter(
		"cfe.claim.persist_failures_total",
		metric.WithDescription("Claim or alert writes that failed"),
	)
	if err != nil {
		return err
	}

	r.BatchSize, err = r.meter.Int64Histogram(
		"cfe.batch.size",
		metric.WithDescription("Number of claims per batch"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.BatchDuration, err = r.meter.Float64Histogram(
		"cfe.batch.duration",
		metric.WithDescription("Batch processing duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 5000, 30000),
	)
	if err != nil {
		return err
	}

	r.BatchesInFlight, err = r.meter.Int64ObservableGauge(
		"cfe.batch.in_flight",
		metric.WithDescription("Batches currently being processed"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.batchesInFlight)
			return nil
		}),
	)
	return err
}

func (r *Registry) initNetworkMetrics() error {
	var err error

	r.NetworkAnalysisDuration, err = r.meter.Float64Histogram(
		"cfe.network.analysis_duration",
		metric.WithDescription("Network analysis duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 100, 500, 1000, 5000, 30000, 120000),
	)
	if err != nil {
		return err
	}

	r.NetworkProviders, err = r.meter.Int64Histogram(
		"cfe.network.providers",
		metric.WithDescription("Providers per analyzed scope"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 2000),
	)
	if err != nil {
		return err
	}

	r.FraudRingsDetected, err = r.meter.Int64Counter(
		"cfe.network.fraud_rings_total",
		metric.WithDescription("Fraud rings matched during network analysis"),
	)
	return err
}

func (r *Registry) initSystemMetrics() error {
	var err error

	r.CacheLookups, err = r.meter.Int64Counter(
		"cfe.cache.lookups_total",
		metric.WithDescription("Cache lookups by cache and result"),
	)
	if err != nil {
		return err
	}

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"cfe.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"cfe.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)
	return err
}

// BatchInFlight adjusts the in-flight batch gauge.
func (r *Registry) BatchInFlight(delta int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchesInFlight += delta
	batchesInFlight.Set(float64(r.batchesInFlight))
}

// RecordClaimScored records one completed claim analysis.
func (r *Registry) RecordClaimScored(ctx context.Context, duration time.Duration, level string, approved bool) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("risk_level", level),
		attribute.Bool("approved", approved),
	)
	r.ClaimScoringDuration.Record(ctx, msec(duration), attrs)
	r.ClaimsScored.Add(ctx, 1, attrs)

	claimScoringDuration.WithLabelValues(level).Observe(duration.Seconds())
	claimsScored.WithLabelValues(level, outcomeLabel(approved)).Inc()
}

// RecordRealtimeScore records one precheck and its recommendation.
func (r *Registry) RecordRealtimeScore(ctx context.Context, recommendation string) {
	if r == nil {
		return
	}
	r.RealtimeScores.Add(ctx, 1, metric.WithAttributes(attribute.String("recommendation", recommendation)))
	realtimeScores.WithLabelValues(recommendation).Inc()
}

// RecordAlert records a raised fraud alert.
func (r *Registry) RecordAlert(ctx context.Context, fraudType, severity string) {
	if r == nil {
		return
	}
	r.AlertsRaised.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fraud_type", fraudType),
		attribute.String("severity", severity),
	))
	alertsRaised.WithLabelValues(fraudType, severity).Inc()
}

// RecordDetectorFailure records a detector that errored or panicked.
func (r *Registry) RecordDetectorFailure(ctx context.Context, detector string) {
	if r == nil {
		return
	}
	r.DetectorFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("detector", detector)))
	detectorFailures.WithLabelValues(detector).Inc()
}

// RecordAdvisorOutcome records one advisor call: ok, error, timeout or
// circuit_open.
func (r *Registry) RecordAdvisorOutcome(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.AdvisorCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	advisorCalls.WithLabelValues(outcome).Inc()
}

// RecordPersistFailure records a failed write.
func (r *Registry) RecordPersistFailure(ctx context.Context, operation string) {
	if r == nil {
		return
	}
	r.PersistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	persistFailures.WithLabelValues(operation).Inc()
}

// RecordBatch records a finished batch.
func (r *Registry) RecordBatch(ctx context.Context, size, failed int, duration time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("partial", failed > 0))
	r.BatchSize.Record(ctx, int64(size), attrs)
	r.BatchDuration.Record(ctx, msec(duration), attrs)
	batchClaims.WithLabelValues("processed").Add(float64(size - failed))
	batchClaims.WithLabelValues("failed").Add(float64(failed))
}

// RecordNetworkAnalysis records one analyzed scope.
func (r *Registry) RecordNetworkAnalysis(ctx context.Context, duration time.Duration, providers, clusters, rings int) {
	if r == nil {
		return
	}
	r.NetworkAnalysisDuration.Record(ctx, msec(duration), metric.WithAttributes(attribute.Bool("clusters_found", clusters > 0)))
	r.NetworkProviders.Record(ctx, int64(providers))
	r.FraudRingsDetected.Add(ctx, int64(rings))

	networkAnalysisDuration.Observe(duration.Seconds())
	fraudRings.Add(float64(rings))
}

// RecordCacheLookup records a cache hit or miss.
func (r *Registry) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("result", result),
	))
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordHTTPRequest records API request metrics
func (r *Registry) RecordHTTPRequest(ctx context.Context, duration time.Duration, method, path string, statusCode int) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)
	r.APIRequestDuration.Record(ctx, msec(duration), attrs)
	r.APIRequestCounter.Add(ctx, 1, attrs)

	httpRequestsTotal.WithLabelValues(method, path, statusCodeClass(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func outcomeLabel(approved bool) string {
	if approved {
		return "approved"
	}
	return "flagged"
}
