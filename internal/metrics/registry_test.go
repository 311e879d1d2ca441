package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	ctx := context.Background()

	assert.NotPanics(t, func() {
		r.BatchInFlight(1)
		r.RecordClaimScored(ctx, time.Millisecond, "LOW", true)
		r.RecordRealtimeScore(ctx, "AUTO_APPROVE")
		r.RecordAlert(ctx, "UPCODING", "HIGH")
		r.RecordDetectorFailure(ctx, "upcoding")
		r.RecordAdvisorOutcome(ctx, "timeout")
		r.RecordPersistFailure(ctx, "complete_analysis")
		r.RecordBatch(ctx, 10, 1, time.Second)
		r.RecordNetworkAnalysis(ctx, time.Second, 10, 1, 1)
		r.RecordCacheLookup(ctx, "signals", true)
		r.RecordHTTPRequest(ctx, time.Millisecond, "GET", "/health", 200)
	})
}

func TestRegistryFeedsPrometheus(t *testing.T) {
	r, err := NewRegistry("test")
	require.NoError(t, err)
	ctx := context.Background()

	before := testutil.ToFloat64(alertsRaised.WithLabelValues("PHANTOM_BILLING", "CRITICAL"))
	r.RecordAlert(ctx, "PHANTOM_BILLING", "CRITICAL")
	assert.Equal(t, before+1, testutil.ToFloat64(alertsRaised.WithLabelValues("PHANTOM_BILLING", "CRITICAL")))

	r.BatchInFlight(2)
	r.BatchInFlight(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(batchesInFlight))
	r.BatchInFlight(-1)

	failed := testutil.ToFloat64(batchClaims.WithLabelValues("failed"))
	r.RecordBatch(ctx, 5, 2, time.Second)
	assert.Equal(t, failed+2, testutil.ToFloat64(batchClaims.WithLabelValues("failed")))

	served := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/claims", "4xx"))
	r.RecordHTTPRequest(ctx, time.Millisecond, "POST", "/v1/claims", 422)
	assert.Equal(t, served+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/claims", "4xx")))
}

func TestHandlerServesCollectors(t *testing.T) {
	r, err := NewRegistry("test")
	require.NoError(t, err)
	r.RecordAdvisorOutcome(context.Background(), "circuit_open")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cfe_advisor_calls_total")
}

func TestStatusCodeClass(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeClass(204))
	assert.Equal(t, "3xx", statusCodeClass(304))
	assert.Equal(t, "4xx", statusCodeClass(429))
	assert.Equal(t, "5xx", statusCodeClass(503))
	assert.Equal(t, "unknown", statusCodeClass(0))
}
