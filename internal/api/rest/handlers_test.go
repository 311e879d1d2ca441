package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/memstore"
	"github.com/davidleathers/claims-fraud-engine/internal/service/claims"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

// Wednesday
var serviceDay = time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC)

type apiFixture struct {
	store    *memstore.Store
	handler  http.Handler
	health   *HealthService
	tenant   uuid.UUID
	provider *provider.Provider
	patient  *provider.Patient
}

func newAPIFixture(t *testing.T, limiter Limiter) *apiFixture {
	t.Helper()
	return newAPIFixtureWithWriter(t, limiter, nil)
}

// newAPIFixtureWithWriter lets a test wrap the claim writer.
func newAPIFixtureWithWriter(t *testing.T, limiter Limiter, wrap func(*memstore.Store) claims.ClaimWriter) *apiFixture {
	t.Helper()
	claim.SetClock(&claim.MockClock{CurrentTime: serviceDay.AddDate(0, 0, 14)})
	t.Cleanup(claim.ResetClock)

	store := memstore.New()
	tenant := uuid.New()
	dob := time.Date(1970, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &provider.Provider{
		ID:        uuid.New(),
		TenantID:  tenant,
		NPI:       "1234567893",
		Name:      "Harbor Family Clinic",
		Type:      provider.TypePhysician,
		Specialty: "family medicine",
		Active:    true,
	}
	patient := &provider.Patient{ID: uuid.New(), TenantID: tenant, DateOfBirth: &dob}
	store.AddProvider(p)
	store.AddPatient(patient)

	logger := zaptest.NewLogger(t)
	svc, err := fraud.NewService(store, store, store, store, nil, nil, logger)
	require.NoError(t, err)
	engine, err := risk.NewEngine(risk.Dependencies{Fraud: svc, Claims: store, Providers: store, Logger: logger}, risk.DefaultConfig())
	require.NoError(t, err)
	var writer claims.ClaimWriter = store
	if wrap != nil {
		writer = wrap(store)
	}
	proc, err := claims.NewProcessor(engine, writer, store, claims.DefaultConfig(), logger, nil)
	require.NoError(t, err)
	analyzer, err := network.NewAnalyzer(store, store, nil, network.DefaultConfig(), logger, nil)
	require.NoError(t, err)

	health := NewHealthService("test", time.Second)
	handler := NewRouter(Config{Limiter: limiter, Health: health, Logger: logger}, Services{
		Processor: proc,
		Scorer:    engine,
		Detector:  svc,
		Network:   analyzer,
		Alerts:    store,
	})
	return &apiFixture{store: store, handler: handler, health: health, tenant: tenant, provider: p, patient: patient}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, ResponseEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env ResponseEnvelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *apiFixture) submission(code, cost string) map[string]interface{} {
	return map[string]interface{}{
		"patient_id":   f.patient.ID,
		"provider_id":  f.provider.ID,
		"service_date": serviceDay,
		"line_items": []map[string]interface{}{
			{"procedure_code": code, "units": 1, "unit_cost": cost},
		},
	}
}

func decodeData(t *testing.T, env ResponseEnvelope, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestProcessClaim_CleanClaim(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, env := f.do(t, http.MethodPost, "/api/v1/claims", map[string]interface{}{
		"tenant_id":  f.tenant,
		"actor":      "intake-api",
		"submission": f.submission("99213", "75.00"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), env.Meta.RequestID)

	var resp ProcessClaimResponse
	decodeData(t, env, &resp)
	assert.True(t, resp.Persisted)
	assert.True(t, resp.Result.Approved)
	assert.Equal(t, claim.DispositionApprove, resp.Result.Disposition)
	assert.Equal(t, claim.RiskLevelLow, resp.Result.RiskLevel)

	stored, err := f.store.GetByID(context.Background(), resp.Result.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusApproved, stored.Status)
}

func TestProcessClaim_Rejections(t *testing.T) {
	f := newAPIFixture(t, nil)

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", bytes.NewBufferString(`{"tenant_id":`))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty line items", func(t *testing.T) {
		sub := f.submission("99213", "75.00")
		sub["line_items"] = []interface{}{}
		rec, env := f.do(t, http.MethodPost, "/api/v1/claims", map[string]interface{}{
			"tenant_id":  f.tenant,
			"submission": sub,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "EMPTY_LINE_ITEMS", env.Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodGet, "/api/v1/claims", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestProcessBatch(t *testing.T) {
	f := newAPIFixture(t, nil)

	bad := f.submission("99213", "75.00")
	bad["line_items"] = []interface{}{}
	rec, env := f.do(t, http.MethodPost, "/api/v1/claims/batch", map[string]interface{}{
		"claims": []map[string]interface{}{
			{"tenant_id": f.tenant, "submission": f.submission("99213", "75.00")},
			{"tenant_id": f.tenant, "submission": bad},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchResponse
	decodeData(t, env, &resp)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, 1, resp.Approved)
	assert.Equal(t, 1, resp.Failed)
	assert.NotNil(t, resp.Items[0].Result)
	assert.Nil(t, resp.Items[0].Error)
	require.NotNil(t, resp.Items[1].Error)
	assert.Equal(t, "EMPTY_LINE_ITEMS", resp.Items[1].Error.Code)

	rec, env = f.do(t, http.MethodPost, "/api/v1/claims/batch", map[string]interface{}{"claims": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "BatchRequest.Claims")
}

// failOnceWriter fails the first completion write.
type failOnceWriter struct {
	*memstore.Store
	failed atomic.Bool
}

func (w *failOnceWriter) CompleteAnalysis(ctx context.Context, c *claim.Claim, alerts []*claim.FraudAlert) error {
	if w.failed.CompareAndSwap(false, true) {
		return stderrors.New("connection reset by peer")
	}
	return w.Store.CompleteAnalysis(ctx, c, alerts)
}

func TestProcessClaim_RetryPersist(t *testing.T) {
	f := newAPIFixtureWithWriter(t, nil, func(s *memstore.Store) claims.ClaimWriter {
		return &failOnceWriter{Store: s}
	})

	rec, env := f.do(t, http.MethodPost, "/api/v1/claims", map[string]interface{}{
		"tenant_id":  f.tenant,
		"submission": f.submission("99213", "75.00"),
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted ProcessClaimResponse
	decodeData(t, env, &accepted)
	assert.False(t, accepted.Persisted)
	id := accepted.Result.ClaimID

	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusPending, stored.Status)

	rec, env = f.do(t, http.MethodPost, "/api/v1/claims/"+id.String()+"/persist?actor=ops-console", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var persisted ProcessClaimResponse
	decodeData(t, env, &persisted)
	assert.True(t, persisted.Persisted)
	assert.Equal(t, id, persisted.Result.ClaimID)
	assert.InDelta(t, accepted.Result.RiskScore, persisted.Result.RiskScore, 1e-9)

	stored, err = f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusApproved, stored.Status)

	trail, err := f.store.AuditTrail(context.Background(), f.tenant)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, "ops-console", trail[0].Actor)

	// nothing is left to retry
	rec, env = f.do(t, http.MethodPost, "/api/v1/claims/"+id.String()+"/persist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RESOURCE_NOT_FOUND", env.Error.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/claims/not-a-uuid/persist", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlerts(t *testing.T) {
	f := newAPIFixture(t, nil)

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		rec, env := f.do(t, http.MethodPost, "/api/v1/claims", map[string]interface{}{
			"tenant_id":  f.tenant,
			"submission": f.submission("99213", "75.00"),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var created ProcessClaimResponse
		decodeData(t, env, &created)
		ids = append(ids, created.Result.ClaimID)
	}

	rec, env := f.do(t, http.MethodGet, "/api/v1/claims/"+ids[0].String()+"/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var clean AlertsResponse
	decodeData(t, env, &clean)
	assert.Equal(t, ids[0], clean.ClaimID)
	assert.Empty(t, clean.Alerts)
	assert.Contains(t, rec.Body.String(), `"alerts":[]`)

	rec, env = f.do(t, http.MethodGet, "/api/v1/claims/"+ids[1].String()+"/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dup AlertsResponse
	decodeData(t, env, &dup)
	require.NotEmpty(t, dup.Alerts)
	types := make([]claim.FraudType, 0, len(dup.Alerts))
	for _, a := range dup.Alerts {
		assert.Equal(t, ids[1], a.ClaimID)
		types = append(types, a.Type)
	}
	assert.Contains(t, types, claim.FraudTypeDuplicateClaim)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/claims/not-a-uuid/alerts", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrecheck(t *testing.T) {
	f := newAPIFixture(t, nil)

	sub := f.submission("99213", "75.00")
	sub["tenant_id"] = f.tenant
	rec, env := f.do(t, http.MethodPost, "/api/v1/claims/precheck", sub)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res risk.RealTimeResult
	decodeData(t, env, &res)
	assert.Equal(t, risk.RecommendAutoApprove, res.ProcessingRecommendation)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/claims/precheck", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoreClaim(t *testing.T) {
	f := newAPIFixture(t, nil)

	_, env := f.do(t, http.MethodPost, "/api/v1/claims", map[string]interface{}{
		"tenant_id":  f.tenant,
		"submission": f.submission("99213", "75.00"),
	})
	var created ProcessClaimResponse
	decodeData(t, env, &created)

	rec, env := f.do(t, http.MethodGet, "/api/v1/claims/"+created.Result.ClaimID.String()+"/score", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var score risk.Score
	decodeData(t, env, &score)
	assert.Equal(t, created.Result.ClaimID, score.ClaimID)
	assert.InDelta(t, created.Result.RiskScore, score.OverallScore, 1e-9)

	rec, env = f.do(t, http.MethodGet, "/api/v1/claims/"+uuid.NewString()+"/score", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RESOURCE_NOT_FOUND", env.Error.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/claims/not-a-uuid/score", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderDetectors(t *testing.T) {
	f := newAPIFixture(t, nil)
	base := "/api/v1/providers/" + f.provider.ID.String()

	rec, env := f.do(t, http.MethodGet, base+"/upcoding?lookback_days=90", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up fraud.UpcodingResult
	decodeData(t, env, &up)
	assert.Equal(t, f.provider.ID, up.ProviderID)

	rec, _ = f.do(t, http.MethodGet, base+"/phantom-billing", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, q := range []string{"0", "731", "ninety"} {
		rec, env = f.do(t, http.MethodGet, base+"/upcoding?lookback_days="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		require.NotNil(t, env.Error)
		assert.Contains(t, env.Error.Fields, "lookback_days")
	}
}

func TestAnalyzeNetwork(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, env := f.do(t, http.MethodGet, "/api/v1/networks/"+f.tenant.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res network.AnalysisResult
	decodeData(t, env, &res)
	assert.Equal(t, f.tenant, res.ScopeID)
	assert.Equal(t, 1, res.ProvidersAnalyzed)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.health.Register("database", func(context.Context) error { return nil })
	rec, _ = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.health.Register("redis", func(context.Context) error { return stderrors.New("connection refused") })
	rec, _ = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var res HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, HealthStatusFail, res.Status)
	assert.Equal(t, HealthStatusPass, res.Checks["database"].Status)
	assert.Equal(t, "connection refused", res.Checks["redis"].Error)

	rec, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newAPIFixture(t, NewLocalLimiter(1, 1))
	path := "/api/v1/providers/" + f.provider.ID.String() + "/upcoding"

	rec, _ := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)

	// health checks are never throttled
	rec, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
