package claims

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/audit"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/memstore"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

// Wednesday
var serviceDay = time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memstore.Store
	engine    *risk.Engine
	processor *Processor
	tenant    uuid.UUID
	provider  *provider.Provider
	patient   *provider.Patient
}

func newFixture(t *testing.T, writer func(*memstore.Store) ClaimWriter) *fixture {
	t.Helper()
	claim.SetClock(&claim.MockClock{CurrentTime: serviceDay.AddDate(0, 0, 14)})
	t.Cleanup(claim.ResetClock)

	store := memstore.New()
	tenant := uuid.New()
	dob := time.Date(1962, 8, 14, 0, 0, 0, 0, time.UTC)
	p := &provider.Provider{
		ID:        uuid.New(),
		TenantID:  tenant,
		NPI:       "1234567893",
		Name:      "Riverbend Internal Medicine",
		Type:      provider.TypePhysician,
		Specialty: "internal medicine",
		Active:    true,
	}
	patient := &provider.Patient{ID: uuid.New(), TenantID: tenant, DateOfBirth: &dob}
	store.AddProvider(p)
	store.AddPatient(patient)

	logger := zaptest.NewLogger(t)
	svc, err := fraud.NewService(store, store, store, store, nil, nil, logger)
	require.NoError(t, err)
	engine, err := risk.NewEngine(risk.Dependencies{
		Fraud:     svc,
		Claims:    store,
		Providers: store,
		Logger:    logger,
	}, risk.DefaultConfig())
	require.NoError(t, err)

	var w ClaimWriter = store
	if writer != nil {
		w = writer(store)
	}
	proc, err := NewProcessor(engine, w, store, DefaultConfig(), logger, nil)
	require.NoError(t, err)

	return &fixture{store: store, engine: engine, processor: proc, tenant: tenant, provider: p, patient: patient}
}

func (f *fixture) request(items ...claim.LineItem) Request {
	return Request{
		TenantID: f.tenant,
		Actor:    "intake-api",
		Submission: claim.Submission{
			PatientID:   f.patient.ID,
			ProviderID:  f.provider.ID,
			ServiceDate: serviceDay,
			LineItems:   items,
		},
	}
}

func (f *fixture) auditActions(t *testing.T) []audit.Action {
	t.Helper()
	trail, err := f.store.AuditTrail(context.Background(), f.tenant)
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(trail))
	for _, e := range trail {
		assert.True(t, e.Verify())
		actions = append(actions, e.Action)
	}
	return actions
}

func item(code string, units int, cost string) claim.LineItem {
	return claim.LineItem{ProcedureCode: code, Units: units, UnitCost: values.MustUSD(cost)}
}

// flakyWriter fails CompleteAnalysis a fixed number of times.
type flakyWriter struct {
	*memstore.Store
	failures int32
}

func (w *flakyWriter) CompleteAnalysis(ctx context.Context, c *claim.Claim, alerts []*claim.FraudAlert) error {
	if atomic.AddInt32(&w.failures, -1) >= 0 {
		return stderrors.New("connection reset by peer")
	}
	return w.Store.CompleteAnalysis(ctx, c, alerts)
}

// Tests

func TestNewProcessor_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := NewProcessor(nil, f.store, nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)

	_, err = NewProcessor(f.engine, nil, nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)

	_, err = NewProcessor(f.engine, f.store, nil, Config{ApprovalThreshold: 30}, nil, nil)
	assert.Error(t, err)
}

func TestProcessClaim_CleanClaimApproved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.processor.ProcessClaim(ctx, f.request(item("99213", 1, "75.00")))
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, claim.DispositionApprove, res.Disposition)
	assert.Less(t, res.RiskScore, 30.0)
	assert.Equal(t, claim.RiskLevelLow, res.RiskLevel)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, res.FraudTypes)
	assert.Regexp(t, `^CLM-20250402-[0-9A-F]{8}$`, res.ClaimNumber)

	stored, err := f.store.GetByID(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusApproved, stored.Status)
	assert.Equal(t, res.RiskScore, stored.RiskScore)

	assert.Equal(t, []audit.Action{audit.ActionAutoApproved}, f.auditActions(t))
}

func TestProcessClaim_ConsistentHighLevelCodingFlagged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		prior := &claim.Claim{
			ID:           uuid.New(),
			TenantID:     f.tenant,
			ProviderID:   f.provider.ID,
			PatientID:    uuid.New(),
			ServiceDate:  serviceDay.AddDate(0, 0, -7*(i+1)),
			LineItems:    []claim.LineItem{item("99215", 1, "150.00")},
			BilledAmount: values.MustUSD("150.00"),
			Status:       claim.StatusApproved,
			SubmittedAt:  serviceDay.AddDate(0, 0, -7*(i+1)+1),
		}
		prior.ClaimNumber = claim.GenerateClaimNumber(prior.SubmittedAt, prior.ID)
		f.store.AddClaim(prior)
	}

	res, err := f.processor.ProcessClaim(ctx, f.request(item("99215", 1, "150.00")))
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Contains(t, res.FraudTypes, claim.FraudTypeUpcoding)
	assert.NotEqual(t, claim.DispositionApprove, res.Disposition)

	stored, err := f.store.GetByID(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusFlaggedForFraud, stored.Status)

	alerts, err := f.store.ListAlerts(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Len(t, alerts, len(res.Alerts))
	for _, a := range alerts {
		assert.Greater(t, a.Confidence, 0.0)
	}
	assert.Contains(t, f.auditActions(t), audit.ActionFlagRaised)
}

func TestProcessClaim_DuplicateDenied(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.processor.ProcessClaim(ctx, f.request(item("99213", 1, "75.00")))
	require.NoError(t, err)
	require.True(t, first.Approved)

	second, err := f.processor.ProcessClaim(ctx, f.request(item("99213", 1, "75.00")))
	require.NoError(t, err)
	assert.False(t, second.Approved)
	assert.Contains(t, second.FraudTypes, claim.FraudTypeDuplicateClaim)
	assert.Equal(t, claim.DispositionDeny, second.Disposition)
}

func TestProcessClaim_ValidationDoesNoWork(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"no line items", f.request()},
		{"zero units", f.request(item("99213", 0, "75.00"))},
		{"negative cost", f.request(item("99213", 1, "-5.00"))},
		{"tenant mismatch", func() Request {
			r := f.request(item("99213", 1, "75.00"))
			r.Submission.TenantID = uuid.New()
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.processor.ProcessClaim(ctx, tt.req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}

	stored, err := f.store.ListByProvider(ctx, f.provider.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, f.auditActions(t))
}

func TestProcessClaim_PersistenceFailureIsRetryable(t *testing.T) {
	f := newFixture(t, func(s *memstore.Store) ClaimWriter { return &flakyWriter{Store: s, failures: 1} })
	ctx := context.Background()

	res, err := f.processor.ProcessClaim(ctx, f.request(item("99213", 1, "75.00")))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, errors.IsType(err, errors.ErrorTypePersistence))
	assert.True(t, errors.IsRetryable(err))
	assert.True(t, res.Approved)

	stored, err := f.store.GetByID(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusPending, stored.Status)
	assert.Empty(t, f.auditActions(t))

	require.NoError(t, f.processor.RetryPersist(ctx, "intake-api", res))
	stored, err = f.store.GetByID(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusApproved, stored.Status)
	assert.Equal(t, []audit.Action{audit.ActionPersistRetried, audit.ActionAutoApproved}, f.auditActions(t))

	// The claim is already terminal in the store.
	assert.Error(t, f.processor.RetryPersist(ctx, "intake-api", res))
	assert.Error(t, f.processor.RetryPersist(ctx, "intake-api", &claim.AnalysisResult{}))
}

func TestProcessClaim_RetryPendingByClaimID(t *testing.T) {
	writer := &flakyWriter{failures: 2}
	f := newFixture(t, func(s *memstore.Store) ClaimWriter { writer.Store = s; return writer })
	ctx := context.Background()

	_, err := f.processor.RetryPending(ctx, "intake-api", uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	res, err := f.processor.ProcessClaim(ctx, f.request(item("99213", 1, "75.00")))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, f.processor.pending.size())

	// the second write fails too; the result stays retryable
	_, err = f.processor.RetryPending(ctx, "intake-api", res.ClaimID)
	assert.True(t, errors.IsType(err, errors.ErrorTypePersistence))
	assert.Equal(t, 1, f.processor.pending.size())

	retried, err := f.processor.RetryPending(ctx, "intake-api", res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, res.ClaimID, retried.ClaimID)
	assert.Zero(t, f.processor.pending.size())

	stored, err := f.store.GetByID(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusApproved, stored.Status)

	_, err = f.processor.RetryPending(ctx, "intake-api", res.ClaimID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestPendingResults_EvictsOldest(t *testing.T) {
	p := newPendingResults(2)
	a, b, c := &claim.AnalysisResult{ClaimID: uuid.New()}, &claim.AnalysisResult{ClaimID: uuid.New()}, &claim.AnalysisResult{ClaimID: uuid.New()}

	_, evicted := p.put(a)
	assert.False(t, evicted)
	p.put(b)
	p.put(b)
	id, evicted := p.put(c)
	assert.True(t, evicted)
	assert.Equal(t, a.ClaimID, id)

	_, ok := p.get(a.ClaimID)
	assert.False(t, ok)
	p.remove(b.ClaimID)
	assert.Equal(t, 1, p.size())
	got, ok := p.get(c.ClaimID)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestProcessClaim_CancelledScoringDiscardsClaim(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.processor.ProcessClaim(ctx, f.request(item("99213", 1, "75.00")))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	stored, err := f.store.ListByProvider(context.Background(), f.provider.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, f.processor.pending.size())
	assert.Empty(t, f.auditActions(t))
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	reqs := make([]Request, 0, 12)
	for i := 0; i < 12; i++ {
		r := f.request(item("99213", 1, "75.00"))
		r.Submission.PatientID = uuid.New()
		if i%4 == 3 {
			r.Submission.LineItems = nil
		}
		reqs = append(reqs, r)
	}

	out := f.processor.ProcessBatch(ctx, reqs)
	require.Len(t, out.Items, 12)
	assert.Equal(t, 3, out.Failed)
	assert.Equal(t, 9, out.Approved+out.Flagged)

	for i, it := range out.Items {
		assert.Equal(t, i, it.Index)
		if i%4 == 3 {
			assert.Error(t, it.Err)
			assert.Nil(t, it.Result)
			continue
		}
		require.NoError(t, it.Err)
		assert.NotNil(t, it.Result)
	}
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.processor.ProcessBatch(ctx, []Request{f.request(item("99213", 1, "75.00"))})
	assert.Equal(t, 1, out.Failed)
	assert.ErrorIs(t, out.Items[0].Err, context.Canceled)
}

func TestPrecheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.processor.Precheck(ctx, claim.Submission{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	req := f.request(item("99213", 1, "75.00"))
	req.Submission.TenantID = f.tenant
	res, err := f.processor.Precheck(ctx, req.Submission)
	require.NoError(t, err)
	assert.Equal(t, risk.RecommendAutoApprove, res.ProcessingRecommendation)
	assert.True(t, res.AutoApprove())
}
