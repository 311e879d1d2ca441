package risk

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

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/memstore"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

// Monday, so nothing lands on a weekend by accident.
var baseDay = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	fraud    fraud.Service
	tenant   uuid.UUID
	provider *provider.Provider
	patient  *provider.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	claim.SetClock(&claim.MockClock{CurrentTime: baseDay.AddDate(0, 0, 30)})
	t.Cleanup(claim.ResetClock)

	store := memstore.New()
	tenant := uuid.New()
	dob := time.Date(1970, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &provider.Provider{
		ID:        uuid.New(),
		TenantID:  tenant,
		NPI:       "1234567893",
		Name:      "Lakeside Family Practice",
		Type:      provider.TypePhysician,
		Specialty: "family medicine",
		Active:    true,
	}
	patient := &provider.Patient{ID: uuid.New(), TenantID: tenant, DateOfBirth: &dob}
	store.AddProvider(p)
	store.AddPatient(patient)

	svc, err := fraud.NewService(store, store, store, store, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	return &fixture{store: store, fraud: svc, tenant: tenant, provider: p, patient: patient}
}

func (f *fixture) engine(t *testing.T, mutate func(*Dependencies)) *Engine {
	t.Helper()
	deps := Dependencies{
		Fraud:     f.fraud,
		Claims:    f.store,
		Providers: f.store,
		Logger:    zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&deps)
	}
	e, err := NewEngine(deps, DefaultConfig())
	require.NoError(t, err)
	return e
}

func (f *fixture) newClaim(patientID uuid.UUID, day int, items ...claim.LineItem) *claim.Claim {
	c := &claim.Claim{
		ID:          uuid.New(),
		TenantID:    f.tenant,
		ProviderID:  f.provider.ID,
		PatientID:   patientID,
		ServiceDate: baseDay.AddDate(0, 0, day),
		LineItems:   items,
		Status:      claim.StatusPending,
		SubmittedAt: baseDay.AddDate(0, 0, day+1),
	}
	c.ClaimNumber = claim.GenerateClaimNumber(c.SubmittedAt, c.ID)
	c.BilledAmount = claim.Submission{LineItems: items}.BilledAmount()
	return c
}

// submit stores a pending claim the way intake does before scoring.
func (f *fixture) submit(patientID uuid.UUID, day int, items ...claim.LineItem) *claim.Claim {
	c := f.newClaim(patientID, day, items...)
	f.store.AddClaim(c)
	return c
}

func item(code string, units int, cost string, modifiers ...string) claim.LineItem {
	return claim.LineItem{ProcedureCode: code, Units: units, UnitCost: values.MustUSD(cost), Modifiers: modifiers}
}

// Fakes

type staticAdvisor struct {
	advice *Advice
	err    error
	calls  int32
}

func (a *staticAdvisor) Advise(context.Context, AdvisorRequest) (*Advice, error) {
	atomic.AddInt32(&a.calls, 1)
	return a.advice, a.err
}

type blockingAdvisor struct{}

func (blockingAdvisor) Advise(ctx context.Context, _ AdvisorRequest) (*Advice, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// panickyUpcoding breaks one detector and leaves the rest intact.
type panickyUpcoding struct {
	fraud.Service
}

func (panickyUpcoding) AnalyzeUpcoding(*fraud.History) *fraud.UpcodingResult {
	panic("profile table corrupted")
}

type failingHistory struct {
	fraud.Service
}

func (failingHistory) LoadHistory(context.Context, uuid.UUID, int) (*fraud.History, error) {
	return nil, stderrors.New("replica unreachable")
}

// Tests

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights, false},
		{"claim only", Weights{Claim: 1}, false},
		{"short of one", Weights{Provider: 0.25, Claim: 0.30, Patient: 0.15, Network: 0.20}, true},
		{"negative", Weights{Provider: -0.1, Claim: 0.6, Patient: 0.2, Network: 0.2, Behavioral: 0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWeights_Combine(t *testing.T) {
	b := claim.Breakdown{Provider: 100, Claim: 50, Patient: 20, Network: 10, Behavioral: 40}
	assert.InDelta(t, 25+15+3+2+4, DefaultWeights.Combine(b), 1e-9)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.AdvisorWeight = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ScoreBands = claim.ScoreBands{LowMax: 60, MediumMax: 30, HighMax: 80}
	assert.Error(t, cfg.Validate())
}

func TestNewEngine_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewEngine(Dependencies{Claims: f.store}, DefaultConfig())
	assert.Error(t, err)

	_, err = NewEngine(Dependencies{Fraud: f.fraud}, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Weights.Claim = 0.9
	_, err = NewEngine(Dependencies{Fraud: f.fraud, Claims: f.store}, bad)
	assert.Error(t, err)
}

func TestEngine_Assess_CleanClaim(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, nil)
	c := f.submit(f.patient.ID, 16, item("99213", 1, "75.00"))

	a, err := e.Assess(context.Background(), c)
	require.NoError(t, err)

	s := a.Score
	assert.Less(t, s.OverallScore, 30.0)
	assert.Equal(t, claim.RiskLevelLow, s.RiskLevel)
	assert.Empty(t, a.Alerts)
	assert.Empty(t, s.FailedDetectors)
	assert.Equal(t, 4.0, s.Breakdown.Claim)
	assert.Equal(t, 10.0, s.Breakdown.Patient)
	assert.Zero(t, s.Breakdown.Provider)
	assert.Zero(t, s.Breakdown.Network)
	assert.InDelta(t, 2.7, s.OverallScore, 0.01)
	assert.Equal(t, s.RuleScore, s.OverallScore)
	assert.InDelta(t, 0.7, s.Confidence, 1e-9)
	assert.Contains(t, s.Recommendations, "Process through standard adjudication")
	assert.True(t, claim.ShouldApprove(s.OverallScore, 30, a.Alerts))
}

func TestEngine_Assess_UnknownCodesCountedOnce(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, nil)

	repeated := f.submit(f.patient.ID, 10, item("ZZZZ1", 1, "10.00"), item("ZZZZ1", 1, "10.00"), item("ZZZZ1", 1, "10.00"))
	distinct := f.submit(uuid.New(), 12, item("ZZZZ1", 1, "10.00"), item("ZZZZ2", 1, "10.00"), item("ZZZZ3", 1, "10.00"))

	a, err := e.Assess(context.Background(), repeated)
	require.NoError(t, err)
	b, err := e.Assess(context.Background(), distinct)
	require.NoError(t, err)

	// three lines each; only the number of distinct unknown codes differs
	assert.InDelta(t, 20, b.Score.Breakdown.Claim-a.Score.Breakdown.Claim, 1e-9)
}

func TestEngine_Assess_ConsistentHighLevelCoding(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, nil)

	for i := 0; i < 8; i++ {
		prior := f.newClaim(uuid.New(), i*3, item("99215", 1, "150.00"))
		prior.Status = claim.StatusApproved
		f.store.AddClaim(prior)
	}
	c := f.submit(f.patient.ID, 24, item("99215", 1, "150.00"))

	a, err := e.Assess(context.Background(), c)
	require.NoError(t, err)

	require.NotNil(t, a.Upcoding)
	assert.True(t, a.Upcoding.Matched(fraud.PatternConsistentHighLevel))
	assert.GreaterOrEqual(t, a.Upcoding.Confidence, 75.0)
	assert.Contains(t, []claim.RiskLevel{claim.RiskLevelHigh, claim.RiskLevelCritical}, a.Upcoding.RiskLevel)
	assert.Contains(t, a.FraudTypes(), claim.FraudTypeUpcoding)
	assert.Contains(t, a.Score.AuditTriggers, fraud.TriggerCodingAudit)
	assert.False(t, claim.ShouldApprove(a.Score.OverallScore, 30, a.Alerts))

	for i := 1; i < len(a.Alerts); i++ {
		assert.GreaterOrEqual(t, a.Alerts[i-1].Confidence, a.Alerts[i].Confidence)
	}
}

func TestEngine_Assess_DetectorPanicContributesZero(t *testing.T) {
	f := newFixture(t)
	c := f.submit(f.patient.ID, 16, item("99213", 1, "75.00"))

	healthy, err := f.engine(t, nil).Assess(context.Background(), c)
	require.NoError(t, err)

	broken := f.engine(t, func(d *Dependencies) { d.Fraud = panickyUpcoding{f.fraud} })
	a, err := broken.Assess(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []string{detectorUpcoding}, a.Score.FailedDetectors)
	assert.Nil(t, a.Upcoding)
	assert.InDelta(t, healthy.Score.Confidence-0.1, a.Score.Confidence, 1e-9)
	assert.Equal(t, healthy.Score.Breakdown.Claim, a.Score.Breakdown.Claim)
}

func TestEngine_Assess_HistoryUnavailable(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, func(d *Dependencies) { d.Fraud = failingHistory{f.fraud} })
	c := f.submit(f.patient.ID, 16, item("99213", 1, "75.00"))

	a, err := e.Assess(context.Background(), c)
	require.NoError(t, err)
	assert.Contains(t, a.Score.FailedDetectors, detectorHistory)
	assert.Zero(t, a.Score.Breakdown.Provider)
	assert.NotNil(t, a.Upcoding)
}

func TestEngine_Assess_CancelledContext(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Assess(ctx, f.submit(f.patient.ID, 16, item("99213", 1, "75.00")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Assess_AdvisorBlend(t *testing.T) {
	f := newFixture(t)
	advisor := &staticAdvisor{advice: &Advice{Score: 90, Confidence: 1, Source: "test"}}
	e := f.engine(t, func(d *Dependencies) { d.Advisor = advisor })

	a, err := e.Assess(context.Background(), f.submit(f.patient.ID, 16, item("99213", 1, "75.00")))
	require.NoError(t, err)

	s := a.Score
	require.NotNil(t, s.Advice)
	assert.InDelta(t, 0.6*s.RuleScore+0.4*90, s.OverallScore, 0.01)
	assert.Equal(t, claim.RiskLevelMedium, s.RiskLevel)
	assert.InDelta(t, 0.85, s.Confidence, 1e-9)
	assert.Contains(t, s.KeyDrivers, "external advisor score 90")
}

func TestEngine_Assess_AdvisorFailures(t *testing.T) {
	tests := []struct {
		name    string
		advisor ExternalRiskAdvisor
	}{
		{"error", &staticAdvisor{err: stderrors.New("503 from scoring service")}},
		{"out of range", &staticAdvisor{advice: &Advice{Score: 150, Confidence: 0.5}}},
		{"no advice", &staticAdvisor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.engine(t, func(d *Dependencies) { d.Advisor = tt.advisor })

			a, err := e.Assess(context.Background(), f.submit(f.patient.ID, 16, item("99213", 1, "75.00")))
			require.NoError(t, err)
			assert.Nil(t, a.Score.Advice)
			assert.Equal(t, a.Score.RuleScore, a.Score.OverallScore)
		})
	}
}

func TestEngine_Assess_AdvisorTimeout(t *testing.T) {
	f := newFixture(t)
	gw, err := NewAdvisorGateway(blockingAdvisor{}, 20*time.Millisecond, CircuitBreakerConfig{}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	e := f.engine(t, func(d *Dependencies) { d.Advisor = gw })

	start := time.Now()
	a, err := e.Assess(context.Background(), f.submit(f.patient.ID, 16, item("99213", 1, "75.00")))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, a.Score.Advice)
	assert.Equal(t, a.Score.RuleScore, a.Score.OverallScore)
}

func TestAdvisorGateway_CircuitOpens(t *testing.T) {
	advisor := &staticAdvisor{err: stderrors.New("connection refused")}
	gw, err := NewAdvisorGateway(advisor, time.Second, CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := gw.Advise(context.Background(), AdvisorRequest{ClaimID: uuid.New()})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
	}
	assert.Equal(t, CircuitOpen, gw.Breaker().State())

	_, err = gw.Advise(context.Background(), AdvisorRequest{ClaimID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&advisor.calls))
}

func TestNewAdvisorGateway_RequiresAdvisor(t *testing.T) {
	_, err := NewAdvisorGateway(nil, 0, CircuitBreakerConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestEngine_Assess_RingMembership(t *testing.T) {
	f := newFixture(t)
	signals := network.NewMemorySignalStore()
	require.NoError(t, signals.SaveSignals(context.Background(), f.tenant, []network.ProviderSignals{{
		ProviderID:            f.provider.ID,
		TenantID:              f.tenant,
		SuspiciousConnections: 2,
		InCluster:             true,
		ClusterRisk:           66.67,
		RingIndicators:        2,
		ReferralAnomalies:     1,
		FraudRings:            []string{"REFERRAL_MILL"},
	}}))
	e := f.engine(t, func(d *Dependencies) { d.Signals = signals })

	a, err := e.Assess(context.Background(), f.submit(f.patient.ID, 16, item("99213", 1, "75.00")))
	require.NoError(t, err)

	assert.Equal(t, 65.0, a.Score.Breakdown.Network)
	assert.Equal(t, []claim.FraudType{claim.FraudTypeOrganizedFraud, claim.FraudTypeKickbacks}, a.FraudTypes())
	assert.Equal(t, 85.0, a.Alerts[0].Confidence)
	assert.Contains(t, a.Score.AuditTriggers, fraud.TriggerSIUReferral)
	assert.InDelta(t, 0.8, a.Score.Confidence, 1e-9)
	assert.Equal(t, claim.DispositionInvestigate, claim.ChooseDisposition(false, a.Score.RiskLevel, a.Alerts))
}

func TestEngine_ScoreClaim(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, nil)

	_, err := e.ScoreClaim(context.Background(), uuid.Nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = e.ScoreClaim(context.Background(), uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	c := f.submit(f.patient.ID, 16, item("99213", 1, "75.00"))
	s, err := e.ScoreClaim(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, s.ClaimID)
	assert.Equal(t, claim.RiskLevelLow, s.RiskLevel)
}

func TestEngine_UpdateConfig(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, nil)

	bad := DefaultConfig()
	bad.Weights = Weights{Claim: 2}
	assert.Error(t, e.UpdateConfig(bad))
	assert.Equal(t, DefaultWeights, e.Config().Weights)

	claimOnly := DefaultConfig()
	claimOnly.Weights = Weights{Claim: 1}
	require.NoError(t, e.UpdateConfig(claimOnly))

	a, err := e.Assess(context.Background(), f.submit(f.patient.ID, 16, item("99213", 1, "75.00")))
	require.NoError(t, err)
	assert.Equal(t, a.Score.Breakdown.Claim, a.Score.OverallScore)
}
