package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

// Detector names used in logs and metrics
const (
	detectorHistory       = "history"
	detectorUpcoding      = "upcoding"
	detectorPhantom       = "phantom_billing"
	detectorUnbundling    = "unbundling"
	detectorDuplicate     = "duplicate"
	detectorModifiers     = "modifiers"
	detectorFrequency     = "service_frequency"
	detectorPatient       = "patient_profile"
	detectorNetwork       = "network_signals"
	confidenceBase        = 0.5
	recentVisitWindowDays = 30
)

// Dependencies are the engine's collaborators. Fraud and Claims are
// required; the rest degrade to a zero contribution when absent. An advisor
// that is not already an *AdvisorGateway is wrapped in one.
type Dependencies struct {
	Fraud     fraud.Service
	Claims    fraud.ClaimReader
	Providers fraud.ProviderReader
	Signals   SignalReader
	Advisor   ExternalRiskAdvisor
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

// Engine aggregates every detector into one score per claim.
type Engine struct {
	fraud     fraud.Service
	claims    fraud.ClaimReader
	providers fraud.ProviderReader
	signals   SignalReader
	advisor   ExternalRiskAdvisor
	logger    *zap.Logger
	metrics   *metrics.Registry
	tracer    trace.Tracer

	mu  sync.RWMutex
	cfg Config
}

// NewEngine validates the configuration and wires collaborators.
func NewEngine(deps Dependencies, cfg Config) (*Engine, error) {
	if deps.Fraud == nil {
		return nil, errors.NewValidationError("INVALID_FRAUD_SERVICE", "fraud service cannot be nil")
	}
	if deps.Claims == nil {
		return nil, errors.NewValidationError("INVALID_CLAIM_READER", "claim reader cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	advisor := deps.Advisor
	if advisor != nil {
		if _, bounded := advisor.(*AdvisorGateway); !bounded {
			gw, err := NewAdvisorGateway(advisor, 0, CircuitBreakerConfig{}, logger, deps.Metrics)
			if err != nil {
				return nil, err
			}
			advisor = gw
		}
	}
	return &Engine{
		fraud:     deps.Fraud,
		claims:    deps.Claims,
		providers: deps.Providers,
		signals:   deps.Signals,
		advisor:   advisor,
		logger:    logger.With(zap.String("component", "risk_engine")),
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("github.com/davidleathers/claims-fraud-engine/internal/service/risk"),
		cfg:       cfg,
	}, nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig swaps weights and thresholds at runtime.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("risk engine configuration updated",
		zap.Float64("weight_provider", cfg.Weights.Provider),
		zap.Float64("weight_claim", cfg.Weights.Claim),
		zap.Float64("weight_patient", cfg.Weights.Patient),
		zap.Float64("weight_network", cfg.Weights.Network),
		zap.Float64("weight_behavioral", cfg.Weights.Behavioral))
	return nil
}

// ScoreClaim re-scores a stored claim.
func (e *Engine) ScoreClaim(ctx context.Context, claimID uuid.UUID) (*Score, error) {
	if claimID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_CLAIM_ID", "claim id is required")
	}
	c, err := e.claims.GetByID(ctx, claimID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, err
		}
		return nil, errors.NewDataUnavailableError("claim", claimID.String()).WithCause(err)
	}
	if c == nil {
		return nil, errors.NewNotFoundError("claim")
	}
	a, err := e.Assess(ctx, c)
	if err != nil {
		return nil, err
	}
	return a.Score, nil
}

// Assess runs every detector over data fetched once and aggregates them.
// Detector failures contribute zero; only context cancellation is returned.
func (e *Engine) Assess(ctx context.Context, c *claim.Claim) (*Assessment, error) {
	if c == nil {
		return nil, errors.NewValidationError("INVALID_CLAIM", "claim cannot be nil")
	}
	cfg := e.Config()

	ctx, span := e.tracer.Start(ctx, "risk.Assess", trace.WithAttributes(
		attribute.String("claim_id", c.ID.String()),
		attribute.String("provider_id", c.ProviderID.String())))
	defer span.End()

	ev := &evidence{claim: c, rules: e.fraud.Rules(), ref: e.fraud.Reference()}
	out := &Assessment{}
	var failed []string
	run := func(name string, fn func() error) {
		if !e.guard(ctx, c, name, fn) {
			failed = append(failed, name)
		}
	}

	run(detectorHistory, func() error {
		h, err := e.fraud.LoadHistory(ctx, c.ProviderID, cfg.LookbackDays)
		if err != nil {
			return err
		}
		ev.history = h.WithClaim(c)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ev.history == nil {
		ev.history = &fraud.History{
			ProviderID: c.ProviderID,
			Claims:     []*claim.Claim{c},
			Patients:   map[uuid.UUID]*provider.Patient{},
			Until:      claim.Now(),
		}
	}

	run(detectorUpcoding, func() error {
		ev.upcoding = e.fraud.AnalyzeUpcoding(ev.history)
		return nil
	})
	run(detectorPhantom, func() error {
		ev.phantom = e.fraud.AnalyzePhantomBilling(ev.history)
		return nil
	})
	run(detectorUnbundling, func() error {
		ev.unbundling = e.fraud.DetectUnbundling(c.ID, c.LineItems)
		return nil
	})
	run(detectorDuplicate, func() error {
		alert, err := e.fraud.DetectDuplicates(ctx, c)
		ev.duplicate = alert
		return err
	})

	var modifiers, frequency *claim.FraudAlert
	run(detectorModifiers, func() error {
		modifiers = e.fraud.CheckModifiers(c.ID, c.LineItems)
		return nil
	})
	run(detectorFrequency, func() error {
		frequency = e.fraud.CheckServiceFrequency(c, ev.history)
		return nil
	})
	run(detectorPatient, func() error {
		return e.loadPatientEvidence(ctx, ev)
	})
	if e.signals != nil {
		run(detectorNetwork, func() error {
			s, err := e.signals.GetSignals(ctx, c.ProviderID)
			ev.signals = s
			return err
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	breakdown := claim.Breakdown{
		Provider:   round2(providerRisk(ev)),
		Claim:      round2(claimRisk(ev)),
		Patient:    round2(patientRisk(ev)),
		Network:    round2(networkRisk(ev)),
		Behavioral: round2(behavioralRisk(ev)),
	}
	ruleScore := round2(clamp(cfg.Weights.Combine(breakdown)))

	score := &Score{
		ClaimID:         c.ID,
		RuleScore:       ruleScore,
		OverallScore:    ruleScore,
		Confidence:      dataConfidence(ev, len(failed)),
		Breakdown:       breakdown,
		FailedDetectors: failed,
		ComputedAt:      claim.Now(),
	}

	if e.advisor != nil {
		advice, err := e.advisor.Advise(ctx, AdvisorRequest{
			ClaimID:        c.ID,
			ProviderID:     c.ProviderID,
			PatientID:      c.PatientID,
			ServiceDate:    c.ServiceDate,
			BilledAmount:   c.BilledAmount.Amount().StringFixed(2),
			ProcedureCodes: c.ProcedureCodes(),
			RuleScore:      ruleScore,
			Breakdown:      breakdown,
		})
		if err != nil {
			e.logger.Warn("risk advisor unavailable, using rule score",
				zap.String("claim_id", c.ID.String()),
				zap.Error(err))
		} else {
			score.Advice = advice
			score.OverallScore = round2(clamp((1-cfg.AdvisorWeight)*ruleScore + cfg.AdvisorWeight*advice.Score))
			score.Confidence = math.Min(1, score.Confidence+cfg.AdvisorMaxBoost*advice.Confidence)
		}
	}
	score.Confidence = round2(score.Confidence)
	score.RiskLevel = cfg.ScoreBands.Level(score.OverallScore)

	out.Upcoding = ev.upcoding
	out.Phantom = ev.phantom
	out.Signals = ev.signals
	out.Alerts = collectAlerts(c, ev, modifiers, frequency)
	out.Score = score
	e.explain(cfg, ev, out)

	for _, a := range out.Alerts {
		e.metrics.RecordAlert(ctx, string(a.Type), string(a.Severity))
	}
	span.SetAttributes(
		attribute.Float64("risk_score", score.OverallScore),
		attribute.String("risk_level", string(score.RiskLevel)),
		attribute.Int("alerts", len(out.Alerts)))

	e.logger.Debug("claim assessed",
		zap.String("claim_id", c.ID.String()),
		zap.Float64("score", score.OverallScore),
		zap.String("level", string(score.RiskLevel)),
		zap.Int("alerts", len(out.Alerts)),
		zap.Strings("failed_detectors", failed))
	return out, nil
}

// guard runs one detector, converting errors and panics into a logged zero
// contribution. It reports whether the detector succeeded.
func (e *Engine) guard(ctx context.Context, c *claim.Claim, name string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("detector panicked",
				zap.String("detector", name),
				zap.String("claim_id", c.ID.String()),
				zap.Any("panic", r))
			e.metrics.RecordDetectorFailure(ctx, name)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("detector failed",
				zap.String("detector", name),
				zap.String("claim_id", c.ID.String()),
				zap.Error(err))
			e.metrics.RecordDetectorFailure(ctx, name)
		}
		return false
	}
	return true
}

// loadPatientEvidence reads demographics, recent visits across providers and
// the distance to each visited provider.
func (e *Engine) loadPatientEvidence(ctx context.Context, ev *evidence) error {
	c := ev.claim
	ev.patient = ev.history.Patients[c.PatientID]

	since := claim.TruncateDay(c.ServiceDate).AddDate(0, 0, -recentVisitWindowDays)
	recent, err := e.fraud.PatientClaims(ctx, c.PatientID, since)
	if err != nil {
		return err
	}

	visited := make(map[uuid.UUID]struct{})
	for _, other := range recent {
		if other.ServiceDate.After(c.ServiceDate) {
			continue
		}
		ev.recentVisits++
		visited[other.ProviderID] = struct{}{}
	}
	visited[c.ProviderID] = struct{}{}

	if ev.patient == nil || ev.patient.Location == nil || e.providers == nil {
		return nil
	}
	for id := range visited {
		var p *provider.Provider
		if id == c.ProviderID && ev.history.Provider != nil {
			p = ev.history.Provider
		} else if p, err = e.providers.GetProvider(ctx, id); err != nil {
			continue
		}
		if p == nil || p.Location == nil {
			continue
		}
		if ev.patient.Location.DistanceMiles(*p.Location) > ev.rules.SuspiciousDistanceMiles {
			ev.remoteVisits++
		}
	}
	return nil
}

// dataConfidence grows with the amount of evidence available and shrinks
// with every failed detector.
func dataConfidence(ev *evidence, failures int) float64 {
	conf := confidenceBase
	if h := ev.history; h != nil && h.HasClaims() {
		if len(h.Claims) >= 10 {
			conf += 0.2
		} else {
			conf += 0.1
		}
	}
	if ev.patient != nil {
		conf += 0.1
	}
	if ev.signals != nil {
		conf += 0.1
	}
	conf -= 0.1 * float64(failures)
	return math.Max(0.1, math.Min(1, conf))
}

// collectAlerts keeps only raised alerts and derives network alerts from
// ring membership.
func collectAlerts(c *claim.Claim, ev *evidence, extra ...*claim.FraudAlert) []*claim.FraudAlert {
	var alerts []*claim.FraudAlert

	if u := ev.upcoding; u != nil && u.IsUpcoding {
		alerts = append(alerts, claim.NewFraudAlert(c.ID, claim.FraudTypeUpcoding, u.RiskLevel, u.Confidence,
			fmt.Sprintf("provider coding deviates from specialty norms (%d pattern(s))", len(u.Patterns)),
			map[string]interface{}{
				"patterns":        patternIDs(u.Patterns),
				"deviation_score": u.Profile.DeviationScore,
			}))
	}
	if p := ev.phantom; p != nil && p.IsPhantomBilling {
		alerts = append(alerts, claim.NewFraudAlert(c.ID, claim.FraudTypePhantomBilling, p.RiskLevel, p.Confidence,
			fmt.Sprintf("services may not have been rendered (%d pattern(s))", len(p.Patterns)),
			map[string]interface{}{"patterns": patternIDs(p.Patterns)}))
	}
	for _, a := range append([]*claim.FraudAlert{ev.unbundling, ev.duplicate}, extra...) {
		if a.Raised() {
			alerts = append(alerts, a)
		}
	}

	if s := ev.signals; s != nil && s.InRing() {
		conf := ringConfidence(s.FraudRings)
		alerts = append(alerts, claim.NewFraudAlert(c.ID, claim.FraudTypeOrganizedFraud,
			ev.rules.ConfidenceBands.Level(conf), conf,
			fmt.Sprintf("provider belongs to %d suspected fraud ring(s)", len(s.FraudRings)),
			map[string]interface{}{"fraud_rings": s.FraudRings, "cluster_risk": s.ClusterRisk}))
		for _, ring := range s.FraudRings {
			if ring == "KICKBACK_RING" || ring == "REFERRAL_MILL" {
				alerts = append(alerts, claim.NewFraudAlert(c.ID, claim.FraudTypeKickbacks,
					ev.rules.ConfidenceBands.Level(conf), conf,
					"referral pattern consistent with kickbacks",
					map[string]interface{}{"fraud_ring": ring, "referral_anomalies": s.ReferralAnomalies}))
				break
			}
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Confidence > alerts[j].Confidence })
	return alerts
}

func ringConfidence(rings []string) float64 {
	var best float64
	for _, name := range rings {
		for _, arch := range network.Archetypes {
			if arch.Name == name && arch.Confidence > best {
				best = arch.Confidence
			}
		}
	}
	return best
}

func patternIDs(patterns []fraud.MatchedPattern) []string {
	ids := make([]string, 0, len(patterns))
	for _, p := range patterns {
		ids = append(ids, p.ID)
	}
	return ids
}

// explain fills key drivers, recommendations and audit triggers.
func (e *Engine) explain(cfg Config, ev *evidence, a *Assessment) {
	s := a.Score
	drivers := []string{}
	for _, alert := range a.Alerts {
		drivers = append(drivers, fmt.Sprintf("%s: %s", alert.Type, alert.Description))
	}

	dims := []struct {
		name  string
		score float64
	}{
		{"provider history", s.Breakdown.Provider},
		{"claim characteristics", s.Breakdown.Claim},
		{"patient profile", s.Breakdown.Patient},
		{"provider network", s.Breakdown.Network},
		{"behavioral pattern", s.Breakdown.Behavioral},
	}
	sort.SliceStable(dims, func(i, j int) bool { return dims[i].score > dims[j].score })
	for _, d := range dims {
		if d.score >= cfg.KeyDriverScore {
			drivers = append(drivers, fmt.Sprintf("elevated %s risk (%.0f)", d.name, d.score))
		}
	}
	if s.Advice != nil && s.Advice.Score > s.RuleScore+20 {
		drivers = append(drivers, fmt.Sprintf("external advisor score %.0f", s.Advice.Score))
	}
	s.KeyDrivers = drivers

	var recs []string
	switch s.RiskLevel {
	case claim.RiskLevelCritical:
		recs = append(recs, "Suspend payment and refer to the special investigations unit")
	case claim.RiskLevelHigh:
		recs = append(recs, "Hold payment for manual review by a certified coder")
	case claim.RiskLevelMedium:
		recs = append(recs, "Request supporting documentation before payment")
	default:
		recs = append(recs, "Process through standard adjudication")
	}

	var triggers []string
	if u := ev.upcoding; u != nil && u.IsUpcoding {
		recs = append(recs, u.Recommendations...)
		triggers = append(triggers, u.AuditTriggers...)
	}
	if p := ev.phantom; p != nil && p.IsPhantomBilling {
		recs = append(recs, p.Recommendations...)
		triggers = append(triggers, p.AuditTriggers...)
	}
	for _, alert := range a.Alerts {
		switch alert.Type {
		case claim.FraudTypeDuplicateClaim:
			recs = append(recs, "Deny as duplicate of a prior submission")
			triggers = append(triggers, fraud.TriggerDuplicateReview)
		case claim.FraudTypeUnbundling:
			recs = append(recs, "Re-bundle component procedures under the comprehensive code")
			triggers = append(triggers, fraud.TriggerBundlingReview)
		case claim.FraudTypeMisrepresentedServices:
			triggers = append(triggers, fraud.TriggerModifierReview)
		case claim.FraudTypeOrganizedFraud, claim.FraudTypeKickbacks:
			triggers = append(triggers, fraud.TriggerSIUReferral)
		}
	}
	if s.RiskLevel == claim.RiskLevelCritical {
		triggers = append(triggers, fraud.TriggerSIUReferral)
	}

	s.Recommendations = dedupe(recs)
	s.AuditTriggers = dedupe(triggers)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
