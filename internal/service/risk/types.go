package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

// Weights combine the five dimension sub-scores. They must sum to 1.
type Weights struct {
	Provider   float64 `koanf:"provider" json:"provider"`
	Claim      float64 `koanf:"claim" json:"claim"`
	Patient    float64 `koanf:"patient" json:"patient"`
	Network    float64 `koanf:"network" json:"network"`
	Behavioral float64 `koanf:"behavioral" json:"behavioral"`
}

// DefaultWeights are the production aggregation weights.
var DefaultWeights = Weights{Provider: 0.25, Claim: 0.30, Patient: 0.15, Network: 0.20, Behavioral: 0.10}

func (w Weights) Validate() error {
	parts := []float64{w.Provider, w.Claim, w.Patient, w.Network, w.Behavioral}
	var sum float64
	for _, p := range parts {
		if p < 0 {
			return errors.NewValidationError("INVALID_WEIGHTS", "weights cannot be negative")
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-6 {
		return errors.NewValidationError("INVALID_WEIGHTS", fmt.Sprintf("weights must sum to 1, got %.4f", sum))
	}
	return nil
}

// Combine applies the weights to a breakdown.
func (w Weights) Combine(b claim.Breakdown) float64 {
	return w.Provider*b.Provider +
		w.Claim*b.Claim +
		w.Patient*b.Patient +
		w.Network*b.Network +
		w.Behavioral*b.Behavioral
}

// Config tunes the engine.
type Config struct {
	Weights    Weights
	ScoreBands claim.ScoreBands
	// LookbackDays for provider history; 0 uses the fraud rules' window.
	LookbackDays int
	// AdvisorWeight is the external share of a blended score.
	AdvisorWeight float64
	// AdvisorMaxBoost is the confidence added by a fully confident advisor.
	AdvisorMaxBoost float64
	// KeyDriverScore is the sub-score from which a dimension is reported
	// as a key driver.
	KeyDriverScore float64
}

func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights,
		ScoreBands:      claim.DefaultScoreBands,
		AdvisorWeight:   0.4,
		AdvisorMaxBoost: 0.15,
		KeyDriverScore:  40,
	}
}

func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.AdvisorWeight < 0 || c.AdvisorWeight > 1 {
		return errors.NewValidationError("INVALID_ADVISOR_WEIGHT", "advisor weight must be within [0,1]")
	}
	if c.AdvisorMaxBoost < 0 || c.AdvisorMaxBoost > 1 {
		return errors.NewValidationError("INVALID_ADVISOR_BOOST", "advisor boost must be within [0,1]")
	}
	b := c.ScoreBands
	if !(b.LowMax < b.MediumMax && b.MediumMax < b.HighMax) {
		return errors.NewValidationError("INVALID_SCORE_BANDS", "score bands must be increasing")
	}
	return nil
}

// Score is the aggregate fraud-risk score of one claim.
type Score struct {
	ClaimID         uuid.UUID       `json:"claim_id"`
	OverallScore    float64         `json:"overall_score"`
	RuleScore       float64         `json:"rule_score"`
	Confidence      float64         `json:"confidence"`
	RiskLevel       claim.RiskLevel `json:"risk_level"`
	Breakdown       claim.Breakdown `json:"breakdown"`
	KeyDrivers      []string        `json:"key_drivers"`
	Recommendations []string        `json:"recommendations"`
	AuditTriggers   []string        `json:"audit_triggers"`
	Advice          *Advice         `json:"advice,omitempty"`
	FailedDetectors []string        `json:"failed_detectors,omitempty"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// Assessment is everything the processor needs to complete a claim.
type Assessment struct {
	Score *Score
	// Alerts holds raised alerts only.
	Alerts []*claim.FraudAlert

	Upcoding *fraud.UpcodingResult
	Phantom  *fraud.PhantomBillingResult
	Signals  *network.ProviderSignals
}

// FraudTypes lists the distinct alert types in alert order.
func (a *Assessment) FraudTypes() []claim.FraudType {
	seen := make(map[claim.FraudType]bool, len(a.Alerts))
	out := make([]claim.FraudType, 0, len(a.Alerts))
	for _, alert := range a.Alerts {
		if !seen[alert.Type] {
			seen[alert.Type] = true
			out = append(out, alert.Type)
		}
	}
	return out
}

// Processing recommendations for real-time prechecks
const (
	RecommendAutoApprove  = "AUTO_APPROVE"
	RecommendManualReview = "MANUAL_REVIEW"
	RecommendHold         = "HOLD"
	RecommendBlock        = "BLOCK"
)

// RealTimeResult is the cheap inline score computed before persistence.
type RealTimeResult struct {
	RiskScore                float64         `json:"risk_score"`
	RiskLevel                claim.RiskLevel `json:"risk_level"`
	ImmediateActions         []string        `json:"immediate_actions"`
	ProcessingRecommendation string          `json:"processing_recommendation"`
	UnusualCodes             []string        `json:"unusual_codes,omitempty"`
}

// AutoApprove is true only when the level is LOW.
func (r RealTimeResult) AutoApprove() bool {
	return r.RiskLevel == claim.RiskLevelLow
}

// SignalReader returns the latest network signals of a provider, or nil.
type SignalReader interface {
	GetSignals(ctx context.Context, providerID uuid.UUID) (*network.ProviderSignals, error)
}
