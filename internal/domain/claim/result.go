package claim

import "github.com/google/uuid"

// Disposition is the recommended handling of a scored claim.
type Disposition string

const (
	DispositionApprove     Disposition = "APPROVE"
	DispositionHold        Disposition = "HOLD"
	DispositionDeny        Disposition = "DENY"
	DispositionInvestigate Disposition = "INVESTIGATE"
)

// Breakdown holds the five dimension sub-scores, each in [0,100].
type Breakdown struct {
	Provider   float64 `json:"provider_risk"`
	Claim      float64 `json:"claim_risk"`
	Patient    float64 `json:"patient_risk"`
	Network    float64 `json:"network_risk"`
	Behavioral float64 `json:"behavioral_risk"`
}

// AnalysisResult is returned to the intake caller for every processed claim.
type AnalysisResult struct {
	ClaimID         uuid.UUID     `json:"claim_id"`
	ClaimNumber     string        `json:"claim_number"`
	RiskScore       float64       `json:"risk_score"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	Confidence      float64       `json:"confidence"`
	Breakdown       Breakdown     `json:"breakdown"`
	FraudTypes      []FraudType   `json:"fraud_types"`
	Alerts          []*FraudAlert `json:"alerts"`
	KeyDrivers      []string      `json:"key_drivers"`
	Recommendations []string      `json:"recommendations"`
	AuditTriggers   []string      `json:"audit_triggers,omitempty"`
	Approved        bool          `json:"approved"`
	Disposition     Disposition   `json:"disposition"`

	// Claim is the completed record; kept so a failed write can be retried.
	Claim *Claim `json:"-"`
}

// ShouldApprove is the auto-approval gate: the score must be under
// threshold and no detector may have raised an alert.
func ShouldApprove(score, threshold float64, alerts []*FraudAlert) bool {
	if score >= threshold {
		return false
	}
	for _, a := range alerts {
		if a.Raised() {
			return false
		}
	}
	return true
}

// ChooseDisposition maps an outcome to the recommended handling.
func ChooseDisposition(approved bool, level RiskLevel, alerts []*FraudAlert) Disposition {
	if approved {
		return DispositionApprove
	}
	investigate := level == RiskLevelCritical
	for _, a := range alerts {
		if !a.Raised() {
			continue
		}
		switch a.Type {
		case FraudTypeDuplicateClaim:
			return DispositionDeny
		case FraudTypeOrganizedFraud, FraudTypeKickbacks:
			investigate = true
		}
	}
	if investigate {
		return DispositionInvestigate
	}
	return DispositionHold
}
