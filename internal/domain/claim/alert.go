package claim

import (
	"time"

	"github.com/google/uuid"
)

// FraudType categorizes an alert.
type FraudType string

const (
	FraudTypePhantomBilling         FraudType = "PHANTOM_BILLING"
	FraudTypeUpcoding               FraudType = "UPCODING"
	FraudTypeUnbundling             FraudType = "UNBUNDLING"
	FraudTypeDuplicateClaim         FraudType = "DUPLICATE_CLAIM"
	FraudTypeKickbacks              FraudType = "KICKBACKS"
	FraudTypeUnnecessaryServices    FraudType = "UNNECESSARY_SERVICES"
	FraudTypeMisrepresentedServices FraudType = "MISREPRESENTED_SERVICES"
	FraudTypeOrganizedFraud         FraudType = "ORGANIZED_FRAUD"
)

// FraudAlert is detector evidence attached to a claim. Alerts are immutable
// once created; only alerts with positive confidence are ever persisted.
type FraudAlert struct {
	ID          uuid.UUID              `json:"id"`
	ClaimID     uuid.UUID              `json:"claim_id"`
	Type        FraudType              `json:"type"`
	Severity    RiskLevel              `json:"severity"`
	Confidence  float64                `json:"confidence"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// NewFraudAlert stamps an alert for claimID.
func NewFraudAlert(claimID uuid.UUID, fraudType FraudType, severity RiskLevel, confidence float64, description string, details map[string]interface{}) *FraudAlert {
	return &FraudAlert{
		ID:          uuid.New(),
		ClaimID:     claimID,
		Type:        fraudType,
		Severity:    severity,
		Confidence:  confidence,
		Description: description,
		Details:     details,
		CreatedAt:   clock.Now(),
	}
}

// Raised reports whether the alert carries a positive finding.
func (a *FraudAlert) Raised() bool {
	return a != nil && a.Confidence > 0
}
