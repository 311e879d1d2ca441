package fraud

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

// UnbundlingDetector checks a single claim's code combination.
type UnbundlingDetector struct {
	ref   *billingcode.Reference
	rules Rules
}

// NewUnbundlingDetector scores code combinations against ref and alerts
// above rules.UnbundlingRisk.
func NewUnbundlingDetector(ref *billingcode.Reference, rules Rules) *UnbundlingDetector {
	return &UnbundlingDetector{ref: ref, rules: rules}
}

// Detect returns an UNBUNDLING alert whose confidence is the combination
// risk score when it exceeds the threshold, else 0.
func (d *UnbundlingDetector) Detect(claimID uuid.UUID, lineItems []claim.LineItem) *claim.FraudAlert {
	codes := make([]string, 0, len(lineItems))
	for _, li := range lineItems {
		codes = append(codes, li.ProcedureCode)
	}
	combo := d.ref.ValidateCodeCombination(codes)

	details := map[string]interface{}{
		"risk_score": combo.RiskScore,
		"warnings":   combo.Warnings,
	}
	if len(combo.BundledPairs) > 0 {
		details["bundled_pairs"] = combo.BundledPairs
	}

	if combo.RiskScore <= d.rules.UnbundlingRisk {
		return claim.NewFraudAlert(claimID, claim.FraudTypeUnbundling, claim.RiskLevelLow, 0,
			"code combination within bundling norms", details)
	}

	return claim.NewFraudAlert(claimID, claim.FraudTypeUnbundling,
		d.rules.ConfidenceBands.Level(combo.RiskScore), combo.RiskScore,
		fmt.Sprintf("component procedures billed separately (combination risk %.0f)", combo.RiskScore),
		details)
}
