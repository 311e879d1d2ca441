package fraud

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

// checkModifiers raises MISREPRESENTED_SERVICES when a line item carries a
// modifier its code does not allow. Unknown codes are left to the risk
// engine's unusual-code scoring.
func checkModifiers(ref *billingcode.Reference, claimID uuid.UUID, lineItems []claim.LineItem) *claim.FraudAlert {
	var invalid []string
	for _, li := range lineItems {
		if !ref.IsKnownCode(li.ProcedureCode) {
			continue
		}
		for _, m := range li.Modifiers {
			if !ref.ModifierAllowed(li.ProcedureCode, m) {
				invalid = append(invalid, li.ProcedureCode+"-"+m)
			}
		}
	}

	if len(invalid) == 0 {
		return claim.NewFraudAlert(claimID, claim.FraudTypeMisrepresentedServices, claim.RiskLevelLow, 0,
			"all modifiers allowed", nil)
	}
	return claim.NewFraudAlert(claimID, claim.FraudTypeMisrepresentedServices, claim.RiskLevelMedium,
		MisrepresentationConfidence,
		fmt.Sprintf("%d modifier(s) not allowed for the billed code", len(invalid)),
		map[string]interface{}{"invalid_modifiers": invalid})
}

// checkServiceFrequency raises UNNECESSARY_SERVICES when the provider billed
// the same patient more often than allowed in the trailing window.
func checkServiceFrequency(rules Rules, c *claim.Claim, h *History) *claim.FraudAlert {
	from := claim.TruncateDay(c.ServiceDate).Add(-PatientFrequencyWindow)
	visits := 0
	for _, other := range h.WithClaim(c).ClaimsForPatient(c.PatientID) {
		if other.ServiceDate.Before(from) || other.ServiceDate.After(c.ServiceDate) {
			continue
		}
		visits++
	}

	if rules.MaxPatientVisitsPerWindow <= 0 || visits <= rules.MaxPatientVisitsPerWindow {
		return claim.NewFraudAlert(c.ID, claim.FraudTypeUnnecessaryServices, claim.RiskLevelLow, 0,
			"visit frequency within norms", map[string]interface{}{"visits_30d": visits})
	}
	return claim.NewFraudAlert(c.ID, claim.FraudTypeUnnecessaryServices, claim.RiskLevelMedium,
		UnnecessaryServiceConfidence,
		fmt.Sprintf("patient billed %d times in 30 days by this provider", visits),
		map[string]interface{}{"visits_30d": visits, "limit": rules.MaxPatientVisitsPerWindow})
}
