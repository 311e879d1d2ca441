package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
)

// DuplicateDetector finds identical claims submitted close together.
type DuplicateDetector struct {
	finder DuplicateFinder
	rules  Rules
}

// NewDuplicateDetector matches claims through finder within
// rules.DuplicateWindow of submission.
func NewDuplicateDetector(finder DuplicateFinder, rules Rules) *DuplicateDetector {
	return &DuplicateDetector{finder: finder, rules: rules}
}

// Detect returns a DUPLICATE_CLAIM alert; confidence is 0 without a match.
func (d *DuplicateDetector) Detect(ctx context.Context, c *claim.Claim) (*claim.FraudAlert, error) {
	window := d.rules.DuplicateWindow
	criteria := DuplicateCriteria{
		ExcludeClaimID: c.ID,
		ProviderID:     c.ProviderID,
		PatientID:      c.PatientID,
		ServiceDate:    claim.TruncateDay(c.ServiceDate),
		BilledAmount:   c.BilledAmount.Amount().String(),
		SubmittedFrom:  c.SubmittedAt.Add(-window),
		SubmittedTo:    c.SubmittedAt.Add(window),
	}

	candidates, err := d.finder.FindDuplicates(ctx, criteria)
	if err != nil {
		return nil, errors.NewDataUnavailableError("duplicate candidates", c.ID.String()).WithCause(err)
	}

	var matches []string
	for _, other := range candidates {
		if IsDuplicatePair(c, other, d.rules.DuplicateWindow) {
			matches = append(matches, other.ClaimNumber)
		}
	}

	if len(matches) == 0 {
		return claim.NewFraudAlert(c.ID, claim.FraudTypeDuplicateClaim, claim.RiskLevelLow, 0,
			"no duplicate claims found", nil), nil
	}

	return claim.NewFraudAlert(c.ID, claim.FraudTypeDuplicateClaim, claim.RiskLevelHigh, DuplicateConfidence,
		fmt.Sprintf("claim duplicates %d prior submission(s)", len(matches)),
		map[string]interface{}{
			"duplicate_claim_numbers": matches,
			"window_days":             int(d.rules.DuplicateWindow.Hours() / 24),
		}), nil
}

// IsDuplicatePair reports whether two distinct claims share provider,
// patient, service date and billed amount and were submitted within window
// of each other. The relation is symmetric.
func IsDuplicatePair(a, b *claim.Claim, window time.Duration) bool {
	if a == nil || b == nil || a.ID == b.ID {
		return false
	}
	if a.ProviderID != b.ProviderID || a.PatientID != b.PatientID {
		return false
	}
	if !claim.TruncateDay(a.ServiceDate).Equal(claim.TruncateDay(b.ServiceDate)) {
		return false
	}
	if !a.BilledAmount.Amount().Equal(b.BilledAmount.Amount()) {
		return false
	}
	delta := a.SubmittedAt.Sub(b.SubmittedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}
