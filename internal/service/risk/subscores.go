package risk

import (
	"math"
	"time"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

// evidence is the read-only input of every sub-score for one claim.
type evidence struct {
	claim   *claim.Claim
	history *fraud.History
	rules   fraud.Rules
	ref     *billingcode.Reference

	patient      *provider.Patient
	recentVisits int // patient claims across all providers in the last 30 days
	remoteVisits int // of those, providers far from the patient
	unbundling   *claim.FraudAlert
	duplicate    *claim.FraudAlert
	upcoding     *fraud.UpcodingResult
	phantom      *fraud.PhantomBillingResult
	signals      *network.ProviderSignals
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// providerRisk is the historical flag rate of completed claims plus an
// upward-trend bonus of up to 20.
func providerRisk(ev *evidence) float64 {
	h := ev.history
	if h == nil || !h.HasClaims() {
		return 0
	}

	mid := h.Since.Add(h.Until.Sub(h.Since) / 2)
	var total, flagged, early, earlyFlagged, late, lateFlagged int
	for _, c := range h.Claims {
		if c.ID == ev.claim.ID || !c.Status.IsTerminal() {
			continue
		}
		isFlagged := c.Status == claim.StatusFlaggedForFraud || c.IsFlagged()
		total++
		if isFlagged {
			flagged++
		}
		if c.ServiceDate.Before(mid) {
			early++
			if isFlagged {
				earlyFlagged++
			}
		} else {
			late++
			if isFlagged {
				lateFlagged++
			}
		}
	}
	if total == 0 {
		return 0
	}

	score := float64(flagged) / float64(total) * 100
	if early > 0 && late > 0 {
		trend := float64(lateFlagged)/float64(late) - float64(earlyFlagged)/float64(early)
		if trend > 0 {
			score += math.Min(20, trend*100)
		}
	}
	return clamp(score)
}

// claimRisk scores the claim's own characteristics.
func claimRisk(ev *evidence) float64 {
	c := ev.claim
	var score float64

	amount := c.BilledAmount.ToFloat64()
	switch {
	case amount > 10000:
		score += 35
	case amount > 5000:
		score += 25
	case amount > 2000:
		score += 15
	case amount > 1000:
		score += 5
	}

	score += math.Min(20, 4*float64(len(c.LineItems)))

	var outliers int
	unknown := make(map[string]bool)
	for _, li := range c.LineItems {
		if !ev.ref.IsKnownCode(li.ProcedureCode) {
			unknown[li.ProcedureCode] = true
			continue
		}
		if typical, ok := ev.ref.TypicalMax(li.ProcedureCode); ok && li.UnitCost.ToFloat64() > typical*ev.rules.PriceMismatchMultiplier {
			outliers++
		}
	}
	score += math.Min(30, 10*float64(len(unknown)))
	score += math.Min(20, 10*float64(outliers))

	if ev.unbundling != nil {
		combo := ev.unbundling.Details["risk_score"]
		if v, ok := combo.(float64); ok {
			score += 0.4 * v
		}
	}
	if ev.duplicate.Raised() {
		score += 40
	}
	return clamp(score)
}

// patientRisk scores age extremes, new-patient status, visit frequency and
// visits to distant providers.
func patientRisk(ev *evidence) float64 {
	var score float64
	c := ev.claim

	if ev.patient != nil && ev.patient.DateOfBirth != nil {
		if age := ev.patient.AgeAt(c.ServiceDate); age < 1 || age > 95 {
			score += 20
		}
	}

	if ev.history != nil && ev.history.ClaimsErr == nil {
		seenBefore := false
		for _, other := range ev.history.ClaimsForPatient(c.PatientID) {
			if other.ID != c.ID && other.ServiceDate.Before(c.ServiceDate) {
				seenBefore = true
				break
			}
		}
		if !seenBefore {
			score += 10
		}
	}

	switch {
	case ev.recentVisits > 10:
		score += 25
	case ev.recentVisits > 5:
		score += 15
	}

	score += math.Min(30, 10*float64(ev.remoteVisits))
	return clamp(score)
}

// networkRisk digests the provider's latest network signals.
func networkRisk(ev *evidence) float64 {
	s := ev.signals
	if s == nil {
		return 0
	}
	score := math.Min(40, 10*float64(s.SuspiciousConnections))
	if s.InCluster {
		score += 20
	}
	score += 10 * float64(s.RingIndicators)
	score += 5 * float64(s.ReferralAnomalies)
	return clamp(score)
}

// behavioralRisk combines detector confidence with billing frequency,
// timing and code-distribution skew.
func behavioralRisk(ev *evidence) float64 {
	var score float64
	var upcodingConf, phantomConf float64
	if ev.upcoding != nil {
		upcodingConf = ev.upcoding.Confidence
	}
	if ev.phantom != nil {
		phantomConf = ev.phantom.Confidence
	}
	score += 0.6 * math.Max(upcodingConf, phantomConf)

	if ev.phantom != nil && ev.phantom.Volume.DailyCapacity > 0 {
		utilization := float64(ev.phantom.Volume.MaxClaimedVolume) / float64(ev.phantom.Volume.DailyCapacity)
		if utilization > 0.8 {
			score += 10
		}
	}

	if ev.history != nil && len(ev.history.Claims) > 0 {
		var weekend int
		for _, c := range ev.history.Claims {
			if wd := c.ServiceDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
				weekend++
			}
		}
		if float64(weekend)/float64(len(ev.history.Claims)) > ev.rules.WeekendShare {
			score += 10
		}
	}

	if ev.upcoding != nil && ev.upcoding.Profile != nil {
		p := ev.upcoding.Profile
		if p.EvaluationItems > 0 && p.HighLevelFrequency > 0.6 {
			score += 15
		}
		if p.ModifierTotal >= ev.rules.MinModifierOccurrences && p.ModifierShare("59") > ev.rules.Modifier59Share {
			score += 10
		}
	}
	return clamp(score)
}
