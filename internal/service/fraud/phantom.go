package fraud

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

// PhantomBillingDetector checks whether billed services could have been
// rendered at all.
type PhantomBillingDetector struct {
	rules    Rules
	registry *Registry[PhantomBillingResult]
}

// NewPhantomBillingDetector builds the detector and its pattern registry.
// Patterns read the sub-analyses stored on the result being built.
func NewPhantomBillingDetector(rules Rules) *PhantomBillingDetector {
	d := &PhantomBillingDetector{rules: rules}
	d.registry = NewRegistry(
		Pattern[PhantomBillingResult]{
			ID:             PatternImpossibleVolume,
			Description:    "Daily billed volume exceeds provider capacity",
			Weight:         WeightImpossibleVolume,
			Recommendation: "Verify appointment logs for peak service dates",
			AuditTrigger:   TriggerOnSiteVerification,
			Match: func(r *PhantomBillingResult) (bool, map[string]interface{}) {
				v := r.Volume
				ok := v.VolumeExceeded && v.ExcessPercentage > rules.VolumeExcessPercent
				return ok, map[string]interface{}{
					"daily_capacity":     v.DailyCapacity,
					"max_claimed_volume": v.MaxClaimedVolume,
					"excess_percentage":  round2(v.ExcessPercentage),
				}
			},
		},
		Pattern[PhantomBillingResult]{
			ID:             PatternGeographicAnomaly,
			Description:    "Patients located implausibly far from the provider",
			Weight:         WeightGeographicAnomaly,
			Recommendation: "Confirm patient residence and place of service",
			AuditTrigger:   TriggerPatientOutreach,
			Match: func(r *PhantomBillingResult) (bool, map[string]interface{}) {
				g := r.Geographic
				if !g.LocationAvailable {
					return false, nil
				}
				ok := g.SuspiciousLocations > rules.MaxSuspiciousLocations || g.MaxDistanceMiles > rules.MaxServiceDistanceMiles
				return ok, map[string]interface{}{
					"suspicious_locations": g.SuspiciousLocations,
					"max_distance_miles":   round2(g.MaxDistanceMiles),
				}
			},
		},
		Pattern[PhantomBillingResult]{
			ID:             PatternTimeConflict,
			Description:    "More billed time in a day than can be worked",
			Weight:         WeightTimeConflict,
			Recommendation: "Reconcile billed units with provider schedules",
			AuditTrigger:   TriggerOnSiteVerification,
			Match: func(r *PhantomBillingResult) (bool, map[string]interface{}) {
				t := r.TimeConflict
				return t.ConflictScore > 70, map[string]interface{}{
					"conflict_dates": len(t.ConflictDates),
					"max_units":      t.MaxUnitsPerDay,
				}
			},
		},
		Pattern[PhantomBillingResult]{
			ID:             PatternPatientIdentityFraud,
			Description:    "Patient panel suggests fabricated or borrowed identities",
			Weight:         WeightPatientIdentityFraud,
			Recommendation: "Contact a sample of patients to confirm services",
			AuditTrigger:   TriggerPatientOutreach,
			Match: func(r *PhantomBillingResult) (bool, map[string]interface{}) {
				p := r.Patients
				if p.InsufficientData {
					return false, nil
				}
				ok := len(p.IdentityFlags) > 0 || p.NewPatientRatio > rules.IdentityNewPatientRatio
				return ok, map[string]interface{}{
					"identity_flags":    p.IdentityFlags,
					"new_patient_ratio": round2(p.NewPatientRatio),
				}
			},
		},
		Pattern[PhantomBillingResult]{
			ID:             PatternPatternAnomaly,
			Description:    "Several suspicious patient patterns at once",
			Weight:         WeightPatternAnomaly,
			Recommendation: "Review patient acquisition and scheduling patterns",
			AuditTrigger:   TriggerSIUReferral,
			Match: func(r *PhantomBillingResult) (bool, map[string]interface{}) {
				p := r.Patients
				return len(p.SuspiciousPatterns) > rules.PatternAnomalyMinPatterns, map[string]interface{}{
					"suspicious_patterns": p.SuspiciousPatterns,
				}
			},
		},
	)
	d.registry.Reweight(rules.PatternWeights)
	return d
}

// Analyze runs the four sub-analyses and the pattern registry.
func (d *PhantomBillingDetector) Analyze(h *History) *PhantomBillingResult {
	res := &PhantomBillingResult{
		DetectionResult: DetectionResult{
			ProviderID:      h.ProviderID,
			RiskLevel:       claim.RiskLevelLow,
			Patterns:        []MatchedPattern{},
			Recommendations: []string{},
			AuditTriggers:   []string{},
			AnalyzedAt:      claim.Now(),
		},
	}

	if !h.HasClaims() {
		res.Notes = append(res.Notes, InsufficientDataNote)
		for _, gap := range h.Gaps() {
			res.Notes = append(res.Notes, gap+" unavailable")
		}
		res.Patients.InsufficientData = true
		return res
	}
	res.ClaimsAnalyzed = len(h.Claims)

	dailyUnits := unitsByDay(h.Claims)
	res.Volume = d.analyzeVolume(h, dailyUnits)
	res.Geographic = d.analyzeGeography(h)
	res.TimeConflict = d.analyzeTimeConflict(h, dailyUnits)
	res.Patients = d.analyzePatients(h)

	if !res.Geographic.LocationAvailable {
		res.Notes = append(res.Notes, res.Geographic.Anomalies...)
	}
	if res.Patients.InsufficientData {
		res.Notes = append(res.Notes, "patient pattern: "+InsufficientDataNote)
	}

	eval := d.registry.Evaluate(res)
	res.Patterns = eval.Matches
	res.Confidence = eval.Confidence()
	res.RiskLevel = d.rules.ConfidenceBands.Level(res.Confidence)
	res.IsPhantomBilling = res.Confidence > d.rules.PhantomThreshold
	res.Recommendations = append(res.Recommendations, eval.Recommendations...)
	res.AuditTriggers = append(res.AuditTriggers, eval.AuditTriggers...)
	if res.IsPhantomBilling {
		res.AuditTriggers = appendUnique(res.AuditTriggers, TriggerSIUReferral)
	}
	return res
}

func (d *PhantomBillingDetector) capacity(t provider.ProviderType) int {
	if c, ok := d.rules.DailyCapacity[t]; ok && c > 0 {
		return c
	}
	return d.rules.DefaultDailyCapacity
}

func (d *PhantomBillingDetector) analyzeVolume(h *History, daily map[time.Time]int) VolumeAnalysis {
	v := VolumeAnalysis{
		ProviderType:  h.ProviderType(),
		DailyCapacity: d.capacity(h.ProviderType()),
	}

	for _, day := range sortedDays(daily) {
		units := daily[day]
		if units > v.MaxClaimedVolume {
			v.MaxClaimedVolume = units
			v.PeakDate = day
		}
		if units > v.DailyCapacity {
			v.SuspiciousDates = append(v.SuspiciousDates, day)
		}
	}

	v.VolumeExceeded = len(v.SuspiciousDates) > 0
	if v.DailyCapacity > 0 && v.VolumeExceeded {
		v.ExcessPercentage = float64(v.MaxClaimedVolume-v.DailyCapacity) / float64(v.DailyCapacity) * 100
	}
	return v
}

func (d *PhantomBillingDetector) analyzeGeography(h *History) GeographicAnalysis {
	g := GeographicAnalysis{}
	if h.Provider == nil || h.Provider.Location == nil {
		g.Anomalies = append(g.Anomalies, "provider location not available")
		return g
	}
	g.LocationAvailable = true

	origin := *h.Provider.Location
	for _, id := range h.PatientIDs() {
		p, ok := h.Patients[id]
		if !ok || p.Location == nil {
			continue
		}
		g.PatientsCompared++
		dist := origin.DistanceMiles(*p.Location)
		if dist > g.MaxDistanceMiles {
			g.MaxDistanceMiles = dist
		}
		if dist > d.rules.SuspiciousDistanceMiles {
			g.SuspiciousLocations++
		}
	}
	if g.PatientsCompared == 0 {
		g.Anomalies = append(g.Anomalies, "no patient locations available")
	}
	return g
}

func (d *PhantomBillingDetector) analyzeTimeConflict(h *History, daily map[time.Time]int) TimeConflictAnalysis {
	t := TimeConflictAnalysis{Applicable: true}
	for _, exempt := range d.rules.TimeConflictExempt {
		if exempt == h.ProviderType() {
			t.Applicable = false
			return t
		}
	}

	for _, day := range sortedDays(daily) {
		units := daily[day]
		if units > t.MaxUnitsPerDay {
			t.MaxUnitsPerDay = units
		}
		if units > d.rules.MaxUnitsPerDay {
			t.ConflictDates = append(t.ConflictDates, day)
		}
	}
	if len(t.ConflictDates) > 0 {
		t.ConflictScore = 90
	}
	return t
}

func (d *PhantomBillingDetector) analyzePatients(h *History) PatientPatternAnalysis {
	a := PatientPatternAnalysis{}
	if h.PatientsErr != nil {
		a.InsufficientData = true
		return a
	}

	visits := make(map[uuid.UUID]int)
	var weekendClaims int
	for _, c := range h.Claims {
		visits[c.PatientID]++
		if wd := c.ServiceDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekendClaims++
		}
	}
	a.TotalPatients = len(visits)
	if a.TotalPatients < d.rules.MinPatientsForRatios {
		a.InsufficientData = true
		return a
	}

	var seenOnce, incomplete, missing, elderly int
	phones := make(map[string]int)
	addresses := make(map[string]int)
	at := h.Until
	for id, n := range visits {
		if n == 1 {
			seenOnce++
		}
		p, ok := h.Patients[id]
		if !ok {
			missing++
			incomplete++
			continue
		}
		if !p.HasCompleteDemographics() {
			incomplete++
		}
		if p.AgeAt(at) > d.rules.ElderlyAge {
			elderly++
		}
		if ph := p.NormalizedPhone(); ph != "" {
			phones[ph]++
		}
		if addr := p.NormalizedAddress(); addr != "" {
			addresses[addr]++
		}
	}

	total := float64(a.TotalPatients)
	a.NewPatientRatio = float64(seenOnce) / total
	a.IncompleteDemographicsRatio = float64(incomplete) / total
	a.ElderlyRatio = float64(elderly) / total

	if a.IncompleteDemographicsRatio > d.rules.IncompleteDemographicsRatio {
		a.IdentityFlags = append(a.IdentityFlags, IdentityIncompleteDemographics)
	}
	if missing > 0 && float64(missing)/total > d.rules.IncompleteDemographicsRatio {
		a.IdentityFlags = append(a.IdentityFlags, IdentityMissingPatientRecords)
	}

	if a.NewPatientRatio > d.rules.NewPatientRatio {
		a.SuspiciousPatterns = append(a.SuspiciousPatterns, SuspiciousHighNewPatientRatio)
	}
	if a.ElderlyRatio > d.rules.ElderlyRatio {
		a.SuspiciousPatterns = append(a.SuspiciousPatterns, SuspiciousImplausibleAges)
	}
	if maxCount(phones) >= d.rules.SharedContactPatients || maxCount(addresses) >= d.rules.SharedContactPatients {
		a.SuspiciousPatterns = append(a.SuspiciousPatterns, SuspiciousSharedPatientContact)
	}
	if float64(weekendClaims)/float64(len(h.Claims)) > d.rules.WeekendShare {
		a.SuspiciousPatterns = append(a.SuspiciousPatterns, SuspiciousWeekendConcentration)
	}
	return a
}

// unitsByDay sums billed units per service date.
func unitsByDay(claims []*claim.Claim) map[time.Time]int {
	out := make(map[time.Time]int)
	for _, c := range claims {
		out[claim.TruncateDay(c.ServiceDate)] += c.TotalUnits()
	}
	return out
}

func sortedDays(m map[time.Time]int) []time.Time {
	days := make([]time.Time, 0, len(m))
	for d := range m {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func maxCount(m map[string]int) int {
	best := 0
	for _, n := range m {
		if n > best {
			best = n
		}
	}
	return best
}

// Summary is a one-line description for alerts.
func (r *PhantomBillingResult) Summary() string {
	ids := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		ids[i] = p.ID
	}
	return fmt.Sprintf("phantom billing indicators %v (confidence %.0f)", ids, r.Confidence)
}
