package fraud

import (
	"math"
	"sort"
	"strings"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

// upcodingContext is the analysis context the upcoding patterns read.
type upcodingContext struct {
	profile       *CodingProfile
	priceOutliers []map[string]interface{}
	maxBundling   float64
	bundlingClaim string
}

// UpcodingDetector profiles provider coding levels.
type UpcodingDetector struct {
	ref      *billingcode.Reference
	rules    Rules
	registry *Registry[upcodingContext]
}

// NewUpcodingDetector builds the detector and its pattern registry.
func NewUpcodingDetector(ref *billingcode.Reference, rules Rules) *UpcodingDetector {
	d := &UpcodingDetector{ref: ref, rules: rules}
	d.registry = NewRegistry(
		Pattern[upcodingContext]{
			ID:             PatternConsistentHighLevel,
			Description:    "Consistently bills high-level E&M codes",
			Weight:         WeightConsistentHighLevel,
			Recommendation: "Request medical records for a sample of level 4-5 visits",
			AuditTrigger:   TriggerCodingAudit,
			Match: func(c *upcodingContext) (bool, map[string]interface{}) {
				p := c.profile
				ok := p.HighLevelFrequency > rules.HighLevelFrequency && p.AverageComplexity > rules.HighLevelComplexity
				return ok, map[string]interface{}{
					"high_level_frequency": round2(p.HighLevelFrequency),
					"average_complexity":   round2(p.AverageComplexity),
				}
			},
		},
		Pattern[upcodingContext]{
			ID:             PatternTimeDocumentationMismatch,
			Description:    "Billed amounts exceed what the documented service supports",
			Weight:         WeightTimeDocumentationMismatch,
			Recommendation: "Compare billed amounts with documented service time",
			AuditTrigger:   TriggerCodingAudit,
			Match: func(c *upcodingContext) (bool, map[string]interface{}) {
				if len(c.priceOutliers) == 0 {
					return false, nil
				}
				return true, map[string]interface{}{"line_items": c.priceOutliers}
			},
		},
		Pattern[upcodingContext]{
			ID:             PatternModifierAbuse,
			Description:    "Modifier 59 or 25 used far above norms",
			Weight:         WeightModifierAbuse,
			Recommendation: "Audit modifier 59 and 25 usage against documentation",
			AuditTrigger:   TriggerModifierReview,
			Match: func(c *upcodingContext) (bool, map[string]interface{}) {
				p := c.profile
				if p.ModifierTotal < rules.MinModifierOccurrences {
					return false, nil
				}
				share59, share25 := p.ModifierShare("59"), p.ModifierShare("25")
				ok := share59 > rules.Modifier59Share || share25 > rules.Modifier25Share
				return ok, map[string]interface{}{
					"modifier_59_share": round2(share59),
					"modifier_25_share": round2(share25),
					"modifier_total":    p.ModifierTotal,
				}
			},
		},
		Pattern[upcodingContext]{
			ID:             PatternSpecialtyDeviation,
			Description:    "Coding distribution deviates from specialty benchmark",
			Weight:         WeightSpecialtyDeviation,
			Recommendation: "Benchmark coding distribution against specialty peers",
			AuditTrigger:   TriggerCodingAudit,
			Match: func(c *upcodingContext) (bool, map[string]interface{}) {
				p := c.profile
				return p.DeviationScore > rules.SpecialtyDeviation, map[string]interface{}{
					"deviation_score": round2(p.DeviationScore),
					"benchmark":       p.Benchmark.AverageComplexity,
				}
			},
		},
		Pattern[upcodingContext]{
			ID:             PatternBundlingEvasion,
			Description:    "Bundled procedures billed separately",
			Weight:         WeightBundlingEvasion,
			Recommendation: "Review claims for bundled procedure codes billed separately",
			AuditTrigger:   TriggerBundlingReview,
			Match: func(c *upcodingContext) (bool, map[string]interface{}) {
				return c.maxBundling > rules.BundlingEvasionRisk, map[string]interface{}{
					"max_combination_risk": c.maxBundling,
					"claim_number":         c.bundlingClaim,
				}
			},
		},
	)
	d.registry.Reweight(rules.PatternWeights)
	return d
}

// Analyze runs the upcoding patterns over a loaded history.
func (d *UpcodingDetector) Analyze(h *History) *UpcodingResult {
	res := &UpcodingResult{
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
		res.Profile = d.profile(h)
		return res
	}

	ctx := d.buildContext(h)
	res.Profile = ctx.profile
	res.ClaimsAnalyzed = len(h.Claims)

	eval := d.registry.Evaluate(ctx)
	res.Patterns = eval.Matches
	res.Confidence = eval.Confidence()
	res.RiskLevel = d.rules.ConfidenceBands.Level(res.Confidence)
	res.IsUpcoding = res.Confidence > d.rules.UpcodingThreshold
	res.Recommendations = append(res.Recommendations, eval.Recommendations...)
	res.AuditTriggers = append(res.AuditTriggers, eval.AuditTriggers...)
	if res.RiskLevel == claim.RiskLevelCritical {
		res.AuditTriggers = appendUnique(res.AuditTriggers, TriggerSIUReferral)
	}
	if h.Provider == nil {
		res.Notes = append(res.Notes, "provider record unavailable; default specialty benchmark used")
	}
	return res
}

func (d *UpcodingDetector) buildContext(h *History) *upcodingContext {
	ctx := &upcodingContext{profile: d.profile(h)}

	for _, c := range h.Claims {
		for _, li := range c.LineItems {
			max, ok := d.ref.TypicalMax(li.ProcedureCode)
			if !ok {
				continue
			}
			total := li.Total().ToFloat64()
			if total > d.rules.PriceMismatchMultiplier*max {
				ctx.priceOutliers = append(ctx.priceOutliers, map[string]interface{}{
					"claim_number":   c.ClaimNumber,
					"procedure_code": li.ProcedureCode,
					"total":          round2(total),
					"typical_max":    max,
				})
			}
		}

		combo := d.ref.ValidateCodeCombination(c.ProcedureCodes())
		if combo.RiskScore > ctx.maxBundling {
			ctx.maxBundling = combo.RiskScore
			ctx.bundlingClaim = c.ClaimNumber
		}
	}
	return ctx
}

// profile computes the coding profile. Complexity is averaged over E&M
// line items; modifier shares count every modifier occurrence.
func (d *UpcodingDetector) profile(h *History) *CodingProfile {
	p := &CodingProfile{ModifierUsage: map[string]int{}}

	var complexitySum, highLevel int
	for _, c := range h.Claims {
		for _, li := range c.LineItems {
			for _, m := range li.Modifiers {
				p.ModifierUsage[m]++
				p.ModifierTotal++
			}
			if !d.ref.IsEvaluationCode(li.ProcedureCode) {
				continue
			}
			level := d.ref.Complexity(li.ProcedureCode)
			complexitySum += level
			p.EvaluationItems++
			if level >= 4 {
				highLevel++
			}
		}
	}
	if p.EvaluationItems > 0 {
		p.AverageComplexity = float64(complexitySum) / float64(p.EvaluationItems)
		p.HighLevelFrequency = float64(highLevel) / float64(p.EvaluationItems)
	}

	if h.Provider != nil {
		p.Specialty = h.Provider.Specialty
	}
	p.Benchmark = d.benchmark(p.Specialty)

	typical := make(map[string]struct{}, len(p.Benchmark.TypicalModifiers))
	for _, m := range p.Benchmark.TypicalModifiers {
		typical[m] = struct{}{}
	}
	for m := range p.ModifierUsage {
		if _, ok := typical[m]; !ok {
			p.OffProfileMods = append(p.OffProfileMods, m)
		}
	}
	sort.Strings(p.OffProfileMods)

	p.DeviationScore = d.deviation(p)
	return p
}

func (d *UpcodingDetector) deviation(p *CodingProfile) float64 {
	if p.EvaluationItems == 0 && p.ModifierTotal == 0 {
		return 0
	}
	var score float64
	if p.EvaluationItems > 0 {
		score = math.Min(40, 20*math.Abs(p.AverageComplexity-p.Benchmark.AverageComplexity))
	}
	if p.HighLevelFrequency > d.rules.DeviationHighLevelFrequency {
		score += 30
	}
	score += 10 * float64(len(p.OffProfileMods))
	return math.Min(100, score)
}

func (d *UpcodingDetector) benchmark(specialty string) SpecialtyBenchmark {
	if b, ok := d.rules.Benchmarks[strings.ToLower(strings.TrimSpace(specialty))]; ok {
		return b
	}
	return d.rules.DefaultBenchmark
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
