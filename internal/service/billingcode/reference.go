package billingcode

import (
	"fmt"
	"sort"
	"strings"
)

// BundlingTier weighs how likely a separately billed component is unbundling.
type BundlingTier string

const (
	TierNone   BundlingTier = ""
	TierLow    BundlingTier = "LOW"
	TierMedium BundlingTier = "MEDIUM"
	TierHigh   BundlingTier = "HIGH"
)

// Weight returns the risk points contributed by one bundled pair.
func (t BundlingTier) Weight() float64 {
	switch t {
	case TierLow:
		return 10
	case TierMedium:
		return 25
	case TierHigh:
		return 40
	default:
		return 0
	}
}

const maxCombinationRisk = 100

// Code categories
const (
	CategoryEvaluation = "EVALUATION_MANAGEMENT"
	CategoryLaboratory = "LABORATORY"
	CategoryRadiology  = "RADIOLOGY"
	CategoryCardiology = "CARDIOLOGY"
	CategorySurgery    = "SURGERY"
	CategoryInjection  = "INJECTION"
	CategoryTherapy    = "THERAPY"
	CategoryBehavioral = "BEHAVIORAL_HEALTH"
	CategoryEquipment  = "DURABLE_EQUIPMENT"
)

// PriceRange is the typical billed price per unit.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CodeInfo describes one CPT/HCPCS code.
type CodeInfo struct {
	Code             string       `json:"code"`
	Category         string       `json:"category"`
	Description      string       `json:"description"`
	BaseRate         float64      `json:"base_rate"`
	PriceRange       PriceRange   `json:"price_range"`
	AllowedModifiers []string     `json:"allowed_modifiers"`
	BundledWith      []string     `json:"bundled_with,omitempty"`
	UnbundlingRisk   BundlingTier `json:"unbundling_risk,omitempty"`
	HigherLevelCodes []string     `json:"higher_level_codes,omitempty"`
	// Complexity is the 1-5 level for E&M codes and 0 otherwise.
	Complexity int `json:"complexity,omitempty"`
}

// IsEvaluation reports whether the code is an E&M visit code.
func (c CodeInfo) IsEvaluation() bool {
	return c.Category == CategoryEvaluation
}

// HighRiskCombination is a curated pair that should never be billed together.
type HighRiskCombination struct {
	Codes  [2]string
	Reason string
}

// CombinationResult is the outcome of ValidateCodeCombination.
type CombinationResult struct {
	IsValid   bool     `json:"is_valid"`
	Warnings  []string `json:"warnings"`
	RiskScore float64  `json:"risk_score"`
	// BundledPairs lists every "component->comprehensive" pair found.
	BundledPairs []string `json:"bundled_pairs,omitempty"`
}

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// Reference is the read-only billing code knowledge base. It is safe for
// concurrent use.
type Reference struct {
	codes    map[string]CodeInfo
	highRisk map[pairKey]string
}

// NewReference builds a reference from code and combination tables.
func NewReference(codes []CodeInfo, combos []HighRiskCombination) *Reference {
	r := &Reference{
		codes:    make(map[string]CodeInfo, len(codes)),
		highRisk: make(map[pairKey]string, len(combos)),
	}
	for _, c := range codes {
		c.Code = normalizeCode(c.Code)
		r.codes[c.Code] = c
	}
	for _, hr := range combos {
		r.highRisk[newPairKey(normalizeCode(hr.Codes[0]), normalizeCode(hr.Codes[1]))] = hr.Reason
	}
	return r
}

// Default returns the reference built from the built-in tables.
func Default() *Reference {
	return NewReference(defaultCodes(), defaultHighRiskCombinations())
}

// Lookup returns the code entry.
func (r *Reference) Lookup(code string) (CodeInfo, bool) {
	info, ok := r.codes[normalizeCode(code)]
	return info, ok
}

// IsKnownCode reports whether code is in the reference. Case and
// surrounding whitespace are ignored.
func (r *Reference) IsKnownCode(code string) bool {
	_, ok := r.Lookup(code)
	return ok
}

// ModifierAllowed reports whether modifier may be appended to code. Unknown
// codes allow nothing.
func (r *Reference) ModifierAllowed(code, modifier string) bool {
	info, ok := r.Lookup(code)
	if !ok {
		return false
	}
	modifier = strings.ToUpper(strings.TrimSpace(modifier))
	for _, m := range info.AllowedModifiers {
		if m == modifier {
			return true
		}
	}
	return false
}

// IsEvaluationCode reports whether code is an E&M code.
func (r *Reference) IsEvaluationCode(code string) bool {
	info, ok := r.Lookup(code)
	return ok && info.IsEvaluation()
}

// Complexity returns the E&M level (1-5) or 0.
func (r *Reference) Complexity(code string) int {
	info, ok := r.Lookup(code)
	if !ok {
		return 0
	}
	return info.Complexity
}

// NextHigherCodes returns the codes one level above code.
func (r *Reference) NextHigherCodes(code string) []string {
	info, ok := r.Lookup(code)
	if !ok {
		return nil
	}
	return append([]string(nil), info.HigherLevelCodes...)
}

// TypicalMax returns the top of the typical per-unit price range.
func (r *Reference) TypicalMax(code string) (float64, bool) {
	info, ok := r.Lookup(code)
	if !ok || info.PriceRange.Max <= 0 {
		return 0, false
	}
	return info.PriceRange.Max, true
}

// ValidateCodeCombination checks a claim's code set for unbundling. Codes
// are de-duplicated and sorted first so input order never changes the
// outcome, and each unordered pair is weighed once.
func (r *Reference) ValidateCodeCombination(codes []string) CombinationResult {
	uniq := uniqueSorted(codes)
	result := CombinationResult{Warnings: []string{}}

	for _, c := range uniq {
		if !r.IsKnownCode(c) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown procedure code %s", c))
		}
	}

	highRiskFound := false
	var score float64
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			a, b := uniq[i], uniq[j]

			if reason, ok := r.highRisk[newPairKey(a, b)]; ok {
				highRiskFound = true
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("high-risk combination %s+%s: %s", a, b, reason))
			}

			tier, comprehensive, component := r.bundleTier(a, b)
			if tier == TierNone {
				continue
			}
			score += tier.Weight()
			result.BundledPairs = append(result.BundledPairs, component+"->"+comprehensive)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s is a component of %s (%s unbundling risk)", component, comprehensive, tier))
		}
	}

	if score > maxCombinationRisk {
		score = maxCombinationRisk
	}
	result.RiskScore = score
	result.IsValid = !highRiskFound && len(result.BundledPairs) == 0
	return result
}

// bundleTier returns the heavier tier when both codes list each other.
func (r *Reference) bundleTier(a, b string) (BundlingTier, string, string) {
	var (
		tier          = TierNone
		comprehensive string
		component     string
	)
	if info, ok := r.codes[a]; ok && contains(info.BundledWith, b) && info.UnbundlingRisk.Weight() > tier.Weight() {
		tier, comprehensive, component = info.UnbundlingRisk, a, b
	}
	if info, ok := r.codes[b]; ok && contains(info.BundledWith, a) && info.UnbundlingRisk.Weight() > tier.Weight() {
		tier, comprehensive, component = info.UnbundlingRisk, b, a
	}
	return tier, comprehensive, component
}

// Codes lists all known codes in sorted order.
func (r *Reference) Codes() []string {
	out := make([]string, 0, len(r.codes))
	for c := range r.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// WithPriceOverrides returns a copy whose typical price ranges are replaced
// by overrides. Codes not in the reference are returned as skipped.
func (r *Reference) WithPriceOverrides(overrides map[string]PriceRange) (*Reference, []string) {
	out := &Reference{
		codes:    make(map[string]CodeInfo, len(r.codes)),
		highRisk: r.highRisk,
	}
	for k, v := range r.codes {
		out.codes[k] = v
	}

	var skipped []string
	for code, pr := range overrides {
		code = normalizeCode(code)
		info, ok := out.codes[code]
		if !ok || pr.Max <= 0 || pr.Min > pr.Max {
			skipped = append(skipped, code)
			continue
		}
		info.PriceRange = pr
		out.codes[code] = info
	}
	sort.Strings(skipped)
	return out, skipped
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func uniqueSorted(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = normalizeCode(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
