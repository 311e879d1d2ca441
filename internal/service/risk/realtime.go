package risk

import (
	"fmt"
	"math"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
)

// ScoreRealTime is the cheap inline score computed from the submission
// alone. It reads no history and never blocks.
func (e *Engine) ScoreRealTime(sub claim.Submission) RealTimeResult {
	cfg := e.Config()
	ref := e.fraud.Reference()

	score := 10.0
	var actions []string

	amount := sub.BilledAmount().ToFloat64()
	switch {
	case amount > 5000:
		score += 30
		actions = append(actions, "Verify medical necessity for high-value claim")
	case amount > 2000:
		score += 15
	}

	score += math.Min(25, 3*float64(len(sub.LineItems)))

	// each unknown code counts once however many lines bill it
	var unusual []string
	seen := make(map[string]bool)
	for _, code := range sub.ProcedureCodes() {
		if seen[code] {
			continue
		}
		seen[code] = true
		if !ref.IsKnownCode(code) {
			unusual = append(unusual, code)
			actions = append(actions, fmt.Sprintf("Verify procedure code %s", code))
		}
	}
	score += 10 * float64(len(unusual))

	combo := ref.ValidateCodeCombination(sub.ProcedureCodes())
	if combo.RiskScore > 0 {
		score += 20 * combo.RiskScore / 100
		actions = append(actions, "Review code combination for unbundling")
	}

	score = round2(clamp(score))
	level := cfg.ScoreBands.Level(score)

	res := RealTimeResult{
		RiskScore:        score,
		RiskLevel:        level,
		ImmediateActions: actions,
		UnusualCodes:     unusual,
	}
	switch level {
	case claim.RiskLevelLow:
		res.ProcessingRecommendation = RecommendAutoApprove
	case claim.RiskLevelMedium:
		res.ProcessingRecommendation = RecommendManualReview
	case claim.RiskLevelHigh:
		res.ProcessingRecommendation = RecommendHold
		res.ImmediateActions = append(res.ImmediateActions, "Hold payment pending full analysis")
	default:
		res.ProcessingRecommendation = RecommendBlock
		res.ImmediateActions = append(res.ImmediateActions, "Block payment and escalate to investigations")
	}
	if res.ImmediateActions == nil {
		res.ImmediateActions = []string{}
	}
	return res
}
