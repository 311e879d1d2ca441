package claim

// RiskLevel is the four-step severity scale shared by alerts, detector
// results and the aggregate score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

func (l RiskLevel) String() string {
	return string(l)
}

// Rank orders levels from 0 (LOW) to 3 (CRITICAL).
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// ScoreBands classifies aggregate scores. Each bound is the highest score
// that still belongs to the lower band, so with the defaults 30 is LOW and
// 31 is MEDIUM.
type ScoreBands struct {
	LowMax    float64 `koanf:"low_max"`
	MediumMax float64 `koanf:"medium_max"`
	HighMax   float64 `koanf:"high_max"`
}

// DefaultScoreBands are the aggregate risk thresholds.
var DefaultScoreBands = ScoreBands{LowMax: 30, MediumMax: 60, HighMax: 80}

func (b ScoreBands) Level(score float64) RiskLevel {
	switch {
	case score > b.HighMax:
		return RiskLevelCritical
	case score > b.MediumMax:
		return RiskLevelHigh
	case score > b.LowMax:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// ConfidenceBands classifies detector confidences by inclusive lower bounds.
type ConfidenceBands struct {
	Medium   float64 `koanf:"medium"`
	High     float64 `koanf:"high"`
	Critical float64 `koanf:"critical"`
}

// DefaultConfidenceBands are the detector-level thresholds.
var DefaultConfidenceBands = ConfidenceBands{Medium: 40, High: 60, Critical: 80}

func (b ConfidenceBands) Level(confidence float64) RiskLevel {
	switch {
	case confidence >= b.Critical:
		return RiskLevelCritical
	case confidence >= b.High:
		return RiskLevelHigh
	case confidence >= b.Medium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
