package fraud

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

// Rules holds every tunable threshold used by the detectors.
type Rules struct {
	LookbackDays int

	// Upcoding
	UpcodingThreshold           float64
	HighLevelFrequency          float64
	HighLevelComplexity         float64
	DeviationHighLevelFrequency float64
	PriceMismatchMultiplier     float64
	Modifier59Share             float64
	Modifier25Share             float64
	MinModifierOccurrences      int
	SpecialtyDeviation          float64
	BundlingEvasionRisk         float64

	// Unbundling
	UnbundlingRisk float64

	// Phantom billing
	PhantomThreshold            float64
	VolumeExcessPercent         float64
	DailyCapacity               map[provider.ProviderType]int
	DefaultDailyCapacity        int
	MaxUnitsPerDay              int
	TimeConflictExempt          []provider.ProviderType
	SuspiciousDistanceMiles     float64
	MaxServiceDistanceMiles     float64
	MaxSuspiciousLocations      int
	MinPatientsForRatios        int
	IncompleteDemographicsRatio float64
	NewPatientRatio             float64
	IdentityNewPatientRatio     float64
	ElderlyAge                  int
	ElderlyRatio                float64
	SharedContactPatients       int
	WeekendShare                float64
	PatternAnomalyMinPatterns   int

	// Duplicates
	DuplicateWindow time.Duration

	// Per-claim checks
	MaxPatientVisitsPerWindow int

	Benchmarks       map[string]SpecialtyBenchmark
	DefaultBenchmark SpecialtyBenchmark
	ConfidenceBands  claim.ConfidenceBands
	// PatternWeights overrides default pattern weights by id.
	PatternWeights map[string]float64
}

// SpecialtyBenchmark is the expected coding behavior of a specialty.
type SpecialtyBenchmark struct {
	AverageComplexity float64  `json:"average_complexity"`
	TypicalModifiers  []string `json:"typical_modifiers"`
}

// MatchedPattern is one pattern that fired, with its evidence.
type MatchedPattern struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Weight      float64                `json:"weight"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
}

// DetectionResult is the shape shared by provider-level detectors.
type DetectionResult struct {
	ProviderID      uuid.UUID        `json:"provider_id"`
	Confidence      float64          `json:"confidence"`
	RiskLevel       claim.RiskLevel  `json:"risk_level"`
	Patterns        []MatchedPattern `json:"patterns"`
	Recommendations []string         `json:"recommendations"`
	AuditTriggers   []string         `json:"audit_triggers"`
	Notes           []string         `json:"notes,omitempty"`
	ClaimsAnalyzed  int              `json:"claims_analyzed"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
}

// Matched reports whether the pattern id fired.
func (r *DetectionResult) Matched(id string) bool {
	for _, p := range r.Patterns {
		if p.ID == id {
			return true
		}
	}
	return false
}

// CodingProfile is a provider's code-level distribution over the lookback window.
type CodingProfile struct {
	AverageComplexity  float64            `json:"average_complexity"`
	HighLevelFrequency float64            `json:"high_level_frequency"`
	EvaluationItems    int                `json:"evaluation_items"`
	ModifierUsage      map[string]int     `json:"modifier_usage"`
	ModifierTotal      int                `json:"modifier_total"`
	OffProfileMods     []string           `json:"off_profile_modifiers,omitempty"`
	Specialty          string             `json:"specialty"`
	Benchmark          SpecialtyBenchmark `json:"benchmark"`
	DeviationScore     float64            `json:"deviation_score"`
}

// ModifierShare returns the fraction of modifier occurrences that are m.
func (p *CodingProfile) ModifierShare(m string) float64 {
	if p.ModifierTotal == 0 {
		return 0
	}
	return float64(p.ModifierUsage[m]) / float64(p.ModifierTotal)
}

// UpcodingResult is returned by DetectUpcoding.
type UpcodingResult struct {
	DetectionResult
	IsUpcoding bool           `json:"is_upcoding"`
	Profile    *CodingProfile `json:"provider_profile"`
}

// VolumeAnalysis compares claimed daily units with provider capacity.
type VolumeAnalysis struct {
	ProviderType     provider.ProviderType `json:"provider_type"`
	DailyCapacity    int                   `json:"daily_capacity"`
	MaxClaimedVolume int                   `json:"max_claimed_volume"`
	PeakDate         time.Time             `json:"peak_date,omitempty"`
	SuspiciousDates  []time.Time           `json:"suspicious_dates,omitempty"`
	VolumeExceeded   bool                  `json:"volume_exceeded"`
	ExcessPercentage float64               `json:"excess_percentage"`
}

// GeographicAnalysis compares patient locations with the provider's.
type GeographicAnalysis struct {
	LocationAvailable   bool     `json:"location_available"`
	PatientsCompared    int      `json:"patients_compared"`
	SuspiciousLocations int      `json:"suspicious_locations"`
	MaxDistanceMiles    float64  `json:"max_distance_miles"`
	Anomalies           []string `json:"anomalies,omitempty"`
}

// TimeConflictAnalysis sums units per service date.
type TimeConflictAnalysis struct {
	Applicable     bool        `json:"applicable"`
	MaxUnitsPerDay int         `json:"max_units_per_day"`
	ConflictDates  []time.Time `json:"conflict_dates,omitempty"`
	ConflictScore  float64     `json:"conflict_score"`
}

// PatientPatternAnalysis profiles the provider's patient panel.
type PatientPatternAnalysis struct {
	TotalPatients               int      `json:"total_patients"`
	NewPatientRatio             float64  `json:"new_patient_ratio"`
	IncompleteDemographicsRatio float64  `json:"incomplete_demographics_ratio"`
	ElderlyRatio                float64  `json:"elderly_ratio"`
	IdentityFlags               []string `json:"identity_flags,omitempty"`
	SuspiciousPatterns          []string `json:"suspicious_patterns,omitempty"`
	InsufficientData            bool     `json:"insufficient_data"`
}

// PhantomBillingResult is returned by DetectPhantomBilling.
type PhantomBillingResult struct {
	DetectionResult
	IsPhantomBilling bool                   `json:"is_phantom_billing"`
	Volume           VolumeAnalysis         `json:"volume"`
	Geographic       GeographicAnalysis     `json:"geographic"`
	TimeConflict     TimeConflictAnalysis   `json:"time_conflict"`
	Patients         PatientPatternAnalysis `json:"patients"`
}

// DuplicateCriteria selects candidate duplicates from the claims store.
type DuplicateCriteria struct {
	ExcludeClaimID uuid.UUID
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	ServiceDate    time.Time
	BilledAmount   string
	SubmittedFrom  time.Time
	SubmittedTo    time.Time
}
