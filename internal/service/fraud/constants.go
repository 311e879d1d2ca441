package fraud

import "time"

// Upcoding pattern ids
const (
	PatternConsistentHighLevel       = "CONSISTENT_HIGH_LEVEL"
	PatternTimeDocumentationMismatch = "TIME_DOCUMENTATION_MISMATCH"
	PatternModifierAbuse             = "MODIFIER_ABUSE"
	PatternSpecialtyDeviation        = "SPECIALTY_DEVIATION"
	PatternBundlingEvasion           = "BUNDLING_EVASION"
)

// Phantom billing pattern ids
const (
	PatternImpossibleVolume     = "IMPOSSIBLE_VOLUME"
	PatternGeographicAnomaly    = "GEOGRAPHIC_ANOMALY"
	PatternTimeConflict         = "TIME_CONFLICT"
	PatternPatientIdentityFraud = "PATIENT_IDENTITY_FRAUD"
	PatternPatternAnomaly       = "PATTERN_ANOMALY"
)

// Default pattern weights. Upcoding weights are ordered so that the two
// patterns driven by high-level code frequency carry the largest weights;
// raising that frequency can then only add weight at or above the running
// mean.
const (
	WeightConsistentHighLevel       = 85.0
	WeightSpecialtyDeviation        = 80.0
	WeightBundlingEvasion           = 75.0
	WeightModifierAbuse             = 70.0
	WeightTimeDocumentationMismatch = 65.0

	WeightImpossibleVolume     = 95.0
	WeightGeographicAnomaly    = 85.0
	WeightTimeConflict         = 90.0
	WeightPatientIdentityFraud = 75.0
	WeightPatternAnomaly       = 70.0
)

// DefaultPatternWeights returns the built-in weight of every upcoding and
// phantom billing pattern, keyed by pattern id.
func DefaultPatternWeights() map[string]float64 {
	return map[string]float64{
		PatternConsistentHighLevel:       WeightConsistentHighLevel,
		PatternSpecialtyDeviation:        WeightSpecialtyDeviation,
		PatternBundlingEvasion:           WeightBundlingEvasion,
		PatternModifierAbuse:             WeightModifierAbuse,
		PatternTimeDocumentationMismatch: WeightTimeDocumentationMismatch,
		PatternImpossibleVolume:          WeightImpossibleVolume,
		PatternGeographicAnomaly:         WeightGeographicAnomaly,
		PatternTimeConflict:              WeightTimeConflict,
		PatternPatientIdentityFraud:      WeightPatientIdentityFraud,
		PatternPatternAnomaly:            WeightPatternAnomaly,
	}
}

// Lookback windows
const (
	DefaultLookbackDays  = 90
	DefaultDuplicateDays = 30
	// PatientFrequencyWindow bounds the per-patient visit-frequency check.
	PatientFrequencyWindow = 30 * 24 * time.Hour
)

// Duplicate and unbundling alert confidences
const (
	DuplicateConfidence          = 90.0
	MisrepresentationConfidence  = 55.0
	UnnecessaryServiceConfidence = 50.0
)

// Suspicious patient pattern names
const (
	SuspiciousHighNewPatientRatio  = "HIGH_NEW_PATIENT_RATIO"
	SuspiciousImplausibleAges      = "IMPLAUSIBLE_PATIENT_AGES"
	SuspiciousSharedPatientContact = "SHARED_PATIENT_CONTACT"
	SuspiciousWeekendConcentration = "WEEKEND_SERVICE_CONCENTRATION"

	IdentityIncompleteDemographics = "INCOMPLETE_DEMOGRAPHICS"
	IdentityMissingPatientRecords  = "MISSING_PATIENT_RECORDS"
)

// Audit trigger names
const (
	TriggerCodingAudit        = "CODING_AUDIT"
	TriggerModifierReview     = "MODIFIER_REVIEW"
	TriggerBundlingReview     = "NCCI_EDIT_REVIEW"
	TriggerSIUReferral        = "SIU_REFERRAL"
	TriggerOnSiteVerification = "ON_SITE_VERIFICATION"
	TriggerPatientOutreach    = "PATIENT_VERIFICATION_OUTREACH"
	TriggerDuplicateReview    = "DUPLICATE_REVIEW"
)

// InsufficientDataNote marks a result computed without enough history.
const InsufficientDataNote = "insufficient data"
