package fraud

import (
	"time"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

// DefaultRules returns the production thresholds.
func DefaultRules() *Rules {
	return &Rules{
		LookbackDays: DefaultLookbackDays,

		UpcodingThreshold:           60,
		HighLevelFrequency:          0.6,
		HighLevelComplexity:         4.2,
		DeviationHighLevelFrequency: 0.4,
		PriceMismatchMultiplier:     1.5,
		Modifier59Share:             0.3,
		Modifier25Share:             0.4,
		MinModifierOccurrences:      5,
		SpecialtyDeviation:          70,
		BundlingEvasionRisk:         70,

		UnbundlingRisk: 50,

		PhantomThreshold:    70,
		VolumeExcessPercent: 50,
		DailyCapacity: map[provider.ProviderType]int{
			provider.TypePhysician:  32,
			provider.TypeHospital:   200,
			provider.TypeClinic:     80,
			provider.TypeLaboratory: 150,
			provider.TypeTherapist:  24,
			provider.TypeDME:        50,
		},
		DefaultDailyCapacity: 32,
		MaxUnitsPerDay:       8,
		TimeConflictExempt: []provider.ProviderType{
			provider.TypeHospital,
			provider.TypeClinic,
			provider.TypeLaboratory,
			provider.TypeDME,
		},
		SuspiciousDistanceMiles:     50,
		MaxServiceDistanceMiles:     100,
		MaxSuspiciousLocations:      5,
		MinPatientsForRatios:        10,
		IncompleteDemographicsRatio: 0.2,
		NewPatientRatio:             0.8,
		IdentityNewPatientRatio:     0.9,
		ElderlyAge:                  95,
		ElderlyRatio:                0.1,
		SharedContactPatients:       3,
		WeekendShare:                0.5,
		PatternAnomalyMinPatterns:   2,

		DuplicateWindow: DefaultDuplicateDays * 24 * time.Hour,

		MaxPatientVisitsPerWindow: 10,

		Benchmarks:       defaultBenchmarks(),
		DefaultBenchmark: SpecialtyBenchmark{AverageComplexity: 3.0, TypicalModifiers: []string{"25", "59", "95", "RT", "LT"}},
		ConfidenceBands:  claim.DefaultConfidenceBands,
	}
}

func defaultBenchmarks() map[string]SpecialtyBenchmark {
	return map[string]SpecialtyBenchmark{
		"family medicine":    {AverageComplexity: 3.1, TypicalModifiers: []string{"25", "95"}},
		"internal medicine":  {AverageComplexity: 3.3, TypicalModifiers: []string{"25", "95"}},
		"emergency medicine": {AverageComplexity: 3.9, TypicalModifiers: []string{"25", "57"}},
		"cardiology":         {AverageComplexity: 3.5, TypicalModifiers: []string{"25", "26", "TC"}},
		"orthopedics":        {AverageComplexity: 3.2, TypicalModifiers: []string{"25", "51", "59", "RT", "LT"}},
		"physical therapy":   {AverageComplexity: 2.0, TypicalModifiers: []string{"59", "GP", "KX"}},
		"laboratory":         {AverageComplexity: 1.0, TypicalModifiers: []string{"59", "90", "91", "QW"}},
		"gastroenterology":   {AverageComplexity: 3.2, TypicalModifiers: []string{"33", "PT", "59"}},
		"psychiatry":         {AverageComplexity: 3.0, TypicalModifiers: []string{"95", "GT"}},
	}
}

// Validate rejects rules that would make detectors misbehave.
func (r *Rules) Validate() error {
	if r.LookbackDays <= 0 {
		return errors.NewValidationError("INVALID_RULES", "lookback days must be positive")
	}
	if r.DefaultDailyCapacity <= 0 {
		return errors.NewValidationError("INVALID_RULES", "default daily capacity must be positive")
	}
	if r.DuplicateWindow <= 0 {
		return errors.NewValidationError("INVALID_RULES", "duplicate window must be positive")
	}
	if r.PriceMismatchMultiplier <= 0 {
		return errors.NewValidationError("INVALID_RULES", "price mismatch multiplier must be positive")
	}
	if b := r.ConfidenceBands; b.Medium <= 0 || b.Medium >= b.High || b.High >= b.Critical || b.Critical > 100 {
		return errors.NewValidationError("INVALID_RULES", "confidence bands must increase within (0, 100]")
	}
	if r.MinPatientsForRatios < 1 {
		return errors.NewValidationError("INVALID_RULES", "min patients for ratios must be at least 1")
	}
	if r.MinModifierOccurrences < 1 {
		return errors.NewValidationError("INVALID_RULES", "min modifier occurrences must be at least 1")
	}
	for _, t := range r.TimeConflictExempt {
		if !t.Valid() {
			return errors.NewValidationError("INVALID_RULES", "unknown provider type "+string(t)+" in time conflict exemptions")
		}
	}
	known := DefaultPatternWeights()
	for id, w := range r.PatternWeights {
		if _, ok := known[id]; !ok {
			return errors.NewValidationError("INVALID_RULES", "unknown pattern "+id)
		}
		if w < 0 || w > 100 {
			return errors.NewValidationError("INVALID_RULES", "pattern weight out of range for "+id)
		}
	}
	return nil
}
