package claim

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
)

func fixedClock(t *testing.T) *MockClock {
	t.Helper()
	mc := &MockClock{CurrentTime: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	SetClock(mc)
	t.Cleanup(ResetClock)
	return mc
}

func validSubmission() Submission {
	return Submission{
		TenantID:    uuid.New(),
		PatientID:   uuid.New(),
		ProviderID:  uuid.New(),
		ServiceDate: time.Date(2026, 3, 13, 15, 0, 0, 0, time.UTC),
		LineItems: []LineItem{
			{ProcedureCode: "99213", Units: 1, UnitCost: values.MustUSD("75.00")},
		},
	}
}

func TestSubmission_Validate(t *testing.T) {
	fixedClock(t)

	tests := []struct {
		name     string
		mutate   func(s *Submission)
		wantCode string
	}{
		{
			name:   "valid",
			mutate: func(s *Submission) {},
		},
		{
			name:     "no line items",
			mutate:   func(s *Submission) { s.LineItems = nil },
			wantCode: "EMPTY_LINE_ITEMS",
		},
		{
			name:     "missing provider",
			mutate:   func(s *Submission) { s.ProviderID = uuid.Nil },
			wantCode: "INVALID_SUBMISSION",
		},
		{
			name:     "zero units",
			mutate:   func(s *Submission) { s.LineItems[0].Units = 0 },
			wantCode: "INVALID_SUBMISSION",
		},
		{
			name: "too many modifiers",
			mutate: func(s *Submission) {
				s.LineItems[0].Modifiers = []string{"25", "59", "76", "77", "91"}
			},
			wantCode: "INVALID_SUBMISSION",
		},
		{
			name:     "negative unit cost",
			mutate:   func(s *Submission) { s.LineItems[0].UnitCost = values.MustUSD("-1") },
			wantCode: "NEGATIVE_UNIT_COST",
		},
		{
			name:     "future service date",
			mutate:   func(s *Submission) { s.ServiceDate = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) },
			wantCode: "SERVICE_DATE_IN_FUTURE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.mutate(&sub)

			err := sub.Validate()
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestNewClaim(t *testing.T) {
	fixedClock(t)

	sub := validSubmission()
	sub.LineItems = append(sub.LineItems,
		LineItem{ProcedureCode: "36415", Units: 3, UnitCost: values.MustUSD("10.10"), Modifiers: []string{"91", "25", "91"}},
		LineItem{ProcedureCode: "85025", Units: 7, UnitCost: values.MustUSD("0.01")},
	)

	c, err := NewClaim(sub)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, "105.37", c.BilledAmount.Amount().String())
	assert.Equal(t, []string{"25", "91"}, c.LineItems[1].Modifiers)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), c.ServiceDate)
	assert.Regexp(t, `^CLM-20260314-[0-9A-F]{8}$`, c.ClaimNumber)
	assert.Equal(t, 11, c.TotalUnits())
	assert.False(t, c.IsFlagged())
}

func TestNewClaim_RejectsEmptyLineItems(t *testing.T) {
	sub := validSubmission()
	sub.LineItems = []LineItem{}

	c, err := NewClaim(sub)
	assert.Nil(t, c)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestClaim_Complete(t *testing.T) {
	fixedClock(t)

	c, err := NewClaim(validSubmission())
	require.NoError(t, err)

	err = c.Complete(72.5, RiskLevelHigh, []FraudType{FraudTypeUpcoding, FraudTypeDuplicateClaim, FraudTypeUpcoding}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusFlaggedForFraud, c.Status)
	assert.True(t, c.IsFlagged())
	assert.Equal(t, []FraudType{FraudTypeDuplicateClaim, FraudTypeUpcoding}, c.FraudTypes)

	err = c.Complete(10, RiskLevelLow, nil, true)
	assert.Error(t, err, "terminal claims cannot transition again")
}

func TestStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusApproved, StatusFlaggedForFraud} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("closed")
	assert.Error(t, err)
}

func TestScoreBands_Boundaries(t *testing.T) {
	cases := map[float64]RiskLevel{
		0:    RiskLevelLow,
		30:   RiskLevelLow,
		30.5: RiskLevelMedium,
		31:   RiskLevelMedium,
		60:   RiskLevelMedium,
		61:   RiskLevelHigh,
		80:   RiskLevelHigh,
		81:   RiskLevelCritical,
		100:  RiskLevelCritical,
	}
	for score, want := range cases {
		assert.Equal(t, want, DefaultScoreBands.Level(score), "score %v", score)
	}
}

func TestConfidenceBands(t *testing.T) {
	assert.Equal(t, RiskLevelLow, DefaultConfidenceBands.Level(0))
	assert.Equal(t, RiskLevelMedium, DefaultConfidenceBands.Level(40))
	assert.Equal(t, RiskLevelHigh, DefaultConfidenceBands.Level(60))
	assert.Equal(t, RiskLevelHigh, DefaultConfidenceBands.Level(79.9))
	assert.Equal(t, RiskLevelCritical, DefaultConfidenceBands.Level(80))
}

func TestShouldApprove(t *testing.T) {
	dup := NewFraudAlert(uuid.New(), FraudTypeDuplicateClaim, RiskLevelHigh, 90, "duplicate", nil)
	silent := NewFraudAlert(uuid.New(), FraudTypeUnbundling, RiskLevelLow, 0, "no finding", nil)

	assert.True(t, ShouldApprove(10, 30, nil))
	assert.True(t, ShouldApprove(10, 30, []*FraudAlert{silent}))
	assert.False(t, ShouldApprove(10, 30, []*FraudAlert{dup}))
	assert.False(t, ShouldApprove(30, 30, nil))
}

func TestChooseDisposition(t *testing.T) {
	dup := NewFraudAlert(uuid.New(), FraudTypeDuplicateClaim, RiskLevelHigh, 90, "duplicate", nil)
	ring := NewFraudAlert(uuid.New(), FraudTypeOrganizedFraud, RiskLevelHigh, 80, "ring", nil)

	assert.Equal(t, DispositionApprove, ChooseDisposition(true, RiskLevelLow, nil))
	assert.Equal(t, DispositionDeny, ChooseDisposition(false, RiskLevelLow, []*FraudAlert{dup}))
	assert.Equal(t, DispositionInvestigate, ChooseDisposition(false, RiskLevelMedium, []*FraudAlert{ring}))
	assert.Equal(t, DispositionInvestigate, ChooseDisposition(false, RiskLevelCritical, nil))
	assert.Equal(t, DispositionHold, ChooseDisposition(false, RiskLevelMedium, nil))
}
