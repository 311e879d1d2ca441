package claim

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
)

// FlaggedScoreThreshold is the score above which a claim reads as flagged.
const FlaggedScoreThreshold = 70

// Claim is the persisted record derived from a Submission. It is created
// once in PENDING and completed exactly once.
type Claim struct {
	ID           uuid.UUID    `json:"id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	ClaimNumber  string       `json:"claim_number"`
	PatientID    uuid.UUID    `json:"patient_id"`
	ProviderID   uuid.UUID    `json:"provider_id"`
	ServiceDate  time.Time    `json:"service_date"`
	LineItems    []LineItem   `json:"line_items"`
	BilledAmount values.Money `json:"billed_amount"`
	Status       Status       `json:"status"`
	RiskScore    float64      `json:"risk_score"`
	RiskLevel    RiskLevel    `json:"risk_level,omitempty"`
	FraudTypes   []FraudType  `json:"fraud_types,omitempty"`
	SubmittedAt  time.Time    `json:"submitted_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusFlaggedForFraud
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusFlaggedForFraud:
		return "flagged_for_fraud"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusFlaggedForFraud
}

// ParseStatus maps a stored status name back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "approved":
		return StatusApproved, nil
	case "flagged_for_fraud":
		return StatusFlaggedForFraud, nil
	default:
		return StatusPending, fmt.Errorf("unknown claim status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NewClaim derives a PENDING claim from a validated submission.
func NewClaim(sub Submission) (*Claim, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	sub = sub.Normalized()
	now := clock.Now()
	id := uuid.New()

	return &Claim{
		ID:           id,
		TenantID:     sub.TenantID,
		ClaimNumber:  GenerateClaimNumber(now, id),
		PatientID:    sub.PatientID,
		ProviderID:   sub.ProviderID,
		ServiceDate:  sub.ServiceDate,
		LineItems:    sub.LineItems,
		BilledAmount: sub.BilledAmount(),
		Status:       StatusPending,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}, nil
}

// GenerateClaimNumber formats CLM-YYYYMMDD-XXXXXXXX from the claim id.
func GenerateClaimNumber(at time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("CLM-%s-%s", at.UTC().Format("20060102"), suffix)
}

// IsFlagged is derived from the score, never stored independently.
func (c *Claim) IsFlagged() bool {
	return c.RiskScore > FlaggedScoreThreshold
}

// ProcedureCodes lists the line-item codes in submission order.
func (c *Claim) ProcedureCodes() []string {
	codes := make([]string, 0, len(c.LineItems))
	for _, li := range c.LineItems {
		codes = append(codes, li.ProcedureCode)
	}
	return codes
}

// TotalUnits sums billed units across line items.
func (c *Claim) TotalUnits() int {
	total := 0
	for _, li := range c.LineItems {
		total += li.Units
	}
	return total
}

// Complete performs the single PENDING to terminal transition.
func (c *Claim) Complete(score float64, level RiskLevel, fraudTypes []FraudType, approved bool) error {
	if c.Status != StatusPending {
		return fmt.Errorf("claim %s already %s", c.ClaimNumber, c.Status)
	}

	c.RiskScore = score
	c.RiskLevel = level
	c.FraudTypes = uniqueFraudTypes(fraudTypes)
	if approved {
		c.Status = StatusApproved
	} else {
		c.Status = StatusFlaggedForFraud
	}
	c.UpdatedAt = clock.Now()
	return nil
}

func uniqueFraudTypes(in []FraudType) []FraudType {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[FraudType]struct{}, len(in))
	out := make([]FraudType, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
