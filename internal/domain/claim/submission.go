package claim

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
)

const (
	MaxModifiers      = 4
	MaxDiagnosisCodes = 4
)

var validate = validator.New()

// Submission is the immutable claim as received from intake.
type Submission struct {
	TenantID    uuid.UUID  `json:"tenant_id" validate:"required"`
	PatientID   uuid.UUID  `json:"patient_id" validate:"required"`
	ProviderID  uuid.UUID  `json:"provider_id" validate:"required"`
	ServiceDate time.Time  `json:"service_date" validate:"required"`
	LineItems   []LineItem `json:"line_items" validate:"dive"`
}

// LineItem is a single billed procedure.
type LineItem struct {
	ProcedureCode  string       `json:"procedure_code" validate:"required,alphanum,min=4,max=7"`
	Modifiers      []string     `json:"modifiers,omitempty" validate:"max=4,dive,required,alphanum,len=2"`
	Units          int          `json:"units" validate:"gt=0"`
	UnitCost       values.Money `json:"unit_cost"`
	DiagnosisCodes []string     `json:"diagnosis_codes,omitempty" validate:"max=4,dive,required,max=8"`
}

// Total returns UnitCost x Units.
func (li LineItem) Total() values.Money {
	return li.UnitCost.MulInt(li.Units)
}

// HasModifier reports whether the modifier set contains m.
func (li LineItem) HasModifier(m string) bool {
	for _, mod := range li.Modifiers {
		if strings.EqualFold(mod, m) {
			return true
		}
	}
	return false
}

// Validate rejects a submission before any scoring runs.
func (s Submission) Validate() error {
	if len(s.LineItems) == 0 {
		return errors.NewValidationError("EMPTY_LINE_ITEMS", "claim submission must contain at least one line item")
	}

	if err := validate.Struct(s); err != nil {
		details := map[string]interface{}{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
		}
		return errors.NewValidationError("INVALID_SUBMISSION", "claim submission failed validation").
			WithCause(err).
			WithDetails(details)
	}

	for i, li := range s.LineItems {
		if li.UnitCost.IsNegative() {
			return errors.NewValidationError("NEGATIVE_UNIT_COST", "unit cost cannot be negative").
				WithDetails(map[string]interface{}{"line_item": i})
		}
		if li.UnitCost.Currency() != values.USD {
			return errors.NewValidationError("UNSUPPORTED_CURRENCY", "line items must be billed in USD").
				WithDetails(map[string]interface{}{"line_item": i, "currency": li.UnitCost.Currency()})
		}
	}

	if s.ServiceDate.After(clock.Now().Add(24 * time.Hour)) {
		return errors.NewValidationError("SERVICE_DATE_IN_FUTURE", "service date cannot be in the future")
	}

	return nil
}

// Normalized returns a copy with upper-cased codes and modifier sets that
// are de-duplicated and sorted, so modifier order never matters.
func (s Submission) Normalized() Submission {
	out := s
	out.ServiceDate = TruncateDay(s.ServiceDate)
	out.LineItems = make([]LineItem, len(s.LineItems))
	for i, li := range s.LineItems {
		li.ProcedureCode = strings.ToUpper(strings.TrimSpace(li.ProcedureCode))
		li.Modifiers = normalizeSet(li.Modifiers)
		li.DiagnosisCodes = append([]string(nil), li.DiagnosisCodes...)
		out.LineItems[i] = li
	}
	return out
}

// ProcedureCodes lists the line-item codes in submission order.
func (s Submission) ProcedureCodes() []string {
	codes := make([]string, 0, len(s.LineItems))
	for _, li := range s.LineItems {
		codes = append(codes, li.ProcedureCode)
	}
	return codes
}

// BilledAmount sums every line total exactly.
func (s Submission) BilledAmount() values.Money {
	total := values.Zero(values.USD)
	for _, li := range s.LineItems {
		// Validate guarantees USD
		total, _ = total.Add(li.Total())
	}
	return total
}

// TruncateDay drops the time-of-day portion in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
