package values

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with currency and precision handling.
// Claim amounts are always summed in decimal so billed totals never drift.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// Common currency codes (ISO 4217)
const (
	USD = "USD"
	CAD = "CAD"
)

// NewMoney creates a new Money value object
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}

	return Money{
		amount:   amount,
		currency: strings.ToUpper(currency),
	}, nil
}

// NewMoneyFromString creates Money from string amount and currency
func NewMoneyFromString(amount, currency string) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount: %w", err)
	}

	return NewMoney(dec, currency)
}

// MustUSD builds a USD amount from a string literal and panics on error (for tables/tests)
func MustUSD(amount string) Money {
	m, err := NewMoneyFromString(amount, USD)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero Money value in the given currency
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency code
func (m Money) Currency() string {
	if m.currency == "" {
		return USD
	}
	return m.currency
}

// String returns formatted money string (e.g., "$123.45")
func (m Money) String() string {
	if m.Currency() == USD {
		return "$" + m.amount.StringFixed(2)
	}
	return m.amount.StringFixed(2) + " " + m.Currency()
}

func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Equal checks if two Money values are equal (same amount and currency)
func (m Money) Equal(other Money) bool {
	return m.amount.Equal(other.amount) && m.Currency() == other.Currency()
}

// Add adds two Money values (must have same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency() != other.Currency() {
		return Money{}, fmt.Errorf("cannot add different currencies: %s and %s", m.Currency(), other.Currency())
	}

	return Money{
		amount:   m.amount.Add(other.amount),
		currency: m.Currency(),
	}, nil
}

// MulInt multiplies by a whole quantity such as billed units.
func (m Money) MulInt(n int) Money {
	return Money{
		amount:   m.amount.Mul(decimal.NewFromInt(int64(n))),
		currency: m.currency,
	}
}

// ToFloat64 converts to float64 (use with caution for precision)
func (m Money) ToFloat64() float64 {
	f, _ := m.amount.Float64()
	return f
}

// MarshalJSON writes {"amount":"123.45","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	data := struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{
		Amount:   m.amount.String(),
		Currency: m.Currency(),
	}
	return json.Marshal(data)
}

// UnmarshalJSON accepts the object form, a bare JSON number or a quoted
// decimal string. Bare forms default to USD.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}

	if data[0] != '{' {
		raw := strings.Trim(string(data), `"`)
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		*m = Money{amount: amount, currency: USD}
		return nil
	}

	var temp struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	if temp.Currency == "" {
		temp.Currency = USD
	}

	money, err := NewMoneyFromString(temp.Amount.String(), temp.Currency)
	if err != nil {
		return err
	}

	*m = money
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns (currency is USD).
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		*m = Money{}
		return nil
	}

	var (
		amount decimal.Decimal
		err    error
	)
	switch v := value.(type) {
	case []byte:
		amount, err = decimal.NewFromString(string(v))
	case string:
		amount, err = decimal.NewFromString(v)
	case float64:
		amount = decimal.NewFromFloat(v)
	case int64:
		amount = decimal.NewFromInt(v)
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
	if err != nil {
		return fmt.Errorf("invalid money format: %w", err)
	}

	*m = Money{amount: amount, currency: USD}
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.amount.String(), nil
}

func validateCurrency(currency string) error {
	if currency == "" {
		return fmt.Errorf("currency cannot be empty")
	}

	switch strings.ToUpper(currency) {
	case USD, CAD:
		return nil
	default:
		return fmt.Errorf("unsupported currency: %s", currency)
	}
}
