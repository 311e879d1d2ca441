package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

// Service exposes the claim-level fraud detectors
type Service interface {
	// DetectUpcoding profiles a provider's coding over the lookback window
	DetectUpcoding(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*UpcodingResult, error)
	// DetectPhantomBilling checks volume, geography, time and patient plausibility
	DetectPhantomBilling(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*PhantomBillingResult, error)
	// DetectUnbundling checks one claim's code combination
	DetectUnbundling(claimID uuid.UUID, lineItems []claim.LineItem) *claim.FraudAlert
	// DetectDuplicates looks for the same claim submitted within the duplicate window
	DetectDuplicates(ctx context.Context, c *claim.Claim) (*claim.FraudAlert, error)

	// LoadHistory fetches everything the provider-level detectors read, once
	LoadHistory(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*History, error)
	// PatientClaims reads a patient's claims across every provider
	PatientClaims(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*claim.Claim, error)
	// AnalyzeUpcoding runs the upcoding detector over an already loaded history
	AnalyzeUpcoding(h *History) *UpcodingResult
	// AnalyzePhantomBilling runs the phantom detector over an already loaded history
	AnalyzePhantomBilling(h *History) *PhantomBillingResult
	// CheckModifiers flags modifiers the code does not allow
	CheckModifiers(claimID uuid.UUID, lineItems []claim.LineItem) *claim.FraudAlert
	// CheckServiceFrequency flags patients seen implausibly often by one provider
	CheckServiceFrequency(c *claim.Claim, h *History) *claim.FraudAlert

	// Reference returns the billing code reference in use
	Reference() *billingcode.Reference
	// Rules returns a copy of the active rules
	Rules() Rules
	// UpdateRules swaps the active rules
	UpdateRules(ctx context.Context, rules *Rules) error
}

// ClaimReader reads claim history from the claims store
type ClaimReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*claim.Claim, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, since time.Time) ([]*claim.Claim, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*claim.Claim, error)
}

// DuplicateFinder returns stored claims matching the criteria exactly
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, criteria DuplicateCriteria) ([]*claim.Claim, error)
}

// ProviderReader reads provider directory records
type ProviderReader interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
}

// PatientReader reads member demographics
type PatientReader interface {
	GetPatients(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*provider.Patient, error)
}
