package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

var _ Service = (*service)(nil)

// service implements the Service interface
type service struct {
	loader *HistoryLoader
	finder DuplicateFinder
	ref    *billingcode.Reference
	logger *zap.Logger

	// Configuration; detectors are rebuilt whenever rules change
	mu         sync.RWMutex
	rules      *Rules
	upcoding   *UpcodingDetector
	phantom    *PhantomBillingDetector
	unbundling *UnbundlingDetector
	duplicate  *DuplicateDetector
}

// NewService creates the claim-level fraud detection service
func NewService(
	claims ClaimReader,
	duplicates DuplicateFinder,
	providers ProviderReader,
	patients PatientReader,
	ref *billingcode.Reference,
	initialRules *Rules,
	logger *zap.Logger,
) (Service, error) {
	if duplicates == nil {
		return nil, errors.NewValidationError("INVALID_DUPLICATE_FINDER", "duplicate finder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loader, err := NewHistoryLoader(claims, providers, patients, logger)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		ref = billingcode.Default()
	}
	if initialRules == nil {
		initialRules = DefaultRules()
	}
	if err := initialRules.Validate(); err != nil {
		return nil, err
	}

	s := &service{
		loader: loader,
		finder: duplicates,
		ref:    ref,
		logger: logger,
	}
	s.applyRules(initialRules)
	return s, nil
}

func (s *service) applyRules(r *Rules) {
	cp := *r
	s.rules = &cp
	s.upcoding = NewUpcodingDetector(s.ref, cp)
	s.phantom = NewPhantomBillingDetector(cp)
	s.unbundling = NewUnbundlingDetector(s.ref, cp)
	s.duplicate = NewDuplicateDetector(s.finder, cp)
}

// DetectUpcoding loads the provider's history and profiles its coding
func (s *service) DetectUpcoding(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*UpcodingResult, error) {
	h, err := s.LoadHistory(ctx, providerID, lookbackDays)
	if err != nil {
		return nil, err
	}
	return s.AnalyzeUpcoding(h), nil
}

// DetectPhantomBilling loads the provider's history and checks its plausibility
func (s *service) DetectPhantomBilling(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*PhantomBillingResult, error) {
	h, err := s.LoadHistory(ctx, providerID, lookbackDays)
	if err != nil {
		return nil, err
	}
	return s.AnalyzePhantomBilling(h), nil
}

func (s *service) DetectUnbundling(claimID uuid.UUID, lineItems []claim.LineItem) *claim.FraudAlert {
	s.mu.RLock()
	d := s.unbundling
	s.mu.RUnlock()
	return d.Detect(claimID, lineItems)
}

func (s *service) DetectDuplicates(ctx context.Context, c *claim.Claim) (*claim.FraudAlert, error) {
	if c == nil {
		return nil, errors.ErrInvalidInput
	}
	s.mu.RLock()
	d := s.duplicate
	s.mu.RUnlock()

	alert, err := d.Detect(ctx, c)
	if err != nil {
		s.logger.Warn("duplicate lookup failed",
			zap.String("claim_id", c.ID.String()),
			zap.Error(err))
		return nil, err
	}
	return alert, nil
}

// LoadHistory fetches provider, claims and patients once for all detectors
func (s *service) LoadHistory(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*History, error) {
	if providerID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_PROVIDER_ID", "provider id is required")
	}
	if lookbackDays <= 0 {
		s.mu.RLock()
		lookbackDays = s.rules.LookbackDays
		s.mu.RUnlock()
	}
	return s.loader.Load(ctx, providerID, lookbackDays)
}

// PatientClaims reads a patient's claims across every provider
func (s *service) PatientClaims(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return s.loader.PatientClaims(ctx, patientID, since)
}

func (s *service) AnalyzeUpcoding(h *History) *UpcodingResult {
	s.mu.RLock()
	d := s.upcoding
	s.mu.RUnlock()
	return d.Analyze(h)
}

func (s *service) AnalyzePhantomBilling(h *History) *PhantomBillingResult {
	s.mu.RLock()
	d := s.phantom
	s.mu.RUnlock()
	return d.Analyze(h)
}

func (s *service) CheckModifiers(claimID uuid.UUID, lineItems []claim.LineItem) *claim.FraudAlert {
	return checkModifiers(s.ref, claimID, lineItems)
}

func (s *service) CheckServiceFrequency(c *claim.Claim, h *History) *claim.FraudAlert {
	return checkServiceFrequency(s.Rules(), c, h)
}

func (s *service) Reference() *billingcode.Reference {
	return s.ref
}

// Rules returns a copy of the active rules
func (s *service) Rules() Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.rules
}

// UpdateRules validates and swaps the active rules
func (s *service) UpdateRules(ctx context.Context, rules *Rules) error {
	if rules == nil {
		return errors.NewValidationError("INVALID_RULES", "rules cannot be nil")
	}
	if err := rules.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyRules(rules)

	s.logger.Info("fraud rules updated",
		zap.Int("lookback_days", rules.LookbackDays),
		zap.Float64("upcoding_threshold", rules.UpcodingThreshold),
		zap.Float64("phantom_threshold", rules.PhantomThreshold))
	return nil
}
