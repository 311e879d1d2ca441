// Package memstore is an in-process implementation of every repository the
// engine reads and writes. It backs tests and the single-node dev mode.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/audit"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/database"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
)

// Store holds providers, patients, claims, alerts and the audit chain.
// Values are copied on the way in and out.
type Store struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]*provider.Provider
	patients  map[uuid.UUID]*provider.Patient
	claims    map[uuid.UUID]*claim.Claim
	numbers   map[string]uuid.UUID
	alerts    map[uuid.UUID][]*claim.FraudAlert
	audit     map[uuid.UUID][]*audit.Entry
}

func New() *Store {
	return &Store{
		providers: make(map[uuid.UUID]*provider.Provider),
		patients:  make(map[uuid.UUID]*provider.Patient),
		claims:    make(map[uuid.UUID]*claim.Claim),
		numbers:   make(map[string]uuid.UUID),
		alerts:    make(map[uuid.UUID][]*claim.FraudAlert),
		audit:     make(map[uuid.UUID][]*audit.Entry),
	}
}

// AddProvider inserts or replaces a provider record.
func (s *Store) AddProvider(p *provider.Provider) {
	cp := *p
	s.mu.Lock()
	s.providers[p.ID] = &cp
	s.mu.Unlock()
}

// AddPatient inserts or replaces a patient record.
func (s *Store) AddPatient(p *provider.Patient) {
	cp := *p
	s.mu.Lock()
	s.patients[p.ID] = &cp
	s.mu.Unlock()
}

// AddClaim seeds a claim in whatever status it carries.
func (s *Store) AddClaim(c *claim.Claim) {
	s.mu.Lock()
	s.claims[c.ID] = copyClaim(c)
	s.numbers[c.ClaimNumber] = c.ID
	s.mu.Unlock()
}

func (s *Store) GetProvider(_ context.Context, id uuid.UUID) (*provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, errors.NewNotFoundError("provider").WithCause(database.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListActiveProviders returns the tenant's active providers ordered by NPI.
func (s *Store) ListActiveProviders(_ context.Context, tenantID uuid.UUID) ([]*provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*provider.Provider
	for _, p := range s.providers {
		if p.TenantID == tenantID && p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NPI < out[j].NPI })
	return out, nil
}

// ListTenants returns every tenant that owns at least one provider.
func (s *Store) ListTenants(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, p := range s.providers {
		if _, ok := seen[p.TenantID]; !ok {
			seen[p.TenantID] = struct{}{}
			out = append(out, p.TenantID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// GetPatients returns the known patients among ids; unknown ids are omitted.
func (s *Store) GetPatients(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*provider.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]*provider.Patient, len(ids))
	for _, id := range ids {
		if p, ok := s.patients[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*claim.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, errors.NewNotFoundError("claim").WithCause(database.ErrNotFound)
	}
	return copyClaim(c), nil
}

func (s *Store) ListByProvider(_ context.Context, providerID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return s.filter(func(c *claim.Claim) bool {
		return c.ProviderID == providerID && !c.ServiceDate.Before(since)
	}), nil
}

func (s *Store) ListByPatient(_ context.Context, patientID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return s.filter(func(c *claim.Claim) bool {
		return c.PatientID == patientID && !c.ServiceDate.Before(since)
	}), nil
}

func (s *Store) ListByTenant(_ context.Context, tenantID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return s.filter(func(c *claim.Claim) bool {
		return c.TenantID == tenantID && !c.ServiceDate.Before(since)
	}), nil
}

// FindDuplicates matches provider, patient, service day and the exact
// billed amount within the submission window.
func (s *Store) FindDuplicates(_ context.Context, q fraud.DuplicateCriteria) ([]*claim.Claim, error) {
	return s.filter(func(c *claim.Claim) bool {
		return c.ID != q.ExcludeClaimID &&
			c.ProviderID == q.ProviderID &&
			c.PatientID == q.PatientID &&
			claim.TruncateDay(c.ServiceDate).Equal(q.ServiceDate) &&
			c.BilledAmount.Amount().String() == q.BilledAmount &&
			!c.SubmittedAt.Before(q.SubmittedFrom) &&
			!c.SubmittedAt.After(q.SubmittedTo)
	}), nil
}

// filter returns matching claims ordered by service date, then claim number.
func (s *Store) filter(match func(*claim.Claim) bool) []*claim.Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*claim.Claim
	for _, c := range s.claims {
		if match(c) {
			out = append(out, copyClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ServiceDate.Equal(out[j].ServiceDate) {
			return out[i].ServiceDate.Before(out[j].ServiceDate)
		}
		return out[i].ClaimNumber < out[j].ClaimNumber
	})
	return out
}

// Create stores a new PENDING claim.
func (s *Store) Create(_ context.Context, c *claim.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[c.ID]; ok {
		return database.ErrDuplicateClaim
	}
	if _, ok := s.numbers[c.ClaimNumber]; ok {
		return database.ErrDuplicateClaim
	}
	s.claims[c.ID] = copyClaim(c)
	s.numbers[c.ClaimNumber] = c.ID
	return nil
}

// CompleteAnalysis stores the terminal claim and its alerts together. The
// stored claim must still be PENDING.
func (s *Store) CompleteAnalysis(_ context.Context, c *claim.Claim, alerts []*claim.FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.claims[c.ID]
	if !ok {
		return database.ErrNotFound
	}
	if stored.Status != claim.StatusPending || !c.Status.IsTerminal() {
		return database.ErrInvalidTransition
	}
	s.claims[c.ID] = copyClaim(c)
	for _, a := range alerts {
		if !a.Raised() {
			continue
		}
		cp := *a
		s.alerts[c.ID] = append(s.alerts[c.ID], &cp)
	}
	return nil
}

// Discard deletes a claim that is still PENDING. A missing claim is not an
// error.
func (s *Store) Discard(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.claims[id]
	if !ok {
		return nil
	}
	if stored.Status != claim.StatusPending {
		return database.ErrInvalidTransition
	}
	delete(s.claims, id)
	delete(s.numbers, stored.ClaimNumber)
	return nil
}

// ListAlerts returns a claim's alerts by descending confidence.
func (s *Store) ListAlerts(_ context.Context, claimID uuid.UUID) ([]*claim.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*claim.FraudAlert, 0, len(s.alerts[claimID]))
	for _, a := range s.alerts[claimID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Append seals the entry onto the tail of its tenant's chain.
func (s *Store) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.audit[entry.TenantID]
	prev := ""
	if n := len(chain); n > 0 {
		prev = chain[n-1].EntryHash
	}
	if err := entry.Seal(prev); err != nil {
		return err
	}
	cp := *entry
	s.audit[entry.TenantID] = append(chain, &cp)
	return nil
}

// AuditTrail returns the tenant's chain in append order.
func (s *Store) AuditTrail(_ context.Context, tenantID uuid.UUID) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audit.Entry, 0, len(s.audit[tenantID]))
	for _, e := range s.audit[tenantID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func copyClaim(c *claim.Claim) *claim.Claim {
	cp := *c
	cp.LineItems = append([]claim.LineItem(nil), c.LineItems...)
	cp.FraudTypes = append([]claim.FraudType(nil), c.FraudTypes...)
	return &cp
}
