package fraud

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

// History is the claim history of one provider, fetched once per scoring
// run and shared by every detector. Missing parts are recorded, not fatal.
type History struct {
	ProviderID uuid.UUID
	Provider   *provider.Provider
	Claims     []*claim.Claim
	Patients   map[uuid.UUID]*provider.Patient
	Since      time.Time
	Until      time.Time

	ProviderErr error
	ClaimsErr   error
	PatientsErr error
}

// HasClaims reports whether any claim history was loaded.
func (h *History) HasClaims() bool {
	return h != nil && h.ClaimsErr == nil && len(h.Claims) > 0
}

// ProviderType falls back to PHYSICIAN when the provider record is missing.
func (h *History) ProviderType() provider.ProviderType {
	if h == nil || h.Provider == nil || h.Provider.Type == "" {
		return provider.TypePhysician
	}
	return h.Provider.Type
}

// PatientIDs lists the distinct patients across the loaded claims.
func (h *History) PatientIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, c := range h.Claims {
		if _, ok := seen[c.PatientID]; ok {
			continue
		}
		seen[c.PatientID] = struct{}{}
		ids = append(ids, c.PatientID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// ClaimsForPatient returns claims in the window for one patient.
func (h *History) ClaimsForPatient(patientID uuid.UUID) []*claim.Claim {
	var out []*claim.Claim
	for _, c := range h.Claims {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out
}

// Gaps names the parts that could not be loaded.
func (h *History) Gaps() []string {
	var gaps []string
	if h.ProviderErr != nil {
		gaps = append(gaps, "provider")
	}
	if h.ClaimsErr != nil {
		gaps = append(gaps, "claims")
	}
	if h.PatientsErr != nil {
		gaps = append(gaps, "patients")
	}
	return gaps
}

// WithClaim returns a shallow copy that also contains c when the store did
// not return it yet.
func (h *History) WithClaim(c *claim.Claim) *History {
	for _, existing := range h.Claims {
		if existing.ID == c.ID {
			return h
		}
	}
	cp := *h
	cp.Claims = append(append([]*claim.Claim(nil), h.Claims...), c)
	return &cp
}

// HistoryLoader fetches provider, claims and patients for one provider.
type HistoryLoader struct {
	claims    ClaimReader
	providers ProviderReader
	patients  PatientReader
	logger    *zap.Logger
}

// NewHistoryLoader creates a loader. All readers are required.
func NewHistoryLoader(claims ClaimReader, providers ProviderReader, patients PatientReader, logger *zap.Logger) (*HistoryLoader, error) {
	if claims == nil {
		return nil, errors.NewValidationError("INVALID_CLAIM_READER", "claim reader cannot be nil")
	}
	if providers == nil {
		return nil, errors.NewValidationError("INVALID_PROVIDER_READER", "provider reader cannot be nil")
	}
	if patients == nil {
		return nil, errors.NewValidationError("INVALID_PATIENT_READER", "patient reader cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryLoader{claims: claims, providers: providers, patients: patients, logger: logger}, nil
}

// Load reads the lookback window ending now. Only context cancellation is
// returned as an error; every other read failure is kept on the History as
// a DataUnavailable error.
func (l *HistoryLoader) Load(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*History, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	until := claim.Now()
	h := &History{
		ProviderID: providerID,
		Since:      until.AddDate(0, 0, -lookbackDays),
		Until:      until,
		Patients:   map[uuid.UUID]*provider.Patient{},
	}

	p, err := l.providers.GetProvider(ctx, providerID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		h.ProviderErr = errors.NewDataUnavailableError("provider", providerID.String()).WithCause(err)
		l.logger.Warn("provider record unavailable", zap.String("provider_id", providerID.String()), zap.Error(err))
	} else {
		h.Provider = p
	}

	claims, err := l.claims.ListByProvider(ctx, providerID, h.Since)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		h.ClaimsErr = errors.NewDataUnavailableError("claim history", providerID.String()).WithCause(err)
		l.logger.Warn("claim history unavailable", zap.String("provider_id", providerID.String()), zap.Error(err))
		return h, nil
	}
	h.Claims = claims

	ids := h.PatientIDs()
	if len(ids) == 0 {
		return h, nil
	}
	patients, err := l.patients.GetPatients(ctx, ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		h.PatientsErr = errors.NewDataUnavailableError("patients", providerID.String()).WithCause(err)
		l.logger.Warn("patient records unavailable", zap.String("provider_id", providerID.String()), zap.Error(err))
		return h, nil
	}
	h.Patients = patients
	return h, nil
}

// PatientClaims reads a patient's claims across all providers since the
// given time.
func (l *HistoryLoader) PatientClaims(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	claims, err := l.claims.ListByPatient(ctx, patientID, since)
	if err != nil {
		return nil, errors.NewDataUnavailableError("patient claims", patientID.String()).WithCause(err)
	}
	return claims, nil
}
