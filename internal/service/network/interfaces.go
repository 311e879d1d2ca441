package network

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

// ProviderDirectory lists the providers in one tenant scope
type ProviderDirectory interface {
	ListActiveProviders(ctx context.Context, tenantID uuid.UUID) ([]*provider.Provider, error)
}

// ClaimSource reads a tenant's claims for the analysis window
type ClaimSource interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*claim.Claim, error)
}

// ReferralSource supplies directed referral counts recorded outside the
// claims store, such as a referral graph
type ReferralSource interface {
	ReferralCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (map[Referral]int, error)
	Name() string
}

// SignalStore keeps the latest ProviderSignals for claim-time lookups.
// GetSignals returns nil, nil when nothing is stored for the provider.
type SignalStore interface {
	SaveSignals(ctx context.Context, tenantID uuid.UUID, signals []ProviderSignals) error
	GetSignals(ctx context.Context, providerID uuid.UUID) (*ProviderSignals, error)
}

// Config bounds and tunes the analyzer.
type Config struct {
	LookbackDays int
	// MaxProviders caps the O(n²) pairwise scan per scope.
	MaxProviders int

	ClusterEdgeStrength    float64
	SuspiciousStrength     float64
	HighRiskProviderScore  float64
	HighFlagRate           float64
	HighPatientOverlap     int
	ReferralWindow         time.Duration
	ReferralEventThreshold int
	ReferralLoopMinimum    int
	CoordinatedBillingDays int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LookbackDays:           180,
		MaxProviders:           2000,
		ClusterEdgeStrength:    30,
		SuspiciousStrength:     50,
		HighRiskProviderScore:  70,
		HighFlagRate:           30,
		HighPatientOverlap:     5,
		ReferralWindow:         30 * 24 * time.Hour,
		ReferralEventThreshold: 5,
		ReferralLoopMinimum:    3,
		CoordinatedBillingDays: 3,
	}
}
