package network

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
)

// RelationshipType names why two providers are connected.
type RelationshipType string

const (
	RelationshipSharedAddress      RelationshipType = "SHARED_ADDRESS"
	RelationshipSharedPhone        RelationshipType = "SHARED_PHONE"
	RelationshipSharedFacility     RelationshipType = "SHARED_FACILITY"
	RelationshipSharedPatients     RelationshipType = "SHARED_PATIENTS"
	RelationshipReferralLoop       RelationshipType = "REFERRAL_LOOP"
	RelationshipExcessiveReferrals RelationshipType = "EXCESSIVE_REFERRALS"
	RelationshipPatternMatching    RelationshipType = "PATTERN_MATCHING"
)

// SuspiciousRelationships make a connection suspicious regardless of strength.
var SuspiciousRelationships = []RelationshipType{
	RelationshipSharedAddress,
	RelationshipSharedPhone,
	RelationshipSharedFacility,
	RelationshipReferralLoop,
	RelationshipExcessiveReferrals,
	RelationshipPatternMatching,
}

// Fraud indicator strings collected on connections and clusters.
const (
	IndicatorSharedAddress      = "shared_business_address"
	IndicatorSharedPhone        = "shared_phone_number"
	IndicatorHighPatientOverlap = "high_patient_overlap"
	IndicatorExcessiveReferrals = "excessive_referrals"
	IndicatorReferralLoop       = "referral_loop"
	IndicatorCoordinatedBilling = "coordinated_billing"
	IndicatorHighFlagRate       = "high_flag_rate"
)

// ProviderNode aggregates one provider's claims over the window.
type ProviderNode struct {
	ProviderID    uuid.UUID             `json:"provider_id"`
	Name          string                `json:"name"`
	NPI           string                `json:"npi"`
	Type          provider.ProviderType `json:"type"`
	TotalClaims   int                   `json:"total_claims"`
	FlaggedClaims int                   `json:"flagged_claims"`
	TotalBilled   values.Money          `json:"total_billed"`
	RiskScore     float64               `json:"risk_score"`
}

// Connection is a pairwise relationship between two providers.
type Connection struct {
	ProviderA        uuid.UUID          `json:"provider_a"`
	ProviderB        uuid.UUID          `json:"provider_b"`
	Types            []RelationshipType `json:"types"`
	Strength         float64            `json:"strength"`
	IsSuspicious     bool               `json:"is_suspicious"`
	RiskScore        float64            `json:"risk_score"`
	Indicators       []string           `json:"indicators"`
	SharedPatients   int                `json:"shared_patients"`
	ReferralEvents   int                `json:"referral_events"`
	CoordinatedDates int                `json:"coordinated_dates"`
}

// Involves reports whether id is one of the endpoints.
func (c Connection) Involves(id uuid.UUID) bool {
	return c.ProviderA == id || c.ProviderB == id
}

// HasType reports whether the connection carries t.
func (c Connection) HasType(t RelationshipType) bool {
	for _, have := range c.Types {
		if have == t {
			return true
		}
	}
	return false
}

// Cluster is a connected component of strongly connected providers.
type Cluster struct {
	ID             uuid.UUID      `json:"id"`
	Providers      []ProviderNode `json:"providers"`
	Connections    []Connection   `json:"connections"`
	RiskScore      float64        `json:"risk_score"`
	Indicators     []string       `json:"indicators"`
	FraudPatterns  []string       `json:"fraud_patterns"`
	TotalClaims    int            `json:"total_claims"`
	FlaggedClaims  int            `json:"flagged_claims"`
	TotalBilled    values.Money   `json:"total_billed"`
	SuspiciousRate float64        `json:"suspicious_rate"`
}

// ProviderIDs lists member ids in cluster order.
func (c *Cluster) ProviderIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Providers))
	for i, p := range c.Providers {
		ids[i] = p.ProviderID
	}
	return ids
}

// Contains reports membership.
func (c *Cluster) Contains(id uuid.UUID) bool {
	for _, p := range c.Providers {
		if p.ProviderID == id {
			return true
		}
	}
	return false
}

// FraudRing is a cluster that matched a known ring archetype.
type FraudRing struct {
	ID          uuid.UUID    `json:"id"`
	Archetype   string       `json:"archetype"`
	ClusterID   uuid.UUID    `json:"cluster_id"`
	Providers   []uuid.UUID  `json:"providers"`
	Confidence  float64      `json:"confidence"`
	Indicators  []string     `json:"indicators"`
	TotalBilled values.Money `json:"total_billed"`
	Description string       `json:"description"`
}

// AnalysisResult is the output of one AnalyzeNetwork call.
type AnalysisResult struct {
	ScopeID               uuid.UUID      `json:"scope_id"`
	Since                 time.Time      `json:"since"`
	Until                 time.Time      `json:"until"`
	ProvidersAnalyzed     int            `json:"providers_analyzed"`
	ClaimsAnalyzed        int            `json:"claims_analyzed"`
	SuspiciousClusters    []Cluster      `json:"suspicious_clusters"`
	HighRiskProviders     []ProviderNode `json:"high_risk_providers"`
	SuspiciousConnections []Connection   `json:"suspicious_connections"`
	FraudRings            []FraudRing    `json:"fraud_rings"`
	Recommendations       []string       `json:"recommendations"`
	AuditTriggers         []string       `json:"audit_triggers"`
	ReferralSource        string         `json:"referral_source"`
	AnalyzedAt            time.Time      `json:"analyzed_at"`

	connections []Connection
	nodes       map[uuid.UUID]*ProviderNode
}

// ProviderSignals is the per-provider digest of a network analysis that the
// risk engine reads at claim time.
type ProviderSignals struct {
	ProviderID            uuid.UUID `json:"provider_id"`
	TenantID              uuid.UUID `json:"tenant_id"`
	NodeRisk              float64   `json:"node_risk"`
	SuspiciousConnections int       `json:"suspicious_connections"`
	InCluster             bool      `json:"in_cluster"`
	ClusterRisk           float64   `json:"cluster_risk"`
	RingIndicators        int       `json:"ring_indicators"`
	ReferralAnomalies     int       `json:"referral_anomalies"`
	FraudRings            []string  `json:"fraud_rings,omitempty"`
	ComputedAt            time.Time `json:"computed_at"`
}

// InRing reports whether the provider belongs to any matched ring.
func (s *ProviderSignals) InRing() bool {
	return s != nil && len(s.FraudRings) > 0
}

// Referral is a directed referral edge.
type Referral struct {
	From uuid.UUID
	To   uuid.UUID
}
