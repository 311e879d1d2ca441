package network

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
)

// Audit triggers emitted by network analysis
const (
	TriggerSIUReferral           = "SIU_REFERRAL"
	TriggerProviderAudit         = "PROVIDER_AUDIT"
	TriggerOwnershipVerification = "OWNERSHIP_VERIFICATION"
)

const referralSourceClaims = "claims"

// Analyzer builds the provider relationship graph for one tenant scope.
type Analyzer struct {
	providers ProviderDirectory
	claims    ClaimSource
	referrals ReferralSource
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Registry
	tracer    trace.Tracer
}

// NewAnalyzer creates an analyzer. referrals is optional; without it
// referral counts are inferred from shared-patient claim sequences.
func NewAnalyzer(providers ProviderDirectory, claims ClaimSource, referrals ReferralSource, cfg Config, logger *zap.Logger, m *metrics.Registry) (*Analyzer, error) {
	if providers == nil {
		return nil, errors.NewValidationError("INVALID_PROVIDER_DIRECTORY", "provider directory cannot be nil")
	}
	if claims == nil {
		return nil, errors.NewValidationError("INVALID_CLAIM_SOURCE", "claim source cannot be nil")
	}
	if cfg.LookbackDays <= 0 || cfg.MaxProviders <= 0 {
		return nil, errors.NewValidationError("INVALID_NETWORK_CONFIG", "lookback days and max providers must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		providers: providers,
		claims:    claims,
		referrals: referrals,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("github.com/davidleathers/claims-fraud-engine/internal/service/network"),
	}, nil
}

// AnalyzeNetwork runs the full pairwise analysis for scopeID over the
// lookback window. The scope must not exceed MaxProviders.
func (a *Analyzer) AnalyzeNetwork(ctx context.Context, scopeID uuid.UUID, lookbackDays int) (*AnalysisResult, error) {
	if scopeID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_SCOPE", "scope id is required")
	}
	if lookbackDays <= 0 {
		lookbackDays = a.cfg.LookbackDays
	}

	ctx, span := a.tracer.Start(ctx, "network.AnalyzeNetwork",
		trace.WithAttributes(attribute.String("scope_id", scopeID.String()), attribute.Int("lookback_days", lookbackDays)))
	defer span.End()
	start := time.Now()

	until := claim.Now()
	since := until.AddDate(0, 0, -lookbackDays)

	providers, err := a.providers.ListActiveProviders(ctx, scopeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list providers")
		return nil, errors.NewDataUnavailableError("providers", scopeID.String()).WithCause(err)
	}
	if len(providers) > a.cfg.MaxProviders {
		err := errors.NewBusinessError("NETWORK_SCOPE_TOO_LARGE",
			fmt.Sprintf("scope has %d providers, limit is %d", len(providers), a.cfg.MaxProviders))
		span.SetStatus(codes.Error, err.Code)
		return nil, err
	}

	claims, err := a.claims.ListByTenant(ctx, scopeID, since)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list claims")
		return nil, errors.NewDataUnavailableError("claims", scopeID.String()).WithCause(err)
	}

	res := &AnalysisResult{
		ScopeID:               scopeID,
		Since:                 since,
		Until:                 until,
		ProvidersAnalyzed:     len(providers),
		SuspiciousClusters:    []Cluster{},
		HighRiskProviders:     []ProviderNode{},
		SuspiciousConnections: []Connection{},
		FraudRings:            []FraudRing{},
		Recommendations:       []string{},
		AuditTriggers:         []string{},
		AnalyzedAt:            until,
	}

	index := buildIndex(providers, claims)
	res.nodes = buildNodes(index, claims)
	for _, c := range claims {
		if _, ok := index[c.ProviderID]; ok {
			res.ClaimsAnalyzed++
		}
	}

	referrals, source, err := a.referralCounts(ctx, scopeID, since, claims, index)
	if err != nil {
		return nil, err
	}
	res.ReferralSource = source

	ids := make([]uuid.UUID, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if conn, ok := a.connect(index[ids[i]], index[ids[j]], referrals); ok {
				res.connections = append(res.connections, conn)
			}
		}
	}

	for _, conn := range res.connections {
		if conn.IsSuspicious {
			res.SuspiciousConnections = append(res.SuspiciousConnections, conn)
		}
	}
	sort.SliceStable(res.SuspiciousConnections, func(i, j int) bool {
		return res.SuspiciousConnections[i].RiskScore > res.SuspiciousConnections[j].RiskScore
	})

	for _, id := range ids {
		if n := res.nodes[id]; n.RiskScore > a.cfg.HighRiskProviderScore {
			res.HighRiskProviders = append(res.HighRiskProviders, *n)
		}
	}
	sort.SliceStable(res.HighRiskProviders, func(i, j int) bool {
		return res.HighRiskProviders[i].RiskScore > res.HighRiskProviders[j].RiskScore
	})

	clusters := a.cluster(res.nodes, res.connections)
	for i := range clusters {
		res.FraudRings = append(res.FraudRings, matchArchetypes(&clusters[i])...)
	}
	res.SuspiciousClusters = append(res.SuspiciousClusters, clusters...)

	a.recommend(res)

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("providers", len(providers)),
		attribute.Int("clusters", len(res.SuspiciousClusters)),
		attribute.Int("fraud_rings", len(res.FraudRings)))
	a.metrics.RecordNetworkAnalysis(ctx, elapsed, len(providers), len(res.SuspiciousClusters), len(res.FraudRings))

	a.logger.Info("network analysis complete",
		zap.String("scope_id", scopeID.String()),
		zap.Int("providers", len(providers)),
		zap.Int("connections", len(res.connections)),
		zap.Int("clusters", len(res.SuspiciousClusters)),
		zap.Int("fraud_rings", len(res.FraudRings)),
		zap.String("referral_source", source),
		zap.Duration("duration", elapsed))

	return res, nil
}

func (a *Analyzer) referralCounts(ctx context.Context, scopeID uuid.UUID, since time.Time, claims []*claim.Claim, index map[uuid.UUID]*providerIndex) (map[Referral]int, string, error) {
	if a.referrals != nil {
		counts, err := a.referrals.ReferralCounts(ctx, scopeID, since)
		if err == nil {
			return counts, a.referrals.Name(), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		a.logger.Warn("referral source unavailable, inferring referrals from claims",
			zap.String("source", a.referrals.Name()),
			zap.String("scope_id", scopeID.String()),
			zap.Error(err))
	}
	return inferReferrals(claims, index, a.cfg.ReferralWindow), referralSourceClaims, nil
}

func buildNodes(index map[uuid.UUID]*providerIndex, claims []*claim.Claim) map[uuid.UUID]*ProviderNode {
	nodes := make(map[uuid.UUID]*ProviderNode, len(index))
	for id, pi := range index {
		nodes[id] = &ProviderNode{
			ProviderID:  id,
			Name:        pi.provider.Name,
			NPI:         pi.provider.NPI,
			Type:        pi.provider.Type,
			TotalBilled: values.Zero(values.USD),
		}
	}
	for _, c := range claims {
		n, ok := nodes[c.ProviderID]
		if !ok {
			continue
		}
		n.TotalClaims++
		if c.Status == claim.StatusFlaggedForFraud || c.IsFlagged() {
			n.FlaggedClaims++
		}
		if sum, err := n.TotalBilled.Add(c.BilledAmount); err == nil {
			n.TotalBilled = sum
		}
	}
	for _, n := range nodes {
		if n.TotalClaims > 0 {
			n.RiskScore = math.Round(float64(n.FlaggedClaims)/float64(n.TotalClaims)*10000) / 100
		}
	}
	return nodes
}

func (a *Analyzer) recommend(res *AnalysisResult) {
	for _, ring := range res.FraudRings {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Refer %s cluster %s (%d providers, %s billed) to SIU",
				ring.Archetype, ring.ClusterID.String()[:8], len(ring.Providers), ring.TotalBilled))
	}
	if len(res.FraudRings) > 0 {
		res.AuditTriggers = append(res.AuditTriggers, TriggerSIUReferral)
	}
	if len(res.HighRiskProviders) > 0 {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Audit %d provider(s) with flagged-claim rates above %.0f%%", len(res.HighRiskProviders), a.cfg.HighRiskProviderScore))
		res.AuditTriggers = append(res.AuditTriggers, TriggerProviderAudit)
	}
	for _, conn := range res.SuspiciousConnections {
		if conn.HasType(RelationshipSharedAddress) || conn.HasType(RelationshipSharedPhone) {
			res.Recommendations = append(res.Recommendations, "Verify ownership of providers sharing a business address or phone")
			res.AuditTriggers = append(res.AuditTriggers, TriggerOwnershipVerification)
			break
		}
	}
}

// Signals digests a result into per-provider signals for every analyzed
// provider, including clean ones.
func Signals(res *AnalysisResult) []ProviderSignals {
	if res == nil {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(res.nodes))
	for id := range res.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)

	out := make([]ProviderSignals, 0, len(ids))
	for _, id := range ids {
		s := ProviderSignals{
			ProviderID: id,
			TenantID:   res.ScopeID,
			NodeRisk:   res.nodes[id].RiskScore,
			ComputedAt: res.AnalyzedAt,
		}
		for _, conn := range res.connections {
			if !conn.Involves(id) {
				continue
			}
			if conn.IsSuspicious {
				s.SuspiciousConnections++
			}
			if conn.HasType(RelationshipExcessiveReferrals) || conn.HasType(RelationshipReferralLoop) {
				s.ReferralAnomalies++
			}
		}
		for i := range res.SuspiciousClusters {
			c := &res.SuspiciousClusters[i]
			if !c.Contains(id) {
				continue
			}
			s.InCluster = true
			s.ClusterRisk = c.RiskScore
			s.RingIndicators = len(c.Indicators)
			break
		}
		for _, ring := range res.FraudRings {
			for _, member := range ring.Providers {
				if member == id {
					s.FraudRings = append(s.FraudRings, ring.Archetype)
					break
				}
			}
		}
		out = append(out, s)
	}
	return out
}
