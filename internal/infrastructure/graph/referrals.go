package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

const sourceName = "neo4j"

// ReferralEvent is one provider-to-provider referral for a patient.
type ReferralEvent struct {
	TenantID   uuid.UUID
	From       uuid.UUID
	To         uuid.UUID
	PatientID  uuid.UUID
	ReferredAt time.Time
}

// ReferralGraph stores referrals as (:Provider)-[:REFERRED]->(:Provider)
// edges and serves directed counts to the network analyzer.
type ReferralGraph struct {
	client Client
	logger *zap.Logger
}

func NewReferralGraph(client Client, logger *zap.Logger) *ReferralGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferralGraph{client: client, logger: logger}
}

// Name identifies the source in analysis results.
func (g *ReferralGraph) Name() string { return sourceName }

// EnsureSchema creates the provider uniqueness constraint.
func (g *ReferralGraph) EnsureSchema(ctx context.Context) error {
	if _, err := g.client.ExecuteWrite(ctx, providerConstraintCypher, nil); err != nil {
		return fmt.Errorf("create provider constraint: %w", err)
	}
	return nil
}

// RecordReferral merges both provider nodes and adds one REFERRED edge.
func (g *ReferralGraph) RecordReferral(ctx context.Context, ev ReferralEvent) error {
	if ev.From == uuid.Nil || ev.To == uuid.Nil {
		return errors.New("both referring and receiving provider IDs are required")
	}
	if ev.From == ev.To {
		return fmt.Errorf("provider %s cannot refer to itself", ev.From)
	}

	params := map[string]any{
		"tenantId":   ev.TenantID.String(),
		"fromId":     ev.From.String(),
		"toId":       ev.To.String(),
		"patientId":  ev.PatientID.String(),
		"referredAt": formatTime(ev.ReferredAt),
	}
	if _, err := g.client.ExecuteWrite(ctx, recordReferralCypher, params); err != nil {
		return fmt.Errorf("record referral %s->%s: %w", ev.From, ev.To, err)
	}
	return nil
}

// ReferralCounts returns directed referral counts for the tenant since the
// given instant. Rows with unparseable provider IDs are skipped.
func (g *ReferralGraph) ReferralCounts(ctx context.Context, tenantID uuid.UUID, since time.Time) (map[network.Referral]int, error) {
	res, err := g.client.ExecuteRead(ctx, referralCountsCypher, map[string]any{
		"tenantId": tenantID.String(),
		"since":    formatTime(since),
	})
	if err != nil {
		return nil, fmt.Errorf("query referral counts: %w", err)
	}

	out := make(map[network.Referral]int, len(res.Records))
	for _, rec := range res.Records {
		from, errFrom := uuid.Parse(toString(rec["from"]))
		to, errTo := uuid.Parse(toString(rec["to"]))
		if errFrom != nil || errTo != nil {
			g.logger.Warn("skipping referral row with invalid provider id",
				zap.Any("from", rec["from"]),
				zap.Any("to", rec["to"]))
			continue
		}
		if n := toInt(rec["events"]); n > 0 {
			out[network.Referral{From: from, To: to}] += n
		}
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toInt(val any) int {
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

const providerConstraintCypher = `
CREATE CONSTRAINT provider_id IF NOT EXISTS
FOR (p:Provider) REQUIRE p.id IS UNIQUE`

const recordReferralCypher = `
MERGE (a:Provider {id: $fromId})
  ON CREATE SET a.tenant_id = $tenantId
MERGE (b:Provider {id: $toId})
  ON CREATE SET b.tenant_id = $tenantId
CREATE (a)-[:REFERRED {patient_id: $patientId, referred_at: datetime($referredAt)}]->(b)`

const referralCountsCypher = `
MATCH (a:Provider {tenant_id: $tenantId})-[r:REFERRED]->(b:Provider {tenant_id: $tenantId})
WHERE r.referred_at >= datetime($since)
RETURN a.id AS from, b.id AS to, count(r) AS events`
