package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

func TestNewNeo4jClient_MissingURI(t *testing.T) {
	_, err := NewNeo4jClient(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrMissingURI)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.GraphConfig{
		URI: "neo4j://graph:7687", Username: "neo4j", Password: "secret", Database: "referrals",
	})
	assert.Equal(t, Options{URI: "neo4j://graph:7687", Username: "neo4j", Password: "secret", Database: "referrals"}, opts)
}

func TestReferralGraph_ReferralCounts(t *testing.T) {
	tenant := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	client := NewMemoryClient()
	client.PushReadResult(Result{Records: []Record{
		{"from": a.String(), "to": b.String(), "events": int64(4)},
		{"from": b.String(), "to": a.String(), "events": int64(3)},
		{"from": "not-a-uuid", "to": c.String(), "events": int64(9)},
		{"from": a.String(), "to": c.String(), "events": int64(0)},
	}})

	g := NewReferralGraph(client, zaptest.NewLogger(t))
	counts, err := g.ReferralCounts(context.Background(), tenant, since)
	require.NoError(t, err)

	assert.Equal(t, map[network.Referral]int{
		{From: a, To: b}: 4,
		{From: b, To: a}: 3,
	}, counts)
	assert.Equal(t, "neo4j", g.Name())

	calls := client.ReadCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, tenant.String(), calls[0].Params["tenantId"])
	assert.Equal(t, "2025-01-01T00:00:00Z", calls[0].Params["since"])
}

func TestReferralGraph_ReferralCountsError(t *testing.T) {
	client := NewMemoryClient().WithError(errors.New("bolt: connection refused"))
	g := NewReferralGraph(client, nil)

	_, err := g.ReferralCounts(context.Background(), uuid.New(), time.Now())
	assert.ErrorContains(t, err, "connection refused")
}

func TestReferralGraph_RecordReferral(t *testing.T) {
	client := NewMemoryClient()
	g := NewReferralGraph(client, nil)
	ctx := context.Background()

	ev := ReferralEvent{
		TenantID:   uuid.New(),
		From:       uuid.New(),
		To:         uuid.New(),
		PatientID:  uuid.New(),
		ReferredAt: time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, g.EnsureSchema(ctx))
	require.NoError(t, g.RecordReferral(ctx, ev))

	calls := client.WriteCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Query, "CREATE CONSTRAINT")
	assert.Equal(t, ev.From.String(), calls[1].Params["fromId"])
	assert.Equal(t, ev.To.String(), calls[1].Params["toId"])
	assert.Equal(t, "2025-02-03T10:00:00Z", calls[1].Params["referredAt"])

	self := ev
	self.To = self.From
	assert.Error(t, g.RecordReferral(ctx, self))
	assert.Error(t, g.RecordReferral(ctx, ReferralEvent{To: uuid.New()}))
	assert.Len(t, client.WriteCalls(), 2)
}

func TestReferralGraph_FeedsAnalyzer(t *testing.T) {
	var _ network.ReferralSource = (*ReferralGraph)(nil)
}

func TestMemoryClient_Connectivity(t *testing.T) {
	client := NewMemoryClient()
	assert.NoError(t, client.VerifyConnectivity(context.Background()))

	client.WithConnectivityError(errors.New("unreachable"))
	assert.EqualError(t, client.VerifyConnectivity(context.Background()), "unreachable")
	assert.NoError(t, client.Close(context.Background()))
}
