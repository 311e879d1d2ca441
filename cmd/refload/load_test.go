package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/graph"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

type fakePriceStore struct {
	source string
	ranges map[string]billingcode.PriceRange
	err    error
}

func (f *fakePriceStore) ReplacePriceRanges(_ context.Context, source string, ranges map[string]billingcode.PriceRange) error {
	f.source, f.ranges = source, ranges
	return f.err
}

func writeParquet[T any](t *testing.T, name string, rows []T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[T](f)
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestLoadPrices(t *testing.T) {
	path := writeParquet(t, "fees.parquet", []billingcode.PriceRangeRow{
		{Code: "99213", MinPrice: 70, MaxPrice: 140},
		{Code: "99214", MinPrice: 300, MaxPrice: 100},
		{Code: "NOPE1", MinPrice: 1, MaxPrice: 2},
	})

	store := &fakePriceStore{}
	stats, err := loadPrices(context.Background(), store, path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, []string{"99214", "NOPE1"}, stats.Rejected)
	assert.Equal(t, "fees.parquet", store.source)
	assert.Equal(t, map[string]billingcode.PriceRange{"99213": {Min: 70, Max: 140}}, store.ranges)
}

func TestLoadPrices_NothingUsable(t *testing.T) {
	path := writeParquet(t, "bad.parquet", []billingcode.PriceRangeRow{{Code: "NOPE1", MinPrice: 1, MaxPrice: 2}})
	store := &fakePriceStore{}
	_, err := loadPrices(context.Background(), store, path, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "no usable price ranges")
	assert.Nil(t, store.ranges)
}

func TestLoadPrices_StoreError(t *testing.T) {
	path := writeParquet(t, "fees.parquet", []billingcode.PriceRangeRow{{Code: "99213", MinPrice: 70, MaxPrice: 140}})
	_, err := loadPrices(context.Background(), &fakePriceStore{err: errors.New("conn reset")}, path, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "conn reset")
}

func TestLoadReferrals(t *testing.T) {
	tenant, a, b := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	path := writeParquet(t, "referrals.parquet", []ReferralRow{
		{TenantID: tenant.String(), From: a.String(), To: b.String(), PatientID: uuid.NewString(), ReferredAt: at.UnixMilli()},
		{TenantID: tenant.String(), From: a.String(), To: a.String(), ReferredAt: at.UnixMilli()},
		{TenantID: tenant.String(), From: "not-a-uuid", To: b.String(), ReferredAt: at.UnixMilli()},
		{TenantID: tenant.String(), From: b.String(), To: a.String()},
	})

	client := graph.NewMemoryClient()
	g := graph.NewReferralGraph(client, zaptest.NewLogger(t))
	stats, err := loadReferrals(context.Background(), g, path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Loaded)
	require.Len(t, stats.Rejected, 3)
	assert.Contains(t, stats.Rejected[0], "row 2")
	assert.Contains(t, stats.Rejected[1], "from_provider")
	assert.Contains(t, stats.Rejected[2], "referred_at")

	calls := client.WriteCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, a.String(), calls[0].Params["fromId"])
	assert.Equal(t, b.String(), calls[0].Params["toId"])
}

type failingRecorder struct{}

func (failingRecorder) RecordReferral(context.Context, graph.ReferralEvent) error {
	return errors.New("neo4j unavailable")
}

func TestLoadReferrals_AbortsOnWriteError(t *testing.T) {
	path := writeParquet(t, "referrals.parquet", []ReferralRow{
		{TenantID: uuid.NewString(), From: uuid.NewString(), To: uuid.NewString(), ReferredAt: time.Now().UnixMilli()},
	})
	_, err := loadReferrals(context.Background(), failingRecorder{}, path, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "row 1")
}
