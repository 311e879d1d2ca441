package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

func TestOpenStores_Memory(t *testing.T) {
	cfg := config.Defaults()
	st, err := openStores(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer st.close()

	assert.NotNil(t, st.claimReader)
	assert.NotNil(t, st.claimWriter)
	assert.NotNil(t, st.alerts)
	assert.NotNil(t, st.tenants)
	assert.Nil(t, st.prices)
	assert.Nil(t, st.health)
}

func TestLoadReference(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("defaults without overrides", func(t *testing.T) {
		ref, err := loadReference(ctx, config.Defaults(), &stores{}, logger)
		require.NoError(t, err)
		want, _ := billingcode.Default().TypicalMax("99214")
		got, ok := ref.TypicalMax("99214")
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("stored ranges", func(t *testing.T) {
		st := &stores{prices: func(context.Context) (map[string]billingcode.PriceRange, error) {
			return map[string]billingcode.PriceRange{
				"99214": {Min: 90, Max: 333},
				"ZZZZZ": {Min: 1, Max: 2},
			}, nil
		}}
		ref, err := loadReference(ctx, config.Defaults(), st, logger)
		require.NoError(t, err)
		got, _ := ref.TypicalMax("99214")
		assert.Equal(t, 333.0, got)
		assert.False(t, ref.IsKnownCode("ZZZZZ"))
	})

	t.Run("price file wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prices.parquet")
		n, err := billingcode.WritePriceRanges(path, billingcode.Default())
		require.NoError(t, err)
		require.Positive(t, n)

		cfg := config.Defaults()
		cfg.Reference.PriceFile = path
		st := &stores{prices: func(context.Context) (map[string]billingcode.PriceRange, error) {
			t.Fatal("stored ranges read despite a price file")
			return nil, nil
		}}
		_, err = loadReference(ctx, cfg, st, logger)
		require.NoError(t, err)
	})

	t.Run("store error", func(t *testing.T) {
		st := &stores{prices: func(context.Context) (map[string]billingcode.PriceRange, error) {
			return nil, errors.New("relation price_ranges does not exist")
		}}
		_, err := loadReference(ctx, config.Defaults(), st, logger)
		assert.ErrorContains(t, err, "database")
	})
}
