package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/api/rest"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/database"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/memstore"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
	"github.com/davidleathers/claims-fraud-engine/internal/service/claims"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

// stores are the persistence collaborators of the services, backed by
// either postgres or the in-memory store.
type stores struct {
	claimReader fraud.ClaimReader
	duplicates  fraud.DuplicateFinder
	providers   fraud.ProviderReader
	patients    fraud.PatientReader
	claimWriter claims.ClaimWriter
	alerts      claims.AlertReader
	audit       claims.AuditLogger
	directory   network.ProviderDirectory
	claimSource network.ClaimSource
	tenants     network.TenantLister

	// prices is nil when stored price ranges are unsupported.
	prices func(ctx context.Context) (map[string]billingcode.PriceRange, error)
	health rest.CheckFunc
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if cfg.Database.AutoMigrate {
			if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		claimRepo := database.NewClaimRepository(pool)
		directory := database.NewDirectoryRepository(pool)
		return &stores{
			claimReader: claimRepo,
			duplicates:  claimRepo,
			providers:   directory,
			patients:    directory,
			claimWriter: claimRepo,
			alerts:      claimRepo,
			audit:       database.NewAuditRepository(pool),
			directory:   directory,
			claimSource: claimRepo,
			tenants:     directory,
			prices:      database.NewPriceRepository(pool).PriceRanges,
			health:      pool.Health,
			close:       pool.Close,
		}, nil
	default:
		logger.Warn("using in-memory store; claims are lost on restart")
		s := memstore.New()
		return &stores{
			claimReader: s,
			duplicates:  s,
			providers:   s,
			patients:    s,
			claimWriter: s,
			alerts:      s,
			audit:       s,
			directory:   s,
			claimSource: s,
			tenants:     s,
			close:       func() {},
		}, nil
	}
}

// loadReference applies price overrides to the built-in code reference.
// A configured parquet file wins over ranges stored in the database.
func loadReference(ctx context.Context, cfg *config.Config, st *stores, logger *zap.Logger) (*billingcode.Reference, error) {
	ref := billingcode.Default()

	var (
		overrides map[string]billingcode.PriceRange
		source    string
		err       error
	)
	switch {
	case cfg.Reference.PriceFile != "":
		source = cfg.Reference.PriceFile
		overrides, err = billingcode.LoadPriceRanges(cfg.Reference.PriceFile)
	case st.prices != nil:
		source = "database"
		overrides, err = st.prices(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load price ranges from %s: %w", source, err)
	}
	if len(overrides) == 0 {
		return ref, nil
	}

	ref, skipped := ref.WithPriceOverrides(overrides)
	logger.Info("price ranges loaded",
		zap.String("source", source),
		zap.Int("ranges", len(overrides)-len(skipped)),
		zap.Strings("skipped", skipped))
	return ref, nil
}
