// Command refload loads reference data: typical price ranges into postgres
// and referral events into the neo4j referral graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/database"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/graph"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "Path to configuration file")
		prices     = flag.String("prices", "", "Parquet file of price ranges to store")
		referrals  = flag.String("referrals", "", "Parquet file of referral events to record")
		export     = flag.String("export", "", "Write the built-in price ranges to this parquet file and exit")
	)
	flag.Parse()

	if *export != "" {
		n, err := billingcode.WritePriceRanges(*export, billingcode.Default())
		if err != nil {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %d price ranges to %s\n", n, *export)
		return
	}
	if *prices == "" && *referrals == "" {
		fmt.Fprintln(os.Stderr, "nothing to load: pass -prices, -referrals or -export")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := telemetry.NewLogger(telemetry.LoggerConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
		Service:     "refload",
		Version:     cfg.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *prices != "" {
		if err := runPrices(ctx, cfg, *prices, logger); err != nil {
			logger.Fatal("price load failed", zap.Error(err))
		}
	}
	if *referrals != "" {
		if err := runReferrals(ctx, cfg, *referrals, logger); err != nil {
			logger.Fatal("referral load failed", zap.Error(err))
		}
	}
}

func runPrices(ctx context.Context, cfg *config.Config, path string, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required to store price ranges")
	}
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	stats, err := loadPrices(ctx, database.NewPriceRepository(pool), path, logger)
	if err != nil {
		return err
	}
	fmt.Printf("prices: %d loaded, %d skipped\n", stats.Loaded, len(stats.Rejected))
	return nil
}

func runReferrals(ctx context.Context, cfg *config.Config, path string, logger *zap.Logger) error {
	client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	g := graph.NewReferralGraph(client, logger)
	if err := g.EnsureSchema(ctx); err != nil {
		return err
	}
	stats, err := loadReferrals(ctx, g, path, logger)
	if err != nil {
		return err
	}
	for _, r := range stats.Rejected {
		logger.Warn("referral rejected", zap.String("reason", r))
	}
	fmt.Printf("referrals: %d recorded, %d rejected\n", stats.Loaded, len(stats.Rejected))
	return nil
}
