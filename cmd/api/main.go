package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/api/rest"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/cache"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/graph"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/telemetry"
	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
	"github.com/davidleathers/claims-fraud-engine/internal/service/claims"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(telemetry.LoggerConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
		Service:     cfg.Telemetry.ServiceName,
		Version:     cfg.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting claims fraud engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.Store),
		zap.Int("port", cfg.Server.Port))

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = cfg.Telemetry.ServiceName
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.SamplingRate = cfg.Telemetry.SamplingRate
	provider, err := telemetry.Initialize(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	m, err := metrics.NewRegistry(cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("create metrics registry: %w", err)
	}

	health := rest.NewHealthService(cfg.Version, 0)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()
	if st.health != nil {
		health.Register("database", st.health)
	}

	ref, err := loadReference(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	fraudSvc, err := fraud.NewService(st.claimReader, st.duplicates, st.providers, st.patients, ref, cfg.FraudRules(), logger)
	if err != nil {
		return fmt.Errorf("create fraud service: %w", err)
	}

	var (
		signals  network.SignalStore   = network.NewMemorySignalStore()
		detector rest.ProviderDetector = fraudSvc
		limiter  rest.Limiter
	)
	if cfg.Redis.Enabled {
		cm, err := cache.NewManager(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := cm.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}()
		health.Register("redis", cm.HealthCheck)
		signals = cm.Signals
		detector = cache.NewFraudResultCache(fraudSvc, cm.Cache, cfg.Redis.ProfileTTL, logger, m)
		limiter = rest.NewSharedLimiter(cm.RateLimiter, cfg.Server.RateLimit.RequestsPerSecond)
	} else {
		limiter = rest.NewLocalLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.BurstSize)
	}

	var referrals network.ReferralSource
	if cfg.Graph.Enabled {
		client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
		if err != nil {
			return fmt.Errorf("connect graph: %w", err)
		}
		defer func() { _ = client.Close(context.Background()) }()

		g := graph.NewReferralGraph(client, logger)
		if err := g.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("graph schema: %w", err)
		}
		health.Register("graph", client.VerifyConnectivity)
		referrals = g
	}

	var advisor risk.ExternalRiskAdvisor
	if cfg.Advisor.Endpoint != "" {
		gw, err := risk.NewAdvisorGateway(
			risk.NewHTTPAdvisor(cfg.Advisor.Endpoint, cfg.Advisor.APIKey, cfg.Advisor.Timeout),
			cfg.Advisor.Timeout, cfg.Advisor.CircuitBreaker, logger, m)
		if err != nil {
			return fmt.Errorf("create advisor gateway: %w", err)
		}
		advisor = gw
		logger.Info("external risk advisor enabled", zap.String("endpoint", cfg.Advisor.Endpoint))
	}

	engine, err := risk.NewEngine(risk.Dependencies{
		Fraud:     fraudSvc,
		Claims:    st.claimReader,
		Providers: st.providers,
		Signals:   signals,
		Advisor:   advisor,
		Logger:    logger,
		Metrics:   m,
	}, cfg.RiskConfig())
	if err != nil {
		return fmt.Errorf("create risk engine: %w", err)
	}

	processor, err := claims.NewProcessor(engine, st.claimWriter, st.audit, cfg.ProcessorConfig(), logger, m)
	if err != nil {
		return fmt.Errorf("create claim processor: %w", err)
	}

	analyzer, err := network.NewAnalyzer(st.directory, st.claimSource, referrals, cfg.NetworkAnalyzerConfig(), logger, m)
	if err != nil {
		return fmt.Errorf("create network analyzer: %w", err)
	}

	if cfg.Network.Enabled {
		scheduler, err := network.NewScheduler(analyzer, st.tenants, signals, cfg.Network.Interval, cfg.Network.Timeout, logger)
		if err != nil {
			return fmt.Errorf("create network scheduler: %w", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	handler := rest.NewRouter(rest.Config{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Limiter:      limiter,
		Health:       health,
		Metrics:      m,
		Logger:       logger,
	}, rest.Services{
		Processor: processor,
		Scorer:    engine,
		Detector:  detector,
		Network:   analyzer,
		Alerts:    st.alerts,
	})

	if err := rest.NewServer(cfg.Server, handler, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
