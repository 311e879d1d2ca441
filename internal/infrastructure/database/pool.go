package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
)

// Pool wraps the primary pgx pool with transaction helpers and health checks.
type Pool struct {
	*pgxpool.Pool
	logger *zap.Logger
}

// NewPool parses the database URL, applies pool limits and runtime
// parameters, and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pgCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	configurePgxPool(pgCfg, cfg, logger)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", pgCfg.MaxConns),
		zap.Int32("min_connections", pgCfg.MinConns))

	return &Pool{Pool: pool, logger: logger}, nil
}

func configurePgxPool(pgCfg *pgxpool.Config, cfg config.DatabaseConfig, logger *zap.Logger) {
	if cfg.MaxConns > 0 {
		pgCfg.MaxConns = cfg.MaxConns
	} else {
		pgCfg.MaxConns = 25
	}
	if cfg.MinConns > 0 {
		pgCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	} else {
		pgCfg.MaxConnLifetime = 30 * time.Minute
	}
	pgCfg.MaxConnIdleTime = 10 * time.Minute
	pgCfg.HealthCheckPeriod = time.Minute

	pgCfg.ConnConfig.ConnectTimeout = 5 * time.Second
	pgCfg.ConnConfig.RuntimeParams["application_name"] = "claims_fraud_engine"
	pgCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pgCfg.ConnConfig.RuntimeParams["lock_timeout"] = "10s"
	pgCfg.ConnConfig.RuntimeParams["statement_timeout"] = "30s"
	pgCfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60s"

	pgCfg.BeforeConnect = func(_ context.Context, cc *pgx.ConnConfig) error {
		logger.Debug("establishing database connection",
			zap.String("host", cc.Host),
			zap.Uint16("port", cc.Port))
		return nil
	}
}

// InTx runs fn inside a read-committed transaction. The transaction is
// rolled back when fn returns an error.
func (p *Pool) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// Health pings the primary with a short deadline.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close releases every connection.
func (p *Pool) Close() {
	p.Pool.Close()
	p.logger.Info("database connection pool closed")
}
