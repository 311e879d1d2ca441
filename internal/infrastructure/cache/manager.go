package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
)

// Manager owns the Redis client and the stores built on it.
type Manager struct {
	Cache       Cache
	Signals     *SignalStore
	RateLimiter RateLimiter
	client      *redis.Client
	logger      *zap.Logger
}

// NewManager connects to Redis and builds every Redis-backed store.
func NewManager(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("cache manager initialized",
		zap.String("addr", client.Options().Addr),
		zap.Int("db", client.Options().DB))

	return &Manager{
		Cache:       NewRedisCache(client, logger),
		Signals:     NewSignalStore(client, cfg.SignalTTL),
		RateLimiter: NewRedisRateLimiter(client, logger),
		client:      client,
		logger:      logger,
	}, nil
}

// HealthCheck pings Redis.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	if err := m.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("redis client close failed: %w", err)
	}
	m.logger.Info("cache manager closed")
	return nil
}
