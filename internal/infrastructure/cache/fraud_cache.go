package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
)

var _ fraud.Service = (*FraudResultCache)(nil)

// FraudResultCache serves provider-level detector results (coding profile,
// phantom billing analysis) from Redis for ttl. Claim-time scoring does not
// go through it; it backs the provider lookup endpoints. Changing the rules
// starts a new key generation.
type FraudResultCache struct {
	fraud.Service
	cache      Cache
	ttl        time.Duration
	logger     *zap.Logger
	metrics    *metrics.Registry
	generation atomic.Int64
}

func NewFraudResultCache(svc fraud.Service, cache Cache, ttl time.Duration, logger *zap.Logger, m *metrics.Registry) *FraudResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &FraudResultCache{Service: svc, cache: cache, ttl: ttl, logger: logger, metrics: m}
}

func (c *FraudResultCache) key(kind string, providerID uuid.UUID, lookbackDays int) string {
	if lookbackDays <= 0 {
		lookbackDays = c.Rules().LookbackDays
	}
	return fmt.Sprintf("%s%s:g%d:%s:%d", ResultPrefix, kind, c.generation.Load(), providerID, lookbackDays)
}

func (c *FraudResultCache) DetectUpcoding(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*fraud.UpcodingResult, error) {
	key := c.key("upcoding", providerID, lookbackDays)
	var cached fraud.UpcodingResult
	if c.lookup(ctx, "upcoding", key, &cached) {
		return &cached, nil
	}

	res, err := c.Service.DetectUpcoding(ctx, providerID, lookbackDays)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, res)
	return res, nil
}

func (c *FraudResultCache) DetectPhantomBilling(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*fraud.PhantomBillingResult, error) {
	key := c.key("phantom", providerID, lookbackDays)
	var cached fraud.PhantomBillingResult
	if c.lookup(ctx, "phantom_billing", key, &cached) {
		return &cached, nil
	}

	res, err := c.Service.DetectPhantomBilling(ctx, providerID, lookbackDays)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, res)
	return res, nil
}

// UpdateRules swaps the rules and invalidates every cached result.
func (c *FraudResultCache) UpdateRules(ctx context.Context, rules *fraud.Rules) error {
	if err := c.Service.UpdateRules(ctx, rules); err != nil {
		return err
	}
	c.generation.Add(1)
	return nil
}

func (c *FraudResultCache) lookup(ctx context.Context, name, key string, dest interface{}) bool {
	err := c.cache.GetJSON(ctx, key, dest)
	if err != nil && !IsMiss(err) {
		c.logger.Warn("fraud result cache read failed", zap.String("key", key), zap.Error(err))
	}
	c.metrics.RecordCacheLookup(ctx, name, err == nil)
	return err == nil
}

func (c *FraudResultCache) store(ctx context.Context, key string, value interface{}) {
	if err := c.cache.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("fraud result cache write failed", zap.String("key", key), zap.Error(err))
	}
}
