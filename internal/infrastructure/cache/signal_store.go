package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
)

var _ network.SignalStore = (*SignalStore)(nil)

// SignalStore keeps the latest network signals per provider in Redis so that
// every API replica reads what the scheduler last computed. A per-tenant set
// tracks which provider keys belong to the latest run.
type SignalStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewSignalStore(client redis.UniversalClient, ttl time.Duration) *SignalStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignalStore{client: client, ttl: ttl}
}

func signalKey(providerID uuid.UUID) string {
	return SignalPrefix + providerID.String()
}

func tenantKey(tenantID uuid.UUID) string {
	return SignalPrefix + "tenant:" + tenantID.String()
}

// SaveSignals replaces the tenant's signals atomically.
func (s *SignalStore) SaveSignals(ctx context.Context, tenantID uuid.UUID, signals []network.ProviderSignals) error {
	previous, err := s.client.SMembers(ctx, tenantKey(tenantID)).Result()
	if err != nil {
		return fmt.Errorf("read tenant signal index: %w", err)
	}

	payloads := make(map[string][]byte, len(signals))
	for _, sig := range signals {
		data, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("marshal signals: %w", err)
		}
		payloads[signalKey(sig.ProviderID)] = data
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range previous {
			if _, keep := payloads[key]; !keep {
				pipe.Del(ctx, key)
			}
		}
		pipe.Del(ctx, tenantKey(tenantID))
		for key, data := range payloads {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.SAdd(ctx, tenantKey(tenantID), key)
		}
		if len(payloads) > 0 {
			pipe.Expire(ctx, tenantKey(tenantID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save signals: %w", err)
	}
	return nil
}

// GetSignals returns nil, nil when nothing is stored for the provider.
func (s *SignalStore) GetSignals(ctx context.Context, providerID uuid.UUID) (*network.ProviderSignals, error) {
	data, err := s.client.Get(ctx, signalKey(providerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get signals: %w", err)
	}

	var sig network.ProviderSignals
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	return &sig, nil
}
