package network

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemorySignalStore keeps signals in process. Saving a tenant replaces every
// signal previously saved for it.
type MemorySignalStore struct {
	mu       sync.RWMutex
	signals  map[uuid.UUID]ProviderSignals
	byTenant map[uuid.UUID][]uuid.UUID
}

func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{
		signals:  make(map[uuid.UUID]ProviderSignals),
		byTenant: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *MemorySignalStore) SaveSignals(_ context.Context, tenantID uuid.UUID, signals []ProviderSignals) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byTenant[tenantID] {
		delete(m.signals, id)
	}
	ids := make([]uuid.UUID, 0, len(signals))
	for _, s := range signals {
		s.FraudRings = append([]string(nil), s.FraudRings...)
		m.signals[s.ProviderID] = s
		ids = append(ids, s.ProviderID)
	}
	m.byTenant[tenantID] = ids
	return nil
}

func (m *MemorySignalStore) GetSignals(_ context.Context, providerID uuid.UUID) (*ProviderSignals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.signals[providerID]
	if !ok {
		return nil, nil
	}
	s.FraudRings = append([]string(nil), s.FraudRings...)
	return &s, nil
}
