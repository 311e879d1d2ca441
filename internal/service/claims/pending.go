package claims

import (
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
)

// DefaultPendingCapacity bounds the scored results kept for a write retry.
const DefaultPendingCapacity = 1000

// pendingResults holds scored results whose completion write failed, keyed
// by claim id, until a retry succeeds. The oldest entry is evicted when the
// cache is full; its claim stays PENDING in storage.
type pendingResults struct {
	mu       sync.Mutex
	capacity int
	byID     map[uuid.UUID]*claim.AnalysisResult
	order    []uuid.UUID
}

func newPendingResults(capacity int) *pendingResults {
	if capacity <= 0 {
		capacity = DefaultPendingCapacity
	}
	return &pendingResults{
		capacity: capacity,
		byID:     make(map[uuid.UUID]*claim.AnalysisResult),
	}
}

// put stores r and returns the id evicted to make room, if any.
func (p *pendingResults) put(r *claim.AnalysisResult) (evicted uuid.UUID, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[r.ClaimID]; exists {
		p.byID[r.ClaimID] = r
		return uuid.Nil, false
	}
	if len(p.order) >= p.capacity {
		evicted, p.order = p.order[0], p.order[1:]
		delete(p.byID, evicted)
		ok = true
	}
	p.byID[r.ClaimID] = r
	p.order = append(p.order, r.ClaimID)
	return evicted, ok
}

func (p *pendingResults) get(id uuid.UUID) (*claim.AnalysisResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[id]
	return r, ok
}

func (p *pendingResults) remove(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return
	}
	delete(p.byID, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *pendingResults) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
