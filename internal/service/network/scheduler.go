package network

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
)

// TenantLister names the scopes the scheduler analyzes on each tick.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
}

// StaticTenants is a fixed tenant list, used when scopes come from config.
type StaticTenants []uuid.UUID

func (s StaticTenants) ListTenants(context.Context) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), s...), nil
}

// SchedulerStatus reports the scheduler's last run.
type SchedulerStatus struct {
	IsRunning  bool                    `json:"is_running"`
	LastRun    time.Time               `json:"last_run,omitempty"`
	LastErrors map[uuid.UUID]string    `json:"last_errors,omitempty"`
	Analyzed   map[uuid.UUID]time.Time `json:"analyzed,omitempty"`
}

// Scheduler runs network analysis per tenant on its own ticker and publishes
// the resulting signals. It never blocks claim scoring.
type Scheduler struct {
	analyzer *Analyzer
	tenants  TenantLister
	store    SignalStore
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	ticker *time.Ticker
	cancel context.CancelFunc
	done   chan struct{}
	status SchedulerStatus
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(analyzer *Analyzer, tenants TenantLister, store SignalStore, interval, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if analyzer == nil || tenants == nil || store == nil {
		return nil, errors.NewValidationError("INVALID_SCHEDULER", "analyzer, tenants and store are required")
	}
	if interval <= 0 {
		return nil, errors.NewValidationError("INVALID_INTERVAL", "interval must be positive")
	}
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		analyzer: analyzer,
		tenants:  tenants,
		store:    store,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "network_scheduler")),
		status: SchedulerStatus{
			LastErrors: map[uuid.UUID]string{},
			Analyzed:   map[uuid.UUID]time.Time{},
		},
	}, nil
}

// Start runs one pass immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan struct{})
	s.status.IsRunning = true
	ticker, done := s.ticker, s.done
	s.mu.Unlock()

	go s.run(ctx, ticker, done)
	s.logger.Info("network scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	s.cancel()
	done := s.done
	s.status.IsRunning = false
	s.mu.Unlock()

	<-done
	s.logger.Info("network scheduler stopped")
}

// Status returns a copy of the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := SchedulerStatus{
		IsRunning:  s.status.IsRunning,
		LastRun:    s.status.LastRun,
		LastErrors: make(map[uuid.UUID]string, len(s.status.LastErrors)),
		Analyzed:   make(map[uuid.UUID]time.Time, len(s.status.Analyzed)),
	}
	for k, v := range s.status.LastErrors {
		out.LastErrors[k] = v
	}
	for k, v := range s.status.Analyzed {
		out.Analyzed[k] = v
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, ticker *time.Ticker, done chan struct{}) {
	defer close(done)

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce analyzes every tenant sequentially. A failing tenant is logged
// and skipped; its previous signals stay in place.
func (s *Scheduler) RunOnce(ctx context.Context) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		s.logger.Error("list tenants failed", zap.Error(err))
		return
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		err := s.analyzeTenant(ctx, tenantID)

		s.mu.Lock()
		s.status.LastRun = time.Now()
		if err != nil {
			s.status.LastErrors[tenantID] = err.Error()
		} else {
			delete(s.status.LastErrors, tenantID)
			s.status.Analyzed[tenantID] = s.status.LastRun
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("network analysis failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) analyzeTenant(ctx context.Context, tenantID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.analyzer.AnalyzeNetwork(ctx, tenantID, 0)
	if err != nil {
		return err
	}
	return s.store.SaveSignals(ctx, tenantID, Signals(res))
}
