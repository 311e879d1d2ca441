package risk

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState is the breaker position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

const (
	stateClosed int32 = iota
	stateOpen
	stateHalfOpen
)

// ErrCircuitOpen is returned without calling the advisor while the breaker
// is open.
var ErrCircuitOpen = stderrors.New("advisor circuit breaker is open")

// CircuitBreakerConfig configures when advisor calls are short-circuited.
type CircuitBreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"` // consecutive failures that open the circuit
	SuccessThreshold int           `koanf:"success_threshold"` // half-open successes that close it again
	OpenTimeout      time.Duration `koanf:"open_timeout"`      // wait before probing in half-open
	HalfOpenRequests int           `koanf:"half_open_requests"`
}

// CircuitBreakerStats is a point-in-time view of the breaker.
type CircuitBreakerStats struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int64        `json:"consecutive_failures"`
	TotalFailures       int64        `json:"total_failures"`
	TotalSuccesses      int64        `json:"total_successes"`
	Rejected            int64        `json:"rejected"`
	LastFailureTime     time.Time    `json:"last_failure_time,omitempty"`
}

// CircuitBreaker guards calls to one external advisor.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	state           int32 // atomic
	lastFailureTime int64 // atomic: unix nano
	consecutive     int64 // atomic
	halfOpenCalls   int64 // atomic
	halfOpenOK      int64 // atomic
	failures        int64 // atomic
	successes       int64 // atomic
	rejected        int64 // atomic

	mu            sync.RWMutex
	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker fills zero config values with defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = config.SuccessThreshold
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Execute runs fn unless the circuit is open. Context cancellation by the
// caller is not counted as an advisor failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		atomic.AddInt64(&cb.rejected, 1)
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case stderrors.Is(err, context.Canceled):
		// caller went away
	default:
		cb.recordFailure()
	}
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	switch atomic.LoadInt32(&cb.state) {
	case stateOpen:
		return CircuitOpen
	case stateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// Reset closes the circuit and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	old := cb.State()
	atomic.StoreInt32(&cb.state, stateClosed)
	atomic.StoreInt64(&cb.consecutive, 0)
	atomic.StoreInt64(&cb.halfOpenCalls, 0)
	atomic.StoreInt64(&cb.halfOpenOK, 0)
	if old != CircuitClosed {
		cb.notify(old, CircuitClosed)
	}
}

// OnStateChange registers a callback invoked synchronously on transitions.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	stats := CircuitBreakerStats{
		State:               cb.State(),
		ConsecutiveFailures: atomic.LoadInt64(&cb.consecutive),
		TotalFailures:       atomic.LoadInt64(&cb.failures),
		TotalSuccesses:      atomic.LoadInt64(&cb.successes),
		Rejected:            atomic.LoadInt64(&cb.rejected),
	}
	if last := atomic.LoadInt64(&cb.lastFailureTime); last > 0 {
		stats.LastFailureTime = time.Unix(0, last)
	}
	return stats
}

func (cb *CircuitBreaker) allow() bool {
	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		return true
	case stateOpen:
		last := atomic.LoadInt64(&cb.lastFailureTime)
		if cb.now().Sub(time.Unix(0, last)) < cb.config.OpenTimeout {
			return false
		}
		if atomic.CompareAndSwapInt32(&cb.state, stateOpen, stateHalfOpen) {
			atomic.StoreInt64(&cb.halfOpenCalls, 0)
			atomic.StoreInt64(&cb.halfOpenOK, 0)
			cb.notify(CircuitOpen, CircuitHalfOpen)
		}
		return atomic.AddInt64(&cb.halfOpenCalls, 1) <= int64(cb.config.HalfOpenRequests)
	case stateHalfOpen:
		return atomic.AddInt64(&cb.halfOpenCalls, 1) <= int64(cb.config.HalfOpenRequests)
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.successes, 1)
	atomic.StoreInt64(&cb.consecutive, 0)

	if atomic.LoadInt32(&cb.state) != stateHalfOpen {
		return
	}
	if atomic.AddInt64(&cb.halfOpenOK, 1) >= int64(cb.config.SuccessThreshold) {
		if atomic.CompareAndSwapInt32(&cb.state, stateHalfOpen, stateClosed) {
			cb.notify(CircuitHalfOpen, CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.failures, 1)
	streak := atomic.AddInt64(&cb.consecutive, 1)
	atomic.StoreInt64(&cb.lastFailureTime, cb.now().UnixNano())

	switch atomic.LoadInt32(&cb.state) {
	case stateHalfOpen:
		// one failed trial request reopens
		if atomic.CompareAndSwapInt32(&cb.state, stateHalfOpen, stateOpen) {
			cb.notify(CircuitHalfOpen, CircuitOpen)
		}
	case stateClosed:
		if streak >= int64(cb.config.FailureThreshold) &&
			atomic.CompareAndSwapInt32(&cb.state, stateClosed, stateOpen) {
			cb.notify(CircuitClosed, CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	cb.mu.RLock()
	fn := cb.onStateChange
	cb.mu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
}
