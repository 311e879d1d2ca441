package risk

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAdvisorDown = stderrors.New("advisor down")

func fail(context.Context) error    { return errAdvisorDown }
func succeed(context.Context) error { return nil }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(cfg)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.Equal(t, 5, cb.config.FailureThreshold)
	assert.Equal(t, 2, cb.config.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cb.config.OpenTimeout)
	assert.Equal(t, 2, cb.config.HalfOpenRequests)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: time.Minute})

	var transitions []CircuitState
	cb.OnStateChange(func(_, to CircuitState) { transitions = append(transitions, to) })

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errAdvisorDown)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	// A success resets the streak.
	require.NoError(t, cb.Execute(ctx, succeed))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, CircuitClosed, cb.State())

	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)

	stats := cb.Stats()
	assert.Equal(t, int64(5), stats.TotalFailures)
	assert.Equal(t, int64(3), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestCircuitBreaker_FailedTrialCallReopens(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})

	_ = cb.Execute(ctx, fail)
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Stats().TotalFailures)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Stats().ConsecutiveFailures)
}
