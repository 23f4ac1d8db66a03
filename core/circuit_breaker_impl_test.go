package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, timeout time.Duration) *SimpleCircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerParams{
		Name:   "test",
		Config: CircuitBreakerConfig{Enabled: true, Threshold: threshold, Timeout: timeout, HalfOpenRequests: 1},
	})
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", cb.GetState())

	err := cb.Execute(ctx, func() error { return nil })
	require.Error(t, err, "open circuit must reject without calling fn")
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreakerHalfOpenRecoversOnSuccess(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()
	boom := errors.New("boom")

	require.Error(t, cb.Execute(ctx, func() error { return boom }))
	assert.Equal(t, "open", cb.GetState())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.CanExecute(), "timeout elapsed, should move to half-open")
	assert.Equal(t, "half-open", cb.GetState())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()
	boom := errors.New("boom")

	require.Error(t, cb.Execute(ctx, func() error { return boom }))
	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.CanExecute())

	require.Error(t, cb.Execute(ctx, func() error { return boom }))
	assert.Equal(t, "open", cb.GetState())
}

func TestCircuitBreakerDisabledAlwaysExecutes(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerParams{Name: "disabled", Config: CircuitBreakerConfig{Enabled: false}})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 10; i++ {
		_ = cb.Execute(ctx, func() error { return boom })
	}
	assert.True(t, cb.CanExecute(), "a disabled breaker must never reject a call")
}

func TestCircuitBreakerExecuteWithTimeout(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	err := cb.ExecuteWithTimeout(ctx, 10*time.Millisecond, func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)
	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, func() error { return errors.New("boom") }))
	assert.Equal(t, "open", cb.GetState())

	cb.Reset()
	assert.Equal(t, "closed", cb.GetState())
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("boom") })

	metrics := cb.GetMetrics()
	assert.EqualValues(t, 1, metrics["success_count"])
	assert.EqualValues(t, 1, metrics["failure_count"])
}
