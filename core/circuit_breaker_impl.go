package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// circuitState is the three-state model closed/open/half-open, the same
// shape the framework's richer sliding-window breaker uses, trimmed to a
// plain consecutive-failure counter: the engine only ever wraps a handful
// of external dependency calls (worklist sync, MPPS, PACS export, Redis
// mirror), not a high-throughput tool-call fan-out.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// SimpleCircuitBreaker is the default CircuitBreaker implementation: it
// opens after Config.Threshold consecutive failures, stays open for
// Config.Timeout, then allows up to Config.HalfOpenRequests trial calls
// before closing again on success or reopening on any failure.
type SimpleCircuitBreaker struct {
	mu     sync.Mutex
	name   string
	config CircuitBreakerConfig
	logger Logger

	state           circuitState
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int

	successCount int64
	failureCount int64
	rejectCount  int64
}

// NewCircuitBreaker builds a SimpleCircuitBreaker from params. A disabled
// config (Config.Enabled == false) still returns a valid breaker whose
// CanExecute always reports true and whose Execute never opens.
func NewCircuitBreaker(params CircuitBreakerParams) *SimpleCircuitBreaker {
	logger := params.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &SimpleCircuitBreaker{
		name:   params.Name,
		config: params.Config,
		logger: logger,
		state:  stateClosed,
	}
}

func (cb *SimpleCircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	return cb.ExecuteWithTimeout(ctx, 0, fn)
}

func (cb *SimpleCircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	if !cb.CanExecute() {
		cb.mu.Lock()
		cb.rejectCount++
		cb.mu.Unlock()
		return NewEngineError(fmt.Sprintf("circuit_breaker.%s", cb.name), KindExternalDependencyError, ErrMaxRetriesExceeded)
	}

	var err error
	if timeout > 0 {
		done := make(chan error, 1)
		go func() { done <- fn() }()
		select {
		case err = <-done:
		case <-time.After(timeout):
			err = ErrTimeout
		case <-ctx.Done():
			err = ctx.Err()
		}
	} else {
		err = fn()
	}

	cb.recordResult(err)
	return err
}

func (cb *SimpleCircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.successCount++
		cb.consecutiveFail = 0
		if cb.state == stateHalfOpen {
			cb.halfOpenCalls++
			if cb.halfOpenCalls >= maxInt(cb.config.HalfOpenRequests, 1) {
				cb.transition(stateClosed)
			}
		}
		return
	}

	cb.failureCount++
	cb.consecutiveFail++
	if cb.state == stateHalfOpen {
		cb.transition(stateOpen)
		return
	}
	if cb.config.Threshold > 0 && cb.consecutiveFail >= cb.config.Threshold {
		cb.transition(stateOpen)
	}
}

func (cb *SimpleCircuitBreaker) transition(to circuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == stateOpen {
		cb.openedAt = time.Now()
	}
	if to == stateHalfOpen {
		cb.halfOpenCalls = 0
	}
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.name, "from": from.String(), "to": to.String(),
	})
}

// CanExecute reports whether a call is currently permitted: always true
// when disabled or closed, true in half-open up to HalfOpenRequests trial
// calls, and true in open only once Config.Timeout has elapsed (which
// itself moves the breaker to half-open).
func (cb *SimpleCircuitBreaker) CanExecute() bool {
	if !cb.config.Enabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		return cb.halfOpenCalls < maxInt(cb.config.HalfOpenRequests, 1)
	case stateOpen:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.transition(stateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *SimpleCircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

func (cb *SimpleCircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"state":             cb.state.String(),
		"success_count":     cb.successCount,
		"failure_count":     cb.failureCount,
		"reject_count":      cb.rejectCount,
		"consecutive_fails": cb.consecutiveFail,
	}
}

func (cb *SimpleCircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(stateClosed)
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
