// This file defines the CircuitBreaker interface used by the external
// dependency ports (DICOM worklist/MPPS/store, PACS export) to fail fast
// instead of blocking the clinical path on an unresponsive peer.
package core

import (
	"context"
	"time"
)

// CircuitBreaker protects calls to external, non-clinical-path dependencies:
// worklist sync, MPPS updates, and PACS export. It never wraps interlock
// queries or exposure commands — those fail closed on their own timeout
// budgets, not via circuit state.
type CircuitBreaker interface {
	// Execute runs fn with circuit breaker protection. If the circuit is
	// open, it returns an error immediately without calling fn.
	Execute(ctx context.Context, fn func() error) error

	// ExecuteWithTimeout runs fn with both circuit breaker protection and a
	// timeout, for calls that might hang (DICOM associations, PACS sockets).
	ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error

	// GetState returns "closed", "open", or "half-open".
	GetState() string

	// GetMetrics returns the current state and the success, failure, reject,
	// and consecutive-failure counts. No state transition history is kept.
	GetMetrics() map[string]interface{}

	// Reset clears failure counts and returns to the closed state.
	Reset()

	// CanExecute reports whether the circuit would currently allow a call,
	// without performing one.
	CanExecute() bool
}

// CircuitBreakerConfig configures a CircuitBreaker instance.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" env:"XRAYFLOW_CB_ENABLED" default:"false"`
	Threshold        int           `yaml:"threshold" env:"XRAYFLOW_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `yaml:"timeout" env:"XRAYFLOW_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `yaml:"half_open_requests" env:"XRAYFLOW_CB_HALF_OPEN" default:"3"`
}

// CircuitBreakerParams provides dependency injection for CircuitBreaker
// implementations.
type CircuitBreakerParams struct {
	// Name identifies the circuit breaker (for logging/metrics), e.g.
	// "worklist-sync" or "pacs-export".
	Name string

	Config CircuitBreakerConfig

	Logger    Logger
	Telemetry Telemetry
}

// DefaultCircuitBreakerParams returns sensible defaults for a circuit
// breaker wrapping one external dependency call.
func DefaultCircuitBreakerParams(name string) CircuitBreakerParams {
	return CircuitBreakerParams{
		Name: name,
		Config: CircuitBreakerConfig{
			Enabled:          true,
			Threshold:        5,
			Timeout:          30 * time.Second,
			HalfOpenRequests: 3,
		},
	}
}
