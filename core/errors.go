package core

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy of the clinical workflow engine.
// Each value names one of the failure categories the engine distinguishes;
// callers compare against these with errors.Is via the sentinel below or by
// inspecting EngineError.Kind directly.
type Kind string

const (
	// KindInvalidTransition means (from_state, trigger) is not in the guard
	// matrix. State is left unchanged.
	KindInvalidTransition Kind = "invalid_transition"

	// KindGuardFailed means one or more guard predicates evaluated false.
	// State is left unchanged.
	KindGuardFailed Kind = "guard_failed"

	// KindInterlockFailed means one or more of IL-01..IL-09 failed or timed
	// out immediately before an exposure command.
	KindInterlockFailed Kind = "interlock_failed"

	// KindParameterRejected means an exposure parameter violated device
	// safety limits.
	KindParameterRejected Kind = "parameter_rejected"

	// KindHardwareError means a port command failed, timed out, or reported
	// a device fault.
	KindHardwareError Kind = "hardware_error"

	// KindJournalError means a durable journal write failed; the transition
	// it would have recorded never took effect.
	KindJournalError Kind = "journal_error"

	// KindExternalDependencyError means a DICOM worklist/MPPS/store or PACS
	// call failed. Never blocks the clinical path.
	KindExternalDependencyError Kind = "external_dependency_error"

	// KindCancelledByOperator means a StudyAbortRequested (T-19) cancelled
	// an in-flight transition or exposure.
	KindCancelledByOperator Kind = "cancelled_by_operator"

	// KindInternalError means an engine startup or process-level failure
	// (telemetry exporter construction, HTTP listener bind) unrelated to
	// any specific transition.
	KindInternalError Kind = "internal_error"
)

// Sentinel errors for comparison with errors.Is. Wrap these with
// NewEngineError to attach transition-specific context.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
	ErrNotInitialized       = errors.New("not initialized")
	ErrAlreadyStarted       = errors.New("already started")
	ErrTimeout              = errors.New("operation timeout")
	ErrContextCanceled      = errors.New("context canceled")
	ErrMaxRetriesExceeded   = errors.New("maximum retries exceeded")
)

// EngineError carries structured failure context through the engine's
// layers: the operation that failed, its Kind, an optional entity ID
// (transition ID, study UID, protocol key), a human message, and the
// wrapped cause.
type EngineError struct {
	Op      string // e.g. "executor.Transition", "journal.Append"
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds an EngineError for op/kind, wrapping err.
func NewEngineError(op string, kind Kind, err error) *EngineError {
	return &EngineError{Op: op, Kind: kind, Err: err}
}

// WithID attaches an entity ID (study UID, transition ID, protocol key) and
// returns the same error for chaining.
func (e *EngineError) WithID(id string) *EngineError {
	e.ID = id
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *EngineError, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

// IsSafetyCritical reports whether kind is one of the categories that must
// never be silently retried: interlock failures, parameter rejections,
// hardware faults, and journal write failures.
func IsSafetyCritical(kind Kind) bool {
	switch kind {
	case KindInterlockFailed, KindParameterRejected, KindHardwareError, KindJournalError:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether kind describes a transient condition eligible
// for local, non-blocking retry (worklist sync, PACS export).
func IsRetryable(kind Kind) bool {
	return kind == KindExternalDependencyError
}
