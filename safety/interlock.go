// Package safety implements the interlock chain, exposure parameter
// validation against device limits, and the mid-exposure monitor that aborts
// hardware the instant a required interlock condition is lost.
package safety

import (
	"context"
	"time"

	"github.com/xrayconsole/workflowengine/core"
)

// InterlockID names one of the nine required safety signals (IL-01..IL-09).
type InterlockID string

const (
	RoomDoorClosed       InterlockID = "IL-01"
	EmergencyStopClear   InterlockID = "IL-02"
	ThermalNormal        InterlockID = "IL-03"
	GeneratorReady       InterlockID = "IL-04"
	DetectorReady        InterlockID = "IL-05"
	CollimatorInRange    InterlockID = "IL-06"
	TableLocked          InterlockID = "IL-07"
	CumulativeDoseWithin InterlockID = "IL-08"
	AECConfigured        InterlockID = "IL-09"
)

// AllInterlockIDs lists every signal in IL-01..IL-09 order.
var AllInterlockIDs = []InterlockID{
	RoomDoorClosed, EmergencyStopClear, ThermalNormal, GeneratorReady,
	DetectorReady, CollimatorInRange, TableLocked, CumulativeDoseWithin, AECConfigured,
}

// InterlockStatus is the atomic nine-signal snapshot returned by a single
// call to InterlockChecker.CheckAll, so no signal is read at a different
// instant than its siblings.
type InterlockStatus struct {
	RoomDoorClosed       bool
	EmergencyStopClear   bool
	ThermalNormal        bool
	GeneratorReady       bool
	DetectorReady        bool
	CollimatorInRange    bool
	TableLocked          bool
	CumulativeDoseWithin bool
	AECConfigured        bool

	SnapshotAt time.Time
}

// AllOK reports whether every one of the nine signals is at its required
// value.
func (s InterlockStatus) AllOK() bool {
	return s.RoomDoorClosed && s.EmergencyStopClear && s.ThermalNormal &&
		s.GeneratorReady && s.DetectorReady && s.CollimatorInRange &&
		s.TableLocked && s.CumulativeDoseWithin && s.AECConfigured
}

// FailedIDs returns the IDs of every signal not at its required value.
func (s InterlockStatus) FailedIDs() []InterlockID {
	var failed []InterlockID
	if !s.RoomDoorClosed {
		failed = append(failed, RoomDoorClosed)
	}
	if !s.EmergencyStopClear {
		failed = append(failed, EmergencyStopClear)
	}
	if !s.ThermalNormal {
		failed = append(failed, ThermalNormal)
	}
	if !s.GeneratorReady {
		failed = append(failed, GeneratorReady)
	}
	if !s.DetectorReady {
		failed = append(failed, DetectorReady)
	}
	if !s.CollimatorInRange {
		failed = append(failed, CollimatorInRange)
	}
	if !s.TableLocked {
		failed = append(failed, TableLocked)
	}
	if !s.CumulativeDoseWithin {
		failed = append(failed, CumulativeDoseWithin)
	}
	if !s.AECConfigured {
		failed = append(failed, AECConfigured)
	}
	return failed
}

// SafetyPort is the hardware-abstraction capability the interlock checker
// queries. Adapters may be real hardware, simulators, or test fakes.
type SafetyPort interface {
	CheckAllInterlocks(ctx context.Context) (InterlockStatus, error)
	EmergencyStandby(ctx context.Context) error
	RegisterInterlockCallback(cb func(InterlockStatus)) error
}

// InterlockChecker wraps a SafetyPort with the ≤10ms query timeout
// contract: any query exceeding the budget is treated as FAILED for every
// signal, never as "unknown".
type InterlockChecker struct {
	port    SafetyPort
	timeout time.Duration
	logger  core.Logger
}

// NewInterlockChecker builds a checker with the given per-query timeout
// (default core.DefaultInterlockQueryTimeout if zero).
func NewInterlockChecker(port SafetyPort, timeout time.Duration, logger core.Logger) *InterlockChecker {
	if timeout <= 0 {
		timeout = core.DefaultInterlockQueryTimeout
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &InterlockChecker{port: port, timeout: timeout, logger: logger}
}

// CheckAll retrieves the atomic nine-signal snapshot, enforcing the query
// timeout. A timeout or port error is reported as every signal FAILED: the
// caller always receives a usable (if maximally conservative) status rather
// than an ambiguous error requiring special-case handling on the clinical
// path.
func (c *InterlockChecker) CheckAll(ctx context.Context) InterlockStatus {
	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		status InterlockStatus
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		status, err := c.port.CheckAllInterlocks(queryCtx)
		resultCh <- result{status, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			c.logger.ErrorWithContext(ctx, "interlock query failed", map[string]interface{}{"error": r.err.Error()})
			return failedStatus()
		}
		if r.status.SnapshotAt.IsZero() {
			r.status.SnapshotAt = time.Now().UTC()
		}
		return r.status
	case <-queryCtx.Done():
		c.logger.ErrorWithContext(ctx, "interlock query timed out", map[string]interface{}{"timeout_ms": c.timeout.Milliseconds()})
		return failedStatus()
	}
}

func failedStatus() InterlockStatus {
	return InterlockStatus{SnapshotAt: time.Now().UTC()}
}

// EmergencyStandby commands the safety port into emergency standby: used by
// T-18 and by the mid-exposure monitor on interlock loss.
func (c *InterlockChecker) EmergencyStandby(ctx context.Context) error {
	if err := c.port.EmergencyStandby(ctx); err != nil {
		return core.NewEngineError("safety.EmergencyStandby", core.KindHardwareError, err)
	}
	return nil
}
