package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// slowPort answers CheckAllInterlocks only after a configurable delay, used
// to exercise the checker's timeout-as-FAILED contract.
type slowPort struct {
	delay  time.Duration
	status InterlockStatus
	err    error
}

func (p *slowPort) CheckAllInterlocks(ctx context.Context) (InterlockStatus, error) {
	select {
	case <-time.After(p.delay):
		return p.status, p.err
	case <-ctx.Done():
		return InterlockStatus{}, ctx.Err()
	}
}

func (p *slowPort) EmergencyStandby(ctx context.Context) error                      { return nil }
func (p *slowPort) RegisterInterlockCallback(cb func(InterlockStatus)) error { return nil }

func allOKStatus() InterlockStatus {
	return InterlockStatus{
		RoomDoorClosed: true, EmergencyStopClear: true, ThermalNormal: true,
		GeneratorReady: true, DetectorReady: true, CollimatorInRange: true,
		TableLocked: true, CumulativeDoseWithin: true, AECConfigured: true,
	}
}

func TestInterlockCheckerReturnsSnapshotWithinTimeout(t *testing.T) {
	port := &slowPort{delay: time.Millisecond, status: allOKStatus()}
	checker := NewInterlockChecker(port, 50*time.Millisecond, nil)

	status := checker.CheckAll(context.Background())
	assert.True(t, status.AllOK())
	assert.Empty(t, status.FailedIDs())
}

func TestInterlockCheckerTimeoutReportsEverySignalFailed(t *testing.T) {
	port := &slowPort{delay: 50 * time.Millisecond, status: allOKStatus()}
	checker := NewInterlockChecker(port, 5*time.Millisecond, nil)

	status := checker.CheckAll(context.Background())
	assert.False(t, status.AllOK())
	assert.ElementsMatch(t, AllInterlockIDs, status.FailedIDs(), "a timed-out query must report every signal as FAILED, never unknown")
}

func TestInterlockCheckerPortErrorReportsEverySignalFailed(t *testing.T) {
	port := &slowPort{delay: time.Millisecond, err: assertErr("hardware bus fault")}
	checker := NewInterlockChecker(port, 50*time.Millisecond, nil)

	status := checker.CheckAll(context.Background())
	assert.False(t, status.AllOK())
	assert.ElementsMatch(t, AllInterlockIDs, status.FailedIDs())
}

func TestInterlockStatusFailedIDsListsOnlyFailedSignals(t *testing.T) {
	status := allOKStatus()
	status.TableLocked = false
	status.DetectorReady = false

	assert.ElementsMatch(t, []InterlockID{DetectorReady, TableLocked}, status.FailedIDs())
}

type assertErrType struct{ msg string }

func (e *assertErrType) Error() string { return e.msg }

func assertErr(msg string) error { return &assertErrType{msg} }
