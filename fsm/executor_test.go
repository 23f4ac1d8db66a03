package fsm

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/journal"
	"github.com/xrayconsole/workflowengine/study"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []WorkflowState
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, from, to WorkflowState, trigger Trigger, studyCtx *study.Context, metadata map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, to)
	return nil
}

func (d *recordingDispatcher) calledWith() []WorkflowState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]WorkflowState, len(d.calls))
	copy(out, d.calls)
	return out
}

func newTestExecutor(t *testing.T, handlers HandlerDispatcher) (*Executor, func()) {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.wal"))
	require.NoError(t, err)

	pub := events.NewInProcessPublisher(nil)
	ex := NewExecutor(j, pub, handlers, nil, nil, Idle)

	ctx, cancel := context.WithCancel(context.Background())
	ex.Run(ctx)

	return ex, func() {
		ex.Stop()
		cancel()
		_ = j.Close()
		_ = pub.Close()
	}
}

func TestExecutorSuccessfulTransitionAppliesStateAndDispatches(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	ex, cleanup := newTestExecutor(t, dispatcher)
	defer cleanup()

	ctx := context.Background()
	result := ex.Submit(ctx, &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{NetworkReachable: true},
	})

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, Idle, result.OldState)
	assert.Equal(t, WorklistSync, result.NewState)
	assert.Equal(t, WorklistSync, ex.CurrentState())
	assert.Equal(t, []WorkflowState{WorklistSync}, dispatcher.calledWith())
}

func TestExecutorGuardFailureLeavesStateUnchanged(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	result := ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{},
	})

	require.Equal(t, ResultGuardFailed, result.Kind)
	assert.Equal(t, Idle, ex.CurrentState())
}

func TestExecutorInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	result := ex.Submit(context.Background(), &TransitionRequest{Trigger: ImageAccepted})

	require.Equal(t, ResultInvalidTransition, result.Kind)
	assert.Equal(t, Idle, ex.CurrentState())
}

func TestExecutorSerializesConcurrentSubmits(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	const n = 20
	var wg sync.WaitGroup
	results := make([]TransitionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ex.Submit(context.Background(), &TransitionRequest{
				Trigger: WorklistSyncRequested,
				Context: GuardEvaluationContext{NetworkReachable: true},
			})
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, r := range results {
		if r.Kind == ResultSuccess {
			successCount++
		}
	}
	// Exactly one submission can win the Idle->WorklistSync transition; every
	// later one is InvalidTransition since the machine has already left Idle.
	assert.Equal(t, 1, successCount)
}

func TestExecutorT18RunsShutdownHookBeforeReportingSuccess(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	// Drive the machine away from Idle first so T-18 actually changes state.
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{NetworkReachable: true},
	})

	var shutdownCalledBeforeResult bool
	var hookRan bool
	ex.SetCriticalShutdownHook(func(ctx context.Context, reason string) {
		hookRan = true
	})

	result := ex.Submit(context.Background(), &TransitionRequest{
		Trigger: CriticalHardwareError,
		Context: GuardEvaluationContext{Metadata: map[string]interface{}{"reason": "generator fault"}},
	})
	shutdownCalledBeforeResult = hookRan

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, Idle, result.NewState)
	assert.True(t, shutdownCalledBeforeResult, "shutdown hook must run before T-18 success is reported")
	assert.Equal(t, Idle, ex.CurrentState())
}

func TestExecutorT18JournalsAsSafetyRegardlessOfFromState(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	// Drive the machine to QcReview, a state with no special-cased Safety
	// category of its own, then fire T-18 from there.
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{NetworkReachable: true},
	})
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistResponseReceived,
	})
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: PatientConfirmed,
		Context: GuardEvaluationContext{PatientIDNotEmpty: true},
	})
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: ProtocolConfirmed,
		Context: GuardEvaluationContext{ProtocolValid: true, ExposureParamsInSafeRange: true},
	})
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: OperatorReady,
		Context: GuardEvaluationContext{HardwareInterlockOK: true, DetectorReady: true},
	})
	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: AcquisitionFailed,
	})
	require.Equal(t, QcReview, ex.CurrentState())

	result := ex.Submit(context.Background(), &TransitionRequest{
		Trigger: CriticalHardwareError,
	})
	require.Equal(t, ResultSuccess, result.Kind)

	entries, err := ex.journal.All(context.Background())
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, "QcReview", last.FromState)
	assert.Equal(t, string(CriticalHardwareError), last.Trigger)
	assert.Equal(t, journal.CategorySafety, last.Category, "T-18 must always journal as Safety regardless of from-state")
}

func TestExecutorRequestTransitionIsAsync(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	result := ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{NetworkReachable: true},
	})
	require.Equal(t, ResultSuccess, result.Kind)

	// T-03 (WorklistSync -> PatientSelect) has no guards, so it can be driven
	// through the unguarded RequestTransition path without building a context.
	err := ex.RequestTransition(context.Background(), string(WorklistResponseReceived), "operator-1", map[string]interface{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ex.CurrentState() == PatientSelect
	}, time.Second, 5*time.Millisecond)
}

func TestExecutorRequestTransitionLiftsWorklistRetryExceededIntoGuardContext(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{NetworkReachable: true},
	})
	require.Equal(t, WorklistSync, ex.CurrentState())

	// T-04b (WorklistSync -> PatientSelect on WorklistError) requires
	// WorklistRetryExceeded, which the hardware-originated RequestTransition
	// path must derive from the "worklist_retry_exceeded" metadata key.
	err := ex.RequestTransition(context.Background(), string(WorklistError), "", map[string]interface{}{
		"worklist_retry_exceeded": true,
		"error":                   "worklist unreachable",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ex.CurrentState() == PatientSelect
	}, time.Second, 5*time.Millisecond, "T-04b must succeed once retries are exhausted")
}

func TestExecutorRequestTransitionWithoutRetryExceededBlocksT04b(t *testing.T) {
	ex, cleanup := newTestExecutor(t, &recordingDispatcher{})
	defer cleanup()

	ex.Submit(context.Background(), &TransitionRequest{
		Trigger: WorklistSyncRequested,
		Context: GuardEvaluationContext{NetworkReachable: true},
	})
	require.Equal(t, WorklistSync, ex.CurrentState())

	err := ex.RequestTransition(context.Background(), string(WorklistError), "", map[string]interface{}{
		"error": "transient worklist error",
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, WorklistSync, ex.CurrentState(), "T-04b must not fire before retries are exhausted")
}
