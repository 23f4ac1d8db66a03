package safety

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrayconsole/workflowengine/ports/mock"
)

type fakeRequester struct {
	mu       sync.Mutex
	triggers []string
}

func (f *fakeRequester) RequestTransition(ctx context.Context, trigger, operatorID string, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return nil
}

func (f *fakeRequester) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.triggers))
	copy(out, f.triggers)
	return out
}

type fakeJournalAppender struct {
	mu      sync.Mutex
	entries []struct {
		studyInstanceUID string
		failedIDs        []InterlockID
	}
}

func (f *fakeJournalAppender) AppendSafetyEntry(ctx context.Context, studyInstanceUID string, failedIDs []InterlockID, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, struct {
		studyInstanceUID string
		failedIDs        []InterlockID
	}{studyInstanceUID, failedIDs})
	return nil
}

func (f *fakeJournalAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestMonitorStopEndsPollingWithoutAbort(t *testing.T) {
	hvg := mock.NewHVG()
	dose := mock.NewDoseTracker()
	requester := &fakeRequester{}
	appender := &fakeJournalAppender{}
	safetyPort := mock.NewSafety()
	checker := NewInterlockChecker(safetyPort, 5*time.Millisecond, nil)

	m := NewMonitor(checker, hvg, dose, requester, appender, 5*time.Millisecond, nil)
	m.Start(context.Background(), "STU-1", 0)
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	assert.Equal(t, 0, hvg.AbortCalls)
	assert.Empty(t, requester.calls())
}

func TestMonitorAbortsOnInterlockLoss(t *testing.T) {
	hvg := mock.NewHVG()
	dose := mock.NewDoseTracker()
	requester := &fakeRequester{}
	appender := &fakeJournalAppender{}
	safetyPort := mock.NewSafety()
	checker := NewInterlockChecker(safetyPort, 5*time.Millisecond, nil)

	m := NewMonitor(checker, hvg, dose, requester, appender, 5*time.Millisecond, nil)
	m.Start(context.Background(), "STU-1", 0)

	safetyPort.SetFailure(func(s *InterlockStatus) { s.RoomDoorClosed = false })

	require.Eventually(t, func() bool {
		return hvg.AbortCalls >= 1
	}, time.Second, 5*time.Millisecond, "monitor must abort hardware the instant a signal is lost")

	require.Eventually(t, func() bool {
		return appender.count() >= 1
	}, time.Second, 5*time.Millisecond, "partial dose must be journaled as a Safety entry")

	require.Eventually(t, func() bool {
		calls := requester.calls()
		return len(calls) >= 1 && calls[0] == "AcquisitionFailed"
	}, time.Second, 5*time.Millisecond, "an AcquisitionFailed transition must be enqueued after abort")
}

func TestMonitorStartIsIdempotentWhileRunning(t *testing.T) {
	hvg := mock.NewHVG()
	dose := mock.NewDoseTracker()
	requester := &fakeRequester{}
	appender := &fakeJournalAppender{}
	safetyPort := mock.NewSafety()
	checker := NewInterlockChecker(safetyPort, 5*time.Millisecond, nil)

	m := NewMonitor(checker, hvg, dose, requester, appender, 5*time.Millisecond, nil)
	m.Start(context.Background(), "STU-1", 0)
	m.Start(context.Background(), "STU-1", 0)
	defer m.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, hvg.AbortCalls)
}
