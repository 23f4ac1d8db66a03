package safety

import (
	"context"
	"sync"
	"time"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/ports"
)

// TransitionRequester is the minimal surface the monitor needs from the
// executor: enqueue a transition request without importing the fsm package
// (avoiding a safety <-> fsm import cycle, since handlers already depend on
// both). fsm.Executor satisfies this interface.
type TransitionRequester interface {
	RequestTransition(ctx context.Context, trigger string, operatorID string, metadata map[string]interface{}) error
}

// JournalAppender is the minimal journal surface the monitor writes
// Safety-category entries to directly, for the partial-dose record that
// must exist even if the AcquisitionFailed transition it also enqueues is
// delayed behind the executor's single-consumer channel.
type JournalAppender interface {
	AppendSafetyEntry(ctx context.Context, studyInstanceUID string, failedIDs []InterlockID, metadata map[string]interface{}) error
}

// Monitor polls the interlock snapshot while the machine is in
// ExposureTrigger and aborts hardware the instant any required signal is
// lost. Cached interlock values are never reused after a failure: Start
// creates a fresh poll loop for every exposure attempt.
type Monitor struct {
	checker      *InterlockChecker
	hvg          ports.HVGPort
	doseTracker  ports.DoseTrackerPort
	requester    TransitionRequester
	journal      JournalAppender
	pollInterval time.Duration
	logger       core.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewMonitor builds a Monitor with the given poll interval (default
// core.DefaultMidExposurePollInterval if zero, clamped to the ≤100ms
// contract if higher).
func NewMonitor(checker *InterlockChecker, hvg ports.HVGPort, doseTracker ports.DoseTrackerPort, requester TransitionRequester, journal JournalAppender, pollInterval time.Duration, logger core.Logger) *Monitor {
	if pollInterval <= 0 || pollInterval > core.DefaultMidExposurePollInterval {
		pollInterval = core.DefaultMidExposurePollInterval
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Monitor{
		checker:      checker,
		hvg:          hvg,
		doseTracker:  doseTracker,
		requester:    requester,
		journal:      journal,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start begins polling for studyInstanceUID/exposureIndex. It returns
// immediately; polling runs on its own goroutine until Stop is called or an
// interlock loss triggers the abort sequence (which stops itself).
func (m *Monitor) Start(ctx context.Context, studyInstanceUID string, exposureIndex int) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	go m.pollLoop(pollCtx, studyInstanceUID, exposureIndex)
}

// Stop ends polling without performing an abort, used when the exposure
// completes normally before any interlock loss.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
}

func (m *Monitor) pollLoop(ctx context.Context, studyInstanceUID string, exposureIndex int) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.checker.CheckAll(ctx)
			if status.AllOK() {
				continue
			}
			m.handleLoss(ctx, studyInstanceUID, exposureIndex, status)
			return
		}
	}
}

// handleLoss executes the four-step abort sequence from spec §4.2: abort
// hardware first, then record partial dose, then notify, then enqueue the
// AcquisitionFailed transition. Each step is attempted even if an earlier
// one fails, since every step addresses a distinct safety or audit
// obligation.
func (m *Monitor) handleLoss(ctx context.Context, studyInstanceUID string, exposureIndex int, status InterlockStatus) {
	failedIDs := status.FailedIDs()
	m.logger.ErrorWithContext(ctx, "mid-exposure interlock loss, aborting", map[string]interface{}{
		"study_instance_uid": studyInstanceUID,
		"failed_ids":         failedIDs,
	})

	// (i) immediately command generator abort.
	if err := m.hvg.AbortExposure(ctx); err != nil {
		m.logger.ErrorWithContext(ctx, "hardware abort command failed during interlock loss", map[string]interface{}{"error": err.Error()})
	}

	// (ii) read partial cumulative dose and record it as a Safety journal entry.
	partialDAP, err := m.doseTracker.StopExposure(ctx, studyInstanceUID, exposureIndex)
	if err != nil {
		m.logger.ErrorWithContext(ctx, "failed reading partial dose during interlock loss", map[string]interface{}{"error": err.Error()})
	}
	metadata := map[string]interface{}{
		"failed_interlocks": interlockIDsToStrings(failedIDs),
		"administered_dap":  partialDAP,
		"exposure_index":    exposureIndex,
	}
	if m.journal != nil {
		if err := m.journal.AppendSafetyEntry(ctx, studyInstanceUID, failedIDs, metadata); err != nil {
			m.logger.ErrorWithContext(ctx, "failed journaling interlock loss", map[string]interface{}{"error": err.Error()})
		}
	}

	// (iii) publish a critical operator notification happens via the
	// requester's transition metadata below; handlers/the engine translate
	// the resulting AcquisitionFailed transition into an operator_notification
	// event as part of normal state-entry dispatch.

	// (iv) enqueue an AcquisitionFailed transition request.
	if err := m.requester.RequestTransition(ctx, "AcquisitionFailed", "", metadata); err != nil {
		m.logger.ErrorWithContext(ctx, "failed enqueuing AcquisitionFailed after interlock loss", map[string]interface{}{"error": err.Error()})
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func interlockIDsToStrings(ids []InterlockID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
