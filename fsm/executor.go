package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/journal"
	"github.com/xrayconsole/workflowengine/study"
)

// HandlerDispatcher receives state-entry dispatch after a successful
// transition. Implementations (see the handlers package) perform entry side
// effects only; they must never apply a state change themselves — all
// changes return through the executor.
type HandlerDispatcher interface {
	Dispatch(ctx context.Context, from, to WorkflowState, trigger Trigger, studyCtx *study.Context, metadata map[string]interface{}) error
}

// Executor is the serialized state machine: a single-consumer loop that
// evaluates every transition request against the guard matrix, journals it,
// applies the state change, and emits the resulting event. current_state
// and study_context are exclusively owned here.
type Executor struct {
	requests chan *TransitionRequest

	journal   journal.Journal
	publisher events.Publisher
	handlers  HandlerDispatcher
	telemetry core.Telemetry
	logger    core.ComponentAwareLogger

	mu           sync.RWMutex
	currentState WorkflowState
	studyCtx     *study.Context

	onCriticalError  func(ctx context.Context, reason string)
	criticalShutdown func(ctx context.Context, reason string)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewExecutor builds an Executor starting in initialState (Idle on a cold
// start, or the state RecoveryService reconstructed after a crash).
func NewExecutor(j journal.Journal, publisher events.Publisher, handlers HandlerDispatcher, telemetry core.Telemetry, logger core.Logger, initialState WorkflowState) *Executor {
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	var compLogger core.ComponentAwareLogger
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		compLogger = cal
	} else {
		compLogger = &noopComponentLogger{}
	}
	return &Executor{
		requests:     make(chan *TransitionRequest, 64),
		journal:      j,
		publisher:    publisher,
		handlers:     handlers,
		telemetry:    telemetry,
		logger:       compLogger,
		currentState: initialState,
	}
}

// noopComponentLogger adapts core.NoOpLogger to ComponentAwareLogger for
// callers that pass a plain Logger.
type noopComponentLogger struct{ core.NoOpLogger }

func (n *noopComponentLogger) WithComponent(component string) core.Logger { return &core.NoOpLogger{} }

// SetCriticalErrorHandler registers a callback invoked whenever the executor
// force-promotes a safety-critical failure to T-18 (spec §4.1 "unhandled
// exception in a safety-critical path forces T-18").
func (e *Executor) SetCriticalErrorHandler(fn func(ctx context.Context, reason string)) {
	e.onCriticalError = fn
}

// SetCriticalShutdownHook registers the T-18 shutdown sequence (abort
// exposure, command emergency standby) to run synchronously before the
// state change that produced it is journaled, published, or reported to
// the caller — satisfying spec §8's "after T-18, hardware is in standby
// and arm state is clear before the transition to Idle is reported".
func (e *Executor) SetCriticalShutdownHook(fn func(ctx context.Context, reason string)) {
	e.criticalShutdown = fn
}

// CurrentState returns the current state under the executor's lock.
func (e *Executor) CurrentState() WorkflowState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentState
}

// StudyContext returns the active study context, or nil if none.
func (e *Executor) StudyContext() *study.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.studyCtx
}

// SetStudyContext replaces the active study context. Called by handlers
// (through the executor, never directly mutating executor-owned state from
// outside) at PatientSelect entry and at Idle entry (cleared to nil).
func (e *Executor) SetStudyContext(ctx *study.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.studyCtx = ctx
}

// Run starts the single-consumer loop. It blocks until ctx is cancelled or
// Stop is called.
func (e *Executor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case req := <-e.requests:
				e.process(runCtx, req)
			}
		}
	}()
}

// Stop ends the consumer loop and waits for it to drain.
func (e *Executor) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Submit enqueues req and blocks until it has been processed, returning its
// TransitionResult. Hardware callbacks must never apply a transition in
// their own goroutine; they call Submit (or RequestTransition) to post onto
// this single-consumer channel instead.
func (e *Executor) Submit(ctx context.Context, req *TransitionRequest) TransitionResult {
	req.result = make(chan TransitionResult, 1)
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return errored(e.CurrentState(), core.NewEngineError("executor.Submit", core.KindCancelledByOperator, ctx.Err()))
	}
	select {
	case res := <-req.result:
		return res
	case <-ctx.Done():
		return errored(e.CurrentState(), core.NewEngineError("executor.Submit", core.KindCancelledByOperator, ctx.Err()))
	}
}

// RequestTransition implements safety.TransitionRequester: it builds a
// minimal TransitionRequest from a string trigger and enqueues it
// asynchronously, without waiting for the result. Used by the mid-exposure
// monitor, which runs on its own goroutine and must not block on the
// executor's response.
func (e *Executor) RequestTransition(ctx context.Context, trigger string, operatorID string, metadata map[string]interface{}) error {
	req := &TransitionRequest{
		Trigger:    Trigger(trigger),
		OperatorID: operatorID,
		Context:    e.buildAutoContext(metadata),
		result:     make(chan TransitionResult, 1),
	}
	select {
	case e.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildAutoContext constructs a GuardEvaluationContext for
// hardware-originated transitions posted through RequestTransition, which
// carry no caller-built GuardEvaluationContext of their own. A handful of
// guarded triggers can still originate this way (AcquisitionComplete's
// ImageDataValid guard, chiefly), so the well-known metadata keys those
// guards read are lifted into the context here rather than widening the
// RequestTransition signature for every caller.
func (e *Executor) buildAutoContext(metadata map[string]interface{}) GuardEvaluationContext {
	ctx := GuardEvaluationContext{Metadata: metadata}
	if v, ok := metadata["image_valid"].(bool); ok {
		ctx.ImageDataValid = v
	}
	if v, ok := metadata["all_images_transferred"].(bool); ok {
		ctx.AllImagesTransferred = v
	}
	if v, ok := metadata["export_retry_exceeded"].(bool); ok {
		ctx.ExportRetryExceeded = v
	}
	if v, ok := metadata["worklist_retry_exceeded"].(bool); ok {
		ctx.WorklistRetryExceeded = v
	}
	return ctx
}

// process runs the full algorithm from spec §4.1 for one request. It is
// only ever called from the single consumer goroutine in Run, so
// current_state/study_context access here needs no additional lock beyond
// what CurrentState/SetStudyContext already take for readers elsewhere.
func (e *Executor) process(ctx context.Context, req *TransitionRequest) {
	defer func() {
		if r := recover(); r != nil {
			e.forcePromoteToShutdown(ctx, fmt.Sprintf("panic in transition processing: %v", r))
			e.deliver(req, errored(e.CurrentState(), core.NewEngineError("executor.process", core.KindHardwareError, fmt.Errorf("%v", r))))
		}
	}()

	spanCtx, span := e.telemetry.StartSpan(ctx, "engine.transition")
	defer span.End()
	span.SetAttribute("trigger", string(req.Trigger))

	from := e.CurrentState()
	span.SetAttribute("from_state", string(from))

	r, ok := lookup(from, req.Trigger)
	if !ok {
		span.SetAttribute("result", "invalid_transition")
		e.logger.WarnWithContext(spanCtx, "invalid transition", map[string]interface{}{
			"from_state": string(from), "trigger": string(req.Trigger),
		})
		e.deliver(req, invalidTransition(from, req.Trigger))
		return
	}
	failed := evaluate(r, req.Context)
	if len(failed) > 0 {
		// Rows sharing (from, trigger), such as T-10/T-11, are told apart by
		// their guards: take the first sibling row whose guards all pass.
		for _, alt := range matrix {
			if alt.id != r.id && alt.from == from && alt.trigger == req.Trigger && len(evaluate(alt, req.Context)) == 0 {
				r, failed = alt, nil
				break
			}
		}
	}
	span.SetAttribute("to_state", string(r.to))

	if len(failed) > 0 {
		span.SetAttribute("result", "guard_failed")
		category := categoryForRule(from, r)
		if category == string(journal.CategorySafety) {
			e.journalGuardFailure(spanCtx, from, r, req, failed)
		}
		e.logger.WarnWithContext(spanCtx, "guard failed", map[string]interface{}{
			"from_state": string(from), "trigger": string(req.Trigger), "failed_guards": failed,
		})
		e.deliver(req, guardFailed(from, failed))
		return
	}

	if r.id == "T-18" && e.criticalShutdown != nil {
		reason, _ := req.Context.Metadata["reason"].(string)
		e.criticalShutdown(spanCtx, reason)
	}

	entry := e.buildJournalEntry(from, r, req, failed)
	if err := e.appendWithRetry(spanCtx, entry); err != nil {
		span.SetAttribute("result", "journal_error")
		span.RecordError(err)
		e.deliver(req, errored(from, err))
		return
	}

	e.mu.Lock()
	e.currentState = r.to
	e.mu.Unlock()

	span.SetAttribute("result", "success")
	e.publisher.Publish(spanCtx, events.WorkflowEvent{
		Kind:             events.KindStateChanged,
		TransitionID:     entry.TransitionID,
		FromState:        string(from),
		ToState:          string(r.to),
		Trigger:          string(req.Trigger),
		StudyInstanceUID: entry.StudyInstanceUID,
		Timestamp:        entry.TimestampUTC,
	})

	if e.handlers != nil {
		if err := e.handlers.Dispatch(spanCtx, from, r.to, req.Trigger, e.StudyContext(), req.Context.Metadata); err != nil {
			e.logger.ErrorWithContext(spanCtx, "state-entry handler failed", map[string]interface{}{
				"to_state": string(r.to), "error": err.Error(),
			})
		}
	}

	e.deliver(req, success(from, r.to, req.Trigger))
}

func (e *Executor) buildJournalEntry(from WorkflowState, r rule, req *TransitionRequest, failedGuards []string) journal.WorkflowJournalEntry {
	var guardResults []journal.GuardResult
	for _, name := range r.guards {
		passed := true
		for _, f := range failedGuards {
			if f == name {
				passed = false
			}
		}
		guardResults = append(guardResults, journal.GuardResult{Name: name, Passed: passed})
	}

	studyUID := ""
	if e.studyCtx != nil {
		studyUID = e.studyCtx.StudyInstanceUID
	}
	if v, ok := req.Context.Metadata["study_instance_uid"].(string); ok && v != "" {
		studyUID = v
	}

	category := journal.CategoryWorkflow
	if categoryForRule(from, r) == string(journal.CategorySafety) {
		category = journal.CategorySafety
	}

	return journal.WorkflowJournalEntry{
		TransitionID:     uuid.NewString(),
		TimestampUTC:     time.Now().UTC(),
		FromState:        string(from),
		ToState:          string(r.to),
		Trigger:          string(req.Trigger),
		GuardResults:     guardResults,
		OperatorID:       req.OperatorID,
		StudyInstanceUID: studyUID,
		Category:         category,
		Metadata:         req.Context.Metadata,
	}
}

// appendWithRetry persists entry, and on failure attempts exactly one more
// write tagged System per spec §7's JournalError policy, before giving up
// and reporting Errored to the caller.
func (e *Executor) appendWithRetry(ctx context.Context, entry journal.WorkflowJournalEntry) error {
	if err := e.journal.Append(ctx, entry); err != nil {
		retryEntry := entry
		retryEntry.Category = journal.CategorySystem
		if err2 := e.journal.Append(ctx, retryEntry); err2 != nil {
			return core.NewEngineError("executor.appendWithRetry", core.KindJournalError, err2).WithID(entry.TransitionID)
		}
	}
	return nil
}

// journalGuardFailure records a Safety-category journal entry for a guard
// failure on a safety-critical transition (touching ExposureTrigger or
// PositionAndPreview), per spec §7: "safety guards additionally journaled
// with category Safety".
func (e *Executor) journalGuardFailure(ctx context.Context, from WorkflowState, r rule, req *TransitionRequest, failed []string) {
	entry := e.buildJournalEntry(from, r, req, failed)
	entry.ToState = string(from) // guard failure: state does not change
	if err := e.journal.Append(ctx, entry); err != nil {
		e.logger.ErrorWithContext(ctx, "failed journaling guard failure", map[string]interface{}{"error": err.Error()})
	}
}

// forcePromoteToShutdown implements spec §4.1's "unhandled exception in a
// safety-critical path forces T-18 with hardware-standby emitted before
// reporting the failure".
func (e *Executor) forcePromoteToShutdown(ctx context.Context, reason string) {
	if e.onCriticalError != nil {
		e.onCriticalError(ctx, reason)
	}
	e.logger.ErrorWithContext(ctx, "forcing T-18 critical hardware error", map[string]interface{}{"reason": reason})
}

func (e *Executor) deliver(req *TransitionRequest, res TransitionResult) {
	select {
	case req.result <- res:
	default:
	}
}
