// Package handlers implements the per-state entry side effects described in
// spec §4.4: orchestration of ports, safety checks, and dose/DICOM
// bookkeeping that runs when the executor enters each state. Handlers never
// apply a state change themselves; follow-on triggers are posted back to
// the executor's single-consumer channel through the Requester interface.
package handlers

import (
	"context"
	"time"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/ports"
	"github.com/xrayconsole/workflowengine/protocol"
	"github.com/xrayconsole/workflowengine/safety"
	"github.com/xrayconsole/workflowengine/study"
)

// Requester is the minimal surface handlers need to post a follow-on
// transition request back onto the executor's channel, matching
// safety.TransitionRequester so *fsm.Executor satisfies both without either
// package importing the other's concrete type beyond fsm itself (handlers
// already depends on fsm for HandlerDispatcher, so this one just reuses the
// same shape).
type Requester interface {
	RequestTransition(ctx context.Context, trigger string, operatorID string, metadata map[string]interface{}) error
}

// StudySetter lets the Idle and PatientSelect handlers install or clear the
// executor's active study context without handlers owning that state
// directly (spec §5: current_state and study_context are mutated only by
// the executor).
type StudySetter interface {
	SetStudyContext(ctx *study.Context)
	StudyContext() *study.Context
}

// Deps bundles every collaborator capability and configuration value a
// state handler needs. It is built once at engine wiring time.
type Deps struct {
	HVG         ports.HVGPort
	Detector    ports.DetectorPort
	AEC         ports.AECPort
	DoseTracker ports.DoseTrackerPort
	Worklist    ports.WorklistPort
	MPPS        ports.MPPSPort
	Store       ports.StorePort

	InterlockChecker   *safety.InterlockChecker
	ParameterValidator *safety.ParameterValidator
	EmergencyShutdown  *safety.EmergencyShutdown
	Monitor            *safety.Monitor

	Protocols *protocol.Repository
	Publisher events.Publisher

	Requester Requester
	Studies   StudySetter

	Config *core.Config
	Logger core.ComponentAwareLogger

	// Circuit breakers guard the three external-dependency calls that sit
	// outside the clinical exposure path (spec §7): worklist sync, MPPS,
	// and PACS store. Interlock queries and exposure commands never go
	// through a breaker, so ExposureTrigger/PositionAndPreview have none.
	// Nil breakers are treated as always-closed (no protection).
	WorklistBreaker core.CircuitBreaker
	MPPSBreaker     core.CircuitBreaker
	StoreBreaker    core.CircuitBreaker
}

// Registry dispatches state-entry actions and implements
// fsm.HandlerDispatcher.
type Registry struct {
	deps Deps
}

// NewRegistry builds a Registry from deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = &noopComponentLogger{}
	}
	return &Registry{deps: deps}
}

// SetRequester installs the executor as the follow-on transition sink.
// Separate from NewRegistry because the executor is constructed from the
// registry (as its HandlerDispatcher) and so does not exist yet at
// construction time — callers wire this immediately after building both.
func (r *Registry) SetRequester(req Requester) {
	r.deps.Requester = req
}

// SetStudies installs the executor as the study context owner. Like
// SetRequester, wired after the executor exists since handlers never
// mutate current_state or study_context directly (spec §5).
func (r *Registry) SetStudies(s StudySetter) {
	r.deps.Studies = s
}

// SetMonitor installs the mid-exposure monitor, built after the executor
// (it needs the executor as its TransitionRequester) and so wired in the
// same second pass as SetRequester.
func (r *Registry) SetMonitor(m *safety.Monitor) {
	r.deps.Monitor = m
}

type noopComponentLogger struct{ core.NoOpLogger }

func (n *noopComponentLogger) WithComponent(component string) core.Logger { return &core.NoOpLogger{} }

// Dispatch routes to the handler for the destination state. Errors are
// logged by the executor; they never roll back the transition that already
// completed (spec §4.1: handlers encode orchestration, not state change).
func (r *Registry) Dispatch(ctx context.Context, from, to fsm.WorkflowState, trigger fsm.Trigger, studyCtx *study.Context, metadata map[string]interface{}) error {
	log := r.deps.Logger.WithComponent("engine/handlers")
	log.InfoWithContext(ctx, "entering state", map[string]interface{}{
		"from": string(from), "to": string(to), "trigger": string(trigger),
	})
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	// An ImageAccepted transition (T-10/T-11) accepts the exposure held in
	// QcReview, which is what StudyHasImages and the PACS export count.
	if trigger == fsm.ImageAccepted && studyCtx != nil {
		if last := studyCtx.LastExposure(); last != nil {
			last.Status = study.ExposureAccepted
		}
	}

	switch to {
	case fsm.WorklistSync:
		return r.onWorklistSync(ctx)
	case fsm.PatientSelect:
		return r.onPatientSelect(ctx, trigger, studyCtx, metadata)
	case fsm.ProtocolSelect:
		return r.onProtocolSelect(ctx, studyCtx, metadata)
	case fsm.PositionAndPreview:
		return r.onPositionAndPreview(ctx, trigger, studyCtx, metadata)
	case fsm.ExposureTrigger:
		return r.onExposureTrigger(ctx, studyCtx)
	case fsm.QcReview:
		return r.onQcReview(ctx, trigger, studyCtx, metadata)
	case fsm.RejectRetake:
		return r.onRejectRetake(ctx, studyCtx, metadata)
	case fsm.MppsComplete:
		return r.onMppsComplete(ctx, trigger, studyCtx)
	case fsm.PacsExport:
		return r.onPacsExport(ctx, studyCtx)
	case fsm.Idle:
		return r.onIdle(ctx, from, trigger, studyCtx)
	default:
		return nil
	}
}

func (r *Registry) notify(ctx context.Context, severity, message string, studyCtx *study.Context) {
	uid := ""
	if studyCtx != nil {
		uid = studyCtx.StudyInstanceUID
	}
	r.deps.Publisher.Publish(ctx, events.WorkflowEvent{
		Kind:             events.KindOperatorNotification,
		StudyInstanceUID: uid,
		Message:          message,
		Severity:         severity,
		Timestamp:        time.Now().UTC(),
	})
}

// viaBreaker runs fn through cb when cb is non-nil, otherwise calls fn
// directly. It lets every handler share one call site regardless of
// whether the engine was wired with circuit breaker protection enabled.
func viaBreaker(ctx context.Context, cb core.CircuitBreaker, fn func() error) error {
	if cb == nil {
		return fn()
	}
	return cb.Execute(ctx, fn)
}

func (r *Registry) requestAsync(ctx context.Context, trigger fsm.Trigger, operatorID string, metadata map[string]interface{}) {
	if r.deps.Requester == nil {
		return
	}
	if err := r.deps.Requester.RequestTransition(ctx, string(trigger), operatorID, metadata); err != nil {
		r.deps.Logger.WithComponent("engine/handlers").ErrorWithContext(ctx, "failed to enqueue follow-on transition", map[string]interface{}{
			"trigger": string(trigger), "error": err.Error(),
		})
	}
}
