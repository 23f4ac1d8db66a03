// Package xrayflow wires together the fsm, safety, journal, events,
// handlers, protocol, and ports packages into one running engine, the way
// the teacher framework's agent.go assembles a BaseAgent from its
// constituent capabilities. Most integrations only need NewEngine and
// Engine.Start/Stop; the subpackages are exported for callers that need
// finer-grained control (custom port implementations, a different journal
// backend, and so on).
package xrayflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/handlers"
	"github.com/xrayconsole/workflowengine/journal"
	"github.com/xrayconsole/workflowengine/ports"
	"github.com/xrayconsole/workflowengine/protocol"
	"github.com/xrayconsole/workflowengine/safety"
)

// Ports bundles every hardware/DICOM dependency the engine drives. Callers
// building a production deployment supply real implementations; tests and
// the bundled cmd/xrayengine demo use ports/mock.
type Ports struct {
	HVG         ports.HVGPort
	Detector    ports.DetectorPort
	AEC         ports.AECPort
	DoseTracker ports.DoseTrackerPort
	Worklist    ports.WorklistPort
	MPPS        ports.MPPSPort
	Store       ports.StorePort
	Safety      safety.SafetyPort
}

// Engine is the assembled, runnable workflow engine: one Executor goroutine,
// its journal, its event publisher, and the small HTTP control surface
// (health, SSE event stream, current state).
type Engine struct {
	cfg       *core.Config
	executor  *fsm.Executor
	journal   *journal.FileJournal
	publisher events.Publisher
	recovery  *journal.RecoveryService
	logger    core.ComponentAwareLogger
	telemetry core.Telemetry

	ports            Ports
	interlockChecker *safety.InterlockChecker
	paramValidator   *safety.ParameterValidator
	protocols        *protocol.Repository

	server *http.Server
}

// componentLogger adapts a core.Logger into core.ComponentAwareLogger when
// the caller only supplied the former (e.g. NewProductionLogger already
// satisfies both; this exists for custom loggers that don't).
type componentLogger struct {
	core.Logger
}

func (c *componentLogger) WithComponent(component string) core.Logger {
	return c.Logger
}

func asComponentLogger(l core.Logger) core.ComponentAwareLogger {
	if cal, ok := l.(core.ComponentAwareLogger); ok {
		return cal
	}
	return &componentLogger{Logger: l}
}

// NewEngine constructs an Engine from cfg and p. It opens the journal,
// builds the crash-recovery service (run it with Engine.Recover, which never
// issues a hardware command itself), and wires the executor's handler
// registry, but does not start the executor goroutine or HTTP server; call
// Start for that.
func NewEngine(cfg *core.Config, p Ports, protocols *protocol.Repository) (*Engine, error) {
	logger := asComponentLogger(cfg.Logger)
	if cfg.Logger == nil {
		logger = asComponentLogger(&core.NoOpLogger{})
	}

	var telemetry core.Telemetry = &core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		otelTel, err := core.NewOTelTelemetry(cfg.Telemetry)
		if err != nil {
			return nil, core.NewEngineError("xrayflow.NewEngine", core.KindInternalError, err)
		}
		telemetry = otelTel
	}

	j, err := journal.Open(cfg.JournalPath,
		journal.WithRetentionPolicy(journal.DefaultRetentionPolicy()),
		journal.WithJournalLogger(logger),
	)
	if err != nil {
		return nil, core.NewEngineError("xrayflow.NewEngine", core.KindJournalError, err)
	}

	var publisher events.Publisher = events.NewInProcessPublisher(logger)
	if cfg.Redis.Enabled {
		mirrored, err := events.NewRedisMirrorPublisher(cfg.DeviceID, events.RedisMirrorConfig{
			URL:            cfg.Redis.URL,
			CircuitBreaker: core.NewCircuitBreaker(core.CircuitBreakerParams{Name: "redis-mirror", Config: cfg.CircuitBreaker, Logger: logger}),
			Logger:         logger,
		})
		if err != nil {
			logger.WithComponent("engine/startup").Warn("redis event mirror unavailable, continuing in-process only", map[string]interface{}{"error": err.Error()})
		} else {
			publisher = mirrored
		}
	}

	interlockChecker := safety.NewInterlockChecker(p.Safety, cfg.InterlockQueryTimeout, logger)
	paramValidator := safety.NewParameterValidator(cfg.SafetyLimits)
	shutdown := safety.NewEmergencyShutdown(p.HVG, interlockChecker, logger)

	recovery := journal.NewRecoveryService(j, logger)

	registry := handlers.NewRegistry(handlers.Deps{
		HVG: p.HVG, Detector: p.Detector, AEC: p.AEC, DoseTracker: p.DoseTracker,
		Worklist: p.Worklist, MPPS: p.MPPS, Store: p.Store,
		InterlockChecker: interlockChecker, ParameterValidator: paramValidator,
		EmergencyShutdown: shutdown,
		Protocols:         protocols,
		Publisher:         publisher,
		Config:            cfg,
		Logger:            logger,
		WorklistBreaker:   core.NewCircuitBreaker(core.CircuitBreakerParams{Name: "worklist-sync", Config: cfg.CircuitBreaker, Logger: logger}),
		MPPSBreaker:       core.NewCircuitBreaker(core.CircuitBreakerParams{Name: "mpps", Config: cfg.CircuitBreaker, Logger: logger}),
		StoreBreaker:      core.NewCircuitBreaker(core.CircuitBreakerParams{Name: "pacs-store", Config: cfg.CircuitBreaker, Logger: logger}),
	})

	executor := fsm.NewExecutor(j, publisher, registry, telemetry, logger, fsm.Idle)
	executor.SetCriticalShutdownHook(func(ctx context.Context, reason string) {
		shutdown.Execute(ctx, reason)
	})
	registry.SetRequester(executor)
	registry.SetStudies(executor)

	monitor := safety.NewMonitor(interlockChecker, p.HVG, p.DoseTracker, executor, journal.NewSafetyAppender(j), cfg.MidExposurePollInterval, logger)
	registry.SetMonitor(monitor)

	return &Engine{
		cfg: cfg, executor: executor, journal: j, publisher: publisher,
		recovery: recovery, logger: logger, telemetry: telemetry,
		ports: p, interlockChecker: interlockChecker,
		paramValidator: paramValidator, protocols: protocols,
	}, nil
}

// Recover replays the journal and returns whether an operator decision is
// needed before the engine starts accepting new transitions. The caller
// (typically cmd/xrayengine's main) is responsible for commanding hardware
// standby and collecting the operator's RecoveryOption before calling
// RecordRecoveryAction and Start — recovery itself never issues a hardware
// command (spec §4.3b).
func (e *Engine) Recover(ctx context.Context) (journal.RecoveryResult, error) {
	deadline, cancel := context.WithTimeout(ctx, e.cfg.CrashRecoveryDeadline)
	defer cancel()
	result, err := e.recovery.Recover(deadline)
	if err != nil {
		return result, err
	}
	if result.NeedsOperatorDecision {
		e.publisher.PresentRecoveryOptions(ctx, result.LastState, result.StudyInstanceUID)
	}
	return result, nil
}

// RecordRecoveryAction journals the operator's post-crash decision.
func (e *Engine) RecordRecoveryAction(ctx context.Context, option journal.RecoveryOption, operatorID, studyInstanceUID string) error {
	return e.recovery.RecordRecoveryAction(ctx, option, operatorID, studyInstanceUID)
}

// ReconcileWithWorklist backfills worklistItemUID and accessionNumber onto
// an already-open study that was opened without a worklist match (an
// emergency study started via T-02). It never touches exposure_series and
// never drives a state transition; it is a metadata correction an operator
// applies once the scheduling system catches up with a trauma case already
// under way.
func (e *Engine) ReconcileWithWorklist(ctx context.Context, studyInstanceUID, worklistItemUID, accessionNumber string) error {
	sc := e.executor.StudyContext()
	if sc == nil {
		return core.NewEngineError("xrayflow.ReconcileWithWorklist", core.KindInvalidTransition, core.ErrNotInitialized).WithID(studyInstanceUID)
	}
	if sc.StudyInstanceUID != studyInstanceUID {
		return core.NewEngineError("xrayflow.ReconcileWithWorklist", core.KindInvalidTransition, fmt.Errorf("no active study matches %s", studyInstanceUID)).WithID(studyInstanceUID)
	}

	sc.WorklistItemUID = worklistItemUID
	if accessionNumber != "" {
		sc.AccessionNumber = accessionNumber
	}
	e.executor.SetStudyContext(sc)

	entry := journal.WorkflowJournalEntry{
		TransitionID:     uuid.NewString(),
		TimestampUTC:     time.Now().UTC(),
		FromState:        string(e.executor.CurrentState()),
		ToState:          string(e.executor.CurrentState()),
		Trigger:          "ReconcileWithWorklist",
		StudyInstanceUID: studyInstanceUID,
		Category:         journal.CategoryWorkflow,
		Metadata:         map[string]interface{}{"worklist_item_uid": worklistItemUID, "accession_number": sc.AccessionNumber},
	}
	return e.journal.Append(ctx, entry)
}

// Start runs the executor's single-consumer loop and the HTTP control
// surface (/healthz, SSE /events, /state) on addr. It blocks until ctx is
// cancelled or the listener stops, returning an error only when the
// listener fails for a reason other than Stop; the executor and server both
// run until Stop or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, addr string) error {
	go e.executor.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.handleHealth)
	mux.HandleFunc("/events", e.handleEvents)
	mux.HandleFunc("/state", e.handleState)

	traced := otelhttp.NewHandler(mux, "xrayflow.http")
	e.server = &http.Server{
		Addr:    addr,
		Handler: core.LoggingMiddleware(e.logger, e.cfg.Logging.Level == "debug")(traced),
	}

	ln := make(chan error, 1)
	go func() { ln <- e.server.ListenAndServe() }()

	select {
	case err := <-ln:
		if err != nil && err != http.ErrServerClosed {
			return core.NewEngineError("xrayflow.Start", core.KindInternalError, err)
		}
	case <-ctx.Done():
	}
	return nil
}

// Stop drains the executor and shuts the HTTP server down gracefully,
// closing the journal and publisher last so any in-flight transition's
// event has already been delivered.
func (e *Engine) Stop(ctx context.Context) error {
	e.executor.Stop()
	if e.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = e.server.Shutdown(shutdownCtx)
	}
	_ = e.publisher.Close()
	return e.journal.Close()
}

// Submit exposes the executor's transition entry point for an HTTP
// front-end or a direct in-process caller (e.g. an operator console).
func (e *Engine) Submit(ctx context.Context, req *fsm.TransitionRequest) fsm.TransitionResult {
	return e.executor.Submit(ctx, req)
}

// StartWorklistSync begins T-01 (Idle -> WorklistSync). The sync itself
// always attempts the query; reachability is discovered by the attempt
// rather than checked in advance, so NetworkReachable is supplied true here
// and the real outcome surfaces later as WorklistResponseReceived,
// WorklistTimeout, or (once retries are exhausted) WorklistError.
func (e *Engine) StartWorklistSync(ctx context.Context, operatorID string) fsm.TransitionResult {
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.WorklistSyncRequested,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{NetworkReachable: true},
	})
}

// StartEmergencyWorkflow begins T-02 (Idle -> PatientSelect) without a
// worklist match, gating on the same interlock snapshot the exposure path
// itself relies on (spec §4.2, §8 scenario 4).
func (e *Engine) StartEmergencyWorkflow(ctx context.Context, operatorID, patientID, patientName string) fsm.TransitionResult {
	status := e.interlockChecker.CheckAll(ctx)
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.EmergencyWorkflowRequested,
		OperatorID: operatorID,
		Context: fsm.GuardEvaluationContext{
			HardwareInterlockOK: status.AllOK(),
			Metadata: map[string]interface{}{
				"patient_id":   patientID,
				"patient_name": patientName,
			},
		},
	})
}

// ConfirmPatient submits T-05 (PatientSelect -> ProtocolSelect) against the
// currently active study's own patient ID; it carries no parameters of its
// own because the patient ID was already captured when the study context
// was opened (T-02/T-03/T-04).
func (e *Engine) ConfirmPatient(ctx context.Context, operatorID string) fsm.TransitionResult {
	patientIDNotEmpty := false
	if sc := e.executor.StudyContext(); sc != nil {
		patientIDNotEmpty = sc.PatientID != ""
	}
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.PatientConfirmed,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{PatientIDNotEmpty: patientIDNotEmpty},
	})
}

// ConfirmProtocol submits T-06 (ProtocolSelect -> PositionAndPreview),
// validating the chosen protocol ID against the repository and the
// candidate exposure parameters against the device safety limits (spec §3,
// §4.2) before the guard matrix ever sees them.
func (e *Engine) ConfirmProtocol(ctx context.Context, operatorID, protocolID string, kvp, ma, exposureTimeMs float64) fsm.TransitionResult {
	_, protocolValid := e.protocols.ByID(protocolID)
	paramsOK := e.paramValidator.Validate(safety.ExposureParams{KVP: kvp, MA: ma, ExposureTimeMs: exposureTimeMs}).Accepted
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.ProtocolConfirmed,
		OperatorID: operatorID,
		Context: fsm.GuardEvaluationContext{
			ProtocolValid:            protocolValid,
			ExposureParamsInSafeRange: paramsOK,
			Metadata: map[string]interface{}{
				"protocol_id":      protocolID,
				"kvp":              kvp,
				"ma":               ma,
				"exposure_time_ms": exposureTimeMs,
			},
		},
	})
}

// ReadyForExposure submits T-07 (PositionAndPreview -> ExposureTrigger).
// Per spec §4.2's T-07 recovery path, an interlock failure is surfaced
// immediately and left for the operator's next confirmation, but a
// not-yet-ready detector is retried on an up-to-30s poll (core.Config's
// DetectorReadyPollInterval / DetectorReadyTimeout) before giving up, since
// detector readiness is commonly just a brief post-standby warm-up rather
// than a condition needing operator intervention.
func (e *Engine) ReadyForExposure(ctx context.Context, operatorID string) fsm.TransitionResult {
	deadline := time.Now().Add(e.cfg.DetectorReadyTimeout)
	for {
		interlockOK := e.interlockChecker.CheckAll(ctx).AllOK()
		detectorReady := false
		if status, err := e.ports.Detector.GetStatus(ctx); err == nil {
			detectorReady = status.Ready
		}

		result := e.executor.Submit(ctx, &fsm.TransitionRequest{
			Trigger:    fsm.OperatorReady,
			OperatorID: operatorID,
			Context: fsm.GuardEvaluationContext{
				HardwareInterlockOK: interlockOK,
				DetectorReady:       detectorReady,
			},
		})

		if result.Kind != fsm.ResultGuardFailed || !interlockOK || detectorReady {
			return result
		}
		if time.Now().After(deadline) {
			return result
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(e.cfg.DetectorReadyPollInterval):
		}
	}
}

// TriggerExposure is the operator's exposure-button press. It submits the
// same T-07 transition as ReadyForExposure: this engine has no separate
// "armed" sub-state between operator readiness and the hardware trigger
// command, so confirming readiness and commanding the exposure are one
// guarded transition, with the physical HVG trigger command itself issued
// automatically by the ExposureTrigger state's entry handler.
func (e *Engine) TriggerExposure(ctx context.Context, operatorID string) fsm.TransitionResult {
	return e.ReadyForExposure(ctx, operatorID)
}

// OnExposureComplete submits T-08 or T-09 (ExposureTrigger -> QcReview)
// directly, for a caller that already knows the acquisition outcome
// instead of waiting on the hardware-driven watchdog in
// handlers.awaitAcquisition.
func (e *Engine) OnExposureComplete(ctx context.Context, imageValid bool, imageInstanceUID string, administeredDAP float64) fsm.TransitionResult {
	trigger := fsm.AcquisitionFailed
	if imageValid {
		trigger = fsm.AcquisitionComplete
	}
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger: trigger,
		Context: fsm.GuardEvaluationContext{
			ImageDataValid: imageValid,
			Metadata: map[string]interface{}{
				"image_instance_uid": imageInstanceUID,
				"image_valid":        imageValid,
				"administered_dap":   administeredDAP,
			},
		},
	})
}

// AcceptImage submits T-11 (more exposures remain -> ProtocolSelect) or
// T-10 (study complete -> MppsComplete) per hasMore, matching spec §6's
// accept_image(has_more).
func (e *Engine) AcceptImage(ctx context.Context, operatorID string, hasMore bool) fsm.TransitionResult {
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.ImageAccepted,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{StudyHasMoreExposures: hasMore},
	})
}

// RejectImage submits T-12 (QcReview -> RejectRetake), matching spec §6's
// reject_image(reason, operator).
func (e *Engine) RejectImage(ctx context.Context, operatorID, reason string) fsm.TransitionResult {
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.ImageRejected,
		OperatorID: operatorID,
		Context: fsm.GuardEvaluationContext{
			RejectReasonProvided: reason != "",
			Metadata: map[string]interface{}{
				"reject_reason": reason,
				"operator_id":   operatorID,
			},
		},
	})
}

// ApproveRetake submits T-13 (RejectRetake -> PositionAndPreview), gated on
// a fresh interlock snapshot exactly like ReadyForExposure.
func (e *Engine) ApproveRetake(ctx context.Context, operatorID string) fsm.TransitionResult {
	status := e.interlockChecker.CheckAll(ctx)
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.RetakeApproved,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{HardwareInterlockOK: status.AllOK()},
	})
}

// CancelRetake submits T-14 (RejectRetake -> MppsComplete), unconditional.
func (e *Engine) CancelRetake(ctx context.Context, operatorID string) fsm.TransitionResult {
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.RetakeCancelled,
		OperatorID: operatorID,
	})
}

// FinalizeStudy submits T-15 (MppsComplete -> PacsExport), gated on the
// active study actually having at least one accepted image to export.
func (e *Engine) FinalizeStudy(ctx context.Context, operatorID string) fsm.TransitionResult {
	hasImages := false
	if sc := e.executor.StudyContext(); sc != nil {
		hasImages = sc.HasImages()
	}
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.ExportInitiated,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{StudyHasImages: hasImages},
	})
}

// CompleteExport submits T-16 (PacsExport -> Idle) directly, for a caller
// asserting that every image has already been confirmed transferred
// instead of waiting on handlers.runExport's own background retry loop.
func (e *Engine) CompleteExport(ctx context.Context, operatorID string) fsm.TransitionResult {
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.ExportComplete,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{AllImagesTransferred: true},
	})
}

// AbortStudy submits T-19 (any state except Idle -> Idle), matching spec
// §6's abort_study(operator). A non-empty operator ID is the only
// authorization signal this engine has; deployments needing a real
// operator-role check should validate operatorID before calling this.
func (e *Engine) AbortStudy(ctx context.Context, operatorID string) fsm.TransitionResult {
	return e.executor.Submit(ctx, &fsm.TransitionRequest{
		Trigger:    fsm.StudyAbortRequested,
		OperatorID: operatorID,
		Context:    fsm.GuardEvaluationContext{OperatorAuthorized: operatorID != ""},
	})
}

// PerformCrashRecovery is the named-API alias for Recover (spec §6's
// perform_crash_recovery), kept separate from Recover's own doc comment
// since Recover predates the named coarse-operation surface and callers
// already depend on its signature.
func (e *Engine) PerformCrashRecovery(ctx context.Context) (journal.RecoveryResult, error) {
	return e.Recover(ctx)
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "ok",
		"current_state": string(e.executor.CurrentState()),
		"version":       Version,
	})
}

func (e *Engine) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	studyUID := ""
	if sc := e.executor.StudyContext(); sc != nil {
		studyUID = sc.StudyInstanceUID
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"current_state":      string(e.executor.CurrentState()),
		"study_instance_uid": studyUID,
	})
}

// handleEvents streams the workflow event feed as server-sent events. Every
// connection gets its own subscriber channel and never blocks Publish: a
// slow client simply misses events once its buffer fills.
func (e *Engine) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := e.publisher.Subscribe(32)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
