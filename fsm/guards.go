package fsm

// GuardFunc is a pure predicate over a GuardEvaluationContext. It must never
// perform I/O: anything the guard needs to read (interlock status, protocol
// validity) is resolved into the context before the matrix is consulted.
type GuardFunc func(GuardEvaluationContext) bool

// guard names, surfaced in TransitionResult.FailedGuards and journaled guard
// results.
const (
	guardNetworkOrAutoSync    = "NetworkReachableOrAutoSyncElapsed"
	guardWorklistRetryExceed  = "WorklistRetryExceeded"
	guardHardwareInterlockOK = "HardwareInterlockOK"
	guardPatientIDNotEmpty    = "PatientIDNotEmpty"
	guardProtocolAndParams    = "ProtocolValidAndExposureParamsInSafeRange"
	guardInterlockAndDetector = "HardwareInterlockOKAndDetectorReady"
	guardImageDataValid       = "ImageDataValid"
	guardNotMoreExposures     = "NotStudyHasMoreExposures"
	guardMoreExposures        = "StudyHasMoreExposures"
	guardRejectReasonProvided = "RejectReasonProvided"
	guardStudyHasImages       = "StudyHasImages"
	guardAllImagesTransferred = "AllImagesTransferred"
	guardExportRetryExceeded  = "ExportRetryExceeded"
	guardOperatorAuthorized   = "OperatorAuthorized"
)

var guardFuncs = map[string]GuardFunc{
	guardNetworkOrAutoSync: func(c GuardEvaluationContext) bool {
		return c.NetworkReachable || c.AutoSyncIntervalElapsed
	},
	guardWorklistRetryExceed: func(c GuardEvaluationContext) bool {
		return c.WorklistRetryExceeded
	},
	guardHardwareInterlockOK: func(c GuardEvaluationContext) bool {
		return c.HardwareInterlockOK
	},
	guardPatientIDNotEmpty: func(c GuardEvaluationContext) bool {
		return c.PatientIDNotEmpty
	},
	guardProtocolAndParams: func(c GuardEvaluationContext) bool {
		return c.ProtocolValid && c.ExposureParamsInSafeRange
	},
	guardInterlockAndDetector: func(c GuardEvaluationContext) bool {
		return c.HardwareInterlockOK && c.DetectorReady
	},
	guardImageDataValid: func(c GuardEvaluationContext) bool {
		return c.ImageDataValid
	},
	guardNotMoreExposures: func(c GuardEvaluationContext) bool {
		return !c.StudyHasMoreExposures
	},
	guardMoreExposures: func(c GuardEvaluationContext) bool {
		return c.StudyHasMoreExposures
	},
	guardRejectReasonProvided: func(c GuardEvaluationContext) bool {
		return c.RejectReasonProvided
	},
	guardStudyHasImages: func(c GuardEvaluationContext) bool {
		return c.StudyHasImages
	},
	guardAllImagesTransferred: func(c GuardEvaluationContext) bool {
		return c.AllImagesTransferred
	},
	guardExportRetryExceeded: func(c GuardEvaluationContext) bool {
		return c.ExportRetryExceeded
	},
	guardOperatorAuthorized: func(c GuardEvaluationContext) bool {
		return c.OperatorAuthorized
	},
}

// rule is one row of the guard matrix: (from, trigger) -> to, guarded by the
// named predicates (all must pass).
type rule struct {
	id      string
	from    WorkflowState // empty means "any state" (T-18, T-19)
	trigger Trigger
	to      WorkflowState
	guards  []string

	// exceptIdle is set for T-19: matches any state except Idle.
	exceptIdle bool
}

// matrix is the static table from spec §4.1, T-01 through T-19.
var matrix = []rule{
	{id: "T-01", from: Idle, trigger: WorklistSyncRequested, to: WorklistSync, guards: []string{guardNetworkOrAutoSync}},
	{id: "T-02", from: Idle, trigger: EmergencyWorkflowRequested, to: PatientSelect, guards: []string{guardHardwareInterlockOK}},
	{id: "T-03", from: WorklistSync, trigger: WorklistResponseReceived, to: PatientSelect},
	{id: "T-04a", from: WorklistSync, trigger: WorklistTimeout, to: PatientSelect, guards: []string{guardWorklistRetryExceed}},
	{id: "T-04b", from: WorklistSync, trigger: WorklistError, to: PatientSelect, guards: []string{guardWorklistRetryExceed}},
	{id: "T-05", from: PatientSelect, trigger: PatientConfirmed, to: ProtocolSelect, guards: []string{guardPatientIDNotEmpty}},
	{id: "T-06", from: ProtocolSelect, trigger: ProtocolConfirmed, to: PositionAndPreview, guards: []string{guardProtocolAndParams}},
	{id: "T-07", from: PositionAndPreview, trigger: OperatorReady, to: ExposureTrigger, guards: []string{guardInterlockAndDetector}},
	{id: "T-08", from: ExposureTrigger, trigger: AcquisitionComplete, to: QcReview, guards: []string{guardImageDataValid}},
	{id: "T-09", from: ExposureTrigger, trigger: AcquisitionFailed, to: QcReview},
	{id: "T-10", from: QcReview, trigger: ImageAccepted, to: MppsComplete, guards: []string{guardNotMoreExposures}},
	{id: "T-11", from: QcReview, trigger: ImageAccepted, to: ProtocolSelect, guards: []string{guardMoreExposures}},
	{id: "T-12", from: QcReview, trigger: ImageRejected, to: RejectRetake, guards: []string{guardRejectReasonProvided}},
	{id: "T-13", from: RejectRetake, trigger: RetakeApproved, to: PositionAndPreview, guards: []string{guardHardwareInterlockOK}},
	{id: "T-14", from: RejectRetake, trigger: RetakeCancelled, to: MppsComplete},
	{id: "T-15", from: MppsComplete, trigger: ExportInitiated, to: PacsExport, guards: []string{guardStudyHasImages}},
	{id: "T-16", from: PacsExport, trigger: ExportComplete, to: Idle, guards: []string{guardAllImagesTransferred}},
	{id: "T-17", from: PacsExport, trigger: ExportFailed, to: Idle, guards: []string{guardExportRetryExceeded}},
	{id: "T-18", trigger: CriticalHardwareError, to: Idle}, // matches any from-state, unconditional
	{id: "T-19", trigger: StudyAbortRequested, to: Idle, guards: []string{guardOperatorAuthorized}, exceptIdle: true},
}

// categoryForRule reports the journal category a given rule's transition
// belongs to: Safety for T-18 (critical hardware error, unconditionally,
// regardless of the from-state it fired from) and for anything touching
// ExposureTrigger or PositionAndPreview (either as source or destination),
// Workflow otherwise.
func categoryForRule(from WorkflowState, r rule) string {
	if r.trigger == CriticalHardwareError {
		return "Safety"
	}
	if from == ExposureTrigger || from == PositionAndPreview ||
		r.to == ExposureTrigger || r.to == PositionAndPreview {
		return "Safety"
	}
	return "Workflow"
}

// lookup finds the matching rule for (from, trigger). T-18 matches any
// from-state. T-19 matches any from-state except Idle. Ordinary rules match
// only their declared from-state. Returns ok=false if no rule matches.
func lookup(from WorkflowState, trigger Trigger) (rule, bool) {
	for _, r := range matrix {
		if r.trigger != trigger {
			continue
		}
		if r.id == "T-18" {
			return r, true
		}
		if r.id == "T-19" {
			if from != Idle {
				return r, true
			}
			continue
		}
		if r.from == from {
			return r, true
		}
	}
	return rule{}, false
}

// evaluate runs every guard for r against ctx, returning the names of any
// that failed (nil if all passed).
func evaluate(r rule, ctx GuardEvaluationContext) []string {
	var failed []string
	for _, name := range r.guards {
		fn, ok := guardFuncs[name]
		if !ok {
			failed = append(failed, name)
			continue
		}
		if !fn(ctx) {
			failed = append(failed, name)
		}
	}
	return failed
}
