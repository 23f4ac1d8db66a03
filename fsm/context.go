package fsm

// GuardEvaluationContext is the snapshot of predicate inputs the guard
// matrix reads when evaluating a transition. Guards are pure functions of
// this struct; they never perform I/O themselves — any I/O (interlock
// query, protocol lookup) happens before the context is built.
type GuardEvaluationContext struct {
	NetworkReachable        bool
	AutoSyncIntervalElapsed bool
	WorklistRetryExceeded   bool

	PatientIDNotEmpty bool

	ProtocolValid            bool
	ExposureParamsInSafeRange bool

	HardwareInterlockOK bool
	DetectorReady       bool

	ImageDataValid bool

	StudyHasImages         bool
	StudyHasMoreExposures  bool

	RejectReasonProvided bool

	AllImagesTransferred bool
	ExportRetryExceeded  bool

	OperatorAuthorized bool

	// Metadata carries free-form context keyed by name, e.g.
	// "study_instance_uid", not read by any guard predicate but threaded
	// into the journal entry and event emission.
	Metadata map[string]interface{}
}

// TransitionRequest is one attempt to move the machine from its current
// state via trigger, carrying the guard evaluation inputs and operator
// attribution.
type TransitionRequest struct {
	// TargetState is advisory: callers may supply the state they expect the
	// transition to land on. The guard matrix alone determines the actual
	// destination; a mismatch is not itself an error, since the matrix is
	// authoritative, but executors may log it as a caller/engine drift signal.
	TargetState WorkflowState
	Trigger     Trigger
	OperatorID  string
	Context     GuardEvaluationContext

	// result receives the outcome; set by Executor.Submit, never by callers.
	result chan TransitionResult
}
