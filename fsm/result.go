package fsm

// ResultKind tags which arm of TransitionResult is populated.
type ResultKind string

const (
	ResultSuccess           ResultKind = "Success"
	ResultGuardFailed       ResultKind = "GuardFailed"
	ResultInvalidTransition ResultKind = "InvalidTransition"
	ResultErrored           ResultKind = "Errored"
)

// TransitionResult is the tagged-sum outcome of a transition attempt. Code
// should switch on Kind and read only the fields documented for that arm.
type TransitionResult struct {
	Kind ResultKind

	// Success arm.
	OldState WorkflowState
	NewState WorkflowState
	Trigger  Trigger

	// GuardFailed / InvalidTransition arm.
	State        WorkflowState
	FailedGuards []string
	Requested    Trigger

	// Errored arm.
	Err error
}

// Succeeded reports whether the result is the Success arm.
func (r TransitionResult) Succeeded() bool {
	return r.Kind == ResultSuccess
}

func success(old, new_ WorkflowState, trigger Trigger) TransitionResult {
	return TransitionResult{Kind: ResultSuccess, OldState: old, NewState: new_, Trigger: trigger}
}

func guardFailed(state WorkflowState, failed []string) TransitionResult {
	return TransitionResult{Kind: ResultGuardFailed, State: state, FailedGuards: failed}
}

func invalidTransition(state WorkflowState, requested Trigger) TransitionResult {
	return TransitionResult{Kind: ResultInvalidTransition, State: state, Requested: requested}
}

func errored(state WorkflowState, err error) TransitionResult {
	return TransitionResult{Kind: ResultErrored, State: state, Err: err}
}
