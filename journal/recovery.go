package journal

import (
	"context"
	"time"

	"github.com/xrayconsole/workflowengine/core"
)

// RecoveryOption is the operator's choice after a crash leaves the machine
// in a non-Idle state. RecoveryService never selects one of these itself and
// issues no hardware command; the caller records the choice through
// RecordRecoveryAction (cmd/xrayengine, which has no operator console,
// records AbortAndCloseStudy).
type RecoveryOption string

const (
	RecoveryResume             RecoveryOption = "Resume"
	RecoveryAbortAndCloseStudy RecoveryOption = "AbortAndCloseStudy"
	RecoveryDiscard            RecoveryOption = "Discard"
)

// RecoveryResult is what RecoveryService.Recover reconstructs from the
// journal tail at startup.
type RecoveryResult struct {
	// LastState is the state the machine was in when the journal stopped.
	LastState string

	// StudyInstanceUID is the study active at that state, if any.
	StudyInstanceUID string

	// NeedsOperatorDecision is true whenever LastState != "Idle": the
	// caller must command hardware standby and present RecoveryOption
	// choices before doing anything else.
	NeedsOperatorDecision bool

	// Entries is the full tail read during reconstruction, for callers that
	// want to replay guard_results or metadata (e.g. to restore exposure
	// series state).
	Entries []WorkflowJournalEntry

	Duration time.Duration
}

// RecoveryService replays the journal at process start to reconstruct the
// last applied state without issuing any autonomous hardware command.
type RecoveryService struct {
	journal Journal
	logger  core.Logger
}

// NewRecoveryService builds a RecoveryService reading from journal.
func NewRecoveryService(j Journal, logger core.Logger) *RecoveryService {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RecoveryService{journal: j, logger: logger}
}

// Recover reads the journal tail and reconstructs the last state. It never
// issues a hardware command itself — callers (the engine's startup
// sequence) are responsible for commanding standby and presenting recovery
// options when NeedsOperatorDecision is true. Callers should enforce the
// deadline (default 5s, core.DefaultCrashRecoveryDeadline) by wrapping ctx.
func (r *RecoveryService) Recover(ctx context.Context) (RecoveryResult, error) {
	start := time.Now()
	tail, err := r.journal.Tail(ctx)
	if err != nil {
		return RecoveryResult{}, core.NewEngineError("journal.Recover", core.KindJournalError, err)
	}

	result := RecoveryResult{
		LastState: "Idle",
		Entries:   tail,
	}
	if len(tail) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	last := tail[len(tail)-1]
	result.LastState = last.ToState
	result.StudyInstanceUID = lastKnownStudyUID(tail)
	result.NeedsOperatorDecision = result.LastState != "Idle"
	result.Duration = time.Since(start)

	r.logger.Info("journal recovery complete", map[string]interface{}{
		"last_state":              result.LastState,
		"needs_operator_decision": result.NeedsOperatorDecision,
		"entries_replayed":        len(tail),
		"duration_ms":             result.Duration.Milliseconds(),
	})
	return result, nil
}

func lastKnownStudyUID(entries []WorkflowJournalEntry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].StudyInstanceUID != "" {
			return entries[i].StudyInstanceUID
		}
	}
	return ""
}

// RecordRecoveryAction journals the operator's recovery decision itself, so
// the recovery action is part of the durable record like any other
// transition.
func (r *RecoveryService) RecordRecoveryAction(ctx context.Context, option RecoveryOption, operatorID, studyInstanceUID string) error {
	entry := WorkflowJournalEntry{
		TransitionID:     newRecoveryTransitionID(),
		TimestampUTC:     time.Now().UTC(),
		FromState:        "Recovery",
		ToState:          recoveryOptionToState(option),
		Trigger:          "CrashRecoveryDecision",
		OperatorID:       operatorID,
		StudyInstanceUID: studyInstanceUID,
		Category:         CategorySystem,
		Metadata:         map[string]interface{}{"recovery_option": string(option)},
	}
	return r.journal.Append(ctx, entry)
}

func recoveryOptionToState(option RecoveryOption) string {
	switch option {
	case RecoveryResume:
		return "Resumed"
	case RecoveryAbortAndCloseStudy:
		return "Idle"
	case RecoveryDiscard:
		return "Idle"
	default:
		return "Idle"
	}
}
