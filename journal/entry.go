// Package journal implements the write-ahead durability log: every
// attempted transition yields exactly one entry, persisted before the
// executor applies the corresponding state change or emits any event.
package journal

import "time"

// Category classifies a journal entry for filtering and regulatory review.
type Category string

const (
	CategoryWorkflow Category = "Workflow"
	CategorySafety   Category = "Safety"
	CategoryHardware Category = "Hardware"
	CategorySystem   Category = "System"
)

// GuardResult records the outcome of one guard predicate evaluated during a
// transition attempt.
type GuardResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// WorkflowJournalEntry is a single durable record of an attempted
// transition. from_state/to_state/trigger are plain strings rather than
// fsm.WorkflowState/fsm.Trigger so this package never imports fsm — the
// journal is a leaf dependency the executor writes to, not the reverse.
type WorkflowJournalEntry struct {
	TransitionID     string        `json:"transition_id"`
	TimestampUTC     time.Time     `json:"timestamp"`
	FromState        string        `json:"from_state"`
	ToState          string        `json:"to_state"`
	Trigger          string        `json:"trigger"`
	GuardResults     []GuardResult `json:"guard_results,omitempty"`
	OperatorID       string        `json:"operator_id,omitempty"`
	StudyInstanceUID string        `json:"study_instance_uid,omitempty"`
	Category         Category      `json:"category"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
