// Package events defines the WorkflowEvent stream the executor publishes
// after every durable transition, and the Publisher port: an in-process
// subscriber list, optionally mirrored to Redis for a second console.
package events

import "time"

// Kind enumerates the event stream's event types.
type Kind string

const (
	KindStateChanged          Kind = "state_changed"
	KindExposureTriggered     Kind = "exposure_triggered"
	KindExposureCompleted     Kind = "exposure_completed"
	KindImageRejected         Kind = "image_rejected"
	KindOperatorNotification  Kind = "operator_notification"
	KindError                 Kind = "error"
	KindRecoveryOptionsNeeded Kind = "recovery_options_needed"
)

// WorkflowEvent is one item in the event stream. Subscribers receive events
// in journal order: a StateChanged event is never observed before its
// journal entry is durable.
type WorkflowEvent struct {
	Kind             Kind                   `json:"kind"`
	TransitionID     string                 `json:"transition_id,omitempty"`
	FromState        string                 `json:"from_state,omitempty"`
	ToState          string                 `json:"to_state,omitempty"`
	Trigger          string                 `json:"trigger,omitempty"`
	StudyInstanceUID string                 `json:"study_instance_uid,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Severity         string                 `json:"severity,omitempty"` // "info", "warning", "critical"
	Timestamp        time.Time              `json:"timestamp"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
