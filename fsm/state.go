// Package fsm implements the clinical workflow's finite state machine: the
// ten-state enumeration, the static guard matrix, and the serialized
// executor that is the only writer of current state.
package fsm

// WorkflowState is one of the ten clinical states. Exactly one is active per
// engine instance at any observable instant.
type WorkflowState string

const (
	Idle               WorkflowState = "Idle"
	WorklistSync       WorkflowState = "WorklistSync"
	PatientSelect      WorkflowState = "PatientSelect"
	ProtocolSelect     WorkflowState = "ProtocolSelect"
	PositionAndPreview WorkflowState = "PositionAndPreview"
	ExposureTrigger    WorkflowState = "ExposureTrigger"
	QcReview           WorkflowState = "QcReview"
	RejectRetake       WorkflowState = "RejectRetake"
	MppsComplete       WorkflowState = "MppsComplete"
	PacsExport         WorkflowState = "PacsExport"
)

// Trigger is an opaque string naming the event that drives a transition
// attempt. The fixed set below is exhaustive: any other string is rejected
// as InvalidTransition.
type Trigger string

const (
	WorklistSyncRequested     Trigger = "WorklistSyncRequested"
	EmergencyWorkflowRequested Trigger = "EmergencyWorkflowRequested"
	WorklistResponseReceived  Trigger = "WorklistResponseReceived"
	WorklistTimeout           Trigger = "WorklistTimeout"
	WorklistError             Trigger = "WorklistError"
	PatientConfirmed          Trigger = "PatientConfirmed"
	ProtocolConfirmed         Trigger = "ProtocolConfirmed"
	OperatorReady             Trigger = "OperatorReady"
	AcquisitionComplete       Trigger = "AcquisitionComplete"
	AcquisitionFailed         Trigger = "AcquisitionFailed"
	ImageAccepted             Trigger = "ImageAccepted"
	ImageRejected             Trigger = "ImageRejected"
	RetakeApproved            Trigger = "RetakeApproved"
	RetakeCancelled           Trigger = "RetakeCancelled"
	ExportInitiated           Trigger = "ExportInitiated"
	ExportComplete            Trigger = "ExportComplete"
	ExportFailed              Trigger = "ExportFailed"
	CriticalHardwareError     Trigger = "CriticalHardwareError"
	StudyAbortRequested       Trigger = "StudyAbortRequested"
)

// IsValid reports whether s is one of the ten defined states.
func (s WorkflowState) IsValid() bool {
	switch s {
	case Idle, WorklistSync, PatientSelect, ProtocolSelect, PositionAndPreview,
		ExposureTrigger, QcReview, RejectRetake, MppsComplete, PacsExport:
		return true
	default:
		return false
	}
}
