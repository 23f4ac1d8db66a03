package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/study"
)

// onPatientSelect creates the active study context on entry (T-02 emergency
// entry or T-03/T-04 worklist entry). PatientID/PatientName/worklist
// metadata arrive via the triggering request's metadata; emergency studies
// get a locally generated accession number that a later worklist match can
// reconcile without re-acquisition (spec §8 scenario 4).
func (r *Registry) onPatientSelect(ctx context.Context, trigger fsm.Trigger, existing *study.Context, metadata map[string]interface{}) error {
	if existing != nil {
		// Re-entry from RejectRetake cancellation or similar does not happen
		// for this state in the matrix; a pre-existing context is left as is.
		return nil
	}

	isEmergency := trigger == fsm.EmergencyWorkflowRequested
	studyUID := "STU-" + uuid.NewString()
	patientID, _ := metadata["patient_id"].(string)
	patientName, _ := metadata["patient_name"].(string)

	sc := study.NewContext(studyUID, patientID, patientName, isEmergency, time.Now().UTC())
	if accession, ok := metadata["accession_number"].(string); ok && accession != "" {
		sc.AccessionNumber = accession
	} else if isEmergency {
		sc.AccessionNumber = "EMERG-" + uuid.NewString()
	}
	if worklistUID, ok := metadata["worklist_item_uid"].(string); ok {
		sc.WorklistItemUID = worklistUID
	}

	r.deps.Studies.SetStudyContext(sc)

	if isEmergency {
		r.notify(ctx, "warning", "emergency workflow started without worklist match", sc)
	}
	return nil
}
