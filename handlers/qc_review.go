package handlers

import (
	"context"
	"time"

	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/study"
)

// onQcReview records the outcome of the exposure attempt just completed
// (T-08 AcquisitionComplete or T-09 AcquisitionFailed) onto the staged
// exposure record and holds it for the operator's accept/reject decision,
// which arrives as a later ImageAccepted/ImageRejected trigger.
func (r *Registry) onQcReview(ctx context.Context, trigger fsm.Trigger, studyCtx *study.Context, metadata map[string]interface{}) error {
	log := r.deps.Logger.WithComponent("engine/handlers")
	if studyCtx == nil {
		log.ErrorWithContext(ctx, "entered QcReview with no active study context", nil)
		return nil
	}
	exposure := studyCtx.LastExposure()
	if exposure == nil {
		log.ErrorWithContext(ctx, "entered QcReview with no staged exposure record", nil)
		return nil
	}

	if trigger == fsm.AcquisitionFailed {
		exposure.Status = study.ExposureIncomplete
		if dap, ok := metadata["administered_dap"].(float64); ok {
			exposure.AdministeredDAP = dap
			exposure.HasDAP = true
		}
		r.notify(ctx, "critical", "exposure failed to acquire; image incomplete", studyCtx)
		return nil
	}

	exposure.Status = study.ExposureAcquired
	exposure.AcquiredAt = time.Now().UTC()
	if uid, ok := metadata["image_instance_uid"].(string); ok {
		exposure.ImageInstanceUID = uid
	}
	if dap, ok := metadata["administered_dap"].(float64); ok {
		exposure.AdministeredDAP = dap
		exposure.HasDAP = true
	}

	r.deps.Publisher.Publish(ctx, events.WorkflowEvent{
		Kind:             events.KindExposureCompleted,
		StudyInstanceUID: studyCtx.StudyInstanceUID,
		Message:          "image acquired, awaiting QC decision",
		Severity:         "info",
		Metadata: map[string]interface{}{
			"image_instance_uid": exposure.ImageInstanceUID,
			"exposure_index":     exposure.Index,
		},
	})
	return nil
}
