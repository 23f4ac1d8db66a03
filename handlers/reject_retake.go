package handlers

import (
	"context"

	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/study"
)

// onRejectRetake records the structured rejection reason on the staged
// exposure (its already-recorded dose still counts toward cumulative study
// dose, spec §8) and awaits the operator's approve-or-cancel decision.
func (r *Registry) onRejectRetake(ctx context.Context, studyCtx *study.Context, metadata map[string]interface{}) error {
	log := r.deps.Logger.WithComponent("engine/handlers")
	if studyCtx == nil {
		log.ErrorWithContext(ctx, "entered RejectRetake with no active study context", nil)
		return nil
	}
	exposure := studyCtx.LastExposure()
	if exposure == nil {
		log.ErrorWithContext(ctx, "entered RejectRetake with no staged exposure record", nil)
		return nil
	}

	exposure.Status = study.ExposureRejected
	if reason, ok := metadata["reject_reason"].(string); ok {
		exposure.RejectReason = study.RejectReason(reason)
	}
	if operatorID, ok := metadata["operator_id"].(string); ok {
		exposure.OperatorID = operatorID
	}

	r.deps.Publisher.Publish(ctx, events.WorkflowEvent{
		Kind:             events.KindImageRejected,
		StudyInstanceUID: studyCtx.StudyInstanceUID,
		Message:          "image rejected, awaiting retake decision",
		Severity:         "warning",
		Metadata: map[string]interface{}{
			"reject_reason":  string(exposure.RejectReason),
			"exposure_index": exposure.Index,
		},
	})
	return nil
}
