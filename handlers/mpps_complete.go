package handlers

import (
	"context"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/study"
)

// onMppsComplete emits the MPPS-completed record on a normal finish (T-10,
// T-14) and finalizes the dose archive for the study. MPPS failures are
// logged only: per spec §7, an ExternalDependencyError on the MPPS path
// never blocks the clinical path.
func (r *Registry) onMppsComplete(ctx context.Context, trigger fsm.Trigger, studyCtx *study.Context) error {
	log := r.deps.Logger.WithComponent("engine/handlers")
	if studyCtx == nil {
		log.ErrorWithContext(ctx, "entered MppsComplete with no active study context", nil)
		return nil
	}

	var mppsUID string
	err := viaBreaker(ctx, r.deps.MPPSBreaker, func() error {
		var cerr error
		mppsUID, cerr = r.deps.MPPS.Create(ctx, studyCtx.StudyInstanceUID, studyCtx.WorklistItemUID)
		return cerr
	})
	if err != nil {
		log.WarnWithContext(ctx, "mpps create failed", map[string]interface{}{"error": err.Error()})
	} else {
		studyCtx.MPPSUID = mppsUID
		err := viaBreaker(ctx, r.deps.MPPSBreaker, func() error {
			return r.deps.MPPS.SetCompleted(ctx, mppsUID)
		})
		if err != nil {
			log.WarnWithContext(ctx, "mpps set-completed failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := r.deps.DoseTracker.FinalizeStudy(ctx, studyCtx.StudyInstanceUID); err != nil {
		log.WarnWithContext(ctx, "dose tracker finalize failed", map[string]interface{}{"error": err.Error()})
	}

	if trigger == fsm.RetakeCancelled {
		log.InfoWithContext(ctx, "study completed via retake cancellation, no further exposures", map[string]interface{}{
			"study_instance_uid": studyCtx.StudyInstanceUID,
		})
	}
	return nil
}
