package handlers

import (
	"context"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/study"
)

// onIdle runs on every return to Idle regardless of the originating state:
// it releases hardware to standby, finalizes the dose archive (a no-op if
// MppsComplete already did so), and clears patient-identifying data from
// memory, retaining only a non-identifying summary (spec §4.4, §8).
func (r *Registry) onIdle(ctx context.Context, from fsm.WorkflowState, trigger fsm.Trigger, studyCtx *study.Context) error {
	log := r.deps.Logger.WithComponent("engine/handlers")

	if from == fsm.Idle {
		return nil
	}

	if err := r.deps.InterlockChecker.EmergencyStandby(ctx); err != nil {
		log.WarnWithContext(ctx, "standby command on idle entry failed", map[string]interface{}{"error": err.Error()})
	}

	if trigger == fsm.StudyAbortRequested && studyCtx != nil {
		mppsUID := studyCtx.MPPSUID
		if mppsUID == "" {
			err := viaBreaker(ctx, r.deps.MPPSBreaker, func() error {
				var cerr error
				mppsUID, cerr = r.deps.MPPS.Create(ctx, studyCtx.StudyInstanceUID, studyCtx.WorklistItemUID)
				return cerr
			})
			if err != nil {
				log.WarnWithContext(ctx, "mpps create on abort failed", map[string]interface{}{"error": err.Error()})
				mppsUID = ""
			}
		}
		if mppsUID != "" {
			err := viaBreaker(ctx, r.deps.MPPSBreaker, func() error {
				return r.deps.MPPS.SetDiscontinued(ctx, mppsUID, "operator-cancelled")
			})
			if err != nil {
				log.WarnWithContext(ctx, "mpps set-discontinued failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if studyCtx != nil {
		if err := r.deps.DoseTracker.FinalizeStudy(ctx, studyCtx.StudyInstanceUID); err != nil {
			log.WarnWithContext(ctx, "dose tracker finalize on idle entry failed", map[string]interface{}{"error": err.Error()})
		}
		summary := studyCtx.ToSummary()
		log.InfoWithContext(ctx, "study closed, clearing patient-identifying data", map[string]interface{}{
			"study_instance_uid": summary.StudyInstanceUID,
			"exposure_count":     summary.ExposureCount,
			"accepted_count":     summary.AcceptedCount,
			"cumulative_dap":     summary.CumulativeDAP,
		})
	}

	r.deps.Studies.SetStudyContext(nil)
	return nil
}
