package handlers

import (
	"context"
	"time"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/ports"
	"github.com/xrayconsole/workflowengine/study"
)

// onExposureTrigger sends final exposure parameters, re-validates the
// interlock snapshot immediately before issuing the command (spec §4.2:
// "before issuing any exposure command, all nine must simultaneously meet
// their required values"), triggers the exposure, and starts the
// mid-exposure monitor. The whole sequence is expected to complete within
// the exposure-trigger latency budget under nominal load (spec §4.4, §8).
func (r *Registry) onExposureTrigger(ctx context.Context, studyCtx *study.Context) error {
	start := time.Now()
	log := r.deps.Logger.WithComponent("engine/safety")

	if studyCtx == nil {
		log.ErrorWithContext(ctx, "entered ExposureTrigger with no active study context", nil)
		return nil
	}
	exposure := studyCtx.LastExposure()
	if exposure == nil {
		log.ErrorWithContext(ctx, "entered ExposureTrigger with no staged exposure record", nil)
		return nil
	}
	exposureIndex := exposure.Index
	snapshot := exposure.ProtocolSnapshot

	status := r.deps.InterlockChecker.CheckAll(ctx)
	if !status.AllOK() {
		failedIDs := status.FailedIDs()
		log.ErrorWithContext(ctx, "interlock check failed immediately before exposure command", map[string]interface{}{
			"failed_ids": failedIDs,
		})
		r.requestAsync(ctx, fsm.AcquisitionFailed, "", map[string]interface{}{
			"reason":         "interlock check failed before trigger",
			"study_instance_uid": studyCtx.StudyInstanceUID,
		})
		return nil
	}

	if err := r.deps.HVG.SetExposureParameters(ctx, ports.ExposureParameters{
		KVP:            snapshot.KVP,
		MA:             snapshot.MA,
		ExposureTimeMs: snapshot.ExposureTimeMs,
		AECMode:        snapshot.AECMode,
	}); err != nil {
		log.ErrorWithContext(ctx, "set exposure parameters failed at trigger time", map[string]interface{}{"error": err.Error()})
		r.requestAsync(ctx, fsm.AcquisitionFailed, "", map[string]interface{}{"reason": "hardware parameter set failed"})
		return nil
	}

	if err := r.deps.DoseTracker.StartExposure(ctx, studyCtx.StudyInstanceUID, exposureIndex); err != nil {
		log.WarnWithContext(ctx, "dose tracker start-exposure failed", map[string]interface{}{"error": err.Error()})
	}

	if err := r.deps.HVG.TriggerExposure(ctx); err != nil {
		log.ErrorWithContext(ctx, "trigger exposure command failed", map[string]interface{}{"error": err.Error()})
		r.requestAsync(ctx, fsm.AcquisitionFailed, "", map[string]interface{}{"reason": "trigger command failed"})
		return nil
	}

	r.deps.Monitor.Start(ctx, studyCtx.StudyInstanceUID, exposureIndex)

	latency := time.Since(start)
	if latency > r.deps.Config.ExposureTriggerLatencyBudget {
		log.WarnWithContext(ctx, "exposure trigger latency exceeded budget", map[string]interface{}{
			"latency_ms": latency.Milliseconds(),
			"budget_ms":  r.deps.Config.ExposureTriggerLatencyBudget.Milliseconds(),
		})
	}

	go r.awaitAcquisition(ctx, studyCtx.StudyInstanceUID, exposureIndex)
	return nil
}

// awaitAcquisition polls the detector for completion off the executor
// goroutine and posts the resulting follow-on trigger, stopping the monitor
// first so a normal completion never races with an interlock-loss abort.
func (r *Registry) awaitAcquisition(ctx context.Context, studyInstanceUID string, exposureIndex int) {
	log := r.deps.Logger.WithComponent("engine/handlers")
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detStatus, err := r.deps.Detector.GetStatus(ctx)
			if err != nil || !detStatus.Ready {
				continue
			}
			image, err := r.deps.Detector.GetAcquiredImage(ctx)
			if err != nil {
				continue
			}
			r.deps.Monitor.Stop()
			dap, derr := r.deps.DoseTracker.StopExposure(ctx, studyInstanceUID, exposureIndex)
			if derr != nil {
				log.WarnWithContext(ctx, "dose tracker stop-exposure failed", map[string]interface{}{"error": derr.Error()})
			}
			metadata := map[string]interface{}{
				"image_instance_uid": image.ImageInstanceUID,
				"image_valid":        image.Valid,
				"administered_dap":   dap,
				"exposure_index":     exposureIndex,
			}
			if image.Valid {
				r.requestAsync(ctx, fsm.AcquisitionComplete, "", metadata)
			} else {
				r.requestAsync(ctx, fsm.AcquisitionFailed, "", metadata)
			}
			return
		}
	}

	log.ErrorWithContext(ctx, "acquisition watchdog timed out", map[string]interface{}{"study_instance_uid": studyInstanceUID})
	r.deps.Monitor.Stop()
	r.requestAsync(ctx, fsm.AcquisitionFailed, "", map[string]interface{}{"reason": "acquisition watchdog timeout"})
}
