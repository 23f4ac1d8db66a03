package handlers

import (
	"context"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/ports"
	"github.com/xrayconsole/workflowengine/study"
)

// onPositionAndPreview starts live preview and arms the generator and
// detector to standby ahead of the operator's readiness confirmation (spec
// §4.4). It stages a Pending exposure record carrying the confirmed
// protocol's parameter snapshot: from the ProtocolConfirmed trigger's
// metadata on first entry (T-06), or carried over from the rejected
// exposure's own snapshot on a retake (T-13).
func (r *Registry) onPositionAndPreview(ctx context.Context, trigger fsm.Trigger, studyCtx *study.Context, metadata map[string]interface{}) error {
	log := r.deps.Logger.WithComponent("engine/handlers")

	if studyCtx == nil {
		log.ErrorWithContext(ctx, "entered PositionAndPreview with no active study context", nil)
		return nil
	}

	snapshot := r.resolveProtocolSnapshot(trigger, studyCtx, metadata)

	if err := r.deps.Detector.StartAcquisition(ctx); err != nil {
		log.WarnWithContext(ctx, "detector preview start failed", map[string]interface{}{"error": err.Error()})
	}

	if err := r.deps.HVG.SetExposureParameters(ctx, ports.ExposureParameters{
		KVP:            snapshot.KVP,
		MA:             snapshot.MA,
		ExposureTimeMs: snapshot.ExposureTimeMs,
		AECMode:        snapshot.AECMode,
	}); err != nil {
		log.WarnWithContext(ctx, "set exposure parameters failed", map[string]interface{}{"error": err.Error()})
	}
	if err := r.deps.HVG.Arm(ctx); err != nil {
		log.WarnWithContext(ctx, "generator arm-to-standby failed", map[string]interface{}{"error": err.Error()})
	}

	studyCtx.AppendExposure(study.ExposureRecord{
		ProtocolSnapshot: snapshot,
		Status:           study.ExposurePending,
	})
	return nil
}

// resolveProtocolSnapshot builds the parameter snapshot for the exposure
// about to be staged.
func (r *Registry) resolveProtocolSnapshot(trigger fsm.Trigger, studyCtx *study.Context, metadata map[string]interface{}) study.ProtocolSnapshot {
	if trigger == fsm.RetakeApproved {
		if last := studyCtx.LastExposure(); last != nil {
			return last.ProtocolSnapshot
		}
	}

	snapshot := study.ProtocolSnapshot{}
	if protocolID, ok := metadata["protocol_id"].(string); ok {
		snapshot.ProtocolID = protocolID
		if p, found := r.deps.Protocols.ByID(protocolID); found {
			snapshot.BodyPart = p.BodyPart
			snapshot.Projection = p.Projection
			snapshot.AECMode = string(p.AECMode)
			snapshot.GridUsed = p.GridUsed
		}
	}
	if v, ok := metadata["kvp"].(float64); ok {
		snapshot.KVP = v
	}
	if v, ok := metadata["ma"].(float64); ok {
		snapshot.MA = v
	}
	if v, ok := metadata["exposure_time_ms"].(float64); ok {
		snapshot.ExposureTimeMs = v
	}
	snapshot.MAs = snapshot.KVP * snapshot.MA * snapshot.ExposureTimeMs / 1000
	return snapshot
}
