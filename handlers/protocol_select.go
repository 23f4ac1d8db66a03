package handlers

import (
	"context"

	"github.com/xrayconsole/workflowengine/events"
	"github.com/xrayconsole/workflowengine/study"
)

// onProtocolSelect resolves a procedure-code-to-protocol pre-selection when
// one is available, and otherwise offers the unfiltered protocol list
// (spec §4.5): an unmapped code never blocks entry to this state.
func (r *Registry) onProtocolSelect(ctx context.Context, studyCtx *study.Context, metadata map[string]interface{}) error {
	log := r.deps.Logger.WithComponent("engine/protocol")

	code, _ := metadata["procedure_code"].(string)
	var preselected string
	if code != "" {
		if p, ok := r.deps.Protocols.MapProcedureCode(code); ok {
			preselected = p.ProtocolID
		} else {
			log.WarnWithContext(ctx, "unmapped procedure code, offering full protocol list", map[string]interface{}{
				"procedure_code": code,
			})
		}
	}

	uid := ""
	if studyCtx != nil {
		uid = studyCtx.StudyInstanceUID
	}
	r.deps.Publisher.Publish(ctx, events.WorkflowEvent{
		Kind:             events.KindOperatorNotification,
		StudyInstanceUID: uid,
		Message:          "protocol selection ready",
		Severity:         "info",
		Metadata: map[string]interface{}{
			"preselected_protocol_id": preselected,
			"procedure_code":          code,
		},
	})
	return nil
}
