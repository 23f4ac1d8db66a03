package handlers

import (
	"context"
	"time"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/ports"
)

// onWorklistSync starts an asynchronous worklist query. The network round
// trip runs off the executor's single-consumer goroutine so a slow
// scheduling system never stalls transition processing; the result is
// posted back as a follow-on trigger, exactly like any other
// hardware-originated event (spec §5).
func (r *Registry) onWorklistSync(ctx context.Context) error {
	go r.runWorklistQuery(ctx)
	return nil
}

func (r *Registry) runWorklistQuery(ctx context.Context) {
	log := r.deps.Logger.WithComponent("engine/handlers")
	maxRetries := r.deps.Config.WorklistMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		var items []ports.WorklistItem
		err := viaBreaker(queryCtx, r.deps.WorklistBreaker, func() error {
			var qerr error
			items, qerr = r.deps.Worklist.Query(queryCtx)
			return qerr
		})
		cancel()
		if err == nil {
			metadata := map[string]interface{}{"item_count": len(items)}
			if len(items) > 0 {
				metadata["worklist_item_uid"] = items[0].WorklistItemUID
				metadata["patient_id"] = items[0].PatientID
				metadata["patient_name"] = items[0].PatientName
				metadata["accession_number"] = items[0].AccessionNumber
				metadata["body_part"] = items[0].BodyPart
				metadata["procedure_code"] = items[0].ProcedureCode
			}
			r.requestAsync(ctx, fsm.WorklistResponseReceived, "", metadata)
			return
		}
		lastErr = err
		log.WarnWithContext(ctx, "worklist query attempt failed", map[string]interface{}{
			"attempt": attempt, "error": err.Error(),
		})
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
		}
	}

	log.ErrorWithContext(ctx, "worklist sync exhausted retries", map[string]interface{}{
		"max_retries": maxRetries,
	})
	r.requestAsync(ctx, fsm.WorklistError, "", map[string]interface{}{
		"error":                   lastErr.Error(),
		"worklist_retry_exceeded": true,
	})
}
