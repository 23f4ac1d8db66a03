package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/ports"
	"github.com/xrayconsole/workflowengine/study"
)

var errStoreNotTransferred = errors.New("pacs store did not confirm transfer")

// onPacsExport submits every accepted image to the archive with a bounded,
// non-blocking retry policy (spec §4.4, §7): a store failure never blocks
// the workflow, it only marks images queued for retry and still reaches
// Idle via T-17.
func (r *Registry) onPacsExport(ctx context.Context, studyCtx *study.Context) error {
	if studyCtx == nil {
		r.deps.Logger.WithComponent("engine/handlers").ErrorWithContext(ctx, "entered PacsExport with no active study context", nil)
		return nil
	}
	go r.runExport(ctx, studyCtx)
	return nil
}

func (r *Registry) runExport(ctx context.Context, studyCtx *study.Context) {
	log := r.deps.Logger.WithComponent("engine/handlers")
	maxRetries := r.deps.Config.ExportMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var toSend []string
	for _, e := range studyCtx.ExposureSeries {
		if e.Status == study.ExposureAccepted {
			toSend = append(toSend, e.ImageInstanceUID)
		}
	}

	transferred := make(map[string]bool, len(toSend))
	retryExceeded := false

	for _, imageUID := range toSend {
		ok := false
		for attempt := 0; attempt <= maxRetries; attempt++ {
			var result ports.StoreResult
			cbErr := viaBreaker(ctx, r.deps.StoreBreaker, func() error {
				result = r.deps.Store.Store(ctx, studyCtx.StudyInstanceUID, imageUID)
				if !result.Transferred {
					return errStoreNotTransferred
				}
				return nil
			})
			if cbErr == nil && result.Transferred {
				ok = true
				break
			}
			log.WarnWithContext(ctx, "pacs store attempt failed", map[string]interface{}{
				"image_instance_uid": imageUID, "attempt": attempt,
			})
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
			}
		}
		transferred[imageUID] = ok
		if !ok {
			retryExceeded = true
		}
	}

	allTransferred := !retryExceeded
	metadata := map[string]interface{}{
		"image_count":            len(toSend),
		"transferred_count":      countTrue(transferred),
		"study_instance_uid":     studyCtx.StudyInstanceUID,
		"all_images_transferred": allTransferred,
		"export_retry_exceeded":  retryExceeded,
	}

	if allTransferred {
		r.requestAsync(ctx, fsm.ExportComplete, "", metadata)
		return
	}
	log.ErrorWithContext(ctx, "pacs export exhausted retries for one or more images, queuing for later retry", metadata)
	r.requestAsync(ctx, fsm.ExportFailed, "", metadata)
}

func countTrue(m map[string]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
