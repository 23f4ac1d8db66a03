package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xrayconsole/workflowengine/safety"
)

// SafetyAppender adapts a Journal to safety.JournalAppender, letting the
// mid-exposure monitor write a Safety-category entry directly on interlock
// loss, independent of whatever transition the executor's single-consumer
// channel eventually processes.
type SafetyAppender struct {
	Journal Journal
}

// NewSafetyAppender wraps j.
func NewSafetyAppender(j Journal) *SafetyAppender {
	return &SafetyAppender{Journal: j}
}

// AppendSafetyEntry implements safety.JournalAppender.
func (a *SafetyAppender) AppendSafetyEntry(ctx context.Context, studyInstanceUID string, failedIDs []safety.InterlockID, metadata map[string]interface{}) error {
	ids := make([]string, len(failedIDs))
	for i, id := range failedIDs {
		ids[i] = string(id)
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["failed_interlock_ids"] = ids

	entry := WorkflowJournalEntry{
		TransitionID:     uuid.NewString(),
		TimestampUTC:     time.Now().UTC(),
		FromState:        "ExposureTrigger",
		ToState:          "ExposureTrigger",
		Trigger:          "MidExposureInterlockLoss",
		StudyInstanceUID: studyInstanceUID,
		Category:         CategorySafety,
		Metadata:         metadata,
	}
	return a.Journal.Append(ctx, entry)
}
