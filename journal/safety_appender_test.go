package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrayconsole/workflowengine/safety"
)

func TestSafetyAppenderRecordsFailedInterlockIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	appender := NewSafetyAppender(j)
	err = appender.AppendSafetyEntry(context.Background(), "STU-1",
		[]safety.InterlockID{safety.RoomDoorClosed, safety.TableLocked}, nil)
	require.NoError(t, err)

	all, err := j.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, CategorySafety, all[0].Category)
	assert.Equal(t, "MidExposureInterlockLoss", all[0].Trigger)
	assert.ElementsMatch(t, []interface{}{"IL-01", "IL-07"}, all[0].Metadata["failed_interlock_ids"])
}
