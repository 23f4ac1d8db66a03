package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryNoOpWhenJournalEmpty(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.wal"))
	require.NoError(t, err)
	defer j.Close()

	rs := NewRecoveryService(j, nil)
	result, err := rs.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Idle", result.LastState)
	assert.False(t, result.NeedsOperatorDecision)
}

func TestRecoveryDetectsNonIdleCrashState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, WorkflowJournalEntry{
		TransitionID: "t1", FromState: "Idle", ToState: "WorklistSync",
		Trigger: "WorklistSyncRequested", Category: CategoryWorkflow,
	}))
	require.NoError(t, j.Append(ctx, WorkflowJournalEntry{
		TransitionID: "t2", FromState: "WorklistSync", ToState: "PatientSelect",
		Trigger: "WorklistResponseReceived", Category: CategoryWorkflow,
		StudyInstanceUID: "STU-42",
	}))

	rs := NewRecoveryService(j, nil)
	result, err := rs.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PatientSelect", result.LastState)
	assert.Equal(t, "STU-42", result.StudyInstanceUID)
	assert.True(t, result.NeedsOperatorDecision)
}

func TestRecoveryNeverIssuesHardwareCommand(t *testing.T) {
	// Recover reconstructs state only from what is already journaled; this
	// test documents that its signature has no hardware-port dependency to
	// call through in the first place.
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	rs := NewRecoveryService(j, nil)
	_, err = rs.Recover(context.Background())
	require.NoError(t, err)
}

func TestRecordRecoveryActionJournalsDecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()
	ctx := context.Background()

	rs := NewRecoveryService(j, nil)
	require.NoError(t, rs.RecordRecoveryAction(ctx, RecoveryAbortAndCloseStudy, "operator-1", "STU-99"))

	all, err := j.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Recovery", all[0].FromState)
	assert.Equal(t, "Idle", all[0].ToState)
	assert.Equal(t, "operator-1", all[0].OperatorID)
	assert.Equal(t, "STU-99", all[0].StudyInstanceUID)
}
