package xrayflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/fsm"
	"github.com/xrayconsole/workflowengine/ports/mock"
	"github.com/xrayconsole/workflowengine/protocol"
)

func testPorts() Ports {
	return Ports{
		HVG:         mock.NewHVG(),
		Detector:    mock.NewDetector(),
		AEC:         mock.NewAEC(),
		DoseTracker: mock.NewDoseTracker(),
		Worklist:    &mock.Worklist{},
		MPPS:        mock.NewMPPS(),
		Store:       &mock.Store{},
		Safety:      mock.NewSafety(),
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := core.NewConfig(
		core.WithJournalPath(filepath.Join(t.TempDir(), "journal.wal")),
	)
	require.NoError(t, err)

	engine, err := NewEngine(cfg, testPorts(), protocol.NewRepository())
	require.NoError(t, err)
	return engine
}

func TestNewEngineStartsAtIdle(t *testing.T) {
	engine := newTestEngine(t)
	assert.Equal(t, fsm.Idle, engine.executor.CurrentState())
}

func TestEngineRecoverNoOpOnFreshJournal(t *testing.T) {
	engine := newTestEngine(t)
	result, err := engine.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, result.NeedsOperatorDecision)
}

func TestEngineSubmitDrivesTransitionEndToEnd(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.executor.Run(ctx)
	defer engine.executor.Stop()

	result := engine.Submit(context.Background(), &fsm.TransitionRequest{
		Trigger: fsm.WorklistSyncRequested,
		Context: fsm.GuardEvaluationContext{NetworkReachable: true},
	})

	require.Equal(t, fsm.ResultSuccess, result.Kind)
	assert.Equal(t, fsm.WorklistSync, engine.executor.CurrentState())
}

func TestEngineHTTPHealthzReportsCurrentState(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.executor.Run(ctx)
	defer engine.executor.Stop()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	engine.handleHealth(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Idle", body["current_state"])
}

func TestEngineHTTPStateReflectsActiveStudy(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.executor.Run(ctx)
	defer engine.executor.Stop()

	engine.Submit(context.Background(), &fsm.TransitionRequest{
		Trigger: fsm.EmergencyWorkflowRequested,
		Context: fsm.GuardEvaluationContext{
			HardwareInterlockOK: true,
			Metadata:            map[string]interface{}{"patient_id": "PAT-1"},
		},
	})

	require.Eventually(t, func() bool {
		return engine.executor.CurrentState() == fsm.PatientSelect
	}, time.Second, 5*time.Millisecond)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	engine.handleState(rr, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "PatientSelect", body["current_state"])
	assert.NotEmpty(t, body["study_instance_uid"])
}

func TestEngineReconcileWithWorklistBackfillsMetadataWithoutTransition(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.executor.Run(ctx)
	defer engine.executor.Stop()

	result := engine.Submit(context.Background(), &fsm.TransitionRequest{
		Trigger: fsm.EmergencyWorkflowRequested,
		Context: fsm.GuardEvaluationContext{
			HardwareInterlockOK: true,
			Metadata:            map[string]interface{}{"patient_id": "PAT-1"},
		},
	})
	require.Equal(t, fsm.ResultSuccess, result.Kind)

	require.Eventually(t, func() bool {
		return engine.executor.StudyContext() != nil
	}, time.Second, 5*time.Millisecond)

	studyUID := engine.executor.StudyContext().StudyInstanceUID
	stateBefore := engine.executor.CurrentState()

	err := engine.ReconcileWithWorklist(context.Background(), studyUID, "WLI-77", "ACC-99")
	require.NoError(t, err)

	sc := engine.executor.StudyContext()
	require.NotNil(t, sc)
	assert.Equal(t, "WLI-77", sc.WorklistItemUID)
	assert.Equal(t, "ACC-99", sc.AccessionNumber)
	assert.Equal(t, stateBefore, engine.executor.CurrentState(), "reconciling never drives a transition")
}

func TestEngineReconcileWithWorklistRejectsMismatchedStudyUID(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.executor.Run(ctx)
	defer engine.executor.Stop()

	engine.Submit(context.Background(), &fsm.TransitionRequest{
		Trigger: fsm.EmergencyWorkflowRequested,
		Context: fsm.GuardEvaluationContext{
			HardwareInterlockOK: true,
			Metadata:            map[string]interface{}{"patient_id": "PAT-1"},
		},
	})
	require.Eventually(t, func() bool {
		return engine.executor.StudyContext() != nil
	}, time.Second, 5*time.Millisecond)

	err := engine.ReconcileWithWorklist(context.Background(), "SOME-OTHER-STUDY", "WLI-1", "")
	require.Error(t, err)
}

func TestEngineReconcileWithWorklistErrorsWithNoActiveStudy(t *testing.T) {
	engine := newTestEngine(t)
	err := engine.ReconcileWithWorklist(context.Background(), "STU-1", "WLI-1", "")
	require.Error(t, err)
}

func TestEngineStopClosesJournal(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	go engine.executor.Run(ctx)

	require.NoError(t, engine.Stop(context.Background()))
	cancel()
}
