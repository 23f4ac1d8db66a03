// Package mock provides in-memory fakes for every port interface, used by
// engine, handler, and safety tests in place of real hardware or DICOM
// services.
package mock

import (
	"context"
	"sync"

	"github.com/xrayconsole/workflowengine/ports"
	"github.com/xrayconsole/workflowengine/safety"
)

// HVG is a fake HVGPort recording every call for test assertions.
type HVG struct {
	mu               sync.Mutex
	SetParamsCalls   []ports.ExposureParameters
	ArmCalls         int
	TriggerCalls     int
	AbortCalls       int
	FaultStatus      ports.FaultStatus
	ThermalStatus    ports.ThermalStatus
	SetParamsErr     error
	ArmErr           error
	TriggerErr       error
	AbortErr         error
}

func NewHVG() *HVG {
	return &HVG{ThermalStatus: ports.ThermalStatus{Normal: true}}
}

func (h *HVG) SetExposureParameters(ctx context.Context, params ports.ExposureParameters) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.SetParamsCalls = append(h.SetParamsCalls, params)
	return h.SetParamsErr
}

func (h *HVG) Arm(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ArmCalls++
	return h.ArmErr
}

func (h *HVG) TriggerExposure(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.TriggerCalls++
	return h.TriggerErr
}

func (h *HVG) AbortExposure(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.AbortCalls++
	return h.AbortErr
}

func (h *HVG) GetFaultStatus(ctx context.Context) (ports.FaultStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.FaultStatus, nil
}

func (h *HVG) GetThermalStatus(ctx context.Context) (ports.ThermalStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ThermalStatus, nil
}

// Detector is a fake DetectorPort.
type Detector struct {
	mu            sync.Mutex
	StartCalls    int
	Status        ports.DetectorStatus
	Image         ports.AcquiredImage
	StartErr      error
}

func NewDetector() *Detector {
	return &Detector{
		Status: ports.DetectorStatus{Ready: true},
		Image:  ports.AcquiredImage{ImageInstanceUID: "IMG-0001", Valid: true},
	}
}

func (d *Detector) StartAcquisition(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCalls++
	return d.StartErr
}

func (d *Detector) GetStatus(ctx context.Context) (ports.DetectorStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Status, nil
}

func (d *Detector) GetAcquiredImage(ctx context.Context) (ports.AcquiredImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Image, nil
}

// DoseTracker is a fake DoseTrackerPort accumulating per-study DAP in
// memory.
type DoseTracker struct {
	mu         sync.Mutex
	cumulative map[string]float64
	PerExposureDAP float64
}

func NewDoseTracker() *DoseTracker {
	return &DoseTracker{cumulative: make(map[string]float64), PerExposureDAP: 12.5}
}

func (d *DoseTracker) StartExposure(ctx context.Context, studyInstanceUID string, exposureIndex int) error {
	return nil
}

func (d *DoseTracker) StopExposure(ctx context.Context, studyInstanceUID string, exposureIndex int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cumulative[studyInstanceUID] += d.PerExposureDAP
	return d.PerExposureDAP, nil
}

func (d *DoseTracker) RecordRejected(ctx context.Context, studyInstanceUID string, exposureIndex int, dap float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cumulative[studyInstanceUID] += dap
	return nil
}

func (d *DoseTracker) FinalizeStudy(ctx context.Context, studyInstanceUID string) error {
	return nil
}

func (d *DoseTracker) GetCumulative(ctx context.Context, studyInstanceUID string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cumulative[studyInstanceUID], nil
}

func (d *DoseTracker) CheckWithinLimits(ctx context.Context, studyInstanceUID string, warningLevel float64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if warningLevel <= 0 {
		return true, nil
	}
	return d.cumulative[studyInstanceUID] < warningLevel, nil
}

// AEC is a fake AECPort.
type AEC struct {
	Readiness ports.AECReadiness
	Recommended ports.RecommendedParams
}

func NewAEC() *AEC {
	return &AEC{Readiness: ports.AECReadiness{Ready: true}}
}

func (a *AEC) SetParameters(ctx context.Context, params ports.AECParameters) error { return nil }
func (a *AEC) GetReadiness(ctx context.Context) (ports.AECReadiness, error)        { return a.Readiness, nil }
func (a *AEC) GetRecommendedParams(ctx context.Context) (ports.RecommendedParams, error) {
	return a.Recommended, nil
}

// Worklist is a fake WorklistPort.
type Worklist struct {
	Items []ports.WorklistItem
	Err   error
}

func (w *Worklist) Query(ctx context.Context) ([]ports.WorklistItem, error) {
	return w.Items, w.Err
}

// MPPS is a fake MPPSPort.
type MPPS struct {
	mu           sync.Mutex
	Created      []string
	Completed    []string
	Discontinued []string
}

func NewMPPS() *MPPS { return &MPPS{} }

func (m *MPPS) Create(ctx context.Context, studyInstanceUID, worklistItemUID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid := "MPPS-" + studyInstanceUID
	m.Created = append(m.Created, uid)
	return uid, nil
}

func (m *MPPS) SetCompleted(ctx context.Context, mppsUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completed = append(m.Completed, mppsUID)
	return nil
}

func (m *MPPS) SetDiscontinued(ctx context.Context, mppsUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Discontinued = append(m.Discontinued, mppsUID)
	return nil
}

// Store is a fake StorePort that can be configured to fail a set number of
// times before succeeding, for PACS-retry tests.
type Store struct {
	mu          sync.Mutex
	FailCount   int
	Transferred []string
}

func (s *Store) Store(ctx context.Context, studyInstanceUID, imageInstanceUID string) ports.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCount > 0 {
		s.FailCount--
		return ports.StoreResult{ImageInstanceUID: imageInstanceUID, Transferred: false, Err: errTransientStore}
	}
	s.Transferred = append(s.Transferred, imageInstanceUID)
	return ports.StoreResult{ImageInstanceUID: imageInstanceUID, Transferred: true}
}

var errTransientStore = &storeErr{"simulated transient store failure"}

type storeErr struct{ msg string }

func (e *storeErr) Error() string { return e.msg }

// Safety is a fake safety.SafetyPort. AllOK defaults to true; tests flip
// individual fields to simulate an interlock loss.
type Safety struct {
	mu       sync.Mutex
	Status   safety.InterlockStatus
	Err      error
	Callback func(safety.InterlockStatus)
}

func NewSafety() *Safety {
	return &Safety{
		Status: safety.InterlockStatus{
			RoomDoorClosed: true, EmergencyStopClear: true, ThermalNormal: true,
			GeneratorReady: true, DetectorReady: true, CollimatorInRange: true,
			TableLocked: true, CumulativeDoseWithin: true, AECConfigured: true,
		},
	}
}

func (s *Safety) CheckAllInterlocks(ctx context.Context) (safety.InterlockStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status, s.Err
}

func (s *Safety) EmergencyStandby(ctx context.Context) error {
	return nil
}

func (s *Safety) RegisterInterlockCallback(cb func(safety.InterlockStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Callback = cb
	return nil
}

// SetFailure flips a named field to false and invokes the registered
// callback, simulating a hardware-originated interlock loss.
func (s *Safety) SetFailure(mutate func(*safety.InterlockStatus)) {
	s.mu.Lock()
	mutate(&s.Status)
	status := s.Status
	cb := s.Callback
	s.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}
