// Package ports defines the abstract capability interfaces the engine
// consumes: hardware drivers, DICOM services, and the dose tracker.
// Adapters may be real hardware, simulators, or test fakes; the engine
// never imports a concrete adapter package directly.
package ports

import "context"

// ExposureParameters are the parameters sent to the high-voltage generator
// immediately before triggering an exposure.
type ExposureParameters struct {
	KVP            float64
	MA             float64
	ExposureTimeMs float64
	AECMode        string
	AECChambers    uint8
}

// FaultStatus reports whether the HVG has an active fault and, if so,
// whether it is safety-critical (promotes to T-18) or recoverable.
type FaultStatus struct {
	Faulted  bool
	Critical bool
	Code     string
	Message  string
}

// ThermalStatus reports the generator/tube thermal state.
type ThermalStatus struct {
	Normal        bool
	PercentOfLimit float64
}

// HVGPort is the high-voltage generator driver capability.
type HVGPort interface {
	SetExposureParameters(ctx context.Context, params ExposureParameters) error
	Arm(ctx context.Context) error
	TriggerExposure(ctx context.Context) error
	AbortExposure(ctx context.Context) error
	GetFaultStatus(ctx context.Context) (FaultStatus, error)
	GetThermalStatus(ctx context.Context) (ThermalStatus, error)
}
