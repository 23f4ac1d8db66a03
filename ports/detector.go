package ports

import "context"

// DetectorStatus reports flat-panel detector readiness.
type DetectorStatus struct {
	Ready   bool
	Message string
}

// AcquiredImage is the raw image handle returned after acquisition.
type AcquiredImage struct {
	ImageInstanceUID string
	Valid            bool
	Message          string
}

// DetectorPort is the flat-panel detector driver capability.
type DetectorPort interface {
	StartAcquisition(ctx context.Context) error
	GetStatus(ctx context.Context) (DetectorStatus, error)
	GetAcquiredImage(ctx context.Context) (AcquiredImage, error)
}
