package ports

import "context"

// AECParameters configures the automatic exposure control subsystem.
type AECParameters struct {
	Mode     string // "Disabled", "Enabled", "Override"
	Chambers uint8
}

// AECReadiness reports whether AEC is configured and ready for the active
// protocol.
type AECReadiness struct {
	Ready bool
}

// RecommendedParams are AEC-suggested exposure parameters, used advisorily
// by the position/preview handler.
type RecommendedParams struct {
	KVP            float64
	MA             float64
	ExposureTimeMs float64
}

// AECPort is the automatic exposure control capability.
type AECPort interface {
	SetParameters(ctx context.Context, params AECParameters) error
	GetReadiness(ctx context.Context) (AECReadiness, error)
	GetRecommendedParams(ctx context.Context) (RecommendedParams, error)
}
