package ports

import "context"

// DoseTrackerPort owns the per-study dose accumulator. The engine writes to
// it only through this interface; the accumulator itself is owned by the
// tracker, not the engine.
type DoseTrackerPort interface {
	StartExposure(ctx context.Context, studyInstanceUID string, exposureIndex int) error
	StopExposure(ctx context.Context, studyInstanceUID string, exposureIndex int) (dap float64, err error)
	RecordRejected(ctx context.Context, studyInstanceUID string, exposureIndex int, dap float64) error
	FinalizeStudy(ctx context.Context, studyInstanceUID string) error
	GetCumulative(ctx context.Context, studyInstanceUID string) (float64, error)
	CheckWithinLimits(ctx context.Context, studyInstanceUID string, warningLevel float64) (withinLimits bool, err error)
}
