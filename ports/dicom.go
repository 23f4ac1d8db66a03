package ports

import "context"

// WorklistItem is one scheduled procedure entry returned by a worklist
// query.
type WorklistItem struct {
	WorklistItemUID string
	PatientID       string
	PatientName     string
	AccessionNumber string
	ProcedureCode   string
	BodyPart        string
}

// WorklistPort queries the hospital scheduling system.
type WorklistPort interface {
	Query(ctx context.Context) ([]WorklistItem, error)
}

// MPPSStatus is the lifecycle state of a modality performed procedure step
// record.
type MPPSStatus string

const (
	MPPSInProgress   MPPSStatus = "IN PROGRESS"
	MPPSCompleted    MPPSStatus = "COMPLETED"
	MPPSDiscontinued MPPSStatus = "DISCONTINUED"
)

// MPPSPort creates and updates MPPS records describing what was actually
// performed.
type MPPSPort interface {
	Create(ctx context.Context, studyInstanceUID, worklistItemUID string) (mppsUID string, err error)
	SetCompleted(ctx context.Context, mppsUID string) error
	SetDiscontinued(ctx context.Context, mppsUID, reason string) error
}

// StoreResult reports the outcome of one image store (export) attempt.
type StoreResult struct {
	ImageInstanceUID string
	Transferred      bool
	Err              error
}

// StorePort submits images to the archive (PACS). Failures never block the
// clinical path: images are marked queued for retry and the workflow
// continues to Idle.
type StorePort interface {
	Store(ctx context.Context, studyInstanceUID, imageInstanceUID string) StoreResult
}
