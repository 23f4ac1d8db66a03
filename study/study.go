// Package study holds the active-study data model: the patient/exam context
// the executor creates on entry to PatientSelect and clears on return to
// Idle, and the ordered record of exposures acquired within it.
package study

import "time"

// ExposureStatus is the lifecycle state of a single exposure within a study.
type ExposureStatus string

const (
	ExposurePending    ExposureStatus = "Pending"
	ExposureAcquired   ExposureStatus = "Acquired"
	ExposureAccepted   ExposureStatus = "Accepted"
	ExposureRejected   ExposureStatus = "Rejected"
	ExposureIncomplete ExposureStatus = "Incomplete"
)

// RejectReason is a structured reason code for a rejected image, required on
// any ImageRejected trigger.
type RejectReason string

const (
	RejectMotion            RejectReason = "Motion"
	RejectPositioning       RejectReason = "Positioning"
	RejectExposureError     RejectReason = "ExposureError"
	RejectEquipmentArtifact RejectReason = "EquipmentArtifact"
	RejectOther             RejectReason = "Other"
)

// ProtocolSnapshot is the immutable-once-captured protocol state an
// exposure was acquired under. It is a plain value copy, not a reference to
// the live protocol.Protocol record, so later edits to the protocol
// repository never retroactively change a recorded exposure.
type ProtocolSnapshot struct {
	ProtocolID     string
	BodyPart       string
	Projection     string
	KVP            float64
	MA             float64
	ExposureTimeMs float64
	MAs            float64
	AECMode        string
	GridUsed       bool
}

// ExposureRecord is one entry in a study's exposure_series: a 1-based,
// ordered record of an attempted or completed exposure.
type ExposureRecord struct {
	Index             int
	ProtocolSnapshot  ProtocolSnapshot
	Status            ExposureStatus
	RejectReason      RejectReason
	ImageInstanceUID  string
	AdministeredDAP   float64
	HasDAP            bool
	AcquiredAt        time.Time
	OperatorID        string
}

// Context identifies the study currently active in the executor. It is
// created at PatientSelect entry, mutated by the executor and exposure
// handler, and cleared (to a nil *Context) on return to Idle so no
// patient-identifying data survives across studies in engine memory.
type Context struct {
	StudyInstanceUID string
	AccessionNumber  string
	PatientID        string
	PatientName      string
	BirthDate        *time.Time
	Sex              string

	// IsEmergency is set when the study was opened via
	// EmergencyWorkflowRequested (T-02) rather than normal worklist sync.
	IsEmergency bool

	// WorklistItemUID is empty until worklist sync supplies it, or until a
	// later ReconcileWithWorklist call backfills it for an emergency study.
	WorklistItemUID string

	// MPPSUID is set once onMppsComplete creates the modality performed
	// procedure step record; empty until then.
	MPPSUID string

	ExposureSeries []ExposureRecord

	CreatedAt time.Time
}

// NewContext creates a fresh study context at PatientSelect entry.
func NewContext(studyInstanceUID, patientID, patientName string, isEmergency bool, createdAt time.Time) *Context {
	return &Context{
		StudyInstanceUID: studyInstanceUID,
		PatientID:        patientID,
		PatientName:      patientName,
		IsEmergency:      isEmergency,
		ExposureSeries:   nil,
		CreatedAt:        createdAt,
	}
}

// NextExposureIndex returns the 1-based index the next ExposureRecord
// appended to ExposureSeries would receive.
func (c *Context) NextExposureIndex() int {
	return len(c.ExposureSeries) + 1
}

// AppendExposure appends rec to the exposure series, overwriting its Index
// with the correct 1-based sequence position.
func (c *Context) AppendExposure(rec ExposureRecord) {
	rec.Index = c.NextExposureIndex()
	c.ExposureSeries = append(c.ExposureSeries, rec)
}

// HasImages reports whether any exposure in the series reached Accepted.
func (c *Context) HasImages() bool {
	for _, e := range c.ExposureSeries {
		if e.Status == ExposureAccepted {
			return true
		}
	}
	return false
}

// CumulativeDAP sums AdministeredDAP across every exposure, including
// rejected ones: rejected exposures still irradiated the patient and must
// count toward cumulative study dose.
func (c *Context) CumulativeDAP() float64 {
	var total float64
	for _, e := range c.ExposureSeries {
		if e.HasDAP {
			total += e.AdministeredDAP
		}
	}
	return total
}

// LastExposure returns a pointer to the most recently appended exposure
// record, or nil if the series is empty.
func (c *Context) LastExposure() *ExposureRecord {
	if len(c.ExposureSeries) == 0 {
		return nil
	}
	return &c.ExposureSeries[len(c.ExposureSeries)-1]
}

// Summary returns a non-identifying snapshot of the study suitable to retain
// after patient-identifying fields are cleared at Idle entry.
type Summary struct {
	StudyInstanceUID string
	ExposureCount    int
	AcceptedCount    int
	CumulativeDAP    float64
	IsEmergency      bool
}

// ToSummary strips identifying fields, keeping only aggregate values.
func (c *Context) ToSummary() Summary {
	accepted := 0
	for _, e := range c.ExposureSeries {
		if e.Status == ExposureAccepted {
			accepted++
		}
	}
	return Summary{
		StudyInstanceUID: c.StudyInstanceUID,
		ExposureCount:    len(c.ExposureSeries),
		AcceptedCount:    accepted,
		CumulativeDAP:    c.CumulativeDAP(),
		IsEmergency:      c.IsEmergency,
	}
}
