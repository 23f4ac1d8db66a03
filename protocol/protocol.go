// Package protocol implements the protocol repository and procedure-code
// mapping table: translating scheduled-procedure codes into internal
// protocol identifiers and looking up protocols by composite key within the
// 50ms/500-protocol budget.
package protocol

// AECMode is the automatic exposure control mode for a protocol.
type AECMode string

const (
	AECDisabled AECMode = "Disabled"
	AECEnabled  AECMode = "Enabled"
	AECOverride AECMode = "Override"
)

// FocusSize is the X-ray tube focal spot size.
type FocusSize string

const (
	FocusSmall FocusSize = "Small"
	FocusLarge FocusSize = "Large"
)

// Protocol is a stored exposure recipe for a given anatomical view and
// device model.
type Protocol struct {
	ProtocolID     string  `yaml:"protocol_id"`
	BodyPart       string  `yaml:"body_part"`
	Projection     string  `yaml:"projection"`
	KVP            float64 `yaml:"kvp"`
	MA             float64 `yaml:"ma"`
	ExposureTimeMs float64 `yaml:"exposure_time_ms"`
	AECMode        AECMode `yaml:"aec_mode"`
	AECChambers    uint8   `yaml:"aec_chambers"`
	FocusSize      FocusSize `yaml:"focus_size"`
	GridUsed       bool    `yaml:"grid_used"`
	DeviceModel    string  `yaml:"device_model"`
	ProcedureCodes []string `yaml:"procedure_codes"`
	IsActive       bool    `yaml:"is_active"`
}

// MAs computes milliampere-seconds for this protocol's stored parameters.
func (p Protocol) MAs() float64 {
	return p.KVP * p.MA * p.ExposureTimeMs / 1000
}

// Key is the composite identity (body_part, projection, device_model) a
// Repository indexes protocols by.
type Key struct {
	BodyPart    string
	Projection  string
	DeviceModel string
}

func keyOf(p Protocol) Key {
	return Key{BodyPart: p.BodyPart, Projection: p.Projection, DeviceModel: p.DeviceModel}
}
