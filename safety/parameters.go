package safety

import (
	"fmt"

	"github.com/xrayconsole/workflowengine/core"
)

// ExposureParams is the candidate parameter set validated before any
// protocol or exposure is accepted.
type ExposureParams struct {
	KVP            float64
	MA             float64
	ExposureTimeMs float64
}

// MAs computes milliampere-seconds: mas = kvp * ma * exposure_time_ms / 1000.
func (p ExposureParams) MAs() float64 {
	return p.KVP * p.MA * p.ExposureTimeMs / 1000
}

// ValidationResult reports parameter validation outcome. A soft DAP warning
// never blocks acceptance; OutOfBounds reasons do.
type ValidationResult struct {
	Accepted     bool
	OutOfBounds  []string
	DAPWarning   bool
	DAPEstimate  float64
}

// ParameterValidator checks exposure parameters against DeviceSafetyLimits.
// It holds no mutable state: limits are process-wide, read-only
// configuration loaded once at startup.
type ParameterValidator struct {
	limits core.DeviceSafetyLimits
}

// NewParameterValidator builds a validator against limits.
func NewParameterValidator(limits core.DeviceSafetyLimits) *ParameterValidator {
	return &ParameterValidator{limits: limits}
}

// Validate rejects params violating any hard bound (kvp, ma, exposure time,
// mAs). It never sets DAPWarning or DAPEstimate: DAP itself is not
// computable from kvp/ma/time alone in general; callers
// that have an AEC-reported or estimated DAP value should compare it
// against limits.DAPWarningLevel directly via CheckDAPWarning.
func (v *ParameterValidator) Validate(params ExposureParams) ValidationResult {
	var reasons []string

	if params.KVP < v.limits.MinKVP || params.KVP > v.limits.MaxKVP {
		reasons = append(reasons, fmt.Sprintf("kvp %.1f outside [%.1f,%.1f]", params.KVP, v.limits.MinKVP, v.limits.MaxKVP))
	}
	if params.MA < v.limits.MinMA || params.MA > v.limits.MaxMA {
		reasons = append(reasons, fmt.Sprintf("ma %.1f outside [%.1f,%.1f]", params.MA, v.limits.MinMA, v.limits.MaxMA))
	}
	if params.ExposureTimeMs > v.limits.MaxExposureTimeMs {
		reasons = append(reasons, fmt.Sprintf("exposure_time_ms %.1f exceeds max %.1f", params.ExposureTimeMs, v.limits.MaxExposureTimeMs))
	}
	mas := params.MAs()
	if mas > v.limits.MaxMAs {
		reasons = append(reasons, fmt.Sprintf("mas %.2f exceeds max %.2f", mas, v.limits.MaxMAs))
	}

	return ValidationResult{
		Accepted:    len(reasons) == 0,
		OutOfBounds: reasons,
	}
}

// CheckDAPWarning reports whether an administered or estimated DAP value
// breaches the device-wide dap_warning_level. This is always a soft
// warning: it never blocks protocol or exposure acceptance (spec §4.2).
func (v *ParameterValidator) CheckDAPWarning(dap float64) bool {
	return v.limits.DAPWarningLevel > 0 && dap >= v.limits.DAPWarningLevel
}
