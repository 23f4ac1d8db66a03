package core

import "gopkg.in/yaml.v3"

// LoadDeviceSafetyLimitsYAML parses a site configuration file's
// device_safety_limits block, the same serialization format the teacher
// framework uses for structured configuration documents.
func LoadDeviceSafetyLimitsYAML(data []byte) (DeviceSafetyLimits, error) {
	var doc struct {
		DeviceSafetyLimits DeviceSafetyLimits `yaml:"device_safety_limits"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return DeviceSafetyLimits{}, NewEngineError("core.LoadDeviceSafetyLimitsYAML", KindInternalError, err)
	}
	return doc.DeviceSafetyLimits, nil
}
