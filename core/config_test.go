package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "xray-engine-01", cfg.DeviceID)
	assert.Equal(t, DefaultInterlockQueryTimeout, cfg.InterlockQueryTimeout)
	assert.Equal(t, DefaultWorklistMaxRetries, cfg.WorklistMaxRetries)
	assert.False(t, cfg.CircuitBreaker.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.NotNil(t, cfg.Logger)
}

func TestNewConfigOptionsOverrideDefaults(t *testing.T) {
	limits := DeviceSafetyLimits{MinKVP: 50, MaxKVP: 120, MinMA: 2, MaxMA: 500, MaxExposureTimeMs: 5000, MaxMAs: 300}
	cfg, err := NewConfig(
		WithDeviceID("unit-test-device"),
		WithDeviceSafetyLimits(limits),
		WithWorklistMaxRetries(7),
		WithCircuitBreaker(CircuitBreakerConfig{Enabled: true, Threshold: 2, Timeout: time.Second}),
	)
	require.NoError(t, err)

	assert.Equal(t, "unit-test-device", cfg.DeviceID)
	assert.Equal(t, limits, cfg.SafetyLimits)
	assert.Equal(t, 7, cfg.WorklistMaxRetries)
	assert.True(t, cfg.CircuitBreaker.Enabled)
}

func TestNewConfigEnvOverridesDefaultsButNotOptions(t *testing.T) {
	os.Setenv(EnvDeviceID, "env-device")
	os.Setenv(EnvWorklistMaxRetries, "9")
	defer os.Unsetenv(EnvDeviceID)
	defer os.Unsetenv(EnvWorklistMaxRetries)

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "env-device", cfg.DeviceID)
	assert.Equal(t, 9, cfg.WorklistMaxRetries)

	cfg2, err := NewConfig(WithDeviceID("explicit-device"))
	require.NoError(t, err)
	assert.Equal(t, "explicit-device", cfg2.DeviceID, "explicit Option must win over env var")
}

func TestConfigValidateRejectsBadSafetyLimits(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Config)
		wantedErr error
	}{
		{"empty journal path", func(c *Config) { c.JournalPath = "" }, ErrMissingConfiguration},
		{"inverted kvp bounds", func(c *Config) { c.SafetyLimits.MinKVP = 100; c.SafetyLimits.MaxKVP = 50 }, ErrInvalidConfiguration},
		{"inverted ma bounds", func(c *Config) { c.SafetyLimits.MinMA = 100; c.SafetyLimits.MaxMA = 50 }, ErrInvalidConfiguration},
		{"zero max exposure time", func(c *Config) { c.SafetyLimits.MaxExposureTimeMs = 0 }, ErrInvalidConfiguration},
		{"zero max mas", func(c *Config) { c.SafetyLimits.MaxMAs = 0 }, ErrInvalidConfiguration},
		{"zero interlock timeout", func(c *Config) { c.InterlockQueryTimeout = 0 }, ErrInvalidConfiguration},
		{"negative retries", func(c *Config) { c.WorklistMaxRetries = -1 }, ErrInvalidConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantedErr)
		})
	}
}

func TestDefaultDeviceSafetyLimitsValidate(t *testing.T) {
	cfg := defaultConfig()
	assert.NoError(t, cfg.Validate())
}
