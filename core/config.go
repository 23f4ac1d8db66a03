package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DeviceSafetyLimits is process-wide, read-only configuration for the safety
// path: the bounds every protocol and exposure parameter set is validated
// against before acceptance.
type DeviceSafetyLimits struct {
	MinKVP            float64 `yaml:"min_kvp"`
	MaxKVP            float64 `yaml:"max_kvp"`
	MinMA             float64 `yaml:"min_ma"`
	MaxMA             float64 `yaml:"max_ma"`
	MaxExposureTimeMs float64 `yaml:"max_exposure_time_ms"`
	MaxMAs            float64 `yaml:"max_mas"`
	DAPWarningLevel   float64 `yaml:"dap_warning_level"`
}

// DefaultDeviceSafetyLimits returns a conservative starting point; real
// deployments load their own limits from a site configuration file.
func DefaultDeviceSafetyLimits() DeviceSafetyLimits {
	return DeviceSafetyLimits{
		MinKVP:            40,
		MaxKVP:            150,
		MinMA:             1,
		MaxMA:             630,
		MaxExposureTimeMs: 10000,
		MaxMAs:            400,
		DAPWarningLevel:   600,
	}
}

// LoggingConfig controls the format and verbosity of the engine's structured
// logger.
type LoggingConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// TelemetryConfig selects and configures the OpenTelemetry exporter.
type TelemetryConfig struct {
	Enabled      bool
	Exporter     string // "otlp", "stdout", "none"
	OTLPEndpoint string
	ServiceName  string
}

// RedisMirrorConfig configures the optional secondary event mirror. Redis is
// never on the journal durability path; if disabled or unreachable the
// engine runs unaffected.
type RedisMirrorConfig struct {
	Enabled bool
	URL     string
}

// Config is the engine's top-level configuration, assembled with three-layer
// priority: package defaults, then XRAYFLOW_* environment variables, then
// explicit Option values passed to NewConfig — each layer overrides the one
// before it.
type Config struct {
	DeviceID       string
	JournalPath    string
	ProtocolDBPath string

	SafetyLimits DeviceSafetyLimits

	InterlockQueryTimeout        time.Duration
	ExposureTriggerLatencyBudget time.Duration
	MidExposurePollInterval      time.Duration
	CrashRecoveryDeadline        time.Duration
	ProtocolLookupBudget         time.Duration
	DetectorReadyPollInterval    time.Duration
	DetectorReadyTimeout         time.Duration

	WorklistMaxRetries int
	ExportMaxRetries   int

	Logging   LoggingConfig
	Telemetry TelemetryConfig
	Redis     RedisMirrorConfig

	// CircuitBreaker guards the worklist/MPPS/PACS store calls handlers make
	// outside the clinical exposure path (spec §7). Disabled by default;
	// enabling it fails fast on a sustained dependency outage instead of
	// retrying every transition into WorklistSync/MppsComplete/PacsExport.
	CircuitBreaker CircuitBreakerConfig

	Logger Logger
}

// Option configures a Config during NewConfig.
type Option func(*Config)

// WithDeviceID sets the device identifier recorded in journal entries and
// telemetry attributes.
func WithDeviceID(id string) Option {
	return func(c *Config) { c.DeviceID = id }
}

// WithJournalPath overrides the write-ahead journal's file path.
func WithJournalPath(path string) Option {
	return func(c *Config) { c.JournalPath = path }
}

// WithProtocolDBPath overrides the protocol repository's backing store path.
func WithProtocolDBPath(path string) Option {
	return func(c *Config) { c.ProtocolDBPath = path }
}

// WithDeviceSafetyLimits overrides the process-wide safety limits.
func WithDeviceSafetyLimits(limits DeviceSafetyLimits) Option {
	return func(c *Config) { c.SafetyLimits = limits }
}

// WithInterlockQueryTimeout overrides the per-signal interlock query budget.
func WithInterlockQueryTimeout(d time.Duration) Option {
	return func(c *Config) { c.InterlockQueryTimeout = d }
}

// WithExposureTriggerLatencyBudget overrides the exposure-trigger latency
// budget.
func WithExposureTriggerLatencyBudget(d time.Duration) Option {
	return func(c *Config) { c.ExposureTriggerLatencyBudget = d }
}

// WithMidExposurePollInterval overrides the mid-exposure monitor's poll
// interval.
func WithMidExposurePollInterval(d time.Duration) Option {
	return func(c *Config) { c.MidExposurePollInterval = d }
}

// WithCrashRecoveryDeadline overrides the deadline recovery must complete
// within after process start.
func WithCrashRecoveryDeadline(d time.Duration) Option {
	return func(c *Config) { c.CrashRecoveryDeadline = d }
}

// WithDetectorReadyPoll overrides the pre-trigger detector readiness poll's
// interval and overall timeout (T-07's up-to-30s readiness poll).
func WithDetectorReadyPoll(interval, timeout time.Duration) Option {
	return func(c *Config) { c.DetectorReadyPollInterval = interval; c.DetectorReadyTimeout = timeout }
}

// WithWorklistMaxRetries overrides the worklist sync retry budget.
func WithWorklistMaxRetries(n int) Option {
	return func(c *Config) { c.WorklistMaxRetries = n }
}

// WithExportMaxRetries overrides the PACS export retry budget.
func WithExportMaxRetries(n int) Option {
	return func(c *Config) { c.ExportMaxRetries = n }
}

// WithLogging overrides the logging configuration.
func WithLogging(cfg LoggingConfig) Option {
	return func(c *Config) { c.Logging = cfg }
}

// WithCircuitBreaker overrides the circuit breaker configuration shared by
// the worklist, MPPS, and PACS store dependency calls.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(c *Config) { c.CircuitBreaker = cfg }
}

// WithTelemetry overrides the telemetry configuration.
func WithTelemetry(cfg TelemetryConfig) Option {
	return func(c *Config) { c.Telemetry = cfg }
}

// WithRedisMirror overrides the Redis secondary event mirror configuration.
func WithRedisMirror(cfg RedisMirrorConfig) Option {
	return func(c *Config) { c.Redis = cfg }
}

// WithLogger overrides the Logger implementation directly, bypassing
// LoggingConfig-driven construction. Mainly for tests.
func WithLogger(logger Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func defaultConfig() *Config {
	return &Config{
		DeviceID:                     "xray-engine-01",
		JournalPath:                  "./data/journal.wal",
		ProtocolDBPath:               "./data/protocols.db",
		SafetyLimits:                 DefaultDeviceSafetyLimits(),
		InterlockQueryTimeout:        DefaultInterlockQueryTimeout,
		ExposureTriggerLatencyBudget: DefaultExposureTriggerLatencyBudget,
		MidExposurePollInterval:      DefaultMidExposurePollInterval,
		CrashRecoveryDeadline:        DefaultCrashRecoveryDeadline,
		ProtocolLookupBudget:         DefaultProtocolLookupBudget,
		DetectorReadyPollInterval:    DefaultDetectorReadyPollInterval,
		DetectorReadyTimeout:         DefaultDetectorReadyTimeout,
		WorklistMaxRetries:           DefaultWorklistMaxRetries,
		ExportMaxRetries:             DefaultExportMaxRetries,
		Logging:                      LoggingConfig{Level: "info", Format: "text"},
		Telemetry:                    TelemetryConfig{Enabled: false, Exporter: "none", ServiceName: "xrayengine"},
		Redis:                        RedisMirrorConfig{Enabled: false},
		CircuitBreaker:               CircuitBreakerConfig{Enabled: false, Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3},
	}
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvDeviceID); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv(EnvJournalPath); v != "" {
		c.JournalPath = v
	}
	if v := os.Getenv(EnvProtocolDBPath); v != "" {
		c.ProtocolDBPath = v
	}
	if v := os.Getenv(EnvWorklistMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorklistMaxRetries = n
		}
	}
	if v := os.Getenv(EnvExportMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ExportMaxRetries = n
		}
	}
	if v := os.Getenv(EnvInterlockTimeoutMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.InterlockQueryTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvTriggerLatencyMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ExposureTriggerLatencyBudget = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvMidExposurePollMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MidExposurePollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvRecoveryDeadlineMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CrashRecoveryDeadline = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvDetectorReadyPollMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DetectorReadyPollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvDetectorReadyTimeoutMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DetectorReadyTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.Enabled = true
		c.Redis.URL = v
	}
	if v := os.Getenv(EnvOTELEndpoint); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv(EnvOTELExporter); v != "" {
		c.Telemetry.Enabled = v != "none"
		c.Telemetry.Exporter = v
	}
}

// NewConfig builds a Config with three-layer priority: defaults, then
// XRAYFLOW_* environment variables, then opts, in that order. It validates
// the result and returns an error wrapping ErrInvalidConfiguration or
// ErrMissingConfiguration on failure.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	cfg.loadFromEnv()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = NewProductionLogger(cfg.Telemetry.ServiceName, cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration. It never
// evaluates clinical safety policy itself — only that the configuration is
// well-formed enough for the engine to start.
func (c *Config) Validate() error {
	if c.JournalPath == "" {
		return &EngineError{Op: "Config.Validate", Message: "journal path must not be empty", Err: ErrMissingConfiguration}
	}
	lim := c.SafetyLimits
	if lim.MinKVP <= 0 || lim.MaxKVP <= lim.MinKVP {
		return &EngineError{Op: "Config.Validate", Message: fmt.Sprintf("invalid kvp bounds [%v,%v]", lim.MinKVP, lim.MaxKVP), Err: ErrInvalidConfiguration}
	}
	if lim.MinMA <= 0 || lim.MaxMA <= lim.MinMA {
		return &EngineError{Op: "Config.Validate", Message: fmt.Sprintf("invalid ma bounds [%v,%v]", lim.MinMA, lim.MaxMA), Err: ErrInvalidConfiguration}
	}
	if lim.MaxExposureTimeMs <= 0 {
		return &EngineError{Op: "Config.Validate", Message: "max_exposure_time_ms must be positive", Err: ErrInvalidConfiguration}
	}
	if lim.MaxMAs <= 0 {
		return &EngineError{Op: "Config.Validate", Message: "max_mas must be positive", Err: ErrInvalidConfiguration}
	}
	if c.InterlockQueryTimeout <= 0 {
		return &EngineError{Op: "Config.Validate", Message: "interlock query timeout must be positive", Err: ErrInvalidConfiguration}
	}
	if c.WorklistMaxRetries < 0 || c.ExportMaxRetries < 0 {
		return &EngineError{Op: "Config.Validate", Message: "retry counts must be non-negative", Err: ErrInvalidConfiguration}
	}
	return nil
}
