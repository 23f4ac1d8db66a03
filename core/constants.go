package core

import "time"

// Version is reported in the telemetry resource attributes attached to
// every span and metric this package exports.
const Version = "0.1.0"

// Environment variable names recognized by Config.loadFromEnv (applied by
// NewConfig).
const (
	EnvJournalPath            = "XRAYFLOW_JOURNAL_PATH"
	EnvProtocolDBPath         = "XRAYFLOW_PROTOCOL_DB_PATH"
	EnvWorklistMaxRetries     = "XRAYFLOW_WORKLIST_MAX_RETRIES"
	EnvExportMaxRetries       = "XRAYFLOW_EXPORT_MAX_RETRIES"
	EnvInterlockTimeoutMs     = "XRAYFLOW_INTERLOCK_QUERY_TIMEOUT_MS"
	EnvTriggerLatencyMs       = "XRAYFLOW_EXPOSURE_TRIGGER_LATENCY_BUDGET_MS"
	EnvMidExposurePollMs      = "XRAYFLOW_MID_EXPOSURE_POLL_MS"
	EnvRecoveryDeadlineMs     = "XRAYFLOW_CRASH_RECOVERY_DEADLINE_MS"
	EnvDetectorReadyPollMs    = "XRAYFLOW_DETECTOR_READY_POLL_MS"
	EnvDetectorReadyTimeoutMs = "XRAYFLOW_DETECTOR_READY_TIMEOUT_MS"
	EnvLogLevel               = "XRAYFLOW_LOG_LEVEL"
	EnvLogFormat              = "XRAYFLOW_LOG_FORMAT"
	EnvRedisURL               = "XRAYFLOW_REDIS_URL"
	EnvOTELEndpoint           = "XRAYFLOW_OTEL_ENDPOINT"
	EnvOTELExporter           = "XRAYFLOW_OTEL_EXPORTER"
	EnvDeviceID               = "XRAYFLOW_DEVICE_ID"
)

// Default interlock and timing budgets, matching spec.md §6's configuration
// surface. These are defaults, not hard-coded clinical policy — every one is
// overridable via Config options or environment variables.
const (
	DefaultInterlockQueryTimeout        = 10 * time.Millisecond
	DefaultExposureTriggerLatencyBudget = 200 * time.Millisecond
	DefaultMidExposurePollInterval      = 100 * time.Millisecond
	DefaultCrashRecoveryDeadline        = 5 * time.Second
	DefaultWorklistMaxRetries           = 3
	DefaultExportMaxRetries             = 3
	DefaultProtocolLookupBudget         = 50 * time.Millisecond

	// DefaultDetectorReadyPollInterval and DefaultDetectorReadyTimeout bound
	// the T-07 pre-trigger readiness poll (spec §4.2: "detector not ready ->
	// remain, start up-to-30s readiness poll").
	DefaultDetectorReadyPollInterval = 200 * time.Millisecond
	DefaultDetectorReadyTimeout      = 30 * time.Second
)
