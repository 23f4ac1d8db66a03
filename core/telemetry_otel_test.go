package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOTelTelemetryStdoutFallback(t *testing.T) {
	tel, err := NewOTelTelemetry(TelemetryConfig{Enabled: true, Exporter: "otlp", ServiceName: "xrayengine-test"})
	require.NoError(t, err, "missing OTLPEndpoint must fall back to stdout, not fail construction")
	require.NotNil(t, tel)
	defer tel.Shutdown(context.Background())

	ctx, span := tel.StartSpan(context.Background(), "unit-test-span")
	require.NotNil(t, span)
	span.SetAttribute("study_instance_uid", "STU-1")
	span.End()
	_ = ctx
}

func TestNewOTelTelemetryRejectsEmptyServiceName(t *testing.T) {
	_, err := NewOTelTelemetry(TelemetryConfig{Enabled: true, Exporter: "stdout", ServiceName: ""})
	require.Error(t, err)
}

func TestOTelTelemetryRecordMetricRoutesByNameSuffix(t *testing.T) {
	tel, err := NewOTelTelemetry(TelemetryConfig{Enabled: true, Exporter: "stdout", ServiceName: "xrayengine-test"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	tel.RecordMetric("transitions_total", 1, map[string]string{"trigger": "PatientConfirmed"})
	tel.RecordMetric("interlock_query_duration_ms", 4.2, nil)

	assert.NotNil(t, tel.counterFor("transitions_total"))
	assert.NotNil(t, tel.histogramFor("interlock_query_duration_ms"))
}

func TestOTelTelemetryShutdownIdempotent(t *testing.T) {
	tel, err := NewOTelTelemetry(TelemetryConfig{Enabled: true, Exporter: "stdout", ServiceName: "xrayengine-test"})
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
}
