package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelTelemetry implements Telemetry with OpenTelemetry traces and metrics.
// The transition executor records an "engine.transition" span per request
// through this type when TelemetryConfig.Enabled is true; with it disabled,
// xrayflow.NewEngine wires a NoOpTelemetry instead and no exporter is ever
// constructed.
type OTelTelemetry struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Float64Counter
	mu         sync.Mutex

	shutdownOnce sync.Once
}

// NewOTelTelemetry builds an OTelTelemetry for the named service.
// cfg.Exporter selects the trace exporter: "otlp" with a non-empty
// cfg.OTLPEndpoint dials that collector over gRPC; any other value
// (including "stdout", "none", or an "otlp" config missing an endpoint)
// falls back to a stdout exporter, so a misconfigured endpoint degrades to
// local trace logging rather than failing engine startup.
func NewOTelTelemetry(cfg TelemetryConfig) (*OTelTelemetry, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("telemetry service name must not be empty")
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.Exporter == "otlp" && cfg.OTLPEndpoint != "" {
		spanExporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp span exporter: %w", err)
		}
	} else {
		spanExporter, err = stdouttrace.New(stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("create stdout span exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &OTelTelemetry{
		tracer:         tp.Tracer(cfg.ServiceName),
		meter:          mp.Meter(cfg.ServiceName),
		traceProvider:  tp,
		metricProvider: mp,
		histograms:     make(map[string]metric.Float64Histogram),
		counters:       make(map[string]metric.Float64Counter),
	}, nil
}

func (o *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric routes by name suffix: "_total"/"_count" to a counter,
// everything else (durations, dose, queue depth) to a histogram. The
// instrument for a given name is created once and cached.
func (o *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	ctx := context.Background()

	if strings.HasSuffix(name, "_total") || strings.HasSuffix(name, "_count") {
		counter := o.counterFor(name)
		if counter != nil {
			counter.Add(ctx, value, metric.WithAttributes(attrs...))
		}
		return
	}
	hist := o.histogramFor(name)
	if hist != nil {
		hist.Record(ctx, value, metric.WithAttributes(attrs...))
	}
}

func (o *OTelTelemetry) counterFor(name string) metric.Float64Counter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c
	}
	c, err := o.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	o.counters[name] = c
	return c
}

func (o *OTelTelemetry) histogramFor(name string) metric.Float64Histogram {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h
	}
	h, err := o.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	o.histograms[name] = h
	return h
}

// Shutdown flushes pending spans/metrics and stops the exporters. Safe to
// call more than once; only the first call does work.
func (o *OTelTelemetry) Shutdown(ctx context.Context) error {
	var shutdownErr error
	o.shutdownOnce.Do(func() {
		if o.traceProvider != nil {
			if err := o.traceProvider.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("shutdown trace provider: %w", err)
			}
		}
		if o.metricProvider != nil {
			if err := o.metricProvider.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("shutdown metric provider: %w", err)
			}
		}
	})
	return shutdownErr
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
