// Package observability provides OpenTelemetry integration for tracing,
// logging and prefetch metrics. Traces and logs are exported over OTLP
// (gRPC or HTTP); metrics are read by a caller-supplied reader.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// shutdownTimeout bounds how long a provider may spend flushing.
const shutdownTimeout = 5 * time.Second

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName      string
	ServiceVersion   string
	TraceSampleRatio float64
	OTLP             OTLPConfig
}

// OTLPConfig holds OTLP exporter options shared by traces and logs.
type OTLPConfig struct {
	Endpoint    string
	Protocol    string
	Insecure    bool
	CAFile      string
	Headers     map[string]string
	Timeout     time.Duration
	Compression string
}

func (c Config) resource() (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("",
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	if ratio <= 0 {
		return sdktrace.NeverSample()
	}
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func shutdownWithin(ctx context.Context, logger *slog.Logger, what string, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown "+what, slog.String("error", err.Error()))
		}
		return err
	}
	if logger != nil {
		logger.Debug(what + " shut down")
	}
	return nil
}

// TracerProvider owns the SDK tracer provider installed as the global one.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider exports spans over OTLP and installs the provider globally.
func InitTracerProvider(ctx context.Context, cfg Config) (*TracerProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	exporter, err := newSpanExporter(ctx, cfg.OTLP)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(samplerFor(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithin(ctx, logger, "tracer provider", tp.provider.Shutdown)
}

// LoggerProvider owns the SDK logger provider that otelslog bridges into.
type LoggerProvider struct {
	provider *log.LoggerProvider
}

// InitLoggerProvider exports log records over OTLP. Hand Provider() to the
// logging package to bridge slog records.
func InitLoggerProvider(ctx context.Context, cfg Config) (*LoggerProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	exporter, err := newLogExporter(ctx, cfg.OTLP)
	if err != nil {
		return nil, err
	}
	return &LoggerProvider{provider: log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)}, nil
}

// Shutdown flushes pending log records.
func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithin(ctx, logger, "logger provider", lp.provider.Shutdown)
}

// Provider returns the underlying logger provider
func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}

// MeterProvider pairs the global meter provider with the manual reader the
// CLI collects from once a fetch completes.
type MeterProvider struct {
	provider *metric.MeterProvider
	reader   *metric.ManualReader
}

// InitMeterProvider installs a meter provider read on demand by Collect.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	mp := &MeterProvider{reader: metric.NewManualReader()}
	mp.provider = metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(mp.reader))
	otel.SetMeterProvider(mp.provider)
	return mp, nil
}

// Collect reads the current value of every instrument.
func (mp *MeterProvider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := mp.reader.Collect(ctx, &rm)
	return rm, err
}

// Shutdown releases the meter provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	return shutdownWithin(ctx, nil, "meter provider", mp.provider.Shutdown)
}
