package runapp

import (
	"context"
	"log/slog"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/observability"
)

// exporterConfig assembles the observability settings for one OTLP signal.
// Metrics are read in process and pass an empty signal.
func exporterConfig(obs config.ObservabilityConfig, signal config.Signal) observability.Config {
	out := observability.Config{
		ServiceName:      obs.ServiceName,
		ServiceVersion:   obs.ServiceVersion,
		TraceSampleRatio: obs.TraceSampleRatio,
	}
	if signal != "" {
		out.OTLP = observability.OTLPConfig(obs.Exporter(signal))
	}
	return out
}

func exporterAttrs(obs config.ObservabilityConfig, signal config.Signal) []any {
	otlp := obs.Exporter(signal)
	return []any{
		slog.String("service_name", obs.ServiceName),
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Bool("insecure", otlp.Insecure),
	}
}

// InitLogger builds the process logger on stderr, keeping stdout for results.
// With log exports enabled the logger also bridges every record to OTLP and
// the returned provider must be shut down by the caller.
func InitLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	obs := cfg.Observability
	logCfg := logging.Config{Level: obs.Logging.Level, Format: obs.Logging.Format}

	var provider *observability.LoggerProvider
	if obs.Logging.ExportsEnabled {
		var err error
		provider, err = observability.InitLoggerProvider(ctx, exporterConfig(obs, config.SignalLogs))
		if err != nil {
			return nil, nil, err
		}
		logCfg.LoggerProvider = provider.Provider()
	}

	logger := logging.NewLogger(logCfg)
	slog.SetDefault(logger.Logger)
	if provider != nil {
		logger.Info("OpenTelemetry log export enabled", exporterAttrs(obs, config.SignalLogs)...)
	}
	return logger, provider, nil
}

// initMetrics returns nil providers when metrics are disabled; the fetcher
// treats nil PrefetchMetrics as a no-op.
func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.PrefetchMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}
	meterProvider, err := observability.InitMeterProvider(exporterConfig(cfg.Observability, ""))
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		_ = meterProvider.Shutdown(context.Background())
		return nil, nil, err
	}
	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	obs := cfg.Observability
	if !obs.TracingEnabled {
		return nil, nil
	}
	attrs := append(exporterAttrs(obs, config.SignalTraces), slog.Float64("sample_ratio", obs.TraceSampleRatio))
	logger.Info("initializing OpenTelemetry tracing", attrs...)
	return observability.InitTracerProvider(ctx, exporterConfig(obs, config.SignalTraces))
}
