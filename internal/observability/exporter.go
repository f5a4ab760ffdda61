package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	}
	return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
}

// exportTarget is an OTLPConfig with its protocol parsed and its TLS
// material loaded, ready to be turned into exporter options for any signal.
type exportTarget struct {
	OTLPConfig
	protocol otlpProtocol
	// url is set when Endpoint carries a scheme; the HTTP exporters then
	// take it whole instead of as host:port.
	url  bool
	tls  *tls.Config
	gzip bool
}

func resolveTarget(cfg OTLPConfig) (exportTarget, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return exportTarget{}, err
	}
	target := exportTarget{
		OTLPConfig: cfg,
		protocol:   protocol,
		url:        strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		gzip:       cfg.Compression == "gzip",
	}
	if !cfg.Insecure {
		if target.tls, err = loadTLSConfig(cfg.CAFile); err != nil {
			return exportTarget{}, err
		}
	}
	return target, nil
}

func loadTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse OTLP TLS CA file %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// appendIf adds opt() when cond holds.
func appendIf[T any](opts []T, cond bool, opt func() T) []T {
	if cond {
		return append(opts, opt())
	}
	return opts
}

func (t exportTarget) traceGRPC() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.Endpoint)}
	if t.tls == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
	}
	opts = appendIf(opts, len(t.Headers) > 0, func() otlptracegrpc.Option { return otlptracegrpc.WithHeaders(t.Headers) })
	opts = appendIf(opts, t.Timeout > 0, func() otlptracegrpc.Option { return otlptracegrpc.WithTimeout(t.Timeout) })
	return appendIf(opts, t.gzip, func() otlptracegrpc.Option { return otlptracegrpc.WithCompressor("gzip") })
}

func (t exportTarget) traceHTTP() []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if t.url {
		opts = append(opts, otlptracehttp.WithEndpointURL(t.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(t.Endpoint))
	}
	if t.tls == nil {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(t.tls))
	}
	opts = appendIf(opts, len(t.Headers) > 0, func() otlptracehttp.Option { return otlptracehttp.WithHeaders(t.Headers) })
	opts = appendIf(opts, t.Timeout > 0, func() otlptracehttp.Option { return otlptracehttp.WithTimeout(t.Timeout) })
	return appendIf(opts, t.gzip, func() otlptracehttp.Option { return otlptracehttp.WithCompression(otlptracehttp.GzipCompression) })
}

func (t exportTarget) logGRPC() []otlploggrpc.Option {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(t.Endpoint)}
	if t.tls == nil {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
	}
	opts = appendIf(opts, len(t.Headers) > 0, func() otlploggrpc.Option { return otlploggrpc.WithHeaders(t.Headers) })
	opts = appendIf(opts, t.Timeout > 0, func() otlploggrpc.Option { return otlploggrpc.WithTimeout(t.Timeout) })
	return appendIf(opts, t.gzip, func() otlploggrpc.Option { return otlploggrpc.WithCompressor("gzip") })
}

func (t exportTarget) logHTTP() []otlploghttp.Option {
	var opts []otlploghttp.Option
	if t.url {
		opts = append(opts, otlploghttp.WithEndpointURL(t.Endpoint))
	} else {
		opts = append(opts, otlploghttp.WithEndpoint(t.Endpoint))
	}
	if t.tls == nil {
		opts = append(opts, otlploghttp.WithInsecure())
	} else {
		opts = append(opts, otlploghttp.WithTLSClientConfig(t.tls))
	}
	opts = appendIf(opts, len(t.Headers) > 0, func() otlploghttp.Option { return otlploghttp.WithHeaders(t.Headers) })
	opts = appendIf(opts, t.Timeout > 0, func() otlploghttp.Option { return otlploghttp.WithTimeout(t.Timeout) })
	return appendIf(opts, t.gzip, func() otlploghttp.Option { return otlploghttp.WithCompression(otlploghttp.GzipCompression) })
}

func newSpanExporter(ctx context.Context, cfg OTLPConfig) (sdktrace.SpanExporter, error) {
	target, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}
	var exporter sdktrace.SpanExporter
	if target.protocol == otlpProtocolHTTP {
		exporter, err = otlptracehttp.New(ctx, target.traceHTTP()...)
	} else {
		exporter, err = otlptracegrpc.New(ctx, target.traceGRPC()...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP %s trace exporter: %w", target.protocol, err)
	}
	return exporter, nil
}

func newLogExporter(ctx context.Context, cfg OTLPConfig) (log.Exporter, error) {
	target, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}
	var exporter log.Exporter
	if target.protocol == otlpProtocolHTTP {
		exporter, err = otlploghttp.New(ctx, target.logHTTP()...)
	} else {
		exporter, err = otlploggrpc.New(ctx, target.logGRPC()...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP %s log exporter: %w", target.protocol, err)
	}
	return exporter, nil
}
