// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"maps"
	"time"

	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/schemafilter"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Prefetch      PrefetchConfig      `mapstructure:"prefetch"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
	SchemaFilters schemafilter.Config `mapstructure:"schema_filters"`
}

// PrefetchConfig controls how association prefetches are batched and run.
type PrefetchConfig struct {
	// MaxInClause caps parent keys bound into one prefetch statement.
	MaxInClause int `mapstructure:"max_in_clause"`
	// Concurrency bounds sibling prefetches executed at once. 1 runs them in order.
	Concurrency int `mapstructure:"concurrency"`
	// GroupingPrefix names the synthetic grouping columns (<prefix>_<column>).
	GroupingPrefix string `mapstructure:"grouping_prefix"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig configures the connection to TiDB over TLS, including
// client certificates. Each file may instead be named by an env var.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca (no hostname check) or
	// verify-full.
	Mode string `mapstructure:"mode"`

	CAFile    string `mapstructure:"ca_file"`
	CAFileEnv string `mapstructure:"ca_file_env"`

	CertFile    string `mapstructure:"cert_file"`
	CertFileEnv string `mapstructure:"cert_file_env"`

	KeyFile    string `mapstructure:"key_file"`
	KeyFileEnv string `mapstructure:"key_file_env"`

	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a go-sql-driver/mysql DSN. It replaces the
	// host, port, user, password and database fields when set.
	ConnectionString     string `mapstructure:"dsn"`
	ConnectionStringFile string `mapstructure:"dsn_file"` // "@-" reads stdin
	// MyCnfFile is read for [client] options; database may also come from [mysql].
	MyCnfFile string `mapstructure:"mycnf_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout bounds the startup wait for the database; retries
	// begin at ConnectionRetryInterval and back off.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

const defaultDatabaseName = "test"

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	OTLP OTLPConfig `mapstructure:"otlp"`
	// Traces and Logs override OTLP per signal; see Exporter.
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig is one OTLP export destination.
type OTLPConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure    bool              `mapstructure:"insecure"`
	CAFile      string            `mapstructure:"ca_file"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Compression string            `mapstructure:"compression"` // "none", "gzip"
}

// Signal names an OTLP export stream with its own optional override block.
type Signal string

const (
	SignalTraces Signal = "traces"
	SignalLogs   Signal = "logs"
)

// Exporter returns the OTLP settings for one signal: the global otlp block
// with the signal's override laid over it.
func (c *ObservabilityConfig) Exporter(signal Signal) OTLPConfig {
	override := c.Traces
	if signal == SignalLogs {
		override = c.Logs
	}
	if override == nil {
		return c.OTLP
	}
	return c.OTLP.overlay(*override)
}

// overlay returns o with every non-zero field of top replacing it. Headers
// are merged key by key. Insecure has no unset state, so top's value wins.
func (o OTLPConfig) overlay(top OTLPConfig) OTLPConfig {
	pick := func(base, over string) string {
		if over != "" {
			return over
		}
		return base
	}
	out := o
	out.Endpoint = pick(o.Endpoint, top.Endpoint)
	out.Protocol = pick(o.Protocol, top.Protocol)
	out.CAFile = pick(o.CAFile, top.CAFile)
	out.Compression = pick(o.Compression, top.Compression)
	out.Insecure = top.Insecure
	if top.Timeout != 0 {
		out.Timeout = top.Timeout
	}
	if top.Headers != nil {
		out.Headers = maps.Clone(o.Headers)
		if out.Headers == nil {
			out.Headers = make(map[string]string, len(top.Headers))
		}
		maps.Copy(out.Headers, top.Headers)
	}
	return out
}
