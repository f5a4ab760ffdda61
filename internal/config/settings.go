package config

import (
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type flagKind int

const (
	noFlag flagKind = iota
	stringFlag
	intFlag
	boolFlag
	floatFlag
	durationFlag
	stringSliceFlag
)

// setting is one configuration key. A non-nil def registers the key with
// viper so env vars reach it; a kind other than noFlag exposes it as a
// command line flag named after the key.
type setting struct {
	key   string
	def   any
	kind  flagKind
	usage string
}

var settings = []setting{
	{"database.dsn", "", stringFlag, "Complete MySQL DSN (user:pass@tcp(host:port)/db)"},
	{"database.dsn_file", "", stringFlag, "Path to file containing database DSN (use @- for stdin)"},
	{"database.mycnf_file", "", stringFlag, "Path to MySQL defaults file (.my.cnf format)"},
	{"database.host", "localhost", stringFlag, "Database host"},
	{"database.port", 4000, intFlag, "Database port"},
	{"database.user", "root", stringFlag, "Database user"},
	{"database.password", "", stringFlag, "Database password"},
	{"database.password_file", "", stringFlag, "Path to file containing database password (use @- for stdin)"},
	{"database.password_prompt", false, boolFlag, "Prompt for database password securely"},
	{"database.database", defaultDatabaseName, stringFlag, "Database name"},

	{"database.tls.mode", "", stringFlag, "TLS mode (off, skip-verify, verify-ca, verify-full)"},
	{"database.tls.ca_file", "", stringFlag, "Path to CA certificate for server verification"},
	{"database.tls.ca_file_env", "", stringFlag, "Env var containing CA certificate path"},
	{"database.tls.cert_file", "", stringFlag, "Path to client certificate for mTLS"},
	{"database.tls.cert_file_env", "", stringFlag, "Env var containing client certificate path"},
	{"database.tls.key_file", "", stringFlag, "Path to client private key for mTLS"},
	{"database.tls.key_file_env", "", stringFlag, "Env var containing client key path"},
	{"database.tls.server_name", "", stringFlag, "Override TLS server name for verification"},

	{"database.pool.max_open", 25, intFlag, "Maximum open database connections"},
	{"database.pool.max_idle", 5, intFlag, "Maximum idle connections in pool"},
	{"database.pool.max_lifetime", 5 * time.Minute, durationFlag, "Connection max lifetime (e.g. 5m, 30s)"},
	{"database.connection_timeout", 60 * time.Second, durationFlag, "Max time to wait for database on startup (0 = fail immediately)"},
	{"database.connection_retry_interval", 2 * time.Second, durationFlag, "Initial interval between connection retries"},

	{"prefetch.max_in_clause", 1000, intFlag, "Maximum parent keys bound into one prefetch statement"},
	{"prefetch.concurrency", 1, intFlag, "Sibling prefetches executed at once (1 = sequential)"},
	{"prefetch.grouping_prefix", "__prefetch", stringFlag, "Prefix for synthetic grouping columns in prefetch statements"},

	{"schema_filters.allow_tables", []string{"*"}, stringSliceFlag, "Table globs visible to fetch plans"},
	{"schema_filters.deny_tables", []string{}, stringSliceFlag, "Table globs hidden from fetch plans"},
	{"schema_filters.scan_views_enabled", false, boolFlag, "Make views visible to fetch plans"},
	{"schema_filters.allow_columns", map[string][]string{"*": {"*"}}, noFlag, ""},
	{"schema_filters.deny_columns", map[string][]string{}, noFlag, ""},

	{"naming.plural_overrides", map[string]string{}, noFlag, ""},
	{"naming.singular_overrides", map[string]string{}, noFlag, ""},

	{"observability.service_name", "tidb-eagerload", stringFlag, "Service name for observability"},
	{"observability.service_version", "", stringFlag, "Service version for observability"},
	{"observability.metrics_enabled", true, boolFlag, "Collect prefetch metrics and log their totals"},
	{"observability.tracing_enabled", false, boolFlag, "Enable distributed tracing"},
	{"observability.trace_sample_ratio", 1.0, floatFlag, "Trace sampling ratio from 0.0 to 1.0"},

	{"observability.logging.level", "info", stringFlag, "Log level (debug, info, warn, error)"},
	{"observability.logging.format", "json", stringFlag, "Log format (json, text)"},
	{"observability.logging.exports_enabled", false, boolFlag, "Enable OTLP log export"},

	{"observability.otlp.endpoint", "localhost:4317", stringFlag, "OTLP endpoint for all signals (e.g., localhost:4317)"},
	{"observability.otlp.protocol", "grpc", stringFlag, "OTLP protocol for all signals (grpc, http/protobuf)"},
	{"observability.otlp.insecure", false, boolFlag, "Use insecure connection (no TLS)"},
	{"observability.otlp.ca_file", "", stringFlag, "Path to CA certificate for OTLP server verification"},
	{"observability.otlp.timeout", 10 * time.Second, durationFlag, "OTLP export timeout"},
	{"observability.otlp.compression", "gzip", stringFlag, "OTLP compression (none, gzip)"},

	// Per-signal overrides stay unset unless given, so Exporter falls back
	// to the global OTLP block.
	{"observability.traces.endpoint", nil, stringFlag, "OTLP endpoint for traces only"},
	{"observability.traces.protocol", nil, stringFlag, "OTLP protocol for traces (grpc, http/protobuf)"},
	{"observability.traces.insecure", nil, boolFlag, "Use insecure connection for traces"},
	{"observability.traces.timeout", nil, durationFlag, "Timeout for trace exports"},
	{"observability.logs.endpoint", nil, stringFlag, "OTLP endpoint for logs only"},
	{"observability.logs.protocol", nil, stringFlag, "OTLP protocol for logs (grpc, http/protobuf)"},
	{"observability.logs.insecure", nil, boolFlag, "Use insecure connection for logs"},
	{"observability.logs.timeout", nil, durationFlag, "Timeout for log exports"},
}

var (
	defineFlagsOnce sync.Once
	settingByKey    = func() map[string]setting {
		m := make(map[string]setting, len(settings))
		for _, s := range settings {
			m[s.key] = s
		}
		return m
	}()
)

// defineFlags registers one flag per setting, named by its canonical
// snake_case key. Flags default to the zero value; only changed flags are
// bound, so file and env values are not shadowed.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		for _, s := range settings {
			switch s.kind {
			case stringFlag:
				pflag.String(s.key, "", s.usage)
			case intFlag:
				pflag.Int(s.key, 0, s.usage)
			case boolFlag:
				pflag.Bool(s.key, false, s.usage)
			case floatFlag:
				pflag.Float64(s.key, 0, s.usage)
			case durationFlag:
				pflag.Duration(s.key, 0, s.usage)
			case stringSliceFlag:
				pflag.StringSlice(s.key, nil, s.usage)
			}
		}
		pflag.StringP("config", "c", "", "Config file path")
	})
}

// setDefaults registers every keyed setting with viper (lowest precedence).
func setDefaults(v *viper.Viper) {
	for _, s := range settings {
		if s.def != nil {
			v.SetDefault(s.key, s.def)
		}
	}
}

// bindChangedFlagsToViper copies explicitly set setting flags into viper,
// preserving precedence: flags > env > file > defaults. Command flags that
// are not settings (config, plan, explain, version) are left alone.
func bindChangedFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		s, ok := settingByKey[f.Name]
		if !ok || s.kind == noFlag {
			return
		}

		var val any
		switch s.kind {
		case stringFlag:
			val, _ = fs.GetString(f.Name)
		case intFlag:
			val, _ = fs.GetInt(f.Name)
		case boolFlag:
			val, _ = fs.GetBool(f.Name)
		case floatFlag:
			val, _ = fs.GetFloat64(f.Name)
		case durationFlag:
			val, _ = fs.GetDuration(f.Name)
		case stringSliceFlag:
			val, _ = fs.GetStringSlice(f.Name)
		}
		v.Set(f.Name, val)
	})
}
