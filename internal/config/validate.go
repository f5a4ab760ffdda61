package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"

	"tidb-eagerload/internal/naming"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warn(field, hint, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// oneOf records an error on field unless value is among allowed.
func (r *ValidationResult) oneOf(field, what, value string, allowed ...string) {
	if slices.Contains(allowed, value) {
		return
	}
	var listed []string
	for _, a := range allowed {
		if a != "" {
			listed = append(listed, a)
		}
	}
	r.fail(field, "valid values are: "+strings.Join(listed, ", "), "invalid %s %q", what, value)
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues). Database
// settings are normalized in place: my.cnf values fill empty fields and the
// effective database name is stored in Database.Database.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Prefetch.validate(result)
	c.Observability.validate(result)
	validateNamingConfig(result, c.Naming)
	validateGlobList(result, "schema_filters.allow_tables", c.SchemaFilters.AllowTables)
	validateGlobList(result, "schema_filters.deny_tables", c.SchemaFilters.DenyTables)
	validatePatternMap(result, "schema_filters.allow_columns", c.SchemaFilters.AllowColumns)
	validatePatternMap(result, "schema_filters.deny_columns", c.SchemaFilters.DenyColumns)

	return result
}

var groupingPrefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (p *PrefetchConfig) validate(result *ValidationResult) {
	switch {
	case p.MaxInClause < 1:
		result.fail("prefetch.max_in_clause", "", "max_in_clause must be at least 1, got %d", p.MaxInClause)
	case p.MaxInClause > 65535:
		result.warn("prefetch.max_in_clause",
			"compound keys bind one placeholder per column per parent; keep this well below 65535",
			"max_in_clause %d exceeds the server placeholder limit", p.MaxInClause)
	}

	if p.Concurrency < 1 {
		result.fail("prefetch.concurrency", "use 1 to run sibling prefetches sequentially",
			"concurrency must be at least 1, got %d", p.Concurrency)
	}

	if !groupingPrefixPattern.MatchString(p.GroupingPrefix) {
		result.fail("prefetch.grouping_prefix", "use letters, digits and underscores, starting with a letter or underscore",
			"invalid grouping prefix %q", p.GroupingPrefix)
	}
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	validateOverrides(result, "naming.plural_overrides", cfg.PluralOverrides)
	validateOverrides(result, "naming.singular_overrides", cfg.SingularOverrides)
}

func validateOverrides(result *ValidationResult, field string, overrides map[string]string) {
	for from, to := range overrides {
		switch {
		case strings.TrimSpace(from) == "":
			result.fail(field, "", "override key cannot be empty")
		case strings.TrimSpace(to) == "":
			result.fail(field, "", "override for %q cannot be empty", from)
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	d.mergeMyCnf(result)

	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.fail("database.port", "", "port %d is out of valid range (1-65535)", d.Port)
	}

	d.TLS.validate(result)
	d.Pool.validate(result)
	d.validateRetry(result)

	effectiveDatabase, _, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString, d.MyCnfFile)
	switch {
	case err == nil:
		d.Database = effectiveDatabase
	case errors.Is(err, errInvalidDSN):
		result.fail("database.dsn", "set a valid MySQL DSN in database.dsn/database.dsn_file", "%v", err)
	case errors.Is(err, errMyCnfWithoutDatabase):
		result.fail("database.mycnf_file", "set a valid my.cnf file and include [client] database or database.database", "%v", err)
	case errors.Is(err, errDatabaseMismatch):
		result.fail("database.database", "either remove database.database or set it to match the DSN/my.cnf database", "%v", err)
	default:
		result.fail("database.database", "set database.database or include a /database in database.dsn/database.dsn_file or database.mycnf_file", "%v", err)
	}
}

// mergeMyCnf fills empty connection fields from the my.cnf file.
func (d *DatabaseConfig) mergeMyCnf(result *ValidationResult) {
	if strings.TrimSpace(d.MyCnfFile) == "" {
		return
	}
	if strings.TrimSpace(d.ConnectionString) != "" || strings.TrimSpace(d.ConnectionStringFile) != "" {
		result.fail("database.mycnf_file", "set either mycnf_file or dsn/dsn_file, not both",
			"mycnf_file is mutually exclusive with dsn/dsn_file")
	}

	settings, err := parseMyCnfFile(d.MyCnfFile)
	if err != nil {
		result.fail("database.mycnf_file", "provide a valid MySQL defaults file with [client] settings",
			"failed to parse my.cnf file: %v", err)
		return
	}

	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	fill(&d.Host, settings.Host)
	fill(&d.User, settings.User)
	fill(&d.Password, settings.Password)
	fill(&d.TLS.Mode, settings.TLSMode)
	if d.Port == 0 && settings.HasPort {
		d.Port = settings.Port
	}

	if !settings.HasDBName {
		return
	}
	switch strings.TrimSpace(d.Database) {
	case "":
		d.Database = settings.Database
	case settings.Database:
	default:
		result.fail("database.database", "either remove database.database or set it to match my.cnf database",
			"database mismatch: database.database=%q but database.mycnf_file targets %q", d.Database, settings.Database)
	}
}

func (p *PoolConfig) validate(result *ValidationResult) {
	if p.MaxOpen < 0 {
		result.fail("database.pool.max_open", "", "max_open cannot be negative")
	}
	if p.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "", "max_idle cannot be negative")
	}
	if p.MaxOpen > 0 && p.MaxIdle > p.MaxOpen {
		result.warn("database.pool.max_idle", "idle connections will be limited to max_open", "max_idle is greater than max_open")
	}
}

func (d *DatabaseConfig) validateRetry(result *ValidationResult) {
	timeout, interval := d.ConnectionTimeout, d.ConnectionRetryInterval
	if timeout < 0 {
		result.fail("database.connection_timeout", "", "connection_timeout cannot be negative")
	}
	switch {
	case interval < 0:
		result.fail("database.connection_retry_interval", "", "connection_retry_interval cannot be negative")
	case timeout > 0 && interval == 0:
		result.fail("database.connection_retry_interval",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
			"connection_retry_interval must be greater than 0 when connection_timeout is set")
	case timeout > 0 && interval > timeout:
		result.warn("database.connection_retry_interval", "only one connection attempt will be made",
			"connection_retry_interval is greater than connection_timeout")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	result.oneOf("database.tls.mode", "TLS mode", t.Mode, "", "off", "skip-verify", "verify-ca", "verify-full")

	verifying := t.Mode == "verify-ca" || t.Mode == "verify-full"
	if verifying && resolvePath(t.CAFile, t.CAFileEnv) == "" {
		result.fail("database.tls.ca_file", "set ca_file or ca_file_env to specify the CA certificate",
			"CA file is required for verify-ca and verify-full modes")
	}

	hasCert := resolvePath(t.CertFile, t.CertFileEnv) != ""
	hasKey := resolvePath(t.KeyFile, t.KeyFileEnv) != ""
	if hasCert != hasKey {
		result.fail("database.tls.cert_file", "provide both cert_file and key_file, or neither",
			"both cert_file and key_file must be specified for client certificate authentication")
	}

	if t.Mode == "skip-verify" {
		result.warn("database.tls.mode", "use verify-ca or verify-full in production",
			"skip-verify mode does not verify server certificates")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	result.oneOf("observability.logging.level", "log level", o.Logging.Level, "debug", "info", "warn", "error")
	result.oneOf("observability.logging.format", "log format", o.Logging.Format, "json", "text")

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", "", "trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	result.oneOf(prefix+".protocol", "OTLP protocol", o.Protocol, "", "grpc", "http/protobuf")
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}
	result.oneOf(prefix+".compression", "OTLP compression", o.Compression, "", "none", "gzip")
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		return err == nil && parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

// checkGlob reports why pattern cannot be used as a schema filter glob.
func checkGlob(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("cannot be empty")
	}
	_, err := path.Match(strings.ToLower(pattern), "table")
	return err
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if err := checkGlob(pattern); err != nil {
			result.fail(field, "", "invalid glob pattern %q: %v", pattern, err)
		}
	}
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if err := checkGlob(tablePattern); err != nil {
			result.fail(field, "", "invalid table glob pattern %q: %v", tablePattern, err)
			continue
		}
		for _, columnPattern := range columnPatterns {
			if err := checkGlob(columnPattern); err != nil {
				result.fail(field, "", "invalid column glob pattern %q for table %q: %v", columnPattern, tablePattern, err)
			}
		}
	}
}
