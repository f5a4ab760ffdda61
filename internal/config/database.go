package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "tidb-eagerload-custom"

// DSN returns a go-sql-driver/mysql data source name.
// A configured ConnectionString is parsed and normalized; otherwise the DSN is
// built from the discrete fields. parseTime is always enabled and the TLS mode
// is applied unless the connection string already names one.
func (d *DatabaseConfig) DSN() (string, error) {
	var cfg *mysql.Config
	if strings.TrimSpace(d.ConnectionString) != "" {
		parsed, err := mysql.ParseDSN(strings.TrimSpace(d.ConnectionString))
		if err != nil {
			return "", fmt.Errorf("%w: %w", errInvalidDSN, err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true

	if param := d.effectiveTLSParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}

	return cfg.FormatDSN(), nil
}

// EffectiveDatabaseName returns the database whose schema is introspected and
// against which compiled statements run.
func (d *DatabaseConfig) EffectiveDatabaseName() (name string, source string, err error) {
	return resolveEffectiveDatabaseName(d.Database, d.ConnectionString, d.MyCnfFile)
}

var (
	errInvalidDSN           = errors.New("database.dsn is invalid")
	errDatabaseMismatch     = errors.New("database mismatch")
	errMyCnfWithoutDatabase = errors.New("database.mycnf_file does not provide a database name and database.database is not set")
	errNoDatabase           = errors.New("no effective database name configured: set database.database or include /<database> in database.dsn/database.dsn_file or database.mycnf_file")
)

// Sources reported by EffectiveDatabaseName.
const (
	databaseSourceConfig = "database.database"
	databaseSourceMyCnf  = "mycnf"
	databaseSourceDSN    = "dsn"
)

// resolveEffectiveDatabaseName picks the database name, preferring the
// explicit setting. An explicit name must agree with the DSN's path.
func resolveEffectiveDatabaseName(databaseName, connectionString, myCnfFile string) (string, string, error) {
	configured := strings.TrimSpace(databaseName)
	dsn := strings.TrimSpace(connectionString)
	fromMyCnf := strings.TrimSpace(myCnfFile) != "" && dsn == ""

	var fromDSN string
	if dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", errInvalidDSN, err)
		}
		fromDSN = strings.TrimSpace(parsed.DBName)
	}

	switch {
	case configured != "" && fromDSN != "" && configured != fromDSN:
		return "", "", fmt.Errorf("%w: database.database=%q but database.dsn targets %q", errDatabaseMismatch, configured, fromDSN)
	case configured != "" && fromMyCnf:
		return configured, databaseSourceMyCnf, nil
	case configured != "":
		return configured, databaseSourceConfig, nil
	case fromDSN != "":
		return fromDSN, databaseSourceDSN, nil
	case strings.TrimSpace(myCnfFile) != "":
		return "", "", errMyCnfWithoutDatabase
	default:
		return "", "", errNoDatabase
	}
}

// effectiveTLSParam returns the TLS parameter value for the DSN.
// Returns the registered config name for custom TLS, or empty string if no TLS is configured.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch mode := d.TLS.Mode; mode {
	case "":
		return ""
	case "off":
		return "false"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		// skip-verify and anything unknown pass straight to the driver.
		return mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening the database connection when using verify-ca or verify-full modes.
// Returns nil if no custom TLS configuration is needed.
func (d *DatabaseConfig) RegisterTLS() error {
	mode := d.TLS.Mode

	// Only register custom config for modes that need it
	if mode != "verify-ca" && mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}

	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}

	return nil
}

// buildTLSConfig loads the CA pool and optional client key pair for the
// verifying TLS modes.
func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile := resolvePath(d.TLS.CAFile, d.TLS.CAFileEnv); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
		}
		tlsCfg.RootCAs = pool
	}

	certFile := resolvePath(d.TLS.CertFile, d.TLS.CertFileEnv)
	keyFile := resolvePath(d.TLS.KeyFile, d.TLS.KeyFileEnv)
	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}

// resolvePath returns the value of env when it is set and non-empty, else path.
func resolvePath(path, env string) string {
	if env != "" {
		if fromEnv := os.Getenv(env); fromEnv != "" {
			return fromEnv
		}
	}
	return path
}
