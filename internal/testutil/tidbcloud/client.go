// Package tidbcloud provisions throwaway databases on a TiDB instance for
// integration tests.
package tidbcloud

import (
	"database/sql"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"tidb-eagerload/internal/sqlutil"
)

// maxNameStem leaves room for the "test_" prefix and a millisecond
// timestamp inside MySQL's 64 character identifier limit.
const maxNameStem = 40

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	databaseNameRE  = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)
)

// TestDB is an isolated database created for one test.
type TestDB struct {
	DB           *sql.DB
	DatabaseName string
}

// Config locates the TiDB instance. It is read from TIDB_HOST, TIDB_PORT,
// TIDB_USER, TIDB_USER_PREFIX, TIDB_PASSWORD and TIDB_TLS_MODE.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	TLSMode  string
}

// NewTestDB creates a database named after the test and drops it on cleanup.
// The test is skipped when TIDB_HOST, TIDB_USER or TIDB_PASSWORD is unset.
func NewTestDB(t testing.TB) *TestDB {
	t.Helper()
	cfg, ok := configFromEnv()
	if !ok {
		t.Skip("TiDB credentials not set; export TIDB_HOST, TIDB_USER and TIDB_PASSWORD to run integration tests")
	}

	name := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	require.True(t, isValidDatabaseName(name), "generated database name %q", name)

	admin := open(t, cfg, "information_schema")
	_, err := admin.Exec("CREATE DATABASE IF NOT EXISTS " + sqlutil.QuoteIdentifier(name))
	closeQuietly(t, admin)
	require.NoError(t, err, "create test database %s", name)

	tdb := &TestDB{DB: open(t, cfg, name), DatabaseName: name}
	t.Cleanup(func() { tdb.Teardown(t) })
	return tdb
}

// Teardown drops the test database and closes the connection. Failures are
// logged so cleanup never fails a passing test.
func (tdb *TestDB) Teardown(t testing.TB) {
	t.Helper()
	if tdb.DB == nil {
		return
	}
	if isValidDatabaseName(tdb.DatabaseName) {
		if _, err := tdb.DB.Exec("DROP DATABASE IF EXISTS " + sqlutil.QuoteIdentifier(tdb.DatabaseName)); err != nil {
			t.Logf("drop test database %s: %v", tdb.DatabaseName, err)
		}
	}
	closeQuietly(t, tdb.DB)
	tdb.DB = nil
}

// Exec runs semicolon separated statements. Semicolons inside string
// literals are not supported.
func (tdb *TestDB) Exec(t testing.TB, script string) {
	t.Helper()
	for i, stmt := range splitSQL(script) {
		_, err := tdb.DB.Exec(stmt)
		require.NoError(t, err, "statement %d: %s", i+1, stmt)
	}
}

func open(t testing.TB, cfg Config, database string) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", buildDSN(cfg, database))
	require.NoError(t, err, "open TiDB connection")
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		closeQuietly(t, db)
		require.NoError(t, err, "ping TiDB")
	}
	return db
}

func closeQuietly(t testing.TB, db *sql.DB) {
	if err := db.Close(); err != nil {
		t.Logf("close database connection: %v", err)
	}
}

func configFromEnv() (Config, bool) {
	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	cfg := Config{
		Host:     os.Getenv("TIDB_HOST"),
		Port:     env("TIDB_PORT", "4000"),
		User:     os.Getenv("TIDB_USER"),
		Password: os.Getenv("TIDB_PASSWORD"),
		TLSMode:  env("TIDB_TLS_MODE", "true"),
	}
	// TiDB Cloud Serverless users carry a cluster prefix.
	if prefix := os.Getenv("TIDB_USER_PREFIX"); prefix != "" && !strings.HasPrefix(cfg.User, prefix) {
		cfg.User = prefix + cfg.User
	}
	return cfg, cfg.Host != "" && cfg.User != "" && cfg.Password != ""
}

func buildDSN(cfg Config, database string) string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	dsn.DBName = database
	dsn.ParseTime = true
	dsn.TLSConfig = cfg.TLSMode
	return dsn.FormatDSN()
}

// sanitizeName maps a test name onto identifier characters, truncated to
// maxNameStem.
func sanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	if len(s) > maxNameStem {
		s = s[:maxNameStem]
	}
	return s
}

func isValidDatabaseName(name string) bool {
	return databaseNameRE.MatchString(name)
}

func splitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
