package runapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/logging"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// maxRetryInterval caps the backoff between startup pings.
const maxRetryInterval = 30 * time.Second

type unregisterer interface{ Unregister() error }

// connectDB opens the TiDB handle. When metrics or tracing are on the
// driver is wrapped by otelsql; the returned unregisterer is non-nil only
// when pool stats metrics were registered.
func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, unregisterer, error) {
	// verify-ca and verify-full reference a named TLS config inside the DSN.
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, nil, err
	}

	obs := cfg.Observability
	if !obs.MetricsEnabled && !obs.TracingEnabled {
		db, err := sql.Open("mysql", dsn)
		return db, nil, err
	}

	opts := []otelsql.Option{otelsql.WithAttributes(semconv.DBSystemMySQL)}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	db, err := otelsql.Open("mysql", dsn, opts...)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("database instrumentation enabled",
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
	)
	if !obs.MetricsEnabled {
		return db, nil, nil
	}

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
	if err != nil {
		logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		return db, nil, nil
	}
	return db, reg, nil
}

// prepareDB applies pool limits and blocks until the database answers.
func prepareDB(ctx context.Context, dbCfg config.DatabaseConfig, logger *logging.Logger, db *sql.DB) error {
	db.SetMaxOpenConns(dbCfg.Pool.MaxOpen)
	db.SetMaxIdleConns(dbCfg.Pool.MaxIdle)
	db.SetConnMaxLifetime(dbCfg.Pool.MaxLifetime)
	return waitForDatabase(ctx, dbCfg.ConnectionTimeout, dbCfg.ConnectionRetryInterval, logger, db)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// waitForDatabase pings until the database answers or timeout elapses,
// doubling the interval after each failure up to maxRetryInterval. A zero
// timeout pings exactly once.
func waitForDatabase(ctx context.Context, timeout, interval time.Duration, logger *logging.Logger, db pinger) error {
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := db.PingContext(ctx)
		switch {
		case err == nil:
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		case time.Now().After(deadline):
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(interval*2, maxRetryInterval)
	}
}
