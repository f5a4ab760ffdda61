package runapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/observability"
	"tidb-eagerload/internal/schemafilter"
)

// Init acquires observability providers, connects to the database and
// introspects the schema. Calling it again after success is a no-op. On
// failure everything acquired so far is released.
func (a *App) Init(ctx context.Context) (err error) {
	if a.isInitialized() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cleanup cleanupStack
	defer func() {
		if err != nil {
			cleanup.run(context.Background(), a.logger)
		}
	}()
	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(ctx context.Context) error {
			return a.loggerProvider.Shutdown(ctx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := a.startTelemetry(ctx, &cleanup)
	if err != nil {
		return err
	}
	db, err := a.openDatabase(ctx, &cleanup)
	if err != nil {
		return err
	}
	schema, err := a.loadSchema(ctx, db)
	if err != nil {
		return err
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.executor = dbexec.NewStandardExecutor(db)
	a.schema = schema
	a.namer = naming.New(a.cfg.Naming, a.logger.Logger)
	a.cleanup = cleanup
	a.initialized = true
	return nil
}

func (a *App) isInitialized() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.initialized
}

func (a *App) startTelemetry(ctx context.Context, cleanup *cleanupStack) (*observability.MeterProvider, *observability.PrefetchMetrics, error) {
	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", meterProvider.Shutdown)
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, a.logger.Logger)
		})
	}
	return meterProvider, metrics, nil
}

func (a *App) openDatabase(ctx context.Context, cleanup *cleanupStack) (*sql.DB, error) {
	a.logger.Info("connecting to TiDB",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database_effective", a.effectiveDatabase),
		slog.String("database_source", a.databaseSource),
		slog.Bool("dsn_present", a.dsnPresent),
	)
	db, stats, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(context.Context) error {
		if stats != nil {
			if err := stats.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := prepareDB(ctx, a.cfg.Database, a.logger, db); err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	return db, nil
}

// loadSchema introspects the effective database and narrows it to the
// tables and columns the schema filters allow.
func (a *App) loadSchema(ctx context.Context, db *sql.DB) (*introspection.Schema, error) {
	schema, err := introspection.IntrospectDatabaseContext(ctx, db, a.effectiveDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", a.effectiveDatabase, err)
	}
	introspected := len(schema.Tables)
	schemafilter.Apply(schema, a.cfg.SchemaFilters, a.logger.Logger)
	a.logger.Info("schema introspected",
		slog.String("database", a.effectiveDatabase),
		slog.Int("tables", introspected),
		slog.Int("visible_tables", len(schema.Tables)),
	)
	return schema, nil
}
