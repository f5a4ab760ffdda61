// Package runapp owns the lifecycle of one eagerload invocation: observability
// providers, the instrumented database handle, schema introspection, and the
// compile-then-fetch run itself.
package runapp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/observability"
)

// App owns runtime resources for one eagerload run. Init acquires them,
// Run uses them and Shutdown releases them.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	// Resolved once in New so Init can log where the database came from.
	effectiveDatabase string
	databaseSource    string
	dsnPresent        bool

	stateMu        sync.Mutex
	initialized    bool
	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	metrics        *observability.PrefetchMetrics
	executor       dbexec.QueryExecutor
	schema         *introspection.Schema
	namer          *naming.Namer
	cleanup        cleanupStack

	shutdownOnce sync.Once
}

// New validates its arguments and resolves the effective database name. It
// acquires nothing.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}
	name, source, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}
	return &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: name,
		databaseSource:    source,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider hands an already running logger provider to the App,
// which shuts it down last.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
