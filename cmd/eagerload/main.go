// Command eagerload compiles a YAML fetch plan against a TiDB schema and
// prints the nested result as JSON, or the compiled statements with --explain.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/runapp"

	"github.com/spf13/pflag"
)

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

var (
	showVersion = pflag.Bool("version", false, "Print version and exit")
	planPath    = pflag.StringP("plan", "p", "", "Fetch plan file (YAML)")
	explain     = pflag.Bool("explain", false, "Print the compiled statements instead of executing them")
)

func main() {
	if err := run(); err != nil {
		slog.Error("eagerload failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// config.Load parses the command line, including the flags above.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *showVersion {
		fmt.Printf("eagerload %s (%s)\n", Version, Commit)
		return nil
	}
	if *planPath == "" {
		return errors.New("--plan is required")
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}
	if err := checkConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, loggerProvider, err := runapp.InitLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	app, err := runapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Shutdown(ctx)
	}()

	if err := app.Init(ctx); err != nil {
		return err
	}
	return app.Run(ctx, runapp.RunOptions{PlanPath: *planPath, Explain: *explain, Out: os.Stdout})
}

// checkConfig logs every validation finding and fails if any is an error.
func checkConfig(cfg *config.Config) error {
	result := cfg.Validate()
	for _, w := range result.Warnings {
		slog.Warn("configuration warning", slog.String("field", w.Field), slog.String("message", w.Message), slog.String("hint", w.Hint))
	}
	for _, e := range result.Errors {
		slog.Error("configuration error", slog.String("field", e.Field), slog.String("message", e.Message), slog.String("hint", e.Hint))
	}
	if result.HasErrors() {
		return fmt.Errorf("configuration validation failed with %d error(s)", len(result.Errors))
	}
	return nil
}
