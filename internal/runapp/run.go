package runapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"tidb-eagerload/internal/fetchplan"
	"tidb-eagerload/internal/observability"
	"tidb-eagerload/internal/planner"
	"tidb-eagerload/internal/prefetch"
)

// RunOptions selects the fetch plan and what to print for it.
type RunOptions struct {
	PlanPath string
	// Explain prints the compiled statements instead of executing them.
	Explain bool
	Out     io.Writer
}

// Run compiles the fetch plan against the introspected schema, then either
// explains it or executes it and writes the nested records as JSON.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	a.stateMu.Lock()
	initialized := a.initialized
	a.stateMu.Unlock()
	if !initialized {
		return fmt.Errorf("app is not initialized")
	}
	if opts.Out == nil {
		return fmt.Errorf("output writer is required")
	}

	req, err := fetchplan.ParseFile(opts.PlanPath)
	if err != nil {
		return err
	}

	plan, err := planner.Compile(a.schema, req,
		planner.WithGroupingPrefix(a.cfg.Prefetch.GroupingPrefix),
		planner.WithNamer(a.namer),
		planner.WithLogger(a.logger.Logger),
	)
	if err != nil {
		return fmt.Errorf("compile %s: %w", opts.PlanPath, err)
	}

	if opts.Explain {
		text, err := planner.Explain(plan)
		if err != nil {
			return err
		}
		_, err = io.WriteString(opts.Out, text)
		return err
	}

	fetcher := prefetch.NewFetcher(a.executor, prefetch.Options{
		MaxInClause: a.cfg.Prefetch.MaxInClause,
		Concurrency: a.cfg.Prefetch.Concurrency,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
	result, err := fetcher.Fetch(ctx, plan)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(opts.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Records); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	a.logMetricTotals(ctx)
	return nil
}

func (a *App) logMetricTotals(ctx context.Context) {
	if a.meterProvider == nil {
		return
	}
	rm, err := a.meterProvider.Collect(ctx)
	if err != nil {
		a.logger.Warn("failed to collect metrics", slog.String("error", err.Error()))
		return
	}

	totals := observability.Totals(rm)
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	attrs := make([]any, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.Int64(name, totals[name]))
	}
	a.logger.Info("prefetch metrics", attrs...)
}
