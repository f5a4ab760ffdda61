// Package prefetch executes compiled plans: the base statement first, then
// every prefetch bound to the parent keys read from its enclosing batch.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"tidb-eagerload/internal/assemble"
	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/observability"
	"tidb-eagerload/internal/planner"
)

// Options tunes a Fetcher.
type Options struct {
	// MaxInClause caps parent keys per statement; larger key sets are chunked.
	MaxInClause int
	// Concurrency bounds how many prefetch statements are in flight at once
	// across every nesting level of one Load. Values below 2 run siblings one
	// after another in declaration order.
	Concurrency int
	Logger      *logging.Logger
	Metrics     *observability.PrefetchMetrics
}

// Fetcher runs plans through an executor.
type Fetcher struct {
	exec dbexec.QueryExecutor
	opts Options
}

// NewFetcher creates a fetcher with defaults applied to opts.
func NewFetcher(exec dbexec.QueryExecutor, opts Options) *Fetcher {
	if opts.MaxInClause <= 0 {
		opts.MaxInClause = batchMaxInClause
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = &logging.Logger{Logger: slog.Default()}
	}
	return &Fetcher{exec: exec, opts: opts}
}

// Fetch runs every statement of plan and assembles the result. Any executor
// failure aborts the fetch with an *ExecutionError and no partial result.
func (f *Fetcher) Fetch(ctx context.Context, plan *planner.Plan) (*assemble.Result, error) {
	fetched, err := f.Load(ctx, plan)
	if err != nil {
		return nil, err
	}
	return assemble.Assemble(plan, fetched)
}

// Load runs every statement of plan and returns the raw batches.
func (f *Fetcher) Load(ctx context.Context, plan *planner.Plan) (fetched assemble.Fetched, err error) {
	runID := uuid.NewString()
	logger := f.opts.Logger.WithRunID(runID)
	ctx = logging.WithLogger(logging.WithRunIDContext(ctx, runID), logger)

	table := plan.Base.Manifest.Root.Table
	ctx, span := startSpan(ctx, "prefetch.fetch",
		attribute.String("eagerload.run_id", runID),
		attribute.String("eagerload.table", table),
	)
	start := time.Now()
	defer func() {
		finishSpan(span, err)
		if f.opts.Metrics != nil {
			f.opts.Metrics.RecordFetch(ctx, time.Since(start), table, err != nil)
		}
	}()

	base, err := f.execute(ctx, "", plan.Base.SQL, plan.Base.Args, 0)
	if err != nil {
		return assemble.Fetched{}, err
	}

	s := &store{nodes: make(map[string][]dbexec.Batch)}
	if f.opts.Concurrency > 1 {
		s.slots = semaphore.NewWeighted(int64(f.opts.Concurrency))
	}
	if err := f.loadChildren(ctx, plan.Prefetches, []dbexec.Batch{base}, plan.Base.Manifest, s); err != nil {
		return assemble.Fetched{}, err
	}

	logger.Debug("eager load complete",
		slog.String("table", table),
		slog.Int("rows", base.Len()),
		slog.Int("prefetched_nodes", len(s.nodes)),
	)
	return assemble.Fetched{Base: base, Nodes: s.nodes}, nil
}

// store collects the batches of one Load. slots is shared by every level so
// nested fan-out cannot exceed Options.Concurrency.
type store struct {
	mu    sync.Mutex
	nodes map[string][]dbexec.Batch
	slots *semaphore.Weighted
}

func (s *store) put(path string, batches []dbexec.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[path] = batches
}

func (f *Fetcher) loadChildren(ctx context.Context, plans []*planner.PrefetchPlan, parents []dbexec.Batch, manifest *planner.Manifest, s *store) error {
	if f.opts.Concurrency < 2 || len(plans) < 2 {
		for _, p := range plans {
			if err := f.loadNode(ctx, p, parents, manifest, s); err != nil {
				return err
			}
		}
		return nil
	}

	// Slots are held for one statement at a time, never while children load.
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plans {
		g.Go(func() error {
			return f.loadNode(gctx, p, parents, manifest, s)
		})
	}
	return g.Wait()
}

func (f *Fetcher) loadNode(ctx context.Context, p *planner.PrefetchPlan, parents []dbexec.Batch, manifest *planner.Manifest, s *store) error {
	indexes, err := keyIndexes(manifest, p)
	if err != nil {
		return err
	}

	tuples := uniqueParentTuples(parents, indexes)
	if len(tuples) == 0 {
		f.skip(ctx, p)
		return nil
	}

	var batches []dbexec.Batch
	for _, chunk := range chunkParentTuples(tuples, f.opts.MaxInClause) {
		stmt, err := p.Template.Bind(chunk)
		if err != nil {
			return err
		}
		batch, err := f.executeSlot(ctx, s.slots, p.Path, stmt.SQL, stmt.Args, len(chunk))
		if err != nil {
			return err
		}
		batches = append(batches, batch)
	}
	s.put(p.Path, batches)

	return f.loadChildren(ctx, p.Children, batches, p.Template.Manifest(), s)
}

// skip records that p and its descendants issue no statement.
func (f *Fetcher) skip(ctx context.Context, p *planner.PrefetchPlan) {
	logger := logging.FromContext(ctx)
	var walk func(p *planner.PrefetchPlan, reason string)
	walk = func(p *planner.PrefetchPlan, reason string) {
		logger.Debug("skipping prefetch", slog.String("path", p.Path), slog.String("reason", reason))
		if f.opts.Metrics != nil {
			f.opts.Metrics.RecordSkipped(ctx, p.Path, reason)
		}
		for _, child := range p.Children {
			walk(child, "parent_skipped")
		}
	}
	walk(p, "no_parent_keys")
}

func (f *Fetcher) executeSlot(ctx context.Context, slots *semaphore.Weighted, path, query string, args []interface{}, parentKeys int) (dbexec.Batch, error) {
	if slots != nil {
		if err := slots.Acquire(ctx, 1); err != nil {
			return dbexec.Batch{}, err
		}
		defer slots.Release(1)
	}
	return f.execute(ctx, path, query, args, parentKeys)
}

func (f *Fetcher) execute(ctx context.Context, path, query string, args []interface{}, parentKeys int) (batch dbexec.Batch, err error) {
	ctx, span := startSpan(ctx, "prefetch.statement",
		attribute.String("eagerload.path", path),
		attribute.Int("eagerload.parent_keys", parentKeys),
		attribute.Int("eagerload.args", len(args)),
	)
	defer func() { finishSpan(span, err) }()

	logging.FromContext(ctx).Debug("executing statement",
		slog.String("path", path),
		slog.Int("parent_keys", parentKeys),
		slog.Int("args", len(args)),
	)

	batch, err = dbexec.Execute(ctx, f.exec, query, args)
	if err != nil {
		return dbexec.Batch{}, &ExecutionError{Path: path, SQL: query, Err: err}
	}
	span.SetAttributes(attribute.Int("eagerload.rows", batch.Len()))
	if f.opts.Metrics != nil {
		f.opts.Metrics.RecordStatement(ctx, path, parentKeys, batch.Len())
	}
	return batch, nil
}
