// Package planner compiles an association request into SQL: one base
// statement with RequiredJoin and OptionalJoin associations folded in as
// joins, and one prefetch template per Prefetch association that is bound to
// the parent keys observed in the enclosing statement's rows.
package planner

import (
	"context"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/naming"
)

// DefaultGroupingPrefix prefixes the synthetic grouping columns of prefetch statements.
const DefaultGroupingPrefix = "__prefetch"

// pathSeparator joins association keys into a PrefetchPlan path. Keys may not
// contain it, so distinct prefetches always have distinct paths.
const pathSeparator = "/"

// Options configures compilation.
type Options struct {
	GroupingPrefix string
	// Namer derives the keys of associations without an explicit key.
	Namer  *naming.Namer
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithGroupingPrefix overrides DefaultGroupingPrefix.
func WithGroupingPrefix(prefix string) Option {
	return func(o *Options) {
		if prefix != "" {
			o.GroupingPrefix = prefix
		}
	}
}

// WithNamer sets the inflection rules for default association keys.
func WithNamer(namer *naming.Namer) Option {
	return func(o *Options) {
		if namer != nil {
			o.Namer = namer
		}
	}
}

// WithLogger sets the logger used for compile decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Statement is a SQL statement with bound args and a manifest of its output columns.
type Statement struct {
	SQL      string
	Args     []interface{}
	Manifest *Manifest
}

// PrefetchPlan loads one Prefetch association.
type PrefetchPlan struct {
	// Path joins the association keys from the base table, e.g. "cs/ds".
	Path  string
	Key   string
	Kind  association.Kind
	Table string
	// ParentSegment locates, within the enclosing statement's manifest, the
	// segment whose rows supply the parent keys.
	ParentSegment []string
	// ParentColumns are the parent-side key columns in link order.
	ParentColumns []string
	Template      *PrefetchTemplate
	// Children are prefetches whose enclosing statement is this one.
	Children []*PrefetchPlan
}

// Plan is a compiled request.
type Plan struct {
	Base       Statement
	Prefetches []*PrefetchPlan
}

// Walk visits every prefetch plan depth first in declaration order.
func (p *Plan) Walk(fn func(plan *PrefetchPlan, depth int)) {
	var walk func(plans []*PrefetchPlan, depth int)
	walk = func(plans []*PrefetchPlan, depth int) {
		for _, plan := range plans {
			fn(plan, depth)
			walk(plan.Children, depth+1)
		}
	}
	walk(p.Prefetches, 0)
}

// Compile resolves req against schema and builds its statements. All key
// resolution and collision checks happen here, before any statement runs.
func Compile(schema *introspection.Schema, req association.Request, opts ...Option) (*Plan, error) {
	options := Options{
		GroupingPrefix: DefaultGroupingPrefix,
		Namer:          naming.Default(),
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	r := &resolver{schema: schema, namer: options.Namer, logger: options.Logger}
	root, err := r.root(req)
	if err != nil {
		return nil, err
	}

	c := &compiler{prefix: options.GroupingPrefix, logger: options.Logger}
	base, prefetches, err := c.baseStatement(root, req)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Base: base, Prefetches: prefetches}
	if options.Logger.Enabled(context.Background(), slog.LevelDebug) {
		var paths []string
		plan.Walk(func(p *PrefetchPlan, _ int) { paths = append(paths, p.Path) })
		options.Logger.Debug("compiled eager-load plan",
			slog.String("table", root.table.Name),
			slog.Int("columns", base.Manifest.Width),
			slog.String("prefetches", strings.Join(paths, ",")),
		)
	}
	return plan, nil
}

type compiler struct {
	prefix string
	logger *slog.Logger
}

func (c *compiler) baseStatement(root *node, req association.Request) (Statement, []*PrefetchPlan, error) {
	b := c.newBuilder(root, false)
	alias := b.arena.root(root.table.Name)
	seg := b.addSegment(root, alias, nil, "", nil)
	b.orderBy = append(b.orderBy, b.orderClauses(alias, root.ordering)...)
	where := b.qualifyExpr(root.filter, alias)
	if err := b.addChildren(root, seg, alias); err != nil {
		return Statement{}, nil, err
	}

	builder := sq.Select(b.columns...).From(tableRef(root.table.Name, alias))
	for _, join := range b.joins {
		builder = builder.JoinClause(join)
	}
	if where != nil {
		builder = builder.Where(where)
	}
	if len(b.orderBy) > 0 {
		builder = builder.OrderBy(b.orderBy...)
	}
	limit, offset := req.LimitOffset()
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return Statement{}, nil, err
	}
	return Statement{
		SQL:      query,
		Args:     args,
		Manifest: &Manifest{Root: seg, Width: b.width},
	}, b.prefetches, nil
}

func (c *compiler) prefetchPlan(n *node, parentSegment []string) (*PrefetchPlan, error) {
	tmpl, children, err := c.template(n)
	if err != nil {
		return nil, err
	}
	return &PrefetchPlan{
		Path:          strings.Join(n.path, pathSeparator),
		Key:           n.key,
		Kind:          n.kind,
		Table:         n.table.Name,
		ParentSegment: append([]string(nil), parentSegment...),
		ParentColumns: n.link.ParentColumns(),
		Template:      tmpl,
		Children:      children,
	}, nil
}
