package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-eagerload/internal/predicate"
	"tidb-eagerload/internal/sqlutil"
)

// PrefetchTemplate is a prefetch statement waiting for its parent keys.
type PrefetchTemplate struct {
	table   string
	from    string
	columns []string
	// pivot is the join to the pivot table; the key condition is ANDed into its ON clause.
	pivot *joinClause
	joins []joinClause
	where predicate.Expr
	// keyColumns receive the parent key values.
	keyColumns []predicate.Column
	orderBy    []string
	limit      int
	prefix     string
	manifest   *Manifest
}

// Manifest describes the output columns of every statement bound from the template.
func (t *PrefetchTemplate) Manifest() *Manifest {
	return t.manifest
}

// KeyWidth is the number of columns in the parent key.
func (t *PrefetchTemplate) KeyWidth() int {
	return len(t.keyColumns)
}

// Bind restricts the template to the given parent keys. A single-column key
// becomes an IN list and a compound key an OR of ANDed equalities, both in
// the order given.
func (t *PrefetchTemplate) Bind(tuples []ParentTuple) (Statement, error) {
	cond, err := keyCondition(t.keyColumns, tuples)
	if err != nil {
		return Statement{}, err
	}
	return t.render(cond)
}

func (t *PrefetchTemplate) render(keyCond predicate.Expr) (Statement, error) {
	where := t.where
	var joins []joinClause
	if t.pivot != nil {
		pivot := *t.pivot
		pivot.on = predicate.And(pivot.on, keyCond)
		joins = append(joins, pivot)
	} else {
		where = predicate.And(where, keyCond)
	}
	joins = append(joins, t.joins...)

	builder := sq.Select(t.columns...).From(t.from)
	for _, join := range joins {
		builder = builder.JoinClause(join)
	}
	if where != nil {
		builder = builder.Where(where)
	}

	if t.limit > 0 {
		return t.renderWindow(builder)
	}

	if len(t.orderBy) > 0 {
		builder = builder.OrderBy(t.orderBy...)
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: query, Args: args, Manifest: t.manifest}, nil
}

func (c *compiler) template(n *node) (*PrefetchTemplate, []*PrefetchPlan, error) {
	b := c.newBuilder(n, true)
	alias := b.arena.root(n.table.Name)

	t := &PrefetchTemplate{
		table:  n.table.Name,
		from:   tableRef(n.table.Name, alias),
		limit:  n.limit,
		prefix: c.prefix,
	}

	groupingTable := alias
	var pivotAlias string
	if n.pivot != nil {
		pivotAlias = b.arena.alias(n.pivot.table.Name, n.pivot.key)
		groupingTable = pivotAlias
		t.pivot = &joinClause{
			table: n.pivot.table.Name,
			alias: pivotAlias,
			on: predicate.And(
				linkCondition(n.pivot.link.Reversed(), alias, pivotAlias),
				b.qualifyExpr(n.pivot.filter, pivotAlias),
			),
		}
	}

	grouping := n.link.ChildColumns()
	for _, col := range grouping {
		t.keyColumns = append(t.keyColumns, b.keyColumn(groupingTable, col))
	}

	seg := b.addSegment(n, alias, nil, groupingTable, grouping)
	b.orderBy = append(b.orderBy, b.orderClauses(alias, n.ordering)...)
	if n.pivot != nil {
		b.orderBy = append(b.orderBy, b.orderClauses(pivotAlias, n.pivot.ordering)...)
	}
	t.where = b.qualifyExpr(n.filter, alias)
	if err := b.addChildren(n, seg, alias); err != nil {
		return nil, nil, err
	}

	t.columns = b.columns
	t.joins = b.joins
	t.orderBy = b.orderBy
	t.manifest = &Manifest{Root: seg, Width: b.width}

	if t.limit > 0 && len(t.orderBy) == 0 {
		pk, err := resolveOrdering(n.table, nil, true)
		if err != nil {
			return nil, nil, err
		}
		t.orderBy = b.orderClauses(alias, pk)
	}
	return t, b.prefetches, nil
}

// keyCondition restricts key columns to the given tuples.
func keyCondition(columns []predicate.Column, tuples []ParentTuple) (predicate.Expr, error) {
	width := len(columns)
	if width == 0 {
		return nil, fmt.Errorf("parent key requires at least one column")
	}
	for _, tuple := range tuples {
		if len(tuple.Values) != width {
			return nil, fmt.Errorf("tuple width mismatch: expected %d values, got %d", width, len(tuple.Values))
		}
	}

	if width == 1 {
		values := make([]interface{}, len(tuples))
		for i, tuple := range tuples {
			values[i] = tuple.Values[0]
		}
		return predicate.In(columns[0], values...), nil
	}

	if len(tuples) == 0 {
		return predicate.False(), nil
	}
	disjuncts := make([]predicate.Expr, len(tuples))
	for i, tuple := range tuples {
		eqs := make([]predicate.Expr, width)
		for j, col := range columns {
			eqs[j] = predicate.Eq(col, predicate.Value(tuple.Values[j]))
		}
		disjuncts[i] = predicate.And(eqs...)
	}
	return predicate.Or(disjuncts...), nil
}

// explainKeyCondition stands in for the key condition when a template is
// rendered without parent keys.
func explainKeyCondition(columns []predicate.Column) predicate.Expr {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlutil.QuoteQualified(col.Qualifier, col.Name)
	}
	if len(quoted) == 1 {
		return predicate.Raw(quoted[0] + " IN (...)")
	}
	return predicate.Raw("(" + strings.Join(quoted, ", ") + ") IN (...)")
}
