package planner

import (
	"fmt"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/predicate"
	"tidb-eagerload/internal/sqlutil"
)

// joinClause renders one JOIN fragment. It implements squirrel.Sqlizer so it
// can be handed to SelectBuilder.JoinClause.
type joinClause struct {
	optional bool
	table    string
	alias    string
	on       predicate.Expr
}

func (j joinClause) ToSql() (string, []interface{}, error) {
	onSQL, args, err := predicate.Render(j.on)
	if err != nil {
		return "", nil, err
	}
	op := "JOIN"
	if j.optional {
		op = "LEFT JOIN"
	}
	return fmt.Sprintf("%s %s ON %s", op, tableRef(j.table, j.alias), onSQL), args, nil
}

// statementBuilder accumulates the column list, joins, ordering and nested
// prefetches of one statement.
type statementBuilder struct {
	compiler   *compiler
	arena      *aliasArena
	qualify    bool
	columns    []string
	joins      []joinClause
	orderBy    []string
	width      int
	prefetches []*PrefetchPlan
}

// newBuilder counts every table the statement rooted at root references and
// prepares an alias arena from those counts.
func (c *compiler) newBuilder(root *node, withPivot bool) *statementBuilder {
	refs := make(map[string]int)
	refs[root.table.Name]++
	if withPivot && root.pivot != nil {
		refs[root.pivot.table.Name]++
	}
	var count func(n *node)
	count = func(n *node) {
		for _, child := range n.children {
			if child.requirement == association.Prefetch {
				continue
			}
			if child.pivot != nil {
				refs[child.pivot.table.Name]++
			}
			refs[child.table.Name]++
			count(child)
		}
	}
	count(root)

	arena := newAliasArena(refs)
	return &statementBuilder{
		compiler: c,
		arena:    arena,
		qualify:  arena.qualified(),
	}
}

func (b *statementBuilder) columnRef(alias, column string) string {
	if b.qualify {
		return sqlutil.QuoteQualified(alias, column)
	}
	return sqlutil.QuoteIdentifier(column)
}

func (b *statementBuilder) keyColumn(alias, column string) predicate.Column {
	if b.qualify {
		return predicate.QCol(alias, column)
	}
	return predicate.Col(column)
}

func (b *statementBuilder) qualifyExpr(expr predicate.Expr, alias string) predicate.Expr {
	if b.qualify {
		return predicate.Qualify(expr, alias)
	}
	return expr
}

// addSegment projects every column of n's table, followed by the synthetic
// grouping columns read from the table aliased groupingTable.
func (b *statementBuilder) addSegment(n *node, alias string, path []string, groupingTable string, grouping []string) *Segment {
	seg := &Segment{
		Path:           path,
		Key:            n.key,
		Table:          n.table.Name,
		Alias:          alias,
		Kind:           n.kind,
		Requirement:    n.requirement,
		Offset:         b.width,
		Columns:        n.table.ColumnNames(),
		GroupingOffset: -1,
	}
	for _, col := range seg.Columns {
		b.columns = append(b.columns, b.columnRef(alias, col))
	}
	b.width += len(seg.Columns)

	if len(grouping) > 0 {
		seg.GroupingOffset = b.width
		seg.GroupingColumns = append([]string(nil), grouping...)
		for _, col := range grouping {
			b.columns = append(b.columns, fmt.Sprintf("%s AS %s",
				b.columnRef(groupingTable, col),
				sqlutil.QuoteIdentifier(groupingAlias(b.compiler.prefix, col))))
		}
		b.width += len(grouping)
	}
	return seg
}

// addChildren folds joined children of n into the statement and compiles
// prefetched children as plans keyed off seg.
func (b *statementBuilder) addChildren(n *node, seg *Segment, alias string) error {
	for _, child := range n.children {
		switch child.requirement {
		case association.RequiredJoin, association.OptionalJoin:
			childAlias, pivotAlias := b.addJoin(child, alias)
			path := append(append([]string(nil), seg.Path...), child.key)
			childSeg := b.addSegment(child, childAlias, path, "", nil)
			seg.Joins = append(seg.Joins, childSeg)
			b.orderBy = append(b.orderBy, b.orderClauses(childAlias, child.ordering)...)
			if child.pivot != nil {
				b.orderBy = append(b.orderBy, b.orderClauses(pivotAlias, child.pivot.ordering)...)
			}
			if err := b.addChildren(child, childSeg, childAlias); err != nil {
				return err
			}
		case association.Prefetch:
			plan, err := b.compiler.prefetchPlan(child, seg.Path)
			if err != nil {
				return err
			}
			b.prefetches = append(b.prefetches, plan)
		default:
			return fmt.Errorf("%w: unknown requirement %s", ErrInvalidAssociation, child.requirement)
		}
	}
	return nil
}

// addJoin emits the JOIN fragments of a joined child and returns the alias of
// the child table and, for pivot children, of the pivot table.
func (b *statementBuilder) addJoin(child *node, parentAlias string) (string, string) {
	optional := child.requirement == association.OptionalJoin

	if child.pivot != nil {
		pivotAlias := b.arena.alias(child.pivot.table.Name, child.pivot.key)
		b.joins = append(b.joins, joinClause{
			optional: optional,
			table:    child.pivot.table.Name,
			alias:    pivotAlias,
			on: predicate.And(
				linkCondition(child.link, parentAlias, pivotAlias),
				predicate.Qualify(child.pivot.filter, pivotAlias),
			),
		})
		alias := b.arena.alias(child.table.Name, child.key)
		b.joins = append(b.joins, joinClause{
			optional: optional,
			table:    child.table.Name,
			alias:    alias,
			on: predicate.And(
				linkCondition(child.pivot.link, pivotAlias, alias),
				predicate.Qualify(child.filter, alias),
			),
		})
		return alias, pivotAlias
	}

	alias := b.arena.alias(child.table.Name, child.key)
	b.joins = append(b.joins, joinClause{
		optional: optional,
		table:    child.table.Name,
		alias:    alias,
		on: predicate.And(
			linkCondition(child.link, parentAlias, alias),
			predicate.Qualify(child.filter, alias),
		),
	})
	return alias, ""
}

func (b *statementBuilder) orderClauses(alias string, ordering []association.Ordering) []string {
	clauses := make([]string, len(ordering))
	for i, o := range ordering {
		clauses[i] = fmt.Sprintf("%s %s", b.columnRef(alias, o.Column), o.Direction)
	}
	return clauses
}

// linkCondition equates every child-side column with its parent-side column,
// child first.
func linkCondition(link introspection.LinkKey, parentAlias, childAlias string) predicate.Expr {
	eqs := make([]predicate.Expr, len(link))
	for i, pair := range link {
		eqs[i] = predicate.Eq(predicate.QCol(childAlias, pair.Child), predicate.QCol(parentAlias, pair.Parent))
	}
	return predicate.And(eqs...)
}

func tableRef(table, alias string) string {
	if alias == "" || alias == table {
		return sqlutil.QuoteIdentifier(table)
	}
	return sqlutil.QuoteIdentifier(table) + " AS " + sqlutil.QuoteIdentifier(alias)
}

// groupingAlias names the synthetic column carrying a copy of a key column.
func groupingAlias(prefix, column string) string {
	return prefix + "_" + column
}
