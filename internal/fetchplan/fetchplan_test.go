package fetchplan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/planner"
	"tidb-eagerload/internal/predicate"
	"tidb-eagerload/internal/testutil/fixtures"
)

const abcdPlan = `
table: a
order_by_primary_key: true
where:
  - {column: cola1, op: "<>", value: 3}
include:
  - kind: has_many
    table: b
    order: [{column: colb3, direction: desc}]
    limit: 2
  - kind: has_many
    table: c
    where:
      - op: any
        any:
          - {column: colc1, op: in, values: [1, 2]}
          - {column: colc1, op: is_null}
    include:
      - mode: optional
        kind: has_many
        table: d
        key: d1
        where: [{column: cold1, op: "=", value: 11}]
`

func TestParse_CompilesIntoPlan(t *testing.T) {
	req, err := Parse([]byte(abcdPlan))
	require.NoError(t, err)

	assert.Equal(t, "a", req.Table())
	assert.True(t, req.OrdersByPrimaryKey())
	require.Len(t, req.Children(), 2)
	assert.Equal(t, association.Prefetch, req.Children()[0].Requirement)
	assert.Equal(t, 2, req.Children()[0].Association.LimitPerParent())

	plan, err := planner.Compile(fixtures.ABCD(), req)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `cola1`, `cola2` FROM `a` WHERE `cola1` <> ? ORDER BY `cola1` ASC", plan.Base.SQL)
	assert.Equal(t, []interface{}{3}, plan.Base.Args)

	require.Len(t, plan.Prefetches, 2)
	cs := plan.Prefetches[1]
	stmt, err := cs.Template.Bind([]planner.ParentTuple{{Values: []interface{}{1}}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "LEFT JOIN `d` ON (`d`.`cold2` = `c`.`colc1`) AND (`d`.`cold1` = ?)")
	assert.Equal(t, []string{"d1"}, stmt.Manifest.Root.Joins[0].Path)
	assert.Contains(t, stmt.SQL, "WHERE ((`c`.`colc1` IN (?,?)) OR (`c`.`colc1` IS NULL)) AND (`c`.`colc2` IN (?))")
}

func TestParse_Through(t *testing.T) {
	req, err := Parse([]byte(`
table: a
include:
  - kind: has_many_through
    table: d
    key: grandchildren
    through:
      table: c
      where: [{column: colc1, op: ">", value: 0}]
`))
	require.NoError(t, err)

	a := req.Children()[0].Association
	assert.Equal(t, association.ToManyThroughPivot, a.Kind())
	assert.Equal(t, "grandchildren", a.Key())
	pivot, ok := a.Pivot()
	require.True(t, ok)
	assert.Equal(t, "c", pivot.To())
	assert.True(t, predicate.Equal(predicate.Gt(predicate.Col("colc1"), predicate.Value(0)), pivot.FilterExpr()))
	target, ok := a.Target()
	require.True(t, ok)
	assert.Equal(t, association.ToManyDirect, target.Kind())
	assert.Equal(t, "d", target.To())

	_, err = planner.Compile(fixtures.ABCD(), req)
	assert.NoError(t, err)
}

func TestParse_ConditionOperators(t *testing.T) {
	tests := []struct {
		cond Condition
		want string
	}{
		{Condition{Column: "x", Op: "=", Value: 1}, "`x` = ?"},
		{Condition{Column: "x", Op: "ne", Value: 1}, "`x` <> ?"},
		{Condition{Column: "x", Op: "<", Value: 1}, "`x` < ?"},
		{Condition{Column: "x", Op: "lte", Value: 1}, "`x` <= ?"},
		{Condition{Column: "x", Op: ">", Value: 1}, "`x` > ?"},
		{Condition{Column: "x", Op: ">=", Value: 1}, "`x` >= ?"},
		{Condition{Column: "x", Op: "in", Values: []interface{}{1, 2}}, "`x` IN (?,?)"},
		{Condition{Column: "x", Op: "not_in"}, "1"},
		{Condition{Column: "x", Op: "is_null"}, "`x` IS NULL"},
		{Condition{Column: "x", Op: "is_not_null"}, "`x` IS NOT NULL"},
		{Condition{Column: "x", Op: "=", Value: 1, Not: true}, "NOT (`x` = ?)"},
		{Condition{Op: "false"}, "0"},
		{Condition{Op: "true"}, "1"},
		{Condition{Op: "any"}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			expr, err := tt.cond.expr("where[0]")
			require.NoError(t, err)
			sql, _, err := predicate.Render(expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sql)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "fetch plan is empty"},
		{name: "unknown field", doc: "table: a\nfilter: []\n", want: "field filter not found"},
		{name: "missing table", doc: "order_by_primary_key: true\n", want: "table is required"},
		{name: "negative limit", doc: "table: a\nlimit: -1\n", want: "non-negative"},
		{name: "bad mode", doc: "table: a\ninclude: [{mode: eager, kind: has_many, table: b}]\n", want: "include[0].mode"},
		{name: "bad kind", doc: "table: a\ninclude: [{kind: many, table: b}]\n", want: `include[0].kind: unknown kind "many"`},
		{name: "missing kind", doc: "table: a\ninclude: [{table: b}]\n", want: "include[0].kind is required"},
		{name: "through without pivot", doc: "table: a\ninclude: [{kind: has_many_through, table: d}]\n", want: "include[0].through is required"},
		{name: "pivot on direct", doc: "table: a\ninclude: [{kind: has_many, table: b, through: {table: c}}]\n", want: "only valid for has_many_through"},
		{name: "bad op", doc: "table: a\nwhere: [{column: x, op: like, value: y}]\n", want: `where[0].op: unknown operator "like"`},
		{name: "missing column", doc: "table: a\nwhere: [{op: '='}]\n", want: "where[0].column is required"},
		{name: "bad direction", doc: "table: a\norder: [{column: x, direction: up}]\n", want: "order[0].direction"},
		{name: "nested error path", doc: "table: a\ninclude: [{kind: has_many, table: c, include: [{kind: has_many}]}]\n", want: "include[0].include[0].table is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("table: a\n"), 0o600))

	req, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", req.Table())

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read fetch plan")
}
