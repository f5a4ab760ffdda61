package planner

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/naming"
	p "tidb-eagerload/internal/predicate"
	"tidb-eagerload/internal/testutil/fixtures"
)

func tuples(values ...interface{}) []ParentTuple {
	out := make([]ParentTuple, len(values))
	for i, v := range values {
		out[i] = ParentTuple{Values: []interface{}{v}}
	}
	return out
}

func compile(t *testing.T, schema *introspection.Schema, req association.Request, opts ...Option) *Plan {
	t.Helper()
	plan, err := Compile(schema, req, opts...)
	require.NoError(t, err)
	return plan
}

func TestCompile_PrefetchHasMany(t *testing.T) {
	req := association.NewRequest("a").
		OrderByPrimaryKey().
		IncludingAll(association.HasMany("a", "b").OrderByPrimaryKey())

	plan := compile(t, fixtures.ABCD(), req)

	assertSQLMatches(t, plan.Base.SQL, "SELECT `cola1`, `cola2` FROM `a` ORDER BY `cola1` ASC")
	assert.Empty(t, plan.Base.Args)
	assert.Equal(t, 2, plan.Base.Manifest.Width)

	require.Len(t, plan.Prefetches, 1)
	bs := plan.Prefetches[0]
	assert.Equal(t, "bs", bs.Path)
	assert.Equal(t, "bs", bs.Key)
	assert.Equal(t, association.ToManyDirect, bs.Kind)
	assert.Empty(t, bs.ParentSegment)
	assert.Equal(t, []string{"cola1"}, bs.ParentColumns)
	assert.Empty(t, bs.Children)

	stmt, err := bs.Template.Bind(tuples(1, 2, 3))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `colb1`, `colb2`, `colb3`, `colb2` AS `__prefetch_colb2` FROM `b` WHERE `colb2` IN (?,?,?) ORDER BY `colb1` ASC")
	assertArgsEqual(t, stmt.Args, []interface{}{1, 2, 3})

	root := stmt.Manifest.Root
	assert.Equal(t, []string{"colb1", "colb2", "colb3"}, root.Columns)
	assert.Equal(t, 3, root.GroupingOffset)
	assert.Equal(t, []string{"colb2"}, root.GroupingColumns)
	assert.Equal(t, 4, stmt.Manifest.Width)
}

func TestCompile_FalseBaseFilterIsKept(t *testing.T) {
	req := association.NewRequest("a").
		Filter(p.False()).
		IncludingAll(association.HasMany("a", "b"))

	plan := compile(t, fixtures.ABCD(), req)
	assertSQLMatches(t, plan.Base.SQL, "SELECT `cola1`, `cola2` FROM `a` WHERE 0")
}

func TestCompile_FalsePrefetchFilterIsKept(t *testing.T) {
	req := association.NewRequest("a").
		IncludingAll(association.HasMany("a", "c").Filter(p.False()))

	plan := compile(t, fixtures.ABCD(), req)
	stmt, err := plan.Prefetches[0].Template.Bind(tuples(1, 2))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `colc1`, `colc2`, `colc2` AS `__prefetch_colc2` FROM `c` WHERE 0 AND (`colc2` IN (?,?))")
}

func TestCompile_PrefetchFilterCombinesWithKeys(t *testing.T) {
	req := association.NewRequest("a").
		IncludingAll(association.HasMany("a", "b").Filter(p.Eq(p.Col("colb1"), p.Value(4))))

	plan := compile(t, fixtures.ABCD(), req)
	stmt, err := plan.Prefetches[0].Template.Bind(tuples(1, 2))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `colb1`, `colb2`, `colb3`, `colb2` AS `__prefetch_colb2` FROM `b` WHERE (`colb1` = ?) AND (`colb2` IN (?,?))")
	assertArgsEqual(t, stmt.Args, []interface{}{4, 1, 2})
}

func TestCompile_CompoundKey(t *testing.T) {
	req := association.NewRequest("parents").
		IncludingAll(association.HasMany("parents", "children").ForKey("kids"))

	plan := compile(t, fixtures.Compound(), req)
	kids := plan.Prefetches[0]
	assert.Equal(t, []string{"p1", "p2"}, kids.ParentColumns)
	assert.Equal(t, 2, kids.Template.KeyWidth())

	stmt, err := kids.Template.Bind([]ParentTuple{
		{Values: []interface{}{1, "x"}},
		{Values: []interface{}{2, "y"}},
	})
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `id`, `parent_p1`, `parent_p2`, `label`, `parent_p1` AS `__prefetch_parent_p1`, `parent_p2` AS `__prefetch_parent_p2` FROM `children` "+
			"WHERE ((`parent_p1` = ?) AND (`parent_p2` = ?)) OR ((`parent_p1` = ?) AND (`parent_p2` = ?))")
	assertArgsEqual(t, stmt.Args, []interface{}{1, "x", 2, "y"})

	single, err := kids.Template.Bind([]ParentTuple{{Values: []interface{}{1, "x"}}})
	require.NoError(t, err)
	assert.Contains(t, single.SQL, "WHERE (`parent_p1` = ?) AND (`parent_p2` = ?)")

	_, err = kids.Template.Bind(tuples(1))
	assert.Error(t, err)
}

func TestCompile_NestedPrefetch(t *testing.T) {
	req := association.NewRequest("a").
		IncludingAll(association.HasMany("a", "c").
			IncludingAll(association.HasMany("c", "d")))

	plan := compile(t, fixtures.ABCD(), req)
	require.Len(t, plan.Prefetches, 1)
	cs := plan.Prefetches[0]
	require.Len(t, cs.Children, 1)
	ds := cs.Children[0]
	assert.Equal(t, "cs/ds", ds.Path)
	assert.Equal(t, []string{"colc1"}, ds.ParentColumns)
	assert.Empty(t, ds.ParentSegment)

	stmt, err := ds.Template.Bind(tuples(10))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `cold1`, `cold2`, `cold3`, `cold2` AS `__prefetch_cold2` FROM `d` WHERE `cold2` IN (?)")

	var visited []string
	plan.Walk(func(pp *PrefetchPlan, depth int) {
		visited = append(visited, fmt.Sprintf("%s@%d", pp.Path, depth))
	})
	assert.Equal(t, []string{"cs@0", "cs/ds@1"}, visited)
}

func TestCompile_PrefetchWithJoinedChildren(t *testing.T) {
	req := association.NewRequest("a").
		IncludingAll(association.HasMany("a", "c").
			OrderByPrimaryKey().
			IncludingOptional(association.HasMany("c", "d").ForKey("d1").
				Filter(p.Eq(p.Col("cold1"), p.Value(11))).OrderByPrimaryKey()).
			IncludingRequired(association.HasMany("c", "d").ForKey("d2").
				Filter(p.Eq(p.Col("cold1"), p.Value(12))).OrderByPrimaryKey()).
			Filter(p.Eq(p.Col("colc1"), p.Value(5))))

	plan := compile(t, fixtures.ABCD(), req)
	cs := plan.Prefetches[0]

	stmt, err := cs.Template.Bind(tuples(1, 2))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `c`.`colc1`, `c`.`colc2`, `c`.`colc2` AS `__prefetch_colc2`, "+
			"`d1`.`cold1`, `d1`.`cold2`, `d1`.`cold3`, `d2`.`cold1`, `d2`.`cold2`, `d2`.`cold3` "+
			"FROM `c` "+
			"LEFT JOIN `d` AS `d1` ON (`d1`.`cold2` = `c`.`colc1`) AND (`d1`.`cold1` = ?) "+
			"JOIN `d` AS `d2` ON (`d2`.`cold2` = `c`.`colc1`) AND (`d2`.`cold1` = ?) "+
			"WHERE (`c`.`colc1` = ?) AND (`c`.`colc2` IN (?,?)) "+
			"ORDER BY `c`.`colc1` ASC, `d1`.`cold1` ASC, `d2`.`cold1` ASC")
	assertArgsEqual(t, stmt.Args, []interface{}{11, 12, 5, 1, 2})

	root := stmt.Manifest.Root
	assert.Equal(t, 2, root.GroupingOffset)
	require.Len(t, root.Joins, 2)
	assert.Equal(t, "d1", root.Joins[0].Alias)
	assert.Equal(t, 3, root.Joins[0].Offset)
	assert.Equal(t, association.OptionalJoin, root.Joins[0].Requirement)
	assert.Equal(t, []string{"d2"}, root.Joins[1].Path)
	assert.Equal(t, 6, root.Joins[1].Offset)
	assert.Equal(t, 9, stmt.Manifest.Width)
}

func TestCompile_PivotPrefetch(t *testing.T) {
	through := association.HasManyThrough(
		association.HasMany("a", "c").Filter(p.Eq(p.Col("colc1"), p.Value(7))),
		association.HasMany("c", "d"),
	).Filter(p.Eq(p.Col("cold1"), p.Value(8))).OrderByPrimaryKey()

	plan := compile(t, fixtures.ABCD(), association.NewRequest("a").IncludingAll(through))
	ds := plan.Prefetches[0]
	assert.Equal(t, "ds", ds.Key)
	assert.Equal(t, association.ToManyThroughPivot, ds.Kind)
	assert.Equal(t, []string{"cola1"}, ds.ParentColumns)

	stmt, err := ds.Template.Bind(tuples(1, 2))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL,
		"SELECT `d`.`cold1`, `d`.`cold2`, `d`.`cold3`, `c`.`colc2` AS `__prefetch_colc2` "+
			"FROM `d` JOIN `c` ON (`c`.`colc1` = `d`.`cold2`) AND (`c`.`colc1` = ?) AND (`c`.`colc2` IN (?,?)) "+
			"WHERE `d`.`cold1` = ? ORDER BY `d`.`cold1` ASC")
	assertArgsEqual(t, stmt.Args, []interface{}{7, 1, 2, 8})
	assert.Equal(t, []string{"colc2"}, stmt.Manifest.Root.GroupingColumns)
}

func TestCompile_BaseWithJoins(t *testing.T) {
	req := association.NewRequest("b").
		OrderByPrimaryKey().
		IncludingOptional(association.BelongsTo("b", "a").ForKey("a1").Filter(p.Eq(p.Col("cola2"), p.Value("a1")))).
		IncludingRequired(association.BelongsTo("b", "a").ForKey("a2").Filter(p.Eq(p.Col("cola2"), p.Value("a2"))))

	plan := compile(t, fixtures.ABCD(), req)
	assertSQLMatches(t, plan.Base.SQL,
		"SELECT `b`.`colb1`, `b`.`colb2`, `b`.`colb3`, `a1`.`cola1`, `a1`.`cola2`, `a2`.`cola1`, `a2`.`cola2` "+
			"FROM `b` "+
			"LEFT JOIN `a` AS `a1` ON (`a1`.`cola1` = `b`.`colb2`) AND (`a1`.`cola2` = ?) "+
			"JOIN `a` AS `a2` ON (`a2`.`cola1` = `b`.`colb2`) AND (`a2`.`cola2` = ?) "+
			"ORDER BY `b`.`colb1` ASC")
	assertArgsEqual(t, plan.Base.Args, []interface{}{"a1", "a2"})
	assert.Empty(t, plan.Prefetches)
	assert.Equal(t, 7, plan.Base.Manifest.Width)
}

func TestCompile_FoldedToOne(t *testing.T) {
	tests := []struct {
		name string
		req  association.Request
		want string
	}{
		{
			name: "required",
			req:  association.NewRequest("b").IncludingRequired(association.BelongsTo("b", "a")),
			want: "SELECT `b`.`colb1`, `b`.`colb2`, `b`.`colb3`, `a`.`cola1`, `a`.`cola2` FROM `b` JOIN `a` ON `a`.`cola1` = `b`.`colb2`",
		},
		{
			name: "optional",
			req:  association.NewRequest("b").IncludingOptional(association.BelongsTo("b", "a")),
			want: "SELECT `b`.`colb1`, `b`.`colb2`, `b`.`colb3`, `a`.`cola1`, `a`.`cola2` FROM `b` LEFT JOIN `a` ON `a`.`cola1` = `b`.`colb2`",
		},
		{
			name: "optional pivot",
			req: association.NewRequest("a").IncludingOptional(association.HasManyThrough(
				association.HasMany("a", "c"), association.HasMany("c", "d"))),
			want: "SELECT `a`.`cola1`, `a`.`cola2`, `d`.`cold1`, `d`.`cold2`, `d`.`cold3` FROM `a` " +
				"LEFT JOIN `c` ON `c`.`colc2` = `a`.`cola1` LEFT JOIN `d` ON `d`.`cold2` = `c`.`colc1`",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := compile(t, fixtures.ABCD(), tt.req)
			assertSQLMatches(t, plan.Base.SQL, tt.want)
			assert.Empty(t, plan.Prefetches)
		})
	}
}

func TestCompile_SelfReferenceAlias(t *testing.T) {
	schema := &introspection.Schema{Tables: []introspection.Table{{
		Name: "employees",
		Columns: []introspection.Column{
			{Name: "id", IsPrimaryKey: true},
			{Name: "manager_id"},
		},
		ForeignKeys: []introspection.ForeignKey{
			{ConstraintName: "fk_manager", ColumnName: "manager_id", ReferencedTable: "employees", ReferencedColumn: "id", OrdinalPosition: 1},
		},
	}}}

	req := association.NewRequest("employees").
		IncludingOptional(association.BelongsTo("employees", "employees").ForKey("manager"))
	plan := compile(t, schema, req)
	assertSQLMatches(t, plan.Base.SQL,
		"SELECT `employees`.`id`, `employees`.`manager_id`, `manager`.`id`, `manager`.`manager_id` "+
			"FROM `employees` LEFT JOIN `employees` AS `manager` ON `manager`.`id` = `employees`.`manager_id`")
}

func TestCompile_AliasSuffixWhenKeyIsTaken(t *testing.T) {
	req := association.NewRequest("b").
		IncludingRequired(association.BelongsTo("b", "a").ForKey("b")).
		IncludingRequired(association.BelongsTo("b", "a").ForKey("x"))

	plan := compile(t, fixtures.ABCD(), req)
	assert.Contains(t, plan.Base.SQL, "JOIN `a` AS `b2` ON `b2`.`cola1` = `b`.`colb2`")
	assert.Contains(t, plan.Base.SQL, "JOIN `a` AS `x` ON `x`.`cola1` = `b`.`colb2`")

	seg, ok := plan.Base.Manifest.Segment([]string{"b"})
	require.True(t, ok)
	assert.Equal(t, "b2", seg.Alias)
}

func TestCompile_PrefetchUnderJoin(t *testing.T) {
	req := association.NewRequest("b").
		IncludingRequired(association.BelongsTo("b", "a").
			IncludingAll(association.HasMany("a", "c")))

	plan := compile(t, fixtures.ABCD(), req)
	require.Len(t, plan.Prefetches, 1)
	cs := plan.Prefetches[0]
	assert.Equal(t, "a/cs", cs.Path)
	assert.Equal(t, []string{"a"}, cs.ParentSegment)
	assert.Equal(t, []string{"cola1"}, cs.ParentColumns)

	seg, ok := plan.Base.Manifest.Segment(cs.ParentSegment)
	require.True(t, ok)
	assert.Equal(t, 3, seg.ColumnIndex("cola1"))
	assert.Equal(t, -1, seg.ColumnIndex("colb1"))

	stmt, err := cs.Template.Bind(tuples(4))
	require.NoError(t, err)
	assertSQLMatches(t, stmt.SQL, "SELECT `colc1`, `colc2`, `colc2` AS `__prefetch_colc2` FROM `c` WHERE `colc2` IN (?)")
}

func TestCompile_PerParentLimit(t *testing.T) {
	t.Run("explicit ordering", func(t *testing.T) {
		req := association.NewRequest("a").
			IncludingAll(association.HasMany("a", "b").Limit(2).Order("colb3", association.Desc))
		plan := compile(t, fixtures.ABCD(), req)

		stmt, err := plan.Prefetches[0].Template.Bind(tuples(1, 2))
		require.NoError(t, err)
		assertSQLMatches(t, stmt.SQL,
			"SELECT `colb1`, `colb2`, `colb3`, `__prefetch_colb2` FROM ("+
				"SELECT `colb1`, `colb2`, `colb3`, `colb2` AS `__prefetch_colb2`, "+
				"ROW_NUMBER() OVER (PARTITION BY `colb2` ORDER BY `colb3` DESC) AS __rn "+
				"FROM `b` WHERE `colb2` IN (?,?)"+
				") AS __batch WHERE __rn <= ? ORDER BY `__prefetch_colb2`, __rn")
		assertArgsEqual(t, stmt.Args, []interface{}{1, 2, 2})
		assert.Equal(t, 4, stmt.Manifest.Width)
	})

	t.Run("defaults to primary key ordering", func(t *testing.T) {
		req := association.NewRequest("a").
			IncludingAll(association.HasMany("a", "b").Limit(1))
		plan := compile(t, fixtures.ABCD(), req)

		stmt, err := plan.Prefetches[0].Template.Bind(tuples(1))
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, "PARTITION BY `colb2` ORDER BY `colb1` ASC")
	})
}

func TestCompile_BaseLimitOffset(t *testing.T) {
	plan := compile(t, fixtures.ABCD(), association.NewRequest("a").Limit(10).Offset(5))
	assertSQLMatches(t, plan.Base.SQL,
		"SELECT `cola1`, `cola2` FROM `a` LIMIT 10 OFFSET 5",
		"SELECT `cola1`, `cola2` FROM `a` LIMIT ? OFFSET ?",
	)
}

func TestCompile_GroupingPrefixOption(t *testing.T) {
	req := association.NewRequest("a").IncludingAll(association.HasMany("a", "b"))
	plan := compile(t, fixtures.ABCD(), req, WithGroupingPrefix("grp"))

	stmt, err := plan.Prefetches[0].Template.Bind(tuples(1))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "`colb2` AS `grp_colb2`")
	assert.Equal(t, []string{"colb1", "colb2", "colb3", "grp_colb2"}, stmt.Manifest.OutputColumns("grp"))
}

func TestCompile_SiblingCollisions(t *testing.T) {
	eq := func(v int) p.Expr { return p.Eq(p.Col("colb1"), p.Value(v)) }

	t.Run("identical siblings collapse", func(t *testing.T) {
		req := association.NewRequest("a").
			IncludingAll(association.HasMany("a", "b").Filter(eq(1))).
			IncludingAll(association.HasMany("a", "b").Filter(eq(1)))
		plan := compile(t, fixtures.ABCD(), req)
		assert.Len(t, plan.Prefetches, 1)
	})

	t.Run("same key with different filter", func(t *testing.T) {
		req := association.NewRequest("a").
			IncludingAll(association.HasMany("a", "b").Filter(eq(1))).
			IncludingAll(association.HasMany("a", "b").Filter(eq(2)))
		_, err := Compile(fixtures.ABCD(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAliasCollision))

		var collision *AliasCollisionError
		require.True(t, errors.As(err, &collision))
		assert.Equal(t, "bs", collision.Key)
		assert.False(t, collision.Pivot)
		assert.Contains(t, err.Error(), "under base")
	})

	t.Run("same key with different requirement", func(t *testing.T) {
		req := association.NewRequest("b").
			IncludingRequired(association.BelongsTo("b", "a")).
			IncludingOptional(association.BelongsTo("b", "a"))
		_, err := Compile(fixtures.ABCD(), req)
		assert.ErrorIs(t, err, ErrAliasCollision)
	})

	t.Run("nested collision names its parent", func(t *testing.T) {
		req := association.NewRequest("a").
			IncludingAll(association.HasMany("a", "c").
				IncludingAll(association.HasMany("c", "d")).
				IncludingAll(association.HasMany("c", "d").OrderByPrimaryKey()))
		_, err := Compile(fixtures.ABCD(), req)
		require.ErrorIs(t, err, ErrAliasCollision)
		assert.Contains(t, err.Error(), "under cs")
	})

	t.Run("pivot siblings with different pivot filters", func(t *testing.T) {
		pivot := func(v int) association.Association {
			return association.HasMany("a", "c").Filter(p.Eq(p.Col("colc1"), p.Value(v)))
		}
		req := association.NewRequest("a").
			IncludingAll(association.HasManyThrough(pivot(1), association.HasMany("c", "d")).ForKey("d1")).
			IncludingAll(association.HasManyThrough(pivot(2), association.HasMany("c", "d")).ForKey("d2"))
		_, err := Compile(fixtures.ABCD(), req)
		require.Error(t, err)

		var collision *AliasCollisionError
		require.True(t, errors.As(err, &collision))
		assert.True(t, collision.Pivot)
		assert.Equal(t, "cs", collision.Key)
	})

	t.Run("pivot siblings sharing a pivot", func(t *testing.T) {
		req := association.NewRequest("a").
			IncludingAll(association.HasManyThrough(association.HasMany("a", "c"), association.HasMany("c", "d")).ForKey("d1")).
			IncludingAll(association.HasManyThrough(association.HasMany("a", "c"), association.HasMany("c", "d")).ForKey("d2").
				Filter(p.Eq(p.Col("cold1"), p.Value(3))))
		plan := compile(t, fixtures.ABCD(), req)
		assert.Len(t, plan.Prefetches, 2)
	})
}

func TestCompile_Errors(t *testing.T) {
	noPK := &introspection.Schema{Tables: []introspection.Table{{Name: "logs", Columns: []introspection.Column{{Name: "msg"}}}}}

	tests := []struct {
		name   string
		schema *introspection.Schema
		req    association.Request
		want   error
	}{
		{
			name:   "unknown base table",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("zzz"),
			want:   introspection.ErrUnknownTable,
		},
		{
			name:   "missing foreign key",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("b").IncludingAll(association.HasMany("b", "c")),
			want:   introspection.ErrAmbiguousOrMissingKey,
		},
		{
			name:   "unknown filter column",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("a").Filter(p.Eq(p.Col("nope"), p.Value(1))),
			want:   ErrUnknownColumn,
		},
		{
			name:   "unknown ordering column",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("a").IncludingAll(association.HasMany("a", "b").Order("nope", association.Asc)),
			want:   ErrUnknownColumn,
		},
		{
			name:   "association declared from another table",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("a").IncludingAll(association.HasMany("c", "d")),
			want:   ErrInvalidAssociation,
		},
		{
			name:   "pivot does not meet target",
			schema: fixtures.ABCD(),
			req: association.NewRequest("a").IncludingAll(association.HasManyThrough(
				association.HasMany("a", "b"), association.HasMany("c", "d"))),
			want: ErrInvalidAssociation,
		},
		{
			name:   "limit on joined association",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("b").IncludingRequired(association.BelongsTo("b", "a").Limit(1)),
			want:   ErrUnsupportedLimit,
		},
		{
			name:   "limit on to-one prefetch",
			schema: fixtures.ABCD(),
			req:    association.NewRequest("b").IncludingAll(association.BelongsTo("b", "a").Limit(1)),
			want:   ErrUnsupportedLimit,
		},
		{
			name:   "limit with joined children",
			schema: fixtures.ABCD(),
			req: association.NewRequest("a").IncludingAll(association.HasMany("a", "c").Limit(1).
				IncludingOptional(association.HasMany("c", "d"))),
			want: ErrUnsupportedLimit,
		},
		{
			name:   "key containing path separator",
			schema: fixtures.ABCD(),
			req: association.NewRequest("b").
				IncludingOptional(association.BelongsTo("b", "a").ForKey("x").
					IncludingAll(association.HasMany("a", "c").ForKey("y"))).
				IncludingAll(association.HasManyThrough(
					association.BelongsTo("b", "a"), association.HasMany("a", "c")).ForKey("x/y")),
			want: ErrInvalidAssociation,
		},
		{
			name:   "primary key ordering without primary key",
			schema: noPK,
			req:    association.NewRequest("logs").OrderByPrimaryKey(),
			want:   ErrNoPrimaryKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.schema, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCompile_NamerDerivesDefaultKeys(t *testing.T) {
	req := association.NewRequest("a").
		IncludingAll(association.HasMany("a", "c").
			IncludingAll(association.HasMany("c", "d"))).
		IncludingAll(association.HasMany("a", "b").ForKey("bees"))
	namer := naming.New(naming.Config{PluralOverrides: map[string]string{"c": "cees", "b": "unused"}}, nil)

	plan, err := Compile(fixtures.ABCD(), req, WithNamer(namer))
	require.NoError(t, err)

	var paths []string
	plan.Walk(func(pp *PrefetchPlan, _ int) { paths = append(paths, pp.Path) })
	assert.Equal(t, []string{"cees", "cees/ds", "bees"}, paths)

	plan, err = Compile(fixtures.ABCD(), req)
	require.NoError(t, err)
	assert.Equal(t, "cs", plan.Prefetches[0].Key, "the default namer applies no overrides")

	empty := naming.New(naming.Config{PluralOverrides: map[string]string{"c": ""}}, nil)
	_, err = Compile(fixtures.ABCD(), req, WithNamer(empty))
	assert.ErrorIs(t, err, ErrInvalidAssociation)
}

func TestExplain(t *testing.T) {
	req := association.NewRequest("a").
		Filter(p.NotEq(p.Col("cola1"), p.Value(3))).
		IncludingAll(association.HasMany("a", "c").
			IncludingAll(association.HasMany("c", "d").Filter(p.Eq(p.Col("cold3"), p.Value("x")))))

	out, err := Explain(compile(t, fixtures.ABCD(), req))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "-- base", lines[0])
	assert.Equal(t, "SELECT `cola1`, `cola2` FROM `a` WHERE `cola1` <> 3;", lines[1])
	assert.Equal(t, "-- prefetch cs [to_many] keyed by cola1", lines[2])
	assert.Equal(t, "SELECT `colc1`, `colc2`, `colc2` AS `__prefetch_colc2` FROM `c` WHERE `colc2` IN (...);", lines[3])
	assert.Equal(t, "--   prefetch cs/ds [to_many] keyed by colc1", lines[4])
	assert.Equal(t, "SELECT `cold1`, `cold2`, `cold3`, `cold2` AS `__prefetch_cold2` FROM `d` WHERE (`cold3` = 'x') AND (`cold2` IN (...));", lines[5])
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, CanonicalKey([]interface{}{int64(1)}), CanonicalKey([]interface{}{"1"}))
	assert.Equal(t, CanonicalKey([]interface{}{[]byte("1")}), CanonicalKey([]interface{}{1}))
	assert.NotEqual(t, CanonicalKey([]interface{}{"1,2"}), CanonicalKey([]interface{}{1, 2}))
	assert.Equal(t, "NULL", CanonicalKey([]interface{}{nil}))
	assert.Equal(t, ParentTuple{Values: []interface{}{1, "x"}}.Key(), CanonicalKey([]interface{}{int64(1), []byte("x")}))
}

func assertSQLMatches(t *testing.T, got string, candidates ...string) {
	t.Helper()

	gotNorm := normalizeSQL(got)
	for _, candidate := range candidates {
		if gotNorm == normalizeSQL(candidate) {
			return
		}
	}

	assert.Fail(t, "SQL did not match any expected form", "got: %q candidates: %v", gotNorm, candidates)
}

func assertArgsEqual(t *testing.T, got []interface{}, expected []interface{}) {
	t.Helper()

	if len(got) != len(expected) {
		assert.Equal(t, len(expected), len(got))
		return
	}

	gotNorm := normalizeArgs(got)
	expectedNorm := normalizeArgs(expected)
	assert.Equal(t, expectedNorm, gotNorm)
}

// Normalize args to strings so numeric types compare consistently.
func normalizeArgs(args []interface{}) []string {
	normalized := make([]string, len(args))
	for i, arg := range args {
		normalized[i] = fmt.Sprintf("%v", arg)
	}
	return normalized
}

// Normalize SQL for stable comparisons across whitespace differences.
func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
