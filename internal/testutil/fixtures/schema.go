// Package fixtures provides in-memory schemas shared by package tests.
package fixtures

import "tidb-eagerload/internal/introspection"

// ABCD returns the four-table schema used across compiler and fetch tests:
//
//	a(cola1 PK, cola2)
//	b(colb1 PK, colb2 -> a.cola1, colb3)
//	c(colc1 PK, colc2 -> a.cola1)
//	d(cold1 PK, cold2 -> c.colc1, cold3)
func ABCD() *introspection.Schema {
	return &introspection.Schema{Tables: []introspection.Table{
		{
			Name: "a",
			Columns: []introspection.Column{
				{Name: "cola1", DataType: "int", IsPrimaryKey: true},
				{Name: "cola2", DataType: "varchar", IsNullable: true},
			},
		},
		{
			Name: "b",
			Columns: []introspection.Column{
				{Name: "colb1", DataType: "int", IsPrimaryKey: true},
				{Name: "colb2", DataType: "int", IsNullable: true},
				{Name: "colb3", DataType: "varchar", IsNullable: true},
			},
			ForeignKeys: []introspection.ForeignKey{
				{ConstraintName: "fk_b_a", ColumnName: "colb2", ReferencedTable: "a", ReferencedColumn: "cola1", OrdinalPosition: 1},
			},
		},
		{
			Name: "c",
			Columns: []introspection.Column{
				{Name: "colc1", DataType: "int", IsPrimaryKey: true},
				{Name: "colc2", DataType: "int", IsNullable: true},
			},
			ForeignKeys: []introspection.ForeignKey{
				{ConstraintName: "fk_c_a", ColumnName: "colc2", ReferencedTable: "a", ReferencedColumn: "cola1", OrdinalPosition: 1},
			},
		},
		{
			Name: "d",
			Columns: []introspection.Column{
				{Name: "cold1", DataType: "int", IsPrimaryKey: true},
				{Name: "cold2", DataType: "int", IsNullable: true},
				{Name: "cold3", DataType: "varchar", IsNullable: true},
			},
			ForeignKeys: []introspection.ForeignKey{
				{ConstraintName: "fk_d_c", ColumnName: "cold2", ReferencedTable: "c", ReferencedColumn: "colc1", OrdinalPosition: 1},
			},
		},
	}}
}

// Compound returns a parent/child pair linked by a two-column key:
//
//	parents(p1 PK, p2 PK, name)
//	children(id PK, parent_p1, parent_p2, label) -> parents(p1, p2)
func Compound() *introspection.Schema {
	return &introspection.Schema{Tables: []introspection.Table{
		{
			Name: "parents",
			Columns: []introspection.Column{
				{Name: "p1", DataType: "int", IsPrimaryKey: true},
				{Name: "p2", DataType: "varchar", IsPrimaryKey: true},
				{Name: "name", DataType: "varchar"},
			},
		},
		{
			Name: "children",
			Columns: []introspection.Column{
				{Name: "id", DataType: "int", IsPrimaryKey: true},
				{Name: "parent_p1", DataType: "int"},
				{Name: "parent_p2", DataType: "varchar"},
				{Name: "label", DataType: "varchar"},
			},
			ForeignKeys: []introspection.ForeignKey{
				{ConstraintName: "fk_children_parents", ColumnName: "parent_p1", ReferencedTable: "parents", ReferencedColumn: "p1", OrdinalPosition: 1},
				{ConstraintName: "fk_children_parents", ColumnName: "parent_p2", ReferencedTable: "parents", ReferencedColumn: "p2", OrdinalPosition: 2},
			},
		},
	}}
}
