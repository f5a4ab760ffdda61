package introspection

import (
	"cmp"
	"math"
	"slices"
	"strconv"
)

// ForeignKeyConstraint is one FK constraint with its columns in constraint
// order. ColumnNames[i] references ReferencedColumns[i].
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// ForeignKeyConstraints folds a table's per-column FK rows into constraints,
// ordered by constraint name. Rows with no constraint name each form their
// own constraint. Columns follow OrdinalPosition; unknown positions (0) sort
// last and keep their input order.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	groups := make(map[string][]ForeignKey)
	var names []string
	for i, fk := range table.ForeignKeys {
		name := fk.ConstraintName
		if name == "" {
			name = "\x00" + strconv.Itoa(i)
		}
		if _, seen := groups[name]; !seen {
			names = append(names, name)
		}
		groups[name] = append(groups[name], fk)
	}
	slices.Sort(names)

	out := make([]ForeignKeyConstraint, 0, len(names))
	for _, name := range names {
		cols := groups[name]
		slices.SortStableFunc(cols, func(a, b ForeignKey) int {
			return cmp.Compare(positionRank(a), positionRank(b))
		})
		fk := ForeignKeyConstraint{
			ConstraintName:  cols[0].ConstraintName,
			ReferencedTable: cols[0].ReferencedTable,
		}
		for _, col := range cols {
			fk.ColumnNames = append(fk.ColumnNames, col.ColumnName)
			fk.ReferencedColumns = append(fk.ReferencedColumns, col.ReferencedColumn)
		}
		out = append(out, fk)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func positionRank(fk ForeignKey) int {
	if fk.OrdinalPosition <= 0 {
		return math.MaxInt
	}
	return fk.OrdinalPosition
}

// ConstraintsReferencing returns the FK constraints of table that point at referenced.
func ConstraintsReferencing(table Table, referenced string) []ForeignKeyConstraint {
	return slices.DeleteFunc(ForeignKeyConstraints(table), func(fk ForeignKeyConstraint) bool {
		return fk.ReferencedTable != referenced
	})
}
