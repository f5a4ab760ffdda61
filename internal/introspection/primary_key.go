package introspection

// PrimaryKeyColumns returns all primary key columns for a table in column order.
// Returns an empty slice if the table has no primary key.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col)
		}
	}
	return cols
}

// PrimaryKeyColumnNames returns the names of the primary key columns in column order.
func PrimaryKeyColumnNames(table Table) []string {
	cols := PrimaryKeyColumns(table)
	if len(cols) == 0 {
		return nil
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}
