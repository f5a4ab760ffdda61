// Package introspection discovers table, column and key metadata from TiDB's
// information_schema. The resulting Schema is the key catalog the eager-load
// compiler consults to resolve association link keys and column lists.
package introspection

// Column represents a database column
type Column struct {
	Name         string
	DataType     string
	ColumnType   string
	IsNullable   bool
	IsPrimaryKey bool
	Comment      string
}

// ForeignKey represents a foreign key constraint on a column
type ForeignKey struct {
	ColumnName       string // e.g., "author_id"
	ReferencedTable  string // e.g., "authors"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "books_ibfk_1"
	OrdinalPosition  int    // Column position within the FK constraint
}

// Table represents a database table
type Table struct {
	Name        string
	IsView      bool
	Comment     string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// ColumnNames returns the table's column names in ordinal order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// HasColumn reports whether the table declares a column with the given name.
func (t Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// Schema represents the introspected database schema
type Schema struct {
	Tables []Table
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}
