package introspection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/testutil/fixtures"
)

func TestPrimaryKeyColumnNames(t *testing.T) {
	schema := fixtures.ABCD()
	compound := fixtures.Compound()

	pk := func(cols ...string) introspection.Table {
		table := introspection.Table{Name: "t"}
		for _, c := range cols {
			name, isKey := c, false
			if c[0] == '*' {
				name, isKey = c[1:], true
			}
			table.Columns = append(table.Columns, introspection.Column{Name: name, DataType: "int", IsPrimaryKey: isKey})
		}
		return table
	}
	a, _ := schema.Table("a")
	parents, _ := compound.Table("parents")

	tests := []struct {
		name  string
		table introspection.Table
		want  []string
	}{
		{"fixture single key", a, []string{"cola1"}},
		{"fixture compound key", parents, []string{"p1", "p2"}},
		{"keys interleaved with data", pk("*k1", "data", "*k2"), []string{"k1", "k2"}},
		{"no key", pk("message"), nil},
		{"no columns", introspection.Table{Name: "empty"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, introspection.PrimaryKeyColumnNames(tt.table))
			assert.Len(t, introspection.PrimaryKeyColumns(tt.table), len(tt.want))
		})
	}
}
