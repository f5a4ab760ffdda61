package planner

import (
	"tidb-eagerload/internal/association"
)

// Segment describes the output columns one table reference contributes to a
// statement. The root segment is the statement's own table; Joins are the
// segments folded in by RequiredJoin and OptionalJoin nodes.
type Segment struct {
	// Path holds the association keys from the statement root to this segment.
	Path        []string
	Key         string
	Table       string
	Alias       string
	Kind        association.Kind
	Requirement association.Requirement
	// Offset is the index of the first of Columns in each row.
	Offset  int
	Columns []string
	// GroupingOffset is the index of the first synthetic grouping column, or -1.
	GroupingOffset int
	// GroupingColumns are the key columns copied into synthetic grouping columns.
	GroupingColumns []string
	Joins           []*Segment
}

// ColumnIndex returns the row index of column, or -1.
func (s *Segment) ColumnIndex(column string) int {
	for i, col := range s.Columns {
		if col == column {
			return s.Offset + i
		}
	}
	return -1
}

// Join returns the joined segment with the given key.
func (s *Segment) Join(key string) (*Segment, bool) {
	for _, join := range s.Joins {
		if join.Key == key {
			return join, true
		}
	}
	return nil, false
}

// Manifest maps a statement's flat output rows back to table references.
type Manifest struct {
	Root  *Segment
	Width int
}

// Segment follows path from the root segment.
func (m *Manifest) Segment(path []string) (*Segment, bool) {
	if m == nil || m.Root == nil {
		return nil, false
	}
	seg := m.Root
	for _, key := range path {
		next, ok := seg.Join(key)
		if !ok {
			return nil, false
		}
		seg = next
	}
	return seg, true
}

// OutputColumns lists the statement's output column labels in row order.
func (m *Manifest) OutputColumns(groupingPrefix string) []string {
	if m == nil || m.Root == nil {
		return nil
	}
	out := make([]string, 0, m.Width)
	var walk func(seg *Segment)
	walk = func(seg *Segment) {
		out = append(out, seg.Columns...)
		for _, col := range seg.GroupingColumns {
			out = append(out, groupingAlias(groupingPrefix, col))
		}
		for _, join := range seg.Joins {
			walk(join)
		}
	}
	walk(m.Root)
	return out
}
