package introspection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAmbiguousOrMissingKey indicates that no single foreign key links two tables.
var ErrAmbiguousOrMissingKey = errors.New("ambiguous or missing foreign key")

// ErrUnknownTable indicates that a table is absent from the schema.
var ErrUnknownTable = errors.New("unknown table")

// SchemaError reports a key resolution failure between two tables.
type SchemaError struct {
	Parent     string
	Child      string
	Columns    []string
	Candidates int
	Err        error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "link %s -> %s", e.Parent, e.Child)
	if len(e.Columns) > 0 {
		fmt.Fprintf(&b, " on (%s)", strings.Join(e.Columns, ", "))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if errors.Is(e.Err, ErrAmbiguousOrMissingKey) {
		fmt.Fprintf(&b, " (%d candidates)", e.Candidates)
	}
	return b.String()
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// KeyOwner names the side of an association whose table holds the foreign key.
type KeyOwner int

const (
	// OwnerChild means the associated table references the declaring table (has-one, has-many).
	OwnerChild KeyOwner = iota
	// OwnerParent means the declaring table references the associated table (belongs-to).
	OwnerParent
)

// ColumnPair links one parent column to one child column.
type ColumnPair struct {
	Parent string
	Child  string
}

// LinkKey is the ordered column mapping between a parent and a child table.
type LinkKey []ColumnPair

// ParentColumns returns the parent side of every pair, in order.
func (k LinkKey) ParentColumns() []string {
	cols := make([]string, len(k))
	for i, p := range k {
		cols[i] = p.Parent
	}
	return cols
}

// ChildColumns returns the child side of every pair, in order.
func (k LinkKey) ChildColumns() []string {
	cols := make([]string, len(k))
	for i, p := range k {
		cols[i] = p.Child
	}
	return cols
}

// Reversed swaps parent and child in every pair.
func (k LinkKey) Reversed() LinkKey {
	out := make(LinkKey, len(k))
	for i, p := range k {
		out[i] = ColumnPair{Parent: p.Child, Child: p.Parent}
	}
	return out
}

// Equal reports whether two link keys map the same columns in the same order.
func (k LinkKey) Equal(other LinkKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

func (k LinkKey) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = p.Parent + "=" + p.Child
	}
	return strings.Join(parts, ",")
}

// LinkKey resolves the column mapping between parent and child.
//
// The table selected by owner must hold a foreign key referencing the other
// table. Without explicit columns exactly one such constraint must exist.
// Explicit columns name the foreign key columns on the owning table; they
// select the matching constraint, or pair with the referenced table's primary
// key when no constraint is declared.
func (s *Schema) LinkKey(parent, child string, owner KeyOwner, explicit []string) (LinkKey, error) {
	parentTable, ok := s.Table(parent)
	if !ok {
		return nil, &SchemaError{Parent: parent, Child: child, Err: fmt.Errorf("%w: %s", ErrUnknownTable, parent)}
	}
	childTable, ok := s.Table(child)
	if !ok {
		return nil, &SchemaError{Parent: parent, Child: child, Err: fmt.Errorf("%w: %s", ErrUnknownTable, child)}
	}

	holder, referenced := childTable, parentTable
	if owner == OwnerParent {
		holder, referenced = parentTable, childTable
	}

	fkCols, refCols, err := resolveForeignKey(holder, referenced, explicit)
	if err != nil {
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			schemaErr.Parent, schemaErr.Child = parent, child
		}
		return nil, err
	}

	key := make(LinkKey, len(fkCols))
	for i := range fkCols {
		if owner == OwnerParent {
			key[i] = ColumnPair{Parent: fkCols[i], Child: refCols[i]}
		} else {
			key[i] = ColumnPair{Parent: refCols[i], Child: fkCols[i]}
		}
	}
	return key, nil
}

func resolveForeignKey(holder, referenced Table, explicit []string) ([]string, []string, error) {
	candidates := ConstraintsReferencing(holder, referenced.Name)

	if len(explicit) == 0 {
		if len(candidates) != 1 {
			return nil, nil, &SchemaError{Candidates: len(candidates), Err: ErrAmbiguousOrMissingKey}
		}
		return candidates[0].ColumnNames, candidates[0].ReferencedColumns, nil
	}

	for _, col := range explicit {
		if !holder.HasColumn(col) {
			return nil, nil, &SchemaError{
				Columns: explicit,
				Err:     fmt.Errorf("%w: column %s not found in %s", ErrAmbiguousOrMissingKey, col, holder.Name),
			}
		}
	}

	var matches []ForeignKeyConstraint
	for _, fk := range candidates {
		if sameColumns(fk.ColumnNames, explicit) {
			matches = append(matches, fk)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].ColumnNames, matches[0].ReferencedColumns, nil
	case 0:
		pk := PrimaryKeyColumnNames(referenced)
		if len(pk) == len(explicit) {
			return explicit, pk, nil
		}
	}
	return nil, nil, &SchemaError{Columns: explicit, Candidates: len(matches), Err: ErrAmbiguousOrMissingKey}
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
