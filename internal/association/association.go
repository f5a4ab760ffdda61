// Package association declares how tables relate and which related records a
// request should load alongside its base rows. Every value is immutable:
// modifiers return a new value and never touch the receiver.
package association

import (
	"fmt"
	"strings"

	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/predicate"
)

// Kind classifies an association by cardinality and shape.
type Kind int

const (
	// ToOneDirect yields at most one related record through a direct key.
	ToOneDirect Kind = iota
	// ToManyDirect yields a list of related records through a direct key.
	ToManyDirect
	// ToManyThroughPivot yields a list of records reached through an intermediate table.
	ToManyThroughPivot
)

func (k Kind) String() string {
	switch k {
	case ToOneDirect:
		return "to_one"
	case ToManyDirect:
		return "to_many"
	case ToManyThroughPivot:
		return "to_many_through"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsToMany reports whether the kind yields a list.
func (k Kind) IsToMany() bool {
	return k == ToManyDirect || k == ToManyThroughPivot
}

// Requirement says how an included association is loaded.
type Requirement int

const (
	// RequiredJoin inner-joins the association; parents without a match are dropped.
	RequiredJoin Requirement = iota
	// OptionalJoin left-joins the association; parents without a match are kept.
	OptionalJoin
	// Prefetch loads the association with a separate statement keyed by parent values.
	Prefetch
)

func (r Requirement) String() string {
	switch r {
	case RequiredJoin:
		return "required"
	case OptionalJoin:
		return "optional"
	case Prefetch:
		return "all"
	default:
		return fmt.Sprintf("requirement(%d)", int(r))
	}
}

// Direction is an ordering direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Ordering sorts by one column of the association's table.
type Ordering struct {
	Column    string
	Direction Direction
}

// Node is an included association together with how it is loaded.
type Node struct {
	Association Association
	Requirement Requirement
}

// Association describes a relationship from one table to another, plus the
// filter, ordering and nested includes applied to the related records.
type Association struct {
	kind       Kind
	from       string
	to         string
	owner      introspection.KeyOwner
	foreignKey []string
	key        string
	filter     predicate.Expr
	ordering   []Ordering
	orderByPK  bool
	limit      int
	children   []Node

	// Set for ToManyThroughPivot only.
	pivot  *Association
	target *Association
}

// BelongsTo declares that from holds a foreign key referencing to.
func BelongsTo(from, to string) Association {
	return Association{kind: ToOneDirect, from: from, to: to, owner: introspection.OwnerParent}
}

// HasOne declares that to holds a foreign key referencing from, with at most one match.
func HasOne(from, to string) Association {
	return Association{kind: ToOneDirect, from: from, to: to, owner: introspection.OwnerChild}
}

// HasMany declares that to holds a foreign key referencing from.
func HasMany(from, to string) Association {
	return Association{kind: ToManyDirect, from: from, to: to, owner: introspection.OwnerChild}
}

// HasManyThrough reaches target's table through pivot. The pivot must end on
// the table target starts from.
func HasManyThrough(pivot, target Association) Association {
	p, t := pivot, target
	return Association{
		kind:   ToManyThroughPivot,
		from:   pivot.from,
		to:     target.to,
		pivot:  &p,
		target: &t,
	}
}

// Kind returns the association kind.
func (a Association) Kind() Kind { return a.kind }

// From returns the declaring table.
func (a Association) From() string { return a.from }

// To returns the table whose records the association yields.
func (a Association) To() string { return a.to }

// Owner returns which side holds the foreign key of a direct association.
func (a Association) Owner() introspection.KeyOwner { return a.owner }

// ForeignKeyColumns returns the explicit foreign key columns, if any.
func (a Association) ForeignKeyColumns() []string { return a.foreignKey }

// Pivot returns the first hop of a pivot association.
func (a Association) Pivot() (Association, bool) {
	if a.pivot == nil {
		return Association{}, false
	}
	return *a.pivot, true
}

// Target returns the second hop of a pivot association.
func (a Association) Target() (Association, bool) {
	if a.target == nil {
		return Association{}, false
	}
	return *a.target, true
}

// inner is the association that carries filter, ordering and children.
func (a Association) inner() *Association {
	if a.kind == ToManyThroughPivot && a.target != nil {
		return a.target
	}
	return &a
}

// FilterExpr returns the filter on the yielded records, or nil.
func (a Association) FilterExpr() predicate.Expr { return a.inner().filter }

// Orderings returns the explicit ordering of the yielded records.
func (a Association) Orderings() []Ordering { return a.inner().ordering }

// OrdersByPrimaryKey reports whether OrderByPrimaryKey was requested.
func (a Association) OrdersByPrimaryKey() bool { return a.inner().orderByPK }

// LimitPerParent returns the per-parent limit, or zero.
func (a Association) LimitPerParent() int { return a.limit }

// Children returns the nested includes.
func (a Association) Children() []Node { return a.inner().children }

// Key returns the explicit key, or the default structural key derived from
// the yielded table without inflection overrides.
func (a Association) Key() string {
	return a.KeyWith(nil)
}

// KeyWith is Key with inflection by n. A nil n uses naming.Default.
func (a Association) KeyWith(n *naming.Namer) string {
	if a.key != "" {
		return a.key
	}
	if n == nil {
		n = naming.Default()
	}
	if a.kind.IsToMany() {
		return n.ToManyKey(a.to)
	}
	return n.ToOneKey(a.to)
}

// HasExplicitKey reports whether ForKey was used.
func (a Association) HasExplicitKey() bool { return a.key != "" }

// withInner applies fn to a copy of the association carrying filter,
// ordering and children.
func (a Association) withInner(fn func(*Association)) Association {
	if a.kind == ToManyThroughPivot && a.target != nil {
		t := a.target.clone()
		fn(&t)
		a.target = &t
		return a
	}
	c := a.clone()
	fn(&c)
	return c
}

func (a Association) clone() Association {
	c := a
	c.foreignKey = append([]string(nil), a.foreignKey...)
	c.ordering = append([]Ordering(nil), a.ordering...)
	c.children = append([]Node(nil), a.children...)
	return c
}

// Filter ANDs expr with the existing filter on the yielded records.
func (a Association) Filter(expr predicate.Expr) Association {
	return a.withInner(func(c *Association) {
		c.filter = predicate.And(c.filter, expr)
	})
}

// Order appends an ordering column.
func (a Association) Order(column string, dir Direction) Association {
	return a.withInner(func(c *Association) {
		c.ordering = append(c.ordering, Ordering{Column: column, Direction: dir})
	})
}

// OrderByPrimaryKey orders the yielded records by their primary key after any
// explicit ordering.
func (a Association) OrderByPrimaryKey() Association {
	return a.withInner(func(c *Association) {
		c.orderByPK = true
	})
}

// ForKey overrides the disambiguation key.
func (a Association) ForKey(key string) Association {
	c := a.clone()
	c.key = key
	return c
}

// ForeignKey names the foreign key columns explicitly.
func (a Association) ForeignKey(columns ...string) Association {
	c := a.clone()
	c.foreignKey = append([]string(nil), columns...)
	return c
}

// Limit caps the number of records loaded per parent.
func (a Association) Limit(n int) Association {
	c := a.clone()
	c.limit = n
	return c
}

// IncludingAll prefetches child with a separate statement.
func (a Association) IncludingAll(child Association) Association {
	return a.including(child, Prefetch)
}

// IncludingRequired inner-joins child.
func (a Association) IncludingRequired(child Association) Association {
	return a.including(child, RequiredJoin)
}

// IncludingOptional left-joins child.
func (a Association) IncludingOptional(child Association) Association {
	return a.including(child, OptionalJoin)
}

func (a Association) including(child Association, req Requirement) Association {
	return a.withInner(func(c *Association) {
		c.children = append(c.children, Node{Association: child, Requirement: req})
	})
}

// Signature renders everything that determines the association's SQL and
// result shape. Two associations with the same signature are interchangeable.
func (a Association) Signature() string {
	var b strings.Builder
	a.writeSignature(&b)
	return b.String()
}

func (a Association) writeSignature(b *strings.Builder) {
	fmt.Fprintf(b, "%s(%s->%s", a.kind, a.from, a.to)
	if a.kind == ToManyThroughPivot {
		b.WriteString(" via ")
		a.pivot.writeSignature(b)
		b.WriteString(" then ")
		a.target.writeSignature(b)
		fmt.Fprintf(b, " limit=%d)", a.limit)
		return
	}
	fmt.Fprintf(b, " owner=%d fk=%s", a.owner, strings.Join(a.foreignKey, ","))
	writeFilterSignature(b, a.filter)
	fmt.Fprintf(b, " order=%v pk=%t limit=%d", a.ordering, a.orderByPK, a.limit)
	writeChildrenSignature(b, a.children)
	b.WriteString(")")
}

func writeFilterSignature(b *strings.Builder, filter predicate.Expr) {
	sql, args, err := predicate.Render(filter)
	if err != nil {
		fmt.Fprintf(b, " where=!%v", err)
		return
	}
	fmt.Fprintf(b, " where=%q%#v", sql, args)
}

func writeChildrenSignature(b *strings.Builder, children []Node) {
	for _, child := range children {
		fmt.Fprintf(b, " [%s %s=", child.Requirement, child.Association.Key())
		child.Association.writeSignature(b)
		b.WriteString("]")
	}
}
