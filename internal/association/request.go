package association

import (
	"tidb-eagerload/internal/predicate"
)

// Request selects base rows from one table together with included associations.
type Request struct {
	table     string
	filter    predicate.Expr
	ordering  []Ordering
	orderByPK bool
	limit     int
	offset    int
	children  []Node
}

// NewRequest starts a request over table.
func NewRequest(table string) Request {
	return Request{table: table}
}

// Table returns the base table.
func (r Request) Table() string { return r.table }

// FilterExpr returns the base filter, or nil.
func (r Request) FilterExpr() predicate.Expr { return r.filter }

// Orderings returns the explicit base ordering.
func (r Request) Orderings() []Ordering { return r.ordering }

// OrdersByPrimaryKey reports whether OrderByPrimaryKey was requested.
func (r Request) OrdersByPrimaryKey() bool { return r.orderByPK }

// LimitOffset returns the base limit and offset; a zero limit means none.
func (r Request) LimitOffset() (int, int) { return r.limit, r.offset }

// Children returns the included associations.
func (r Request) Children() []Node { return r.children }

func (r Request) clone() Request {
	c := r
	c.ordering = append([]Ordering(nil), r.ordering...)
	c.children = append([]Node(nil), r.children...)
	return c
}

// Filter ANDs expr with the existing base filter.
func (r Request) Filter(expr predicate.Expr) Request {
	c := r.clone()
	c.filter = predicate.And(c.filter, expr)
	return c
}

// Order appends an ordering column.
func (r Request) Order(column string, dir Direction) Request {
	c := r.clone()
	c.ordering = append(c.ordering, Ordering{Column: column, Direction: dir})
	return c
}

// OrderByPrimaryKey orders base rows by primary key after any explicit ordering.
func (r Request) OrderByPrimaryKey() Request {
	c := r.clone()
	c.orderByPK = true
	return c
}

// Limit caps the number of base rows.
func (r Request) Limit(n int) Request {
	c := r.clone()
	c.limit = n
	return c
}

// Offset skips base rows.
func (r Request) Offset(n int) Request {
	c := r.clone()
	c.offset = n
	return c
}

// IncludingAll prefetches a with a separate statement.
func (r Request) IncludingAll(a Association) Request {
	return r.including(a, Prefetch)
}

// IncludingRequired inner-joins a.
func (r Request) IncludingRequired(a Association) Request {
	return r.including(a, RequiredJoin)
}

// IncludingOptional left-joins a.
func (r Request) IncludingOptional(a Association) Request {
	return r.including(a, OptionalJoin)
}

func (r Request) including(a Association, req Requirement) Request {
	c := r.clone()
	c.children = append(c.children, Node{Association: a, Requirement: req})
	return c
}
