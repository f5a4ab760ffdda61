// Package fetchplan reads eager-load requests declared in YAML.
//
//	table: a
//	order: [{column: cola1}]
//	where: [{column: cola1, op: "<>", value: 3}]
//	include:
//	  - mode: all
//	    kind: has_many
//	    table: b
//	    include: [...]
package fetchplan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/predicate"
)

// File is the document form of an eager-load request.
type File struct {
	Table             string      `yaml:"table"`
	Where             []Condition `yaml:"where"`
	Order             []Order     `yaml:"order"`
	OrderByPrimaryKey bool        `yaml:"order_by_primary_key"`
	Limit             int         `yaml:"limit"`
	Offset            int         `yaml:"offset"`
	Include           []Include   `yaml:"include"`
}

// Include declares one association of the enclosing table.
type Include struct {
	// Mode is all (prefetch), required (inner join) or optional (left join).
	Mode string `yaml:"mode"`
	// Kind is belongs_to, has_one, has_many or has_many_through.
	Kind              string      `yaml:"kind"`
	Table             string      `yaml:"table"`
	Key               string      `yaml:"key"`
	ForeignKey        []string    `yaml:"foreign_key"`
	Where             []Condition `yaml:"where"`
	Order             []Order     `yaml:"order"`
	OrderByPrimaryKey bool        `yaml:"order_by_primary_key"`
	Limit             int         `yaml:"limit"`
	// Through names the pivot of a has_many_through include.
	Through *Hop `yaml:"through"`
	// Target is the kind of the pivot-to-table hop of a has_many_through
	// include; has_many when empty.
	Target  string    `yaml:"target"`
	Include []Include `yaml:"include"`
}

// Hop is the pivot of a has_many_through include.
type Hop struct {
	Kind              string      `yaml:"kind"`
	Table             string      `yaml:"table"`
	Key               string      `yaml:"key"`
	ForeignKey        []string    `yaml:"foreign_key"`
	Where             []Condition `yaml:"where"`
	Order             []Order     `yaml:"order"`
	OrderByPrimaryKey bool        `yaml:"order_by_primary_key"`
}

// Condition is one predicate. Conditions in a list are ANDed; Any holds
// alternatives that are ORed.
type Condition struct {
	Column string        `yaml:"column"`
	Op     string        `yaml:"op"`
	Value  interface{}   `yaml:"value"`
	Values []interface{} `yaml:"values"`
	Any    []Condition   `yaml:"any"`
	Not    bool          `yaml:"not"`
}

// Order is one ordering term.
type Order struct {
	Column    string `yaml:"column"`
	Direction string `yaml:"direction"`
}

// ParseFile reads and parses the plan at path.
func ParseFile(path string) (association.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return association.Request{}, fmt.Errorf("read fetch plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML plan. Unknown fields are rejected.
func Parse(data []byte) (association.Request, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return association.Request{}, fmt.Errorf("fetch plan is empty")
		}
		return association.Request{}, fmt.Errorf("decode fetch plan: %w", err)
	}
	return file.Request()
}

// Request builds the association request the file declares.
func (f File) Request() (association.Request, error) {
	if strings.TrimSpace(f.Table) == "" {
		return association.Request{}, fmt.Errorf("table is required")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return association.Request{}, fmt.Errorf("limit and offset must be non-negative")
	}

	req := association.NewRequest(f.Table)
	where, err := conditions("where", f.Where)
	if err != nil {
		return association.Request{}, err
	}
	if where != nil {
		req = req.Filter(where)
	}
	orders, err := orderings("order", f.Order)
	if err != nil {
		return association.Request{}, err
	}
	for _, o := range orders {
		req = req.Order(o.Column, o.Direction)
	}
	if f.OrderByPrimaryKey {
		req = req.OrderByPrimaryKey()
	}
	if f.Limit > 0 {
		req = req.Limit(f.Limit)
	}
	if f.Offset > 0 {
		req = req.Offset(f.Offset)
	}

	for i, inc := range f.Include {
		field := fmt.Sprintf("include[%d]", i)
		a, err := inc.association(field, f.Table)
		if err != nil {
			return association.Request{}, err
		}
		switch mode := strings.ToLower(inc.Mode); mode {
		case "", "all":
			req = req.IncludingAll(a)
		case "required":
			req = req.IncludingRequired(a)
		case "optional":
			req = req.IncludingOptional(a)
		default:
			return association.Request{}, fmt.Errorf("%s.mode: unknown mode %q", field, inc.Mode)
		}
	}
	return req, nil
}

func (inc Include) association(field, from string) (association.Association, error) {
	if strings.TrimSpace(inc.Table) == "" {
		return association.Association{}, fmt.Errorf("%s.table is required", field)
	}

	var a association.Association
	if inc.Kind == "has_many_through" {
		if inc.Through == nil {
			return association.Association{}, fmt.Errorf("%s.through is required for has_many_through", field)
		}
		pivot, err := inc.Through.association(field+".through", from)
		if err != nil {
			return association.Association{}, err
		}
		target, err := direct(field+".target", inc.Target, inc.Through.Table, inc.Table, "has_many")
		if err != nil {
			return association.Association{}, err
		}
		if len(inc.ForeignKey) > 0 {
			target = target.ForeignKey(inc.ForeignKey...)
		}
		a = association.HasManyThrough(pivot, target)
	} else {
		if inc.Through != nil {
			return association.Association{}, fmt.Errorf("%s.through is only valid for has_many_through", field)
		}
		var err error
		if a, err = direct(field+".kind", inc.Kind, from, inc.Table, ""); err != nil {
			return association.Association{}, err
		}
		if len(inc.ForeignKey) > 0 {
			a = a.ForeignKey(inc.ForeignKey...)
		}
	}

	if inc.Key != "" {
		a = a.ForKey(inc.Key)
	}
	where, err := conditions(field+".where", inc.Where)
	if err != nil {
		return association.Association{}, err
	}
	if where != nil {
		a = a.Filter(where)
	}
	orders, err := orderings(field+".order", inc.Order)
	if err != nil {
		return association.Association{}, err
	}
	for _, o := range orders {
		a = a.Order(o.Column, o.Direction)
	}
	if inc.OrderByPrimaryKey {
		a = a.OrderByPrimaryKey()
	}
	if inc.Limit < 0 {
		return association.Association{}, fmt.Errorf("%s.limit must be non-negative", field)
	}
	if inc.Limit > 0 {
		a = a.Limit(inc.Limit)
	}

	for i, child := range inc.Include {
		childField := fmt.Sprintf("%s.include[%d]", field, i)
		c, err := child.association(childField, inc.Table)
		if err != nil {
			return association.Association{}, err
		}
		switch mode := strings.ToLower(child.Mode); mode {
		case "", "all":
			a = a.IncludingAll(c)
		case "required":
			a = a.IncludingRequired(c)
		case "optional":
			a = a.IncludingOptional(c)
		default:
			return association.Association{}, fmt.Errorf("%s.mode: unknown mode %q", childField, child.Mode)
		}
	}
	return a, nil
}

func (h Hop) association(field, from string) (association.Association, error) {
	if strings.TrimSpace(h.Table) == "" {
		return association.Association{}, fmt.Errorf("%s.table is required", field)
	}
	a, err := direct(field+".kind", h.Kind, from, h.Table, "has_many")
	if err != nil {
		return association.Association{}, err
	}
	if len(h.ForeignKey) > 0 {
		a = a.ForeignKey(h.ForeignKey...)
	}
	if h.Key != "" {
		a = a.ForKey(h.Key)
	}
	where, err := conditions(field+".where", h.Where)
	if err != nil {
		return association.Association{}, err
	}
	if where != nil {
		a = a.Filter(where)
	}
	orders, err := orderings(field+".order", h.Order)
	if err != nil {
		return association.Association{}, err
	}
	for _, o := range orders {
		a = a.Order(o.Column, o.Direction)
	}
	if h.OrderByPrimaryKey {
		a = a.OrderByPrimaryKey()
	}
	return a, nil
}

func direct(field, kind, from, to, fallback string) (association.Association, error) {
	if kind == "" {
		kind = fallback
	}
	switch kind {
	case "belongs_to":
		return association.BelongsTo(from, to), nil
	case "has_one":
		return association.HasOne(from, to), nil
	case "has_many":
		return association.HasMany(from, to), nil
	case "":
		return association.Association{}, fmt.Errorf("%s is required", field)
	default:
		return association.Association{}, fmt.Errorf("%s: unknown kind %q", field, kind)
	}
}

func orderings(field string, orders []Order) ([]association.Ordering, error) {
	out := make([]association.Ordering, 0, len(orders))
	for i, o := range orders {
		if o.Column == "" {
			return nil, fmt.Errorf("%s[%d].column is required", field, i)
		}
		switch dir := association.Direction(strings.ToUpper(o.Direction)); dir {
		case "", association.Asc:
			out = append(out, association.Ordering{Column: o.Column, Direction: association.Asc})
		case association.Desc:
			out = append(out, association.Ordering{Column: o.Column, Direction: association.Desc})
		default:
			return nil, fmt.Errorf("%s[%d].direction: unknown direction %q", field, i, o.Direction)
		}
	}
	return out, nil
}

// conditions ANDs the list; nil when empty.
func conditions(field string, conds []Condition) (predicate.Expr, error) {
	exprs := make([]predicate.Expr, 0, len(conds))
	for i, c := range conds {
		expr, err := c.expr(fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return predicate.And(exprs...), nil
}

func (c Condition) expr(field string) (predicate.Expr, error) {
	expr, err := c.base(field)
	if err != nil {
		return nil, err
	}
	if c.Not {
		return predicate.Not(expr), nil
	}
	return expr, nil
}

func (c Condition) base(field string) (predicate.Expr, error) {
	op := strings.ToLower(strings.TrimSpace(c.Op))
	switch op {
	case "true":
		return predicate.True(), nil
	case "false":
		return predicate.False(), nil
	case "any":
		alternatives := make([]predicate.Expr, 0, len(c.Any))
		for i, alt := range c.Any {
			expr, err := alt.expr(fmt.Sprintf("%s.any[%d]", field, i))
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, expr)
		}
		if len(alternatives) == 0 {
			return predicate.False(), nil
		}
		return predicate.Or(alternatives...), nil
	}

	if c.Column == "" {
		return nil, fmt.Errorf("%s.column is required", field)
	}
	col := predicate.Col(c.Column)
	switch op {
	case "=", "==", "eq":
		return predicate.Eq(col, predicate.Value(c.Value)), nil
	case "<>", "!=", "ne":
		return predicate.NotEq(col, predicate.Value(c.Value)), nil
	case "<", "lt":
		return predicate.Lt(col, predicate.Value(c.Value)), nil
	case "<=", "lte":
		return predicate.LtEq(col, predicate.Value(c.Value)), nil
	case ">", "gt":
		return predicate.Gt(col, predicate.Value(c.Value)), nil
	case ">=", "gte":
		return predicate.GtEq(col, predicate.Value(c.Value)), nil
	case "in":
		return predicate.In(col, c.Values...), nil
	case "not_in":
		return predicate.NotIn(col, c.Values...), nil
	case "is_null":
		return predicate.Eq(col, predicate.Value(nil)), nil
	case "is_not_null":
		return predicate.NotEq(col, predicate.Value(nil)), nil
	case "":
		return nil, fmt.Errorf("%s.op is required", field)
	default:
		return nil, fmt.Errorf("%s.op: unknown operator %q", field, c.Op)
	}
}
