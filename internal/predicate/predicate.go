// Package predicate is a small boolean expression algebra over columns and
// bound values. Every expression implements squirrel.Sqlizer and renders
// MySQL-dialect SQL with `?` placeholders.
package predicate

import (
	"fmt"
	"reflect"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-eagerload/internal/sqlutil"
)

// Expr is a boolean SQL expression.
type Expr interface {
	sq.Sqlizer
	qualify(alias string) Expr
	columns(out []Column) []Column
}

// Operand is one side of a comparison.
type Operand interface {
	render() (string, []interface{})
	qualifyOperand(alias string) Operand
}

// Column references a table column, optionally qualified by a table alias.
type Column struct {
	Qualifier string
	Name      string
}

// Col references an unqualified column.
func Col(name string) Column {
	return Column{Name: name}
}

// QCol references a column qualified by a table alias.
func QCol(qualifier, name string) Column {
	return Column{Qualifier: qualifier, Name: name}
}

func (c Column) render() (string, []interface{}) {
	return sqlutil.QuoteQualified(c.Qualifier, c.Name), nil
}

func (c Column) qualifyOperand(alias string) Operand {
	if c.Qualifier != "" {
		return c
	}
	return Column{Qualifier: alias, Name: c.Name}
}

type value struct {
	v interface{}
}

// Value wraps a bound argument.
func Value(v interface{}) Operand {
	return value{v: v}
}

func (v value) render() (string, []interface{}) {
	return "?", []interface{}{v.v}
}

func (v value) qualifyOperand(string) Operand {
	return v
}

func isNullValue(op Operand) bool {
	v, ok := op.(value)
	return ok && v.v == nil
}

type comparison struct {
	op    string
	left  Operand
	right Operand
}

func compare(op string, left, right Operand) Expr {
	return comparison{op: op, left: left, right: right}
}

// Eq renders `left = right`, or `left IS NULL` when right is a nil value.
func Eq(left, right Operand) Expr { return compare("=", left, right) }

// NotEq renders `left <> right`, or `left IS NOT NULL` when right is a nil value.
func NotEq(left, right Operand) Expr { return compare("<>", left, right) }

// Lt renders `left < right`.
func Lt(left, right Operand) Expr { return compare("<", left, right) }

// LtEq renders `left <= right`.
func LtEq(left, right Operand) Expr { return compare("<=", left, right) }

// Gt renders `left > right`.
func Gt(left, right Operand) Expr { return compare(">", left, right) }

// GtEq renders `left >= right`.
func GtEq(left, right Operand) Expr { return compare(">=", left, right) }

func (c comparison) ToSql() (string, []interface{}, error) {
	left, args := c.left.render()
	if isNullValue(c.right) {
		switch c.op {
		case "=":
			return left + " IS NULL", args, nil
		case "<>":
			return left + " IS NOT NULL", args, nil
		}
	}
	right, rightArgs := c.right.render()
	return left + " " + c.op + " " + right, append(args, rightArgs...), nil
}

func (c comparison) qualify(alias string) Expr {
	return comparison{op: c.op, left: c.left.qualifyOperand(alias), right: c.right.qualifyOperand(alias)}
}

func (c comparison) columns(out []Column) []Column {
	for _, op := range []Operand{c.left, c.right} {
		if col, ok := op.(Column); ok {
			out = append(out, col)
		}
	}
	return out
}

type membership struct {
	col    Column
	values []interface{}
	negate bool
}

// In renders `col IN (?, ...)`. With no values it renders the literal 0.
func In(col Column, values ...interface{}) Expr {
	return membership{col: col, values: values}
}

// NotIn renders `col NOT IN (?, ...)`. With no values it renders the literal 1.
func NotIn(col Column, values ...interface{}) Expr {
	return membership{col: col, values: values, negate: true}
}

func (m membership) ToSql() (string, []interface{}, error) {
	if len(m.values) == 0 {
		if m.negate {
			return "1", nil, nil
		}
		return "0", nil, nil
	}
	col, _ := m.col.render()
	op := " IN ("
	if m.negate {
		op = " NOT IN ("
	}
	args := make([]interface{}, len(m.values))
	copy(args, m.values)
	return col + op + sq.Placeholders(len(m.values)) + ")", args, nil
}

func (m membership) qualify(alias string) Expr {
	return membership{col: m.col.qualifyOperand(alias).(Column), values: m.values, negate: m.negate}
}

func (m membership) columns(out []Column) []Column {
	return append(out, m.col)
}

type literal bool

// True is the literal 1.
func True() Expr { return literal(true) }

// False is the literal 0.
func False() Expr { return literal(false) }

func (l literal) ToSql() (string, []interface{}, error) {
	if l {
		return "1", nil, nil
	}
	return "0", nil, nil
}

func (l literal) qualify(string) Expr           { return l }
func (l literal) columns(out []Column) []Column { return out }

type junction struct {
	op       string
	operands []Expr
}

// And combines expressions with AND. Nil operands are dropped; a single
// remaining operand is returned as is and no operands yield nil.
func And(exprs ...Expr) Expr {
	return join("AND", exprs)
}

// Or combines expressions with OR, with the same nil handling as And.
func Or(exprs ...Expr) Expr {
	return join("OR", exprs)
}

func join(op string, exprs []Expr) Expr {
	var operands []Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if j, ok := e.(junction); ok && j.op == op {
			operands = append(operands, j.operands...)
			continue
		}
		operands = append(operands, e)
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return junction{op: op, operands: operands}
}

func (j junction) ToSql() (string, []interface{}, error) {
	parts := make([]string, 0, len(j.operands))
	var args []interface{}
	for _, operand := range j.operands {
		sql, operandArgs, err := operand.ToSql()
		if err != nil {
			return "", nil, err
		}
		if _, ok := operand.(literal); !ok {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		args = append(args, operandArgs...)
	}
	return strings.Join(parts, " "+j.op+" "), args, nil
}

func (j junction) qualify(alias string) Expr {
	operands := make([]Expr, len(j.operands))
	for i, operand := range j.operands {
		operands[i] = operand.qualify(alias)
	}
	return junction{op: j.op, operands: operands}
}

func (j junction) columns(out []Column) []Column {
	for _, operand := range j.operands {
		out = operand.columns(out)
	}
	return out
}

type negation struct {
	expr Expr
}

// Not negates an expression.
func Not(e Expr) Expr {
	return negation{expr: e}
}

func (n negation) ToSql() (string, []interface{}, error) {
	sql, args, err := n.expr.ToSql()
	if err != nil {
		return "", nil, err
	}
	if _, ok := n.expr.(literal); ok {
		return "NOT " + sql, args, nil
	}
	return "NOT (" + sql + ")", args, nil
}

func (n negation) qualify(alias string) Expr {
	return negation{expr: n.expr.qualify(alias)}
}

func (n negation) columns(out []Column) []Column {
	return n.expr.columns(out)
}

type raw struct {
	sql  string
	args []interface{}
}

// Raw embeds a trusted SQL fragment. It is never qualified. Each `?` outside
// quoted identifiers and string literals takes one of args.
func Raw(sql string, args ...interface{}) Expr {
	return raw{sql: sql, args: args}
}

func (r raw) ToSql() (string, []interface{}, error) {
	if n := len(sqlutil.Placeholders(r.sql)); n != len(r.args) {
		return "", nil, fmt.Errorf("raw expression %q expects %d arguments, got %d", r.sql, n, len(r.args))
	}
	return r.sql, r.args, nil
}

func (r raw) qualify(string) Expr           { return r }
func (r raw) columns(out []Column) []Column { return out }

// Qualify returns a copy of e with every unqualified column qualified by alias.
func Qualify(e Expr, alias string) Expr {
	if e == nil {
		return nil
	}
	return e.qualify(alias)
}

// Columns lists the columns referenced by e, in rendering order.
func Columns(e Expr) []Column {
	if e == nil {
		return nil
	}
	return e.columns(nil)
}

// Equal reports whether two expressions render the same SQL with the same arguments.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aSQL, aArgs, aErr := a.ToSql()
	bSQL, bArgs, bErr := b.ToSql()
	if aErr != nil || bErr != nil {
		return false
	}
	return aSQL == bSQL && reflect.DeepEqual(aArgs, bArgs)
}

// Render is a convenience for rendering a possibly nil expression.
func Render(e Expr) (string, []interface{}, error) {
	if e == nil {
		return "", nil, nil
	}
	return e.ToSql()
}
