package planner

import (
	"fmt"
	"log/slog"
	"strings"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/introspection"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/predicate"
)

// node is an association with its keys and columns resolved against the schema.
type node struct {
	key         string
	path        []string
	requirement association.Requirement
	kind        association.Kind
	table       introspection.Table
	filter      predicate.Expr
	ordering    []association.Ordering
	// link maps the parent table to this node's table, or to the pivot table.
	link     introspection.LinkKey
	pivot    *pivotHop
	limit    int
	children []*node
}

// pivotHop is the intermediate table of a ToManyThroughPivot node.
type pivotHop struct {
	key      string
	table    introspection.Table
	filter   predicate.Expr
	ordering []association.Ordering
	// link maps the pivot table to the node's table.
	link introspection.LinkKey
}

func (n *node) hasJoins() bool {
	for _, child := range n.children {
		if child.requirement != association.Prefetch {
			return true
		}
	}
	return false
}

type resolver struct {
	schema *introspection.Schema
	namer  *naming.Namer
	logger *slog.Logger
}

func (r *resolver) table(name string) (introspection.Table, error) {
	table, ok := r.schema.Table(name)
	if !ok {
		return introspection.Table{}, fmt.Errorf("%w: %s", introspection.ErrUnknownTable, name)
	}
	return table, nil
}

func (r *resolver) root(req association.Request) (*node, error) {
	table, err := r.table(req.Table())
	if err != nil {
		return nil, err
	}
	if err := checkColumns(table, req.FilterExpr()); err != nil {
		return nil, err
	}
	ordering, err := resolveOrdering(table, req.Orderings(), req.OrdersByPrimaryKey())
	if err != nil {
		return nil, err
	}
	limit, offset := req.LimitOffset()
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("limit and offset must be non-negative")
	}

	root := &node{
		table:       table,
		filter:      req.FilterExpr(),
		ordering:    ordering,
		requirement: association.Prefetch,
	}
	root.children, err = r.children(root, req.Children())
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (r *resolver) children(parent *node, decls []association.Node) ([]*node, error) {
	var out []*node
	signatures := make(map[string]string)
	pivots := make(map[string]string)

	for _, decl := range decls {
		a := decl.Association
		if a.From() != parent.table.Name {
			return nil, fmt.Errorf("%w: association from %s included under %s", ErrInvalidAssociation, a.From(), parent.table.Name)
		}

		key := a.KeyWith(r.namer)
		if key == "" || strings.Contains(key, pathSeparator) {
			return nil, fmt.Errorf("%w: key %q under %s must be non-empty and must not contain %q",
				ErrInvalidAssociation, key, parent.table.Name, pathSeparator)
		}
		signature := decl.Requirement.String() + " " + a.Signature()
		if existing, ok := signatures[key]; ok {
			if existing == signature {
				r.logger.Debug("collapsing identical sibling association",
					slog.String("parent", strings.Join(parent.path, pathSeparator)),
					slog.String("key", key),
				)
				continue
			}
			return nil, &AliasCollisionError{Parent: parent.path, Key: key}
		}
		signatures[key] = signature

		child, err := r.resolve(parent, decl, key)
		if err != nil {
			return nil, err
		}

		if child.pivot != nil && decl.Requirement == association.Prefetch {
			pivot, _ := a.Pivot()
			pivotSignature := pivot.Signature()
			if existing, ok := pivots[child.pivot.key]; ok && existing != pivotSignature {
				return nil, &AliasCollisionError{Parent: parent.path, Key: child.pivot.key, Pivot: true}
			}
			pivots[child.pivot.key] = pivotSignature
		}

		out = append(out, child)
	}
	return out, nil
}

func (r *resolver) resolve(parent *node, decl association.Node, key string) (*node, error) {
	a := decl.Association
	n := &node{
		key:         key,
		path:        append(append([]string(nil), parent.path...), key),
		requirement: decl.Requirement,
		kind:        a.Kind(),
		filter:      a.FilterExpr(),
		limit:       a.LimitPerParent(),
	}

	var err error
	switch a.Kind() {
	case association.ToOneDirect, association.ToManyDirect:
		if n.table, err = r.table(a.To()); err != nil {
			return nil, err
		}
		if n.link, err = r.schema.LinkKey(a.From(), a.To(), a.Owner(), a.ForeignKeyColumns()); err != nil {
			return nil, err
		}
	case association.ToManyThroughPivot:
		if err := r.resolvePivot(n, a); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidAssociation, a.Kind())
	}

	if err := checkColumns(n.table, n.filter); err != nil {
		return nil, err
	}
	if n.ordering, err = resolveOrdering(n.table, a.Orderings(), a.OrdersByPrimaryKey()); err != nil {
		return nil, err
	}

	if n.children, err = r.children(n, a.Children()); err != nil {
		return nil, err
	}

	if err := validateLimit(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *resolver) resolvePivot(n *node, a association.Association) error {
	pivot, _ := a.Pivot()
	target, _ := a.Target()
	if pivot.Kind() == association.ToManyThroughPivot || target.Kind() == association.ToManyThroughPivot {
		return fmt.Errorf("%w: nested pivot associations are not supported", ErrInvalidAssociation)
	}
	if pivot.To() != target.From() {
		return fmt.Errorf("%w: pivot ends on %s but target starts from %s", ErrInvalidAssociation, pivot.To(), target.From())
	}
	if len(pivot.Children()) > 0 {
		return fmt.Errorf("%w: pivot %s cannot include associations", ErrInvalidAssociation, pivot.KeyWith(r.namer))
	}

	pivotTable, err := r.table(pivot.To())
	if err != nil {
		return err
	}
	if n.table, err = r.table(target.To()); err != nil {
		return err
	}
	if n.link, err = r.schema.LinkKey(pivot.From(), pivot.To(), pivot.Owner(), pivot.ForeignKeyColumns()); err != nil {
		return err
	}
	targetLink, err := r.schema.LinkKey(target.From(), target.To(), target.Owner(), target.ForeignKeyColumns())
	if err != nil {
		return err
	}
	if err := checkColumns(pivotTable, pivot.FilterExpr()); err != nil {
		return err
	}
	pivotOrdering, err := resolveOrdering(pivotTable, pivot.Orderings(), pivot.OrdersByPrimaryKey())
	if err != nil {
		return err
	}

	n.pivot = &pivotHop{
		key:      pivot.KeyWith(r.namer),
		table:    pivotTable,
		filter:   pivot.FilterExpr(),
		ordering: pivotOrdering,
		link:     targetLink,
	}
	return nil
}

func validateLimit(n *node) error {
	switch {
	case n.limit < 0:
		return fmt.Errorf("%w: %s limit must be non-negative", ErrUnsupportedLimit, n.key)
	case n.limit == 0:
		return nil
	case n.requirement != association.Prefetch:
		return fmt.Errorf("%w: %s is joined, not prefetched", ErrUnsupportedLimit, n.key)
	case n.kind != association.ToManyDirect:
		return fmt.Errorf("%w: %s is %s", ErrUnsupportedLimit, n.key, n.kind)
	case n.hasJoins():
		return fmt.Errorf("%w: %s includes joined associations", ErrUnsupportedLimit, n.key)
	}
	return nil
}

func checkColumns(table introspection.Table, expr predicate.Expr) error {
	for _, col := range predicate.Columns(expr) {
		if col.Qualifier != "" {
			continue
		}
		if !table.HasColumn(col.Name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name, col.Name)
		}
	}
	return nil
}

func resolveOrdering(table introspection.Table, explicit []association.Ordering, byPrimaryKey bool) ([]association.Ordering, error) {
	out := make([]association.Ordering, 0, len(explicit))
	seen := make(map[string]struct{}, len(explicit))
	for _, o := range explicit {
		if !table.HasColumn(o.Column) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name, o.Column)
		}
		switch dir := association.Direction(strings.ToUpper(string(o.Direction))); dir {
		case "", association.Asc:
			o.Direction = association.Asc
		case association.Desc:
			o.Direction = association.Desc
		default:
			return nil, fmt.Errorf("invalid order direction %q for %s.%s", o.Direction, table.Name, o.Column)
		}
		seen[o.Column] = struct{}{}
		out = append(out, o)
	}

	if byPrimaryKey {
		pk := introspection.PrimaryKeyColumnNames(table)
		if len(pk) == 0 {
			return nil, fmt.Errorf("%w: table %s", ErrNoPrimaryKey, table.Name)
		}
		for _, col := range pk {
			if _, ok := seen[col]; ok {
				continue
			}
			out = append(out, association.Ordering{Column: col, Direction: association.Asc})
		}
	}
	return out, nil
}
