package planner

import (
	"tidb-eagerload/internal/naming"
)

// aliasArena allocates table aliases for one statement. Tables referenced
// once keep their own name; tables referenced more than once are aliased by
// the association key, suffixed when that is still taken.
type aliasArena struct {
	refs     map[string]int
	registry *naming.Registry
}

func newAliasArena(refs map[string]int) *aliasArena {
	return &aliasArena{
		refs:     refs,
		registry: naming.NewRegistry(nil),
	}
}

// root claims the statement's own table name.
func (a *aliasArena) root(table string) string {
	return a.registry.Register(table, table)
}

// alias allocates an alias for a joined reference to table under key.
func (a *aliasArena) alias(table, key string) string {
	if a.refs[table] <= 1 && !a.registry.Taken(table) {
		return a.registry.Register(table, key)
	}
	if key == "" {
		key = table
	}
	return a.registry.Register(key, table)
}

// qualified reports whether columns need alias qualification.
func (a *aliasArena) qualified() bool {
	total := 0
	for _, n := range a.refs {
		total += n
	}
	return total > 1
}
