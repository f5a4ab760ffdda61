// Package schemafilter restricts which tables and columns of an introspected
// schema fetch plans may reference.
package schemafilter

import (
	"log/slog"
	"path"
	"slices"
	"strings"

	"tidb-eagerload/internal/introspection"
)

// Config controls allow/deny filters for tables and columns.
// Column pattern maps are keyed by table name, with "*" applying to every table.
type Config struct {
	AllowTables      []string            `mapstructure:"allow_tables"`
	DenyTables       []string            `mapstructure:"deny_tables"`
	ScanViewsEnabled bool                `mapstructure:"scan_views_enabled"`
	AllowColumns     map[string][]string `mapstructure:"allow_columns"`
	DenyColumns      map[string][]string `mapstructure:"deny_columns"`
}

// Apply filters tables, columns and foreign keys in place. Missing allow lists
// default to allow-all; deny rules always win. A foreign key constraint is
// dropped whole when any of its columns, on either side, is filtered out, so a
// compound link key is never left half-declared.
func Apply(schema *introspection.Schema, cfg Config, logger *slog.Logger) {
	if schema == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	allowedColumnsByTable := make(map[string]map[string]bool, len(schema.Tables))
	filtered := make([]introspection.Table, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		if table.IsView && !cfg.ScanViewsEnabled {
			continue
		}
		if !tableAllowed(table.Name, cfg.AllowTables, cfg.DenyTables) {
			logger.Debug("table filtered", slog.String("table", table.Name))
			continue
		}

		allowed := make(map[string]bool, len(table.Columns))
		columns := make([]introspection.Column, 0, len(table.Columns))
		for _, column := range table.Columns {
			if !columnAllowed(table.Name, column.Name, cfg.AllowColumns, cfg.DenyColumns) {
				continue
			}
			columns = append(columns, column)
			allowed[column.Name] = true
		}
		if len(columns) == 0 {
			logger.Debug("table has no visible columns", slog.String("table", table.Name))
			continue
		}

		table.Columns = columns
		allowedColumnsByTable[table.Name] = allowed
		filtered = append(filtered, table)
	}

	for i := range filtered {
		table := &filtered[i]
		table.ForeignKeys = filterForeignKeys(table.ForeignKeys, allowedColumnsByTable[table.Name], allowedColumnsByTable)
	}

	schema.Tables = filtered
}

func tableAllowed(table string, allow, deny []string) bool {
	if matchesAny(table, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(table, allow)
}

func columnAllowed(table, column string, allow, deny map[string][]string) bool {
	if matchesAny(column, mergePatterns(deny, table)) {
		return false
	}
	allowPatterns := mergePatterns(allow, table)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(column, allowPatterns)
}

func mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	combined = append(combined, patterns[table]...)
	return slices.Compact(combined)
}

func filterForeignKeys(fks []introspection.ForeignKey, allowedColumns map[string]bool, allowedColumnsByTable map[string]map[string]bool) []introspection.ForeignKey {
	broken := make(map[string]bool)
	for _, fk := range fks {
		remote := allowedColumnsByTable[fk.ReferencedTable]
		if !allowedColumns[fk.ColumnName] || remote == nil || !remote[fk.ReferencedColumn] {
			broken[fk.ConstraintName] = true
		}
	}
	if len(broken) == 0 {
		return fks
	}

	kept := make([]introspection.ForeignKey, 0, len(fks))
	for _, fk := range fks {
		if !broken[fk.ConstraintName] {
			kept = append(kept, fk)
		}
	}
	return kept
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching is case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
