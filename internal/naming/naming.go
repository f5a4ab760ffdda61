// Package naming derives association keys and statement aliases from table
// names: pluralization for default keys and suffixing for taken names.
package naming

import (
	"log/slog"

	"github.com/jinzhu/inflection"
)

// Config overrides the inflection rules for specific words.
type Config struct {
	// PluralOverrides maps a singular table name to its plural key.
	// Example: {"person": "folks"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// SingularOverrides maps a plural table name to its singular key.
	// Example: {"data": "datum"}
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig returns a Config with no overrides.
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   make(map[string]string),
		SingularOverrides: make(map[string]string),
	}
}

// Namer derives default association keys from table names.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config: cfg,
		logger: logger,
	}
}

var defaultNamer = New(DefaultConfig(), nil)

// Default returns a Namer with no overrides. It is never reconfigured;
// callers with overrides pass their own Namer to the planner.
func Default() *Namer {
	return defaultNamer
}

// ToOneKey returns the default key of an association that yields at most one
// record: the singular form of the table name.
// Example: "authors" -> "author"
func (n *Namer) ToOneKey(table string) string {
	return n.inflect(table, n.config.SingularOverrides, inflection.Singular)
}

// ToManyKey returns the default key of an association that yields a list of
// records: the plural form of the table name.
// Example: "book" -> "books", "c" -> "cs"
func (n *Namer) ToManyKey(table string) string {
	return n.inflect(table, n.config.PluralOverrides, inflection.Plural)
}

func (n *Namer) inflect(table string, overrides map[string]string, rule func(string) string) string {
	if override, ok := overrides[table]; ok {
		n.logger.Debug("inflection override applied",
			slog.String("table", table),
			slog.String("key", override),
		)
		return override
	}
	return rule(table)
}
