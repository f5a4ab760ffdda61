package naming

import (
	"fmt"
	"log/slog"
)

// Registry hands out unique names, applying numeric suffixes when a
// requested name is already taken.
type Registry struct {
	seen   map[string]string // name → source
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		seen:   make(map[string]string),
		logger: logger,
	}
}

// Taken reports whether name has been handed out.
func (r *Registry) Taken(name string) bool {
	_, exists := r.seen[name]
	return exists
}

// Register claims name for source and returns the name actually assigned.
// If the name is taken, the next free numeric suffix starting at 2 is used.
func (r *Registry) Register(name, source string) string {
	if existing, exists := r.seen[name]; exists {
		for i := 2; ; i++ {
			suffixed := fmt.Sprintf("%s%d", name, i)
			if _, taken := r.seen[suffixed]; !taken {
				r.logger.Debug("name taken, applying suffix",
					slog.String("name", name),
					slog.String("existing_source", existing),
					slog.String("new_source", source),
					slog.String("assigned", suffixed),
				)
				r.seen[suffixed] = source
				return suffixed
			}
		}
	}
	r.seen[name] = source
	return name
}
