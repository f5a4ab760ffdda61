package runapp

import (
	"context"
	"log/slog"

	"tidb-eagerload/internal/logging"
)

type release struct {
	name string
	fn   func(context.Context) error
}

// cleanupStack holds release functions and runs them last-in first-out.
type cleanupStack []release

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	*s = append(*s, release{name: name, fn: fn})
}

// run calls every release function even when earlier ones fail; failures
// are logged, not returned.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		r := s[i]
		err := r.fn(ctx)
		if logger == nil {
			continue
		}
		if err != nil {
			logger.Warn("cleanup error", slog.String("component", r.name), slog.String("error", err.Error()))
		} else {
			logger.Debug("released " + r.name)
		}
	}
}

// Shutdown releases everything Init acquired. Only the first call does any
// work; it always returns nil.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.cleanup = nil
		a.initialized = false
		a.stateMu.Unlock()

		cleanup.run(ctx, a.logger)
	})
	return nil
}
