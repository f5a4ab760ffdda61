package prefetch

import "fmt"

// ExecutionError wraps a failure reported by the executor. Path is empty for
// the base statement.
type ExecutionError struct {
	Path string
	SQL  string
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("base statement failed: %v", e.Err)
	}
	return fmt.Sprintf("prefetch %s failed: %v", e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
