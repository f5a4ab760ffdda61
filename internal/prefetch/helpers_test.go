package prefetch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tidb-eagerload/internal/dbexec"
)

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Columns() ([]string, error) {
	if len(r.rows) == 0 {
		return nil, nil
	}
	cols := make([]string, len(r.rows[0]))
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	return cols, nil
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("scan called without advancing rows")
	}
	row := r.rows[r.idx-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan row has %d values, dest has %d", len(row), len(dest))
	}
	for i, value := range row {
		d, ok := dest[i].(*any)
		if !ok {
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
		*d = value
	}
	return nil
}

func (r *fakeRows) Err() error {
	return r.err
}

func (r *fakeRows) Close() error {
	return nil
}

// fakeExecutor answers statements in call order.
type fakeExecutor struct {
	mu        sync.Mutex
	responses [][][]any
	errAt     map[int]error
	calls     int
	sql       []string
	args      [][]any
}

func (e *fakeExecutor) QueryContext(_ context.Context, query string, args ...any) (dbexec.Rows, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.sql = append(e.sql, query)
	e.args = append(e.args, args)
	idx := e.calls - 1
	if err, ok := e.errAt[idx]; ok {
		return nil, err
	}
	if idx >= len(e.responses) {
		return &fakeRows{}, nil
	}
	return &fakeRows{rows: e.responses[idx]}, nil
}

var fromTable = regexp.MustCompile("FROM `([^`]+)`")

// tableExecutor answers statements by the table they select from, so the
// order in which concurrent statements arrive does not matter. A statement
// on a table listed in delay stays in flight for that long.
type tableExecutor struct {
	mu       sync.Mutex
	tables   map[string][][]any
	delay    map[string]time.Duration
	calls    map[string]int
	inFlight int
	peak     int
}

func (e *tableExecutor) QueryContext(_ context.Context, query string, _ ...any) (dbexec.Rows, error) {
	m := fromTable.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("no table in %q", query)
	}
	e.mu.Lock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[m[1]]++
	e.inFlight++
	e.peak = max(e.peak, e.inFlight)
	delay := e.delay[m[1]]
	e.mu.Unlock()

	time.Sleep(delay)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight--
	return &fakeRows{rows: e.tables[m[1]]}, nil
}

func installSpanRecorder(t *testing.T) (*tracetest.SpanRecorder, func()) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)

	oldProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	return recorder, func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(oldProvider)
	}
}

func spansNamed(spans []sdktrace.ReadOnlySpan, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, span := range spans {
		if span.Name() == name {
			out = append(out, span)
		}
	}
	return out
}
