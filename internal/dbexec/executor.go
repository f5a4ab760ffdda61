// Package dbexec provides database query execution abstractions.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"tidb-eagerload/internal/sqltype"
)

// Rows abstracts sql.Rows so tests can supply in-memory result sets.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// columnTyper is implemented by *sql.Rows. Result sets without column types
// keep raw values as strings.
type columnTyper interface {
	ColumnTypes() ([]*sql.ColumnType, error)
}

// QueryExecutor runs read statements. Implementations must be safe for
// concurrent use when prefetch concurrency is enabled.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

// Batch is the fully read result of one statement.
type Batch struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (b Batch) Len() int {
	return len(b.Rows)
}

// Execute runs query and reads every row. Values the driver delivers as
// []byte are decoded by column type: integers and floats become numbers, JSON
// is embedded verbatim, and everything else becomes a string. Statements
// without arguments use the text protocol, so this keeps their values typed
// the same way as prepared statements.
func Execute(ctx context.Context, exec QueryExecutor, query string, args []any) (Batch, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return Batch{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Batch{}, fmt.Errorf("read columns: %w", err)
	}

	kinds, err := columnKinds(rows, len(columns))
	if err != nil {
		return Batch{}, fmt.Errorf("read column types: %w", err)
	}

	batch := Batch{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Batch{}, fmt.Errorf("scan row %d: %w", len(batch.Rows), err)
		}
		for i, v := range values {
			b, ok := v.([]byte)
			if !ok {
				continue
			}
			converted, err := kinds[i].Convert(b)
			if err != nil {
				return Batch{}, fmt.Errorf("row %d column %s: %w", len(batch.Rows), columns[i], err)
			}
			values[i] = converted
		}
		batch.Rows = append(batch.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func columnKinds(rows Rows, width int) ([]sqltype.Kind, error) {
	kinds := make([]sqltype.Kind, width)
	typer, ok := rows.(columnTyper)
	if !ok {
		return kinds, nil
	}
	types, err := typer.ColumnTypes()
	if err != nil {
		return nil, err
	}
	for i, ct := range types {
		if i < width {
			kinds[i] = sqltype.Classify(ct.DatabaseTypeName())
		}
	}
	return kinds, nil
}
