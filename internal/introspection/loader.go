package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const tablesQuery = `
	SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
	FROM INFORMATION_SCHEMA.TABLES
	WHERE TABLE_SCHEMA = ?
	AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
	ORDER BY TABLE_NAME
`

const columnsQuery = `
	SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COLUMN_COMMENT, IS_NULLABLE
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = ?
	ORDER BY TABLE_NAME, ORDINAL_POSITION
`

const primaryKeysQuery = `
	SELECT TABLE_NAME, COLUMN_NAME
	FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
	WHERE TABLE_SCHEMA = ?
	AND CONSTRAINT_NAME = 'PRIMARY'
	ORDER BY TABLE_NAME, ORDINAL_POSITION
`

// Only references within the same schema are kept; the compiler cannot
// resolve a table it has not introspected.
const foreignKeysQuery = `
	SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME,
		CONSTRAINT_NAME, ORDINAL_POSITION
	FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
	WHERE TABLE_SCHEMA = ?
	AND REFERENCED_TABLE_NAME IS NOT NULL
	AND REFERENCED_TABLE_SCHEMA = TABLE_SCHEMA
	ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
`

// IntrospectDatabaseContext loads every table and view of databaseName with
// its columns, primary key and foreign keys. It issues one query per kind of
// metadata, not per table.
func IntrospectDatabaseContext(ctx context.Context, db Queryer, databaseName string) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	schema, err := loadSchema(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("db.table_count", len(schema.Tables)))
	return schema, nil
}

func loadSchema(ctx context.Context, db Queryer, databaseName string) (*Schema, error) {
	schema := &Schema{Tables: []Table{}}
	index := make(map[string]int)

	err := query(ctx, db, "introspection.get_tables", tablesQuery, databaseName, func(rows *sql.Rows) error {
		var name, tableType string
		var comment sql.NullString
		if err := rows.Scan(&name, &tableType, &comment); err != nil {
			return err
		}
		index[name] = len(schema.Tables)
		schema.Tables = append(schema.Tables, Table{
			Name:    name,
			IsView:  strings.EqualFold(tableType, "VIEW"),
			Comment: strings.TrimSpace(comment.String),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	// Rows for tables outside the listing (dropped concurrently, or other
	// table types) are ignored.
	lookup := func(name string) *Table {
		if i, ok := index[name]; ok {
			return &schema.Tables[i]
		}
		return nil
	}

	err = query(ctx, db, "introspection.get_columns", columnsQuery, databaseName, func(rows *sql.Rows) error {
		var table, isNullable string
		var col Column
		var comment sql.NullString
		if err := rows.Scan(&table, &col.Name, &col.DataType, &col.ColumnType, &comment, &isNullable); err != nil {
			return err
		}
		col.Comment = strings.TrimSpace(comment.String)
		col.IsNullable = strings.EqualFold(isNullable, "YES")
		if t := lookup(table); t != nil {
			t.Columns = append(t.Columns, col)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	err = query(ctx, db, "introspection.get_primary_keys", primaryKeysQuery, databaseName, func(rows *sql.Rows) error {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return err
		}
		if t := lookup(table); t != nil && !t.IsView {
			markPrimaryKey(t.Columns, column)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}

	err = query(ctx, db, "introspection.get_foreign_keys", foreignKeysQuery, databaseName, func(rows *sql.Rows) error {
		var table string
		var fk ForeignKey
		if err := rows.Scan(&table, &fk.ColumnName, &fk.ReferencedTable,
			&fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition); err != nil {
			return err
		}
		if t := lookup(table); t != nil && !t.IsView {
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}

	return schema, nil
}

func markPrimaryKey(columns []Column, name string) {
	for i := range columns {
		if columns[i].Name == name {
			columns[i].IsPrimaryKey = true
			return
		}
	}
}

// query runs one information_schema query in its own span and hands each
// row to scan.
func query(ctx context.Context, db Queryer, spanName, sqlText, databaseName string, scan func(*sql.Rows) error) error {
	ctx, span := startSpan(ctx, spanName, attribute.String("db.name", databaseName))
	defer span.End()

	rows, err := db.QueryContext(ctx, sqlText, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	count := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			recordSpanError(span, err)
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}
	span.SetAttributes(attribute.Int("db.row_count", count))
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("tidb-eagerload/introspection").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
