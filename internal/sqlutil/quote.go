// Package sqlutil provides SQL formatting helpers for the MySQL/TiDB dialect.
package sqlutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteQualified quotes a column reference, prefixing it with a quoted
// qualifier when one is given.
func QuoteQualified(qualifier, name string) string {
	if qualifier == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(qualifier) + "." + QuoteIdentifier(name)
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

// Literal renders a bound argument as an inline SQL literal.
// The result is meant for display only; statements sent to the database keep
// their placeholders.
func Literal(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "1"
		}
		return "0"
	case string:
		return QuoteString(v)
	case []byte:
		return QuoteString(string(v))
	case time.Time:
		return QuoteString(v.UTC().Format("2006-01-02 15:04:05.999999"))
	case int:
		return strconv.Itoa(v)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case fmt.Stringer:
		return QuoteString(v.String())
	default:
		return QuoteString(fmt.Sprint(v))
	}
}

// Placeholders returns the byte offsets of the `?` placeholders in query.
// A `?` inside a backtick identifier or a single or double quoted string is
// not a placeholder. Doubled quote characters and backslash escapes inside
// strings do not end the quoted span.
func Placeholders(query string) []int {
	var offsets []int
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote && i+1 < len(query) && query[i+1] == quote:
				i++
			case c == quote:
				quote = 0
			}
		case c == '`' || c == '\'' || c == '"':
			quote = c
		case c == '?':
			offsets = append(offsets, i)
		}
	}
	return offsets
}

// InlineArgs replaces each `?` placeholder in query with the literal form of
// the matching argument. Placeholders inside quoted identifiers or string
// literals are left untouched.
func InlineArgs(query string, args []interface{}) (string, error) {
	offsets := Placeholders(query)
	if len(offsets) != len(args) {
		return "", fmt.Errorf("query has %d placeholders, got %d arguments", len(offsets), len(args))
	}

	var b strings.Builder
	b.Grow(len(query) + len(args)*4)
	last := 0
	for i, offset := range offsets {
		b.WriteString(query[last:offset])
		b.WriteString(Literal(args[i]))
		last = offset + 1
	}
	b.WriteString(query[last:])
	return b.String(), nil
}
