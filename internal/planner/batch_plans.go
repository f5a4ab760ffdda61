package planner

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-eagerload/internal/sqlutil"
)

// ParentTuple represents an ordered composite parent key used in prefetch plans.
type ParentTuple struct {
	Values []interface{}
}

// Key encodes the tuple so that equal database values share a key whatever
// Go type the driver scanned them into.
func (t ParentTuple) Key() string {
	return CanonicalKey(t.Values)
}

// CanonicalKey encodes key values for grouping and de-duplication.
func CanonicalKey(values []interface{}) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		switch val := v.(type) {
		case nil:
			b.WriteString("NULL")
		case []byte:
			b.WriteString(strconv.Quote(string(val)))
		case string:
			b.WriteString(strconv.Quote(val))
		default:
			b.WriteString(strconv.Quote(fmt.Sprint(val)))
		}
	}
	return b.String()
}

// windowRowNumberAlias names the per-parent row number of limited prefetches.
const windowRowNumberAlias = "__rn"

// renderWindow wraps the prefetch statement in a ROW_NUMBER() window so that
// at most t.limit rows are returned per parent key.
func (t *PrefetchTemplate) renderWindow(inner sq.SelectBuilder) (Statement, error) {
	seg := t.manifest.Root
	partition := make([]string, len(t.keyColumns))
	for i, col := range t.keyColumns {
		partition[i] = sqlutil.QuoteQualified(col.Qualifier, col.Name)
	}

	rowNumber := fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s",
		strings.Join(partition, ", "),
		strings.Join(t.orderBy, ", "),
		windowRowNumberAlias,
	)
	innerSQL, innerArgs, err := inner.Column(rowNumber).PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return Statement{}, err
	}

	outer := make([]string, 0, t.manifest.Width)
	for _, col := range seg.Columns {
		outer = append(outer, sqlutil.QuoteIdentifier(col))
	}
	groupingCols := make([]string, len(seg.GroupingColumns))
	for i, col := range seg.GroupingColumns {
		groupingCols[i] = sqlutil.QuoteIdentifier(groupingAlias(t.prefix, col))
	}
	outer = append(outer, groupingCols...)

	query := fmt.Sprintf(
		"SELECT %s FROM (%s) AS __batch WHERE %s <= ? ORDER BY %s, %s",
		strings.Join(outer, ", "),
		innerSQL,
		windowRowNumberAlias,
		strings.Join(groupingCols, ", "),
		windowRowNumberAlias,
	)
	args := append(append([]interface{}{}, innerArgs...), t.limit)
	return Statement{SQL: query, Args: args, Manifest: t.manifest}, nil
}
