package prefetch

import (
	"fmt"

	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/planner"
)

// batchMaxInClause caps the parent keys bound into one statement.
const batchMaxInClause = 1000

// keyIndexes locates the parent key columns within rows of the enclosing statement.
func keyIndexes(manifest *planner.Manifest, p *planner.PrefetchPlan) ([]int, error) {
	seg, ok := manifest.Segment(p.ParentSegment)
	if !ok {
		return nil, fmt.Errorf("prefetch %s: parent segment %v not in enclosing statement", p.Path, p.ParentSegment)
	}
	indexes := make([]int, len(p.ParentColumns))
	for i, col := range p.ParentColumns {
		idx := seg.ColumnIndex(col)
		if idx < 0 {
			return nil, fmt.Errorf("prefetch %s: parent column %s not in enclosing statement", p.Path, col)
		}
		indexes[i] = idx
	}
	return indexes, nil
}

// uniqueParentTuples collects key tuples in first-seen order, dropping
// duplicates and tuples with a NULL member.
func uniqueParentTuples(batches []dbexec.Batch, indexes []int) []planner.ParentTuple {
	if len(indexes) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var tuples []planner.ParentTuple
	for _, batch := range batches {
		for _, row := range batch.Rows {
			values := make([]interface{}, len(indexes))
			missing := false
			for i, idx := range indexes {
				value := row[idx]
				if value == nil {
					missing = true
					break
				}
				values[i] = value
			}
			if missing {
				continue
			}
			key := planner.CanonicalKey(values)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			tuples = append(tuples, planner.ParentTuple{Values: values})
		}
	}
	return tuples
}

func chunkParentTuples(values []planner.ParentTuple, max int) [][]planner.ParentTuple {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]planner.ParentTuple{values}
	}
	chunks := make([][]planner.ParentTuple, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := start + max
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
