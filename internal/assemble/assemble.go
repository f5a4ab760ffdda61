// Package assemble turns the flat rows fetched for a compiled plan into a
// tree of records.
package assemble

import (
	"fmt"

	"tidb-eagerload/internal/association"
	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/planner"
)

// Fetched holds every batch read for a plan. Nodes is keyed by prefetch
// path; a node whose parents had no keys has no entry.
type Fetched struct {
	Base  dbexec.Batch
	Nodes map[string][]dbexec.Batch
}

// Result is the assembled base records.
type Result struct {
	Records []*Record
}

// Assemble decodes the base batch and attaches every prefetched association.
func Assemble(plan *planner.Plan, fetched Fetched) (*Result, error) {
	roots, err := decode(plan.Base.Manifest, fetched.Base)
	if err != nil {
		return nil, fmt.Errorf("base statement: %w", err)
	}
	records := make([]*Record, len(roots))
	for i, root := range roots {
		records[i] = root.record
	}
	if err := attach(records, plan.Prefetches, fetched); err != nil {
		return nil, err
	}
	return &Result{Records: records}, nil
}

// decoded is a root record and the canonical key of its grouping columns.
type decoded struct {
	record   *Record
	groupKey string
}

func decode(manifest *planner.Manifest, batch dbexec.Batch) ([]decoded, error) {
	if manifest == nil || manifest.Root == nil {
		return nil, fmt.Errorf("statement has no manifest")
	}
	if len(batch.Columns) > 0 && len(batch.Columns) != manifest.Width {
		return nil, fmt.Errorf("expected %d columns, got %d", manifest.Width, len(batch.Columns))
	}

	root := manifest.Root
	out := make([]decoded, 0, len(batch.Rows))
	for i, row := range batch.Rows {
		if len(row) != manifest.Width {
			return nil, fmt.Errorf("row %d: expected %d values, got %d", i, manifest.Width, len(row))
		}
		d := decoded{record: decodeSegment(root, row)}
		if root.GroupingOffset >= 0 {
			end := root.GroupingOffset + len(root.GroupingColumns)
			d.groupKey = planner.CanonicalKey(row[root.GroupingOffset:end])
		}
		out = append(out, d)
	}
	return out, nil
}

// decodeSegment reads seg's columns from row. Joined segments become single
// slots; an optional join whose columns are all NULL matched nothing.
func decodeSegment(seg *planner.Segment, row []any) *Record {
	values := make([]any, len(seg.Columns))
	copy(values, row[seg.Offset:seg.Offset+len(seg.Columns)])
	if seg.Requirement == association.OptionalJoin && allNull(values) {
		return nil
	}

	rec := &Record{Table: seg.Table, Columns: seg.Columns, Values: values}
	for _, join := range seg.Joins {
		rec.setOne(join.Key, decodeSegment(join, row))
	}
	return rec
}

func allNull(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

func attach(parents []*Record, plans []*planner.PrefetchPlan, fetched Fetched) error {
	for _, p := range plans {
		var children []*Record
		groups := make(map[string][]*Record)
		for i, batch := range fetched.Nodes[p.Path] {
			rows, err := decode(p.Template.Manifest(), batch)
			if err != nil {
				return fmt.Errorf("prefetch %s batch %d: %w", p.Path, i, err)
			}
			for _, row := range rows {
				children = append(children, row.record)
				groups[row.groupKey] = append(groups[row.groupKey], row.record)
			}
		}

		if err := attach(children, p.Children, fetched); err != nil {
			return err
		}

		for _, parent := range parents {
			owner := follow(parent, p.ParentSegment)
			if owner == nil {
				continue
			}
			group := groups[parentKey(owner, p.ParentColumns)]
			if p.Kind == association.ToOneDirect {
				var one *Record
				if len(group) > 0 {
					one = group[0]
				}
				owner.setOne(p.Key, one)
				continue
			}
			owner.setMany(p.Key, group)
		}
	}
	return nil
}

// follow walks joined slots from rec along path.
func follow(rec *Record, path []string) *Record {
	for _, key := range path {
		if rec == nil {
			return nil
		}
		rec = rec.One(key)
	}
	return rec
}

// parentKey returns the canonical key of rec's columns, or "" when any of
// them is NULL and so can match no child.
func parentKey(rec *Record, columns []string) string {
	values := make([]any, len(columns))
	for i, col := range columns {
		v, ok := rec.Get(col)
		if !ok || v == nil {
			return ""
		}
		values[i] = v
	}
	return planner.CanonicalKey(values)
}
