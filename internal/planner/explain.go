package planner

import (
	"fmt"
	"strings"

	"tidb-eagerload/internal/sqlutil"
)

// Explain renders every statement of the plan with arguments inlined.
// Prefetch statements show their parent key condition as `IN (...)`.
func Explain(plan *Plan) (string, error) {
	var b strings.Builder

	base, err := sqlutil.InlineArgs(plan.Base.SQL, plan.Base.Args)
	if err != nil {
		return "", fmt.Errorf("explain base statement: %w", err)
	}
	fmt.Fprintf(&b, "-- base\n%s;\n", base)

	var explain func(plans []*PrefetchPlan, depth int) error
	explain = func(plans []*PrefetchPlan, depth int) error {
		for _, p := range plans {
			stmt, err := p.Template.render(explainKeyCondition(p.Template.keyColumns))
			if err != nil {
				return fmt.Errorf("explain prefetch %s: %w", p.Path, err)
			}
			sql, err := sqlutil.InlineArgs(stmt.SQL, stmt.Args)
			if err != nil {
				return fmt.Errorf("explain prefetch %s: %w", p.Path, err)
			}
			fmt.Fprintf(&b, "-- %sprefetch %s [%s] keyed by %s\n%s;\n",
				strings.Repeat("  ", depth),
				p.Path,
				p.Kind,
				strings.Join(p.ParentColumns, ", "),
				sql,
			)
			if err := explain(p.Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := explain(plan.Prefetches, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}
