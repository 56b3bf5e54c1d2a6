package query

import (
	"time"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
	"github.com/fnuworsu/rdgql/pkg/match"
)

// PlanOptions carries the execution settings that shape a plan
type PlanOptions struct {
	Timeout    time.Duration
	Parallel   bool
	MaxWorkers int
}

// BuildPlan converts a statement into an execution plan: the MATCH plan,
// then projection or aggregation, DISTINCT, ORDER BY, SKIP and LIMIT.
// UNION ALL branches are planned separately and emitted in order.
func BuildPlan(ctx *exec.Context, q *Query, opts PlanOptions) (*exec.Plan, error) {
	if q == nil {
		return nil, exec.NewCommandError(exec.CategoryConfiguration, ctx.Database(), "No statement to plan")
	}
	plan, err := buildStatement(ctx, q, opts)
	if err != nil {
		return nil, err
	}

	if len(q.UnionAll) > 0 {
		plans := []*exec.Plan{plan}
		branchOpts := opts
		branchOpts.Timeout = 0
		for _, branch := range q.UnionAll {
			p, err := BuildPlan(ctx, branch, branchOpts)
			if err != nil {
				return nil, err
			}
			plans = append(plans, p)
		}
		union := exec.NewParallelExecStep(plans...)
		union.Concurrent = opts.Parallel
		union.MaxWorkers = opts.MaxWorkers
		plan = exec.NewPlan(union)
	}

	if opts.Timeout > 0 {
		plan.Chain(exec.NewTimeoutStep(opts.Timeout))
	}
	return plan, nil
}

func buildStatement(ctx *exec.Context, q *Query, opts PlanOptions) (*exec.Plan, error) {
	if err := validate(ctx, q); err != nil {
		return nil, err
	}

	mode := q.Return.Mode
	if mode == match.ReturnProjection && len(q.Return.Items) == 0 {
		mode = match.ReturnMatches
	}
	plan, err := match.Compile(ctx, q.Match, q.Not, mode)
	if err != nil {
		return nil, err
	}

	projection := make([]exec.ProjectionItem, len(q.Return.Items))
	for i, item := range q.Return.Items {
		projection[i] = item.projection()
	}

	switch {
	case q.hasAggregate():
		plan.Chain(exec.NewAggregateProjectionStep(projection, q.GroupBy, groupLimit(q), opts.Timeout))
		// aggregate values sit in the temporary namespace until projected
		identity := make([]exec.ProjectionItem, len(projection))
		for i, item := range projection {
			identity[i] = exec.ProjectionItem{Alias: item.Alias}
		}
		plan.Chain(exec.NewProjectionStep(identity...))
		if len(q.GroupBy) == 0 && onlyCounts(projection) {
			plan.Chain(exec.NewGuaranteeEmptyCountStep(identity...))
		}
	case len(projection) > 0:
		plan.Chain(exec.NewProjectionStep(projection...))
	}

	if q.Return.Distinct {
		plan.Chain(&exec.DistinctStep{})
	}
	if len(q.OrderBy) > 0 {
		plan.Chain(exec.NewOrderByStep(orderItems(q)...))
	}
	if q.Skip > 0 {
		plan.Chain(&exec.SkipStep{N: q.Skip})
	}
	if q.Limit != nil && *q.Limit >= 0 {
		plan.Chain(&exec.LimitStep{N: *q.Limit})
	}
	return plan, nil
}

func validate(ctx *exec.Context, q *Query) error {
	fail := func(format string, args ...any) error {
		return exec.NewCommandError(exec.CategoryConfiguration, ctx.Database(), format, args...)
	}
	if q.Return.Mode != match.ReturnProjection && len(q.Return.Items) > 0 {
		return fail("RETURN %s cannot be combined with projection items", q.Return.Mode)
	}
	if len(q.GroupBy) > 0 && !q.hasAggregate() {
		return fail("GROUP BY requires an aggregate in RETURN")
	}
	if q.Skip < 0 {
		return fail("Invalid SKIP value: %d", q.Skip)
	}
	seen := make(map[string]bool, len(q.Return.Items))
	for i, item := range q.Return.Items {
		if item.Aggregate != "" {
			if _, ok := exec.ParseAggregateKind(string(item.Aggregate)); !ok {
				return fail("Unknown aggregate function %q", item.Aggregate)
			}
		} else if item.Expr == nil {
			return fail("RETURN item %d has no expression", i)
		}
		name := item.Name()
		if seen[name] {
			return fail("Duplicate RETURN column: %s", name)
		}
		seen[name] = true
	}
	for i, o := range q.OrderBy {
		if o.Expr == nil {
			return fail("ORDER BY item %d has no expression", i)
		}
	}
	return nil
}

// groupLimit bounds group creation when nothing after the aggregation can
// reorder or collapse its rows
func groupLimit(q *Query) int {
	if q.Limit == nil || *q.Limit < 0 || len(q.OrderBy) > 0 || q.Return.Distinct {
		return -1
	}
	return q.Skip + *q.Limit
}

func onlyCounts(items []exec.ProjectionItem) bool {
	for _, item := range items {
		if item.Aggregate != exec.AggregateCount {
			return false
		}
	}
	return len(items) > 0
}

// orderItems points sort keys that name a returned column at that column
func orderItems(q *Query) []exec.OrderItem {
	columns := make(map[string]bool)
	for _, c := range q.Columns() {
		columns[c] = true
	}
	out := make([]exec.OrderItem, len(q.OrderBy))
	for i, o := range q.OrderBy {
		out[i] = o
		if name := o.Expr.String(); columns[name] {
			out[i].Expr = &expr.Property{Name: name}
		}
	}
	return out
}
