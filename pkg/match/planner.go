package match

import (
	"errors"
	"strings"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
)

// Compile builds the plan of a MATCH: one sub-plan per independent
// component of the pattern, composed by a Cartesian product when there are
// several, followed by the NOT filters, optional cleanup and the return
// shaping. With ReturnProjection the plan ends with complete bindings.
func Compile(ctx *exec.Context, match, not []Expression, mode ReturnMode) (*exec.Plan, error) {
	plan, err := compile(ctx, match, not, mode)
	if err != nil {
		var cerr *exec.CommandError
		if errors.As(err, &cerr) && cerr.Database == "" {
			cerr.Database = ctx.Database()
		}
		return nil, err
	}
	return plan, nil
}

func compile(ctx *exec.Context, match, not []Expression, mode ReturnMode) (*exec.Plan, error) {
	if len(match) == 0 {
		return nil, configError("MATCH needs at least one pattern expression")
	}
	if _, err := ParseReturnMode(string(mode)); err != nil {
		return nil, configError("%v", err)
	}
	p, err := BuildPattern(match)
	if err != nil {
		return nil, err
	}

	estimate := estimator(ctx)
	var plans []*exec.Plan
	var order []string
	for _, group := range p.components() {
		ops, err := p.schedule(group, estimate)
		if err != nil {
			return nil, err
		}
		order = append(order, p.describe(ops))
		plans = append(plans, exec.NewPlan(p.compileOps(ops)...))
	}

	plan := plans[0]
	if len(plans) > 1 {
		plan = exec.NewPlan(exec.NewCartesianProductStep(plans...))
	}
	for _, n := range not {
		steps, err := p.compileNot(n)
		if err != nil {
			return nil, err
		}
		plan.Chain(NewFilterNotMatchPatternStep(steps...))
	}
	if p.hasOptional() {
		plan.Chain(&RemoveEmptyOptionalsStep{})
	}
	if mode != ReturnProjection {
		plan.Chain(NewReturnMatchStep(mode))
	}

	ctx.Logger.Debug("match.schedule",
		"aliases", len(p.aliases),
		"components", len(plans),
		"order", strings.Join(order, " | "),
	)
	return plan, nil
}

// estimator sizes root candidates: a rid is one record, otherwise the
// session's class count
func estimator(ctx *exec.Context) Estimator {
	return func(f Filter) (int64, error) {
		if f.RID != nil {
			return 1, nil
		}
		if ctx.Session == nil {
			return 0, nil
		}
		n, err := ctx.Session.Count(f.Class)
		if err != nil {
			return 0, exec.WrapCommandError(exec.CategoryExecution, ctx.Database(), err, "Cannot estimate size of class %s", f.Class)
		}
		return n, nil
	}
}

func (p *Pattern) compileOps(ops []scheduledOp) []exec.Step {
	steps := make([]exec.Step, 0, len(ops))
	for _, op := range ops {
		if op.kind == opRoot {
			a := p.aliases[op.alias]
			steps = append(steps, NewMatchFirstStep(a.name, a.filter, candidates(a.filter)))
			continue
		}
		t, target := p.traversalFor(op)
		if !op.check && p.aliases[target].filter.Optional {
			steps = append(steps, newOptionalMatchStep(t))
		} else {
			steps = append(steps, newMatchStep(t))
		}
	}
	return steps
}

// candidates is the fetch plan of a root alias. Without a class every
// vertex is a candidate.
func candidates(f Filter) *exec.Plan {
	if f.RID != nil {
		return exec.NewPlan(exec.NewFetchFromRIDsStep(*f.RID))
	}
	class := f.Class
	if class == "" {
		class = graph.VertexClass
	}
	return exec.NewPlan(exec.NewFetchFromClassStep(class))
}

// traversalFor compiles a scheduled edge and returns the index of the
// alias it binds
func (p *Pattern) traversalFor(op scheduledOp) (traversal, int) {
	e := p.edges[op.edge]
	t := traversal{
		Method:      e.item.Method,
		EdgeClasses: e.item.EdgeClasses,
		Field:       e.item.Field,
		Reverse:     op.reverse,
	}
	if op.reverse {
		t.From, t.To = p.aliases[e.to].name, p.aliases[e.from].name
		t.Target = p.aliases[e.from].filter
		return t, e.from
	}
	t.From, t.To = p.aliases[e.from].name, p.aliases[e.to].name
	t.Target = p.aliases[e.to].filter
	mods := e.item.Filter
	t.Target.While = mods.While
	t.Target.MaxDepth = mods.MaxDepth
	t.Target.DepthAlias = mods.DepthAlias
	t.Target.PathAlias = mods.PathAlias
	return t, e.to
}

// compileNot turns a negated expression into the steps replayed per
// binding. It must start from an alias of the positive pattern; its other
// aliases are either positive aliases, checked for consistency, or local
// to the negation.
func (p *Pattern) compileNot(e Expression) ([]exec.Step, error) {
	origin := e.Origin.Alias
	if origin == "" || !p.HasAlias(origin) {
		return nil, configError("NOT pattern must start from an alias of the MATCH pattern, got %q", origin)
	}
	np := newPattern(p.anon)
	if err := np.add(e); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(p.aliases))
	for _, a := range p.aliases {
		known[a.name] = true
	}
	if err := np.resolveDependencies(known); err != nil {
		return nil, err
	}
	p.anon = np.anon

	var steps []exec.Step
	if f := np.aliases[np.index[origin]].filter; f.Class != "" || f.RID != nil || f.Where != nil {
		steps = append(steps, &MatchFilterStep{Alias: origin, Filter: f})
	}
	for i := range np.edges {
		t, _ := np.traversalFor(scheduledOp{kind: opTraverse, edge: i})
		steps = append(steps, newMatchStep(t))
	}
	return steps, nil
}
