package match

import (
	"strings"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
)

// Kinds of the pattern matching steps.
const (
	// KindMatchFirst binds the root alias of a pattern
	KindMatchFirst exec.Kind = "MatchFirstStep"
	// KindMatch walks one edge of a pattern
	KindMatch exec.Kind = "MatchStep"
	// KindOptionalMatch walks an edge whose target alias is optional
	KindOptionalMatch exec.Kind = "OptionalMatchStep"
	// KindRemoveEmptyOptional turns empty optional bindings into nil
	KindRemoveEmptyOptional exec.Kind = "RemoveEmptyOptionalsStep"
	// KindFilterNotMatch drops rows matching a negative pattern
	KindFilterNotMatch exec.Kind = "FilterNotMatchPatternStep"
	// KindMatchFilter keeps bindings whose alias passes a filter
	KindMatchFilter exec.Kind = "MatchFilterStep"
	// KindReturnMatch shapes matched rows for the return mode
	KindReturnMatch exec.Kind = "ReturnMatchStep"
)

type emptyOptional struct{}

func (emptyOptional) String() string { return "<empty optional>" }

// EmptyOptional is bound to an optional alias that matched nothing, until
// RemoveEmptyOptionalsStep turns it into nil
var EmptyOptional any = emptyOptional{}

// IsEmptyOptional reports whether v is the empty-optional marker
func IsEmptyOptional(v any) bool {
	_, ok := v.(emptyOptional)
	return ok
}

// MatchFirstStep binds a root alias to the records produced by its
// candidate plan. With a previous step it binds the alias once per upstream
// binding.
type MatchFirstStep struct {
	exec.BaseStep

	Alias      string
	Filter     Filter
	Candidates *exec.Plan
}

// NewMatchFirstStep creates a root binding step
func NewMatchFirstStep(alias string, filter Filter, candidates *exec.Plan) *MatchFirstStep {
	return &MatchFirstStep{Alias: alias, Filter: filter, Candidates: candidates}
}

func (s *MatchFirstStep) Kind() exec.Kind { return KindMatchFirst }

func (s *MatchFirstStep) SubPlans() []*exec.Plan { return []*exec.Plan{s.Candidates} }

func (s *MatchFirstStep) Start(ctx *exec.Context) (exec.Stream, error) {
	ev := newEvaluator(ctx)
	bindOver := func(ctx *exec.Context, binding *exec.Row) (exec.Stream, error) {
		candidates, err := s.Candidates.Start(ctx)
		if err != nil {
			return nil, err
		}
		return exec.MapStream(candidates, func(ctx *exec.Context, row *exec.Row) (*exec.Row, error) {
			el := row.Element()
			if el == nil {
				return nil, nil
			}
			ok, err := ev.accepts(&s.Filter, el, binding, 0)
			if err != nil || !ok {
				return nil, err
			}
			out := binding.Copy()
			out.SetProperty(s.Alias, el)
			return out, nil
		}), nil
	}

	if s.Previous() == nil {
		return s.Profile(ctx, exec.LazyStream(func(ctx *exec.Context) (exec.Stream, error) {
			return bindOver(ctx, exec.NewRow())
		})), nil
	}
	upstream, err := s.Previous().Start(ctx)
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, exec.FlatMapStream(upstream, bindOver)), nil
}

func (s *MatchFirstStep) Copy(ctx *exec.Context) exec.Step {
	return &MatchFirstStep{Alias: s.Alias, Filter: s.Filter, Candidates: s.Candidates.Copy(ctx)}
}

func (s *MatchFirstStep) CanBeCached() bool { return s.Candidates.CanBeCached() }

func (s *MatchFirstStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "SET '"+s.Alias+"'") + "\n" + exec.BoxedPlans([]*exec.Plan{s.Candidates}, depth, indent)
}

// MatchStep extends every upstream binding by traversing one pattern edge.
// When the target alias is already bound only that record is kept.
type MatchStep struct {
	exec.BaseStep

	Traversal traversal
}

func newMatchStep(t traversal) *MatchStep { return &MatchStep{Traversal: t} }

func (s *MatchStep) Kind() exec.Kind { return KindMatch }

func (s *MatchStep) Start(ctx *exec.Context) (exec.Stream, error) {
	upstream, err := s.Upstream(ctx, "MATCH traversal")
	if err != nil {
		return nil, err
	}
	ev := newEvaluator(ctx)
	return s.Profile(ctx, exec.FlatMapStream(upstream, func(ctx *exec.Context, row *exec.Row) (exec.Stream, error) {
		return s.Traversal.expand(ctx, ev, row)
	})), nil
}

func (s *MatchStep) Copy(*exec.Context) exec.Step { return newMatchStep(s.Traversal) }

func (s *MatchStep) CanBeCached() bool { return true }

func (s *MatchStep) PrettyPrint(depth, indent int) string {
	return s.describe(depth, indent, "MATCH  "+s.Traversal.arrow())
}

func (s *MatchStep) describe(depth, indent int, title string) string {
	return s.Header(depth, indent, title) + "\n" + exec.Indent(depth, indent) + "  " + s.Traversal.String()
}

// OptionalMatchStep is a left-join traversal: an upstream binding with no
// match is kept once, with the target alias bound to EmptyOptional
type OptionalMatchStep struct {
	MatchStep
}

func newOptionalMatchStep(t traversal) *OptionalMatchStep {
	return &OptionalMatchStep{MatchStep: MatchStep{Traversal: t}}
}

func (s *OptionalMatchStep) Kind() exec.Kind { return KindOptionalMatch }

func (s *OptionalMatchStep) Start(ctx *exec.Context) (exec.Stream, error) {
	upstream, err := s.Upstream(ctx, "OPTIONAL MATCH traversal")
	if err != nil {
		return nil, err
	}
	ev := newEvaluator(ctx)
	return s.Profile(ctx, exec.FlatMapStream(upstream, func(ctx *exec.Context, row *exec.Row) (exec.Stream, error) {
		matches, err := s.Traversal.expand(ctx, ev, row)
		if err != nil {
			return nil, err
		}
		return orEmptyOptional(matches, row, s.Traversal.To), nil
	})), nil
}

func (s *OptionalMatchStep) Copy(*exec.Context) exec.Step { return newOptionalMatchStep(s.Traversal) }

func (s *OptionalMatchStep) PrettyPrint(depth, indent int) string {
	return s.describe(depth, indent, "OPTIONAL MATCH "+s.Traversal.arrow())
}

// orEmptyOptional yields the rows of matches, or a single row binding alias
// to EmptyOptional when there are none
func orEmptyOptional(matches exec.Stream, row *exec.Row, alias string) exec.Stream {
	emitted, done := false, false
	return exec.NewProducerStream(func(ctx *exec.Context) (*exec.Row, error) {
		if done {
			return nil, nil
		}
		ok, err := matches.HasNext(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			emitted = true
			return matches.Next(ctx)
		}
		done = true
		if emitted {
			return nil, nil
		}
		out := row.Copy()
		out.SetProperty(alias, EmptyOptional)
		return out, nil
	}, matches.Close)
}

// RemoveEmptyOptionalsStep replaces EmptyOptional bindings with nil
type RemoveEmptyOptionalsStep struct {
	exec.BaseStep
}

func (s *RemoveEmptyOptionalsStep) Kind() exec.Kind { return KindRemoveEmptyOptional }

func (s *RemoveEmptyOptionalsStep) Start(ctx *exec.Context) (exec.Stream, error) {
	upstream, err := s.Upstream(ctx, "empty optional removal")
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, exec.MapStream(upstream, func(_ *exec.Context, row *exec.Row) (*exec.Row, error) {
		for _, name := range row.PropertyNames() {
			if IsEmptyOptional(row.Property(name)) {
				row.SetProperty(name, nil)
			}
		}
		return row, nil
	})), nil
}

func (s *RemoveEmptyOptionalsStep) Copy(*exec.Context) exec.Step { return &RemoveEmptyOptionalsStep{} }

func (s *RemoveEmptyOptionalsStep) CanBeCached() bool { return true }

func (s *RemoveEmptyOptionalsStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "REMOVE EMPTY OPTIONALS")
}

// FilterNotMatchPatternStep drops every upstream binding for which the
// negated sub-pattern, seeded with that binding, produces a row
type FilterNotMatchPatternStep struct {
	exec.BaseStep

	Steps []exec.Step
}

// NewFilterNotMatchPatternStep creates an anti-join over steps
func NewFilterNotMatchPatternStep(steps ...exec.Step) *FilterNotMatchPatternStep {
	return &FilterNotMatchPatternStep{Steps: steps}
}

func (s *FilterNotMatchPatternStep) Kind() exec.Kind { return KindFilterNotMatch }

func (s *FilterNotMatchPatternStep) SubSteps() []exec.Step { return s.Steps }

func (s *FilterNotMatchPatternStep) Start(ctx *exec.Context) (exec.Stream, error) {
	upstream, err := s.Upstream(ctx, "NOT pattern filter")
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, exec.FilterStream(upstream, func(ctx *exec.Context, row *exec.Row) (bool, error) {
		found, err := s.matches(ctx, row)
		return !found, err
	})), nil
}

func (s *FilterNotMatchPatternStep) matches(ctx *exec.Context, row *exec.Row) (bool, error) {
	plan := exec.NewPlan(exec.NewRowsStep(row))
	for _, step := range s.Steps {
		plan.Chain(step.Copy(ctx))
	}
	st, err := plan.Start(ctx)
	if err != nil {
		return false, err
	}
	defer st.Close(ctx)
	return st.HasNext(ctx)
}

func (s *FilterNotMatchPatternStep) Copy(ctx *exec.Context) exec.Step {
	steps := make([]exec.Step, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = step.Copy(ctx)
	}
	return &FilterNotMatchPatternStep{Steps: steps}
}

func (s *FilterNotMatchPatternStep) CanBeCached() bool {
	for _, step := range s.Steps {
		if !step.CanBeCached() {
			return false
		}
	}
	return true
}

func (s *FilterNotMatchPatternStep) PrettyPrint(depth, indent int) string {
	lines := []string{s.Header(depth, indent, "NOT (")}
	for _, step := range s.Steps {
		lines = append(lines, step.PrettyPrint(depth+1, indent))
	}
	lines = append(lines, exec.Indent(depth, indent)+"  )")
	return strings.Join(lines, "\n")
}

// MatchFilterStep keeps the bindings whose alias passes a filter
type MatchFilterStep struct {
	exec.BaseStep

	Alias  string
	Filter Filter
}

func (s *MatchFilterStep) Kind() exec.Kind { return KindMatchFilter }

func (s *MatchFilterStep) Start(ctx *exec.Context) (exec.Stream, error) {
	upstream, err := s.Upstream(ctx, "MATCH filter")
	if err != nil {
		return nil, err
	}
	ev := newEvaluator(ctx)
	return s.Profile(ctx, exec.FilterStream(upstream, func(_ *exec.Context, row *exec.Row) (bool, error) {
		el, ok := row.Property(s.Alias).(graph.Element)
		if !ok || el == nil {
			return false, nil
		}
		return ev.accepts(&s.Filter, el, row, 0)
	})), nil
}

func (s *MatchFilterStep) Copy(*exec.Context) exec.Step {
	return &MatchFilterStep{Alias: s.Alias, Filter: s.Filter}
}

func (s *MatchFilterStep) CanBeCached() bool { return true }

func (s *MatchFilterStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "FILTER '"+s.Alias+"'") + "\n" + exec.Indent(depth, indent) + "  " + s.Filter.String()
}
