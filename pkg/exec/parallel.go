package exec

import (
	"golang.org/x/sync/errgroup"
)

// KindParallelExec tags ParallelExecStep
const KindParallelExec Kind = "ParallelExecStep"

func init() {
	RegisterStep(KindParallelExec, func() Step { return &ParallelExecStep{} })
}

// ParallelExecStep emits the union of its sub-plans in sub-plan order.
// With Concurrent set the sub-plans are executed up front on separate
// goroutines and their rows are replayed in order.
type ParallelExecStep struct {
	BaseStep

	Plans      []*Plan
	Concurrent bool
	MaxWorkers int
}

// NewParallelExecStep creates a sequential union over plans
func NewParallelExecStep(plans ...*Plan) *ParallelExecStep {
	return &ParallelExecStep{Plans: plans}
}

func (s *ParallelExecStep) Kind() Kind { return KindParallelExec }

func (s *ParallelExecStep) SubPlans() []*Plan { return s.Plans }

func (s *ParallelExecStep) Start(ctx *Context) (Stream, error) {
	done := s.Begin(ctx)
	defer done()
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	if s.Concurrent && len(s.Plans) > 1 {
		return s.Profile(ctx, LazyStream(s.prefetch)), nil
	}
	opens := make([]func(ctx *Context) (Stream, error), len(s.Plans))
	for i, p := range s.Plans {
		opens[i] = p.Start
	}
	return s.Profile(ctx, ConcatStream(opens)), nil
}

func (s *ParallelExecStep) prefetch(ctx *Context) (Stream, error) {
	results := make([]*ResultSet, len(s.Plans))
	g, gctx := errgroup.WithContext(ctx.Context())
	if s.MaxWorkers > 0 {
		g.SetLimit(s.MaxWorkers)
	}
	for i, p := range s.Plans {
		i, p := i, p
		g.Go(func() error {
			rs, err := p.Execute(ctx.NewChild(WithGoContext(gctx)))
			results[i] = rs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var rows []*Row
	for _, rs := range results {
		rows = append(rows, rs.Rows...)
	}
	ctx.Logger.Debug("parallel.prefetch", "plans", len(s.Plans), "rows", len(rows))
	return NewSliceStream(rows), nil
}

func (s *ParallelExecStep) Copy(ctx *Context) Step {
	c := &ParallelExecStep{Plans: make([]*Plan, len(s.Plans)), Concurrent: s.Concurrent, MaxWorkers: s.MaxWorkers}
	for i, p := range s.Plans {
		c.Plans[i] = p.Copy(ctx)
	}
	return c
}

func (s *ParallelExecStep) CanBeCached() bool { return plansCacheable(s.Plans) }

func (s *ParallelExecStep) PrettyPrint(depth, indent int) string {
	out := s.Header(depth, indent, "PARALLEL")
	if len(s.Plans) > 0 {
		out += "\n" + BoxedPlans(s.Plans, depth, indent)
	}
	return out
}

func (s *ParallelExecStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	if s.Concurrent {
		rec["concurrent"] = true
		rec["maxWorkers"] = s.MaxWorkers
	}
	return rec, nil
}

func (s *ParallelExecStep) Deserialize(record map[string]any) error {
	var err error
	if s.Plans, err = DeserializeSubPlans(record); err != nil {
		return err
	}
	if s.Concurrent, err = BoolField(record, "concurrent"); err != nil {
		return err
	}
	s.MaxWorkers, err = IntField(record, "maxWorkers", 0)
	return err
}
