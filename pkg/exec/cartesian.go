package exec

// KindCartesianProduct tags CartesianProductStep
const KindCartesianProduct Kind = "CartesianProductStep"

func init() {
	RegisterStep(KindCartesianProduct, func() Step { return &CartesianProductStep{} })
}

// CartesianProductStep emits the cross product of independent sub-plans.
// Sub-plan 0 is the outermost loop; sub-plan i is restarted for every row
// prefix of sub-plans 0..i-1. Overlapping properties take the value of the
// later sub-plan.
type CartesianProductStep struct {
	BaseStep

	Plans []*Plan
}

// NewCartesianProductStep creates a product over plans
func NewCartesianProductStep(plans ...*Plan) *CartesianProductStep {
	return &CartesianProductStep{Plans: plans}
}

// AddPlan appends a sub-plan
func (s *CartesianProductStep) AddPlan(p *Plan) { s.Plans = append(s.Plans, p) }

func (s *CartesianProductStep) Kind() Kind { return KindCartesianProduct }

func (s *CartesianProductStep) SubPlans() []*Plan { return s.Plans }

func (s *CartesianProductStep) Start(ctx *Context) (Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	switch len(s.Plans) {
	case 0:
		return EmptyStream(), nil
	case 1:
		st, err := s.Plans[0].Start(ctx)
		if err != nil {
			return nil, err
		}
		return s.Profile(ctx, st), nil
	}
	c := &cartesianStream{
		plans:   s.Plans,
		streams: make([]Stream, len(s.Plans)),
		current: make([]*Row, len(s.Plans)),
	}
	return s.Profile(ctx, NewProducerStream(c.produce, c.closeAll)), nil
}

func (s *CartesianProductStep) Copy(ctx *Context) Step {
	c := &CartesianProductStep{Plans: make([]*Plan, len(s.Plans))}
	for i, p := range s.Plans {
		c.Plans[i] = p.Copy(ctx)
	}
	return c
}

func (s *CartesianProductStep) CanBeCached() bool { return plansCacheable(s.Plans) }

func (s *CartesianProductStep) PrettyPrint(depth, indent int) string {
	out := s.Header(depth, indent, "CARTESIAN PRODUCT")
	if len(s.Plans) > 0 {
		out += "\n" + BoxedPlans(s.Plans, depth, indent)
	}
	return out
}

func (s *CartesianProductStep) Serialize() (map[string]any, error) {
	return BasicSerialize(s)
}

func (s *CartesianProductStep) Deserialize(record map[string]any) error {
	plans, err := DeserializeSubPlans(record)
	if err != nil {
		return err
	}
	s.Plans = plans
	return nil
}

func plansCacheable(plans []*Plan) bool {
	for _, p := range plans {
		if !p.CanBeCached() {
			return false
		}
	}
	return true
}

// cartesianStream walks the product like an odometer. streams[i] is the
// open stream of level i and current[i] its current row.
type cartesianStream struct {
	plans   []*Plan
	streams []Stream
	current []*Row
	started bool
	done    bool
}

func (c *cartesianStream) produce(ctx *Context) (*Row, error) {
	if c.done {
		return nil, nil
	}
	from := 0
	if c.started {
		var err error
		if from, err = c.advance(ctx, len(c.plans)-1); err != nil {
			return nil, err
		}
	}
	c.started = true
	for from >= 0 {
		if err := ctx.CheckTimeout(); err != nil {
			return nil, err
		}
		row, empty, err := c.fillFrom(ctx, from)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
		// an empty first sub-plan ends the product before later ones start
		if empty == 0 {
			break
		}
		if from, err = c.advance(ctx, empty-1); err != nil {
			return nil, err
		}
	}
	c.done = true
	c.closeAll(ctx)
	return nil, nil
}

// advance moves level to its next row, backing out to outer levels as they
// run dry. It returns the first level to restart, or -1 once the product is
// exhausted.
func (c *cartesianStream) advance(ctx *Context, level int) (int, error) {
	for ; level >= 0; level-- {
		row, err := pull(ctx, c.streams[level])
		if err != nil {
			return 0, err
		}
		if row != nil {
			c.current[level] = row
			return level + 1, nil
		}
		c.closeLevel(ctx, level)
	}
	return -1, nil
}

// fillFrom restarts every level from `from` onwards and returns the merged
// row. When a restarted level yields nothing it returns that level instead.
func (c *cartesianStream) fillFrom(ctx *Context, from int) (*Row, int, error) {
	for j := from; j < len(c.plans); j++ {
		st, err := c.plans[j].Start(ctx)
		if err != nil {
			return nil, j, err
		}
		c.streams[j] = st
		row, err := pull(ctx, st)
		if err != nil {
			return nil, j, err
		}
		if row == nil {
			c.closeLevel(ctx, j)
			return nil, j, nil
		}
		c.current[j] = row
	}
	merged := NewRow()
	for _, r := range c.current {
		merged.Merge(r)
	}
	return merged, -1, nil
}

func (c *cartesianStream) closeLevel(ctx *Context, level int) {
	if c.streams[level] != nil {
		c.streams[level].Close(ctx)
		c.streams[level] = nil
	}
	c.current[level] = nil
}

func (c *cartesianStream) closeAll(ctx *Context) {
	for i := range c.streams {
		c.closeLevel(ctx, i)
	}
}
