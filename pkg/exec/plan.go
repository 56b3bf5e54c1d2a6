package exec

import (
	"strings"
	"time"
)

// Plan is an ordered chain of steps. Starting a plan starts its last step,
// which pulls from its predecessors.
type Plan struct {
	steps []Step
}

// NewPlan chains steps into a plan
func NewPlan(steps ...Step) *Plan {
	p := &Plan{}
	for _, s := range steps {
		p.Chain(s)
	}
	return p
}

// Chain appends a step, linking it to the current last step
func (p *Plan) Chain(step Step) {
	if n := len(p.steps); n > 0 {
		last := p.steps[n-1]
		last.SetNext(step)
		step.SetPrevious(last)
	}
	p.steps = append(p.steps, step)
}

// Steps returns the steps in chain order
func (p *Plan) Steps() []Step { return p.steps }

// Last returns the final step, or nil for an empty plan
func (p *Plan) Last() Step {
	if len(p.steps) == 0 {
		return nil
	}
	return p.steps[len(p.steps)-1]
}

// Start begins a fresh logical execution of the plan
func (p *Plan) Start(ctx *Context) (Stream, error) {
	last := p.Last()
	if last == nil {
		return EmptyStream(), nil
	}
	return last.Start(ctx)
}

// Execute runs the plan to completion and returns every row
func (p *Plan) Execute(ctx *Context) (*ResultSet, error) {
	s, err := p.Start(ctx)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, s)
}

// Copy returns a structurally independent plan
func (p *Plan) Copy(ctx *Context) *Plan {
	c := &Plan{}
	for _, s := range p.steps {
		c.Chain(s.Copy(ctx))
	}
	return c
}

// CanBeCached reports whether every step may be reused across executions
func (p *Plan) CanBeCached() bool {
	for _, s := range p.steps {
		if !s.CanBeCached() {
			return false
		}
	}
	return true
}

// Cost sums the profiled cost of the plan's steps
func (p *Plan) Cost() time.Duration {
	var total time.Duration
	for _, s := range p.steps {
		total += s.Cost()
	}
	return total
}

// PrettyPrint renders every step, one block per step
func (p *Plan) PrettyPrint(depth, indent int) string {
	parts := make([]string, len(p.steps))
	for i, s := range p.steps {
		parts[i] = s.PrettyPrint(depth, indent)
	}
	return strings.Join(parts, "\n")
}

// Serialize encodes the plan as a record
func (p *Plan) Serialize() (map[string]any, error) {
	steps := make([]any, 0, len(p.steps))
	for _, s := range p.steps {
		rec, err := SerializeStep(s)
		if err != nil {
			return nil, err
		}
		steps = append(steps, rec)
	}
	return map[string]any{KeyType: "plan", keyPlanSteps: steps}, nil
}

// DeserializePlan rebuilds a plan from a record produced by Serialize
func DeserializePlan(record map[string]any) (*Plan, error) {
	raw, ok := record[keyPlanSteps]
	if !ok {
		return nil, malformed("plan record has no %q field", keyPlanSteps)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, malformed("plan field %q is %T, not a list", keyPlanSteps, raw)
	}
	p := &Plan{}
	for _, item := range list {
		rec, ok := asRecord(item)
		if !ok {
			return nil, malformed("plan step is %T, not a record", item)
		}
		s, err := DeserializeStep(rec)
		if err != nil {
			return nil, err
		}
		p.Chain(s)
	}
	return p, nil
}
