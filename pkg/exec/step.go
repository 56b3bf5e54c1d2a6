// Package exec implements the pull-based execution pipeline: steps chained
// into plans, streams of rows flowing between them, and the composite steps
// that combine sub-plans.
package exec

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind tags a step type. It doubles as the serialization type tag.
type Kind string

// Step is one stage of a plan. Every implementation embeds BaseStep.
type Step interface {
	// Kind identifies the step type
	Kind() Kind

	// Start begins a logical execution and returns its output stream
	Start(ctx *Context) (Stream, error)

	// Chain links. Plan maintains both directions.
	Previous() Step
	SetPrevious(prev Step)
	NextStep() Step
	SetNext(next Step)

	// Copy returns an independent step with the same configuration and no
	// per-execution state
	Copy(ctx *Context) Step

	// CanBeCached reports whether the step may be reused across executions
	CanBeCached() bool

	// PrettyPrint renders the step at depth for EXPLAIN and PROFILE output
	PrettyPrint(depth, indent int) string
	// Cost is the time charged to the step while profiling
	Cost() time.Duration

	// SubSteps and SubPlans expose nested steps to plan walkers
	SubSteps() []Step
	SubPlans() []*Plan

	// Serialize writes the step as a record tagged with its Kind;
	// Deserialize restores it
	Serialize() (map[string]any, error)
	Deserialize(record map[string]any) error

	base() *BaseStep
}

// BaseStep carries the chain links and profiling counters shared by all steps
type BaseStep struct {
	prev      Step
	next      Step
	profiling atomic.Bool
	cost      atomic.Int64
}

func (b *BaseStep) base() *BaseStep { return b }

// Previous returns the upstream step, or nil for a source step
func (b *BaseStep) Previous() Step { return b.prev }

// SetPrevious links the upstream step
func (b *BaseStep) SetPrevious(prev Step) { b.prev = prev }

// NextStep returns the downstream step
func (b *BaseStep) NextStep() Step { return b.next }

// SetNext links the downstream step
func (b *BaseStep) SetNext(next Step) { b.next = next }

// SetProfiling toggles cost reporting in PrettyPrint
func (b *BaseStep) SetProfiling(enabled bool) { b.profiling.Store(enabled) }

// Cost returns the time accumulated while profiling
func (b *BaseStep) Cost() time.Duration { return time.Duration(b.cost.Load()) }

// SubSteps returns nil; steps that own sub-steps override it
func (b *BaseStep) SubSteps() []Step { return nil }

// SubPlans returns nil; composite steps override it
func (b *BaseStep) SubPlans() []*Plan { return nil }

// Serialize is unsupported unless a step overrides it
func (b *BaseStep) Serialize() (map[string]any, error) {
	return nil, &UnsupportedOperationError{Operation: "serialize"}
}

// Deserialize is unsupported unless a step overrides it
func (b *BaseStep) Deserialize(map[string]any) error {
	return &UnsupportedOperationError{Operation: "deserialize"}
}

// DrainPrevious runs the upstream step to completion and closes its stream.
// Source steps call it so upstream side effects happen before they produce.
func (b *BaseStep) DrainPrevious(ctx *Context) error {
	if b.prev == nil {
		return nil
	}
	s, err := b.prev.Start(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	for {
		ok, err := s.HasNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := s.Next(ctx); err != nil {
			return err
		}
	}
}

// Begin marks the step as profiled when the context asks for it and returns
// a func recording the time spent until it is called
func (b *BaseStep) Begin(ctx *Context) func() {
	if !ctx.Profiling {
		return func() {}
	}
	b.profiling.Store(true)
	start := time.Now()
	return func() { b.cost.Add(int64(time.Since(start))) }
}

// Profile marks the step as profiled when the context asks for it and wraps
// s so time spent pulling from it is charged to the step
func (b *BaseStep) Profile(ctx *Context, s Stream) Stream {
	if !ctx.Profiling {
		return s
	}
	b.profiling.Store(true)
	return &profiledStream{src: s, step: b}
}

// Header renders a pretty-print header line with the optional cost suffix
func (b *BaseStep) Header(depth, indent int, title string) string {
	line := Indent(depth, indent) + "+ " + title
	if b.profiling.Load() {
		line += " (" + FormatCost(b.Cost()) + ")"
	}
	return line
}

type profiledStream struct {
	src  Stream
	step *BaseStep
}

func (p *profiledStream) HasNext(ctx *Context) (bool, error) {
	start := time.Now()
	defer func() { p.step.cost.Add(int64(time.Since(start))) }()
	return p.src.HasNext(ctx)
}

func (p *profiledStream) Next(ctx *Context) (*Row, error) {
	start := time.Now()
	defer func() { p.step.cost.Add(int64(time.Since(start))) }()
	return p.src.Next(ctx)
}

func (p *profiledStream) Close(ctx *Context) {
	p.src.Close(ctx)
}

// Indent returns depth*indent spaces
func Indent(depth, indent int) string {
	if depth <= 0 || indent <= 0 {
		return ""
	}
	return strings.Repeat(" ", depth*indent)
}

// FormatCost renders a duration in microseconds with thousands separators
func FormatCost(d time.Duration) string {
	return humanize.Comma(d.Microseconds()) + "μs"
}

// RequirePrevious returns a configuration error when the step has no upstream
func (b *BaseStep) RequirePrevious(ctx *Context, what string) error {
	if b.prev == nil {
		return NewCommandError(CategoryConfiguration, ctx.Database(), "Cannot execute %s without a previous step", what)
	}
	return nil
}

// Upstream starts the previous step, failing when there is none
func (b *BaseStep) Upstream(ctx *Context, what string) (Stream, error) {
	if err := b.RequirePrevious(ctx, what); err != nil {
		return nil, err
	}
	return b.prev.Start(ctx)
}

// IndentBlock prefixes every line of block with prefix
func IndentBlock(block, prefix string) string {
	lines := strings.Split(block, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// BoxedPlans renders sub-plans as framed blocks, each followed by a
// connector ending in a V marker
func BoxedPlans(plans []*Plan, depth, indent int) string {
	ind := Indent(depth, indent)
	const border = "+-------------------------"
	var sb strings.Builder
	for i, p := range plans {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(ind + "  " + border + "\n")
		sb.WriteString(IndentBlock(p.PrettyPrint(0, indent), ind+"  | ") + "\n")
		sb.WriteString(ind + "  " + border + "\n")
		sb.WriteString(ind + "             |\n")
		sb.WriteString(ind + "             V")
	}
	return sb.String()
}
