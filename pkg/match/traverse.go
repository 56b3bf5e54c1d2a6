package match

import (
	"errors"
	"strings"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// PathPrefix prefixes the temporary property holding the intermediate
// elements of a recursive traversal
const PathPrefix = "$path."

// evaluator runs alias filters with the MATCH context variables set on a
// private child context
type evaluator struct {
	ctx *exec.Context
}

func newEvaluator(ctx *exec.Context) *evaluator {
	return &evaluator{ctx: ctx.NewChild()}
}

func (ev *evaluator) bind(candidate graph.Element, binding *exec.Row, depth int) {
	ev.ctx.SetVariable(expr.VarCurrentMatch, candidate)
	ev.ctx.SetVariable(expr.VarMatched, binding)
	ev.ctx.SetVariable(expr.VarDepth, depth)
}

// accepts checks class, rid and where of f against candidate
func (ev *evaluator) accepts(f *Filter, candidate graph.Element, binding *exec.Row, depth int) (bool, error) {
	if f.Class != "" && !graph.MatchesClass(candidate, f.Class) {
		return false, nil
	}
	if f.RID != nil && candidate.Identity() != *f.RID {
		return false, nil
	}
	if f.Where == nil {
		return true, nil
	}
	ev.bind(candidate, binding, depth)
	return exec.EvalBool(f.Where, exec.NewElementRow(candidate), ev.ctx)
}

// holds evaluates a while condition at current
func (ev *evaluator) holds(cond exec.Expression, current graph.Element, binding *exec.Row, depth int) (bool, error) {
	if cond == nil {
		return true, nil
	}
	ev.bind(current, binding, depth)
	return exec.EvalBool(cond, exec.NewElementRow(current), ev.ctx)
}

// traversal is one compiled edge walk from an already bound alias
type traversal struct {
	From, To    string
	Method      Method
	EdgeClasses []string
	Field       string
	Reverse     bool

	// Target is the filter of the alias being bound. Recursion modifiers
	// are only set on forward walks.
	Target Filter
}

func (t *traversal) recursive() bool { return !t.Reverse && t.Target.Recursive() }

func (t *traversal) arrow() string {
	switch {
	case t.Method == Both || t.Method == BothE || t.Method == BothV:
		return "<--->"
	case t.Reverse:
		return "<----"
	default:
		return "---->"
	}
}

func (t *traversal) String() string {
	item := PathItem{Method: t.Method, EdgeClasses: t.EdgeClasses, Field: t.Field, Filter: t.Target}
	if t.Reverse {
		return "{" + t.To + "}" + item.call() + "{as: " + t.From + "} (reverse)"
	}
	return "{" + t.From + "}" + item.String()
}

// expand returns the bindings produced by walking from row's source alias.
// A source that is not an element yields no bindings, except that a
// consistency check touching an empty optional alias keeps the row.
func (t *traversal) expand(ctx *exec.Context, ev *evaluator, row *exec.Row) (exec.Stream, error) {
	if row.HasProperty(t.To) && (IsEmptyOptional(row.Property(t.From)) || IsEmptyOptional(row.Property(t.To))) {
		return exec.NewSliceStream([]*exec.Row{row.Copy()}), nil
	}
	from, ok := row.Property(t.From).(graph.Element)
	if !ok || from == nil {
		return exec.EmptyStream(), nil
	}
	if t.recursive() {
		return t.walk(ev, row, from), nil
	}
	next, err := t.hop(ctx, from)
	if err != nil {
		return nil, err
	}
	rows := make([]*exec.Row, 0, len(next))
	for _, el := range next {
		ok, err := t.admit(ev, el, row, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			out := row.Copy()
			out.SetProperty(t.To, el)
			rows = append(rows, out)
		}
	}
	return exec.NewSliceStream(rows), nil
}

// admit applies the consistency check against an existing binding of the
// target alias and then the target filter
func (t *traversal) admit(ev *evaluator, el graph.Element, row *exec.Row, depth int) (bool, error) {
	if row.HasProperty(t.To) {
		bound, ok := row.Property(t.To).(graph.Element)
		if !ok || bound == nil || bound.Identity() != el.Identity() {
			return false, nil
		}
	}
	return ev.accepts(&t.Target, el, row, depth)
}

// frame is one element on the depth-first walk
type frame struct {
	el       graph.Element
	depth    int
	path     []graph.Element
	next     []graph.Element
	pos      int
	visited  bool
	expanded bool
}

// walk lazily enumerates the variable-length traversal from source. Depth
// 0 is the source itself. Elements already on the current path are not
// re-entered.
func (t *traversal) walk(ev *evaluator, row *exec.Row, source graph.Element) exec.Stream {
	stack := []*frame{{el: source, path: []graph.Element{source}}}
	return exec.NewProducerStream(func(ctx *exec.Context) (*exec.Row, error) {
		for len(stack) > 0 {
			if err := ctx.CheckTimeout(); err != nil {
				return nil, err
			}
			top := stack[len(stack)-1]
			if !top.visited {
				top.visited = true
				ok, err := t.admit(ev, top.el, row, top.depth)
				if err != nil {
					return nil, err
				}
				if ok {
					return t.bindWalk(row, top), nil
				}
			}
			if !top.expanded {
				top.expanded = true
				more, err := t.canExpand(ev, top, row)
				if err != nil {
					return nil, err
				}
				if more {
					if top.next, err = t.hop(ctx, top.el); err != nil {
						return nil, err
					}
				}
			}
			if top.pos < len(top.next) {
				n := top.next[top.pos]
				top.pos++
				if onPath(top.path, n) {
					continue
				}
				path := make([]graph.Element, len(top.path), len(top.path)+1)
				copy(path, top.path)
				stack = append(stack, &frame{el: n, depth: top.depth + 1, path: append(path, n)})
				continue
			}
			stack = stack[:len(stack)-1]
		}
		return nil, nil
	}, nil)
}

func (t *traversal) canExpand(ev *evaluator, f *frame, row *exec.Row) (bool, error) {
	if limit := t.Target.MaxDepth; limit != nil && *limit >= 0 && f.depth >= *limit {
		return false, nil
	}
	return ev.holds(t.Target.While, f.el, row, f.depth)
}

func (t *traversal) bindWalk(row *exec.Row, f *frame) *exec.Row {
	out := row.Copy()
	out.SetProperty(t.To, f.el)
	if t.Target.DepthAlias != "" {
		out.SetProperty(t.Target.DepthAlias, f.depth)
	}
	if t.Target.PathAlias != "" {
		out.SetProperty(t.Target.PathAlias, elementsOf(f.path))
	}
	var between []graph.Element
	if len(f.path) > 2 {
		between = f.path[1 : len(f.path)-1]
	}
	out.SetTemporaryProperty(PathPrefix+t.To, elementsOf(between))
	return out
}

func onPath(path []graph.Element, el graph.Element) bool {
	for _, p := range path {
		if p.Identity() == el.Identity() {
			return true
		}
	}
	return false
}

func elementsOf(list []graph.Element) []any {
	out := make([]any, len(list))
	for i, el := range list {
		out[i] = el
	}
	return out
}

// hop returns the elements one step away from el
func (t *traversal) hop(ctx *exec.Context, el graph.Element) ([]graph.Element, error) {
	s := ctx.Session
	if s == nil {
		return nil, exec.NewCommandError(exec.CategoryConfiguration, "", "Cannot traverse %s without a database session", t.String())
	}
	var out []graph.Element
	var err error
	if t.Reverse {
		out, err = t.hopBack(s, el)
	} else {
		out, err = t.hopForward(s, el)
	}
	if err != nil {
		return nil, exec.WrapCommandError(exec.CategoryExecution, ctx.Database(), err, "Cannot traverse from %s", el.Identity())
	}
	return out, nil
}

func (t *traversal) hopForward(s storage.Session, el graph.Element) ([]graph.Element, error) {
	edge, isEdge := el.(*graph.Edge)
	switch t.Method {
	case Out, In, Both:
		if isEdge {
			// an edge leads out to its target and in to its source
			return endpoints(s, edge, t.Method != Out, t.Method != In)
		}
		return neighbors(s, el.Identity(), direction(t.Method), t.EdgeClasses)
	case OutE, InE, BothE:
		if isEdge {
			return nil, nil
		}
		return edgesOf(s, el.Identity(), direction(t.Method), t.EdgeClasses)
	case OutV, InV, BothV:
		if !isEdge {
			return nil, nil
		}
		return endpoints(s, edge, t.Method != InV, t.Method != OutV)
	case FieldMethod:
		return follow(s, el, t.Field)
	}
	return nil, nil
}

// hopBack walks the declared traversal from its target side
func (t *traversal) hopBack(s storage.Session, el graph.Element) ([]graph.Element, error) {
	edge, isEdge := el.(*graph.Edge)
	switch t.Method {
	case Out, In, Both:
		if isEdge {
			return nil, nil
		}
		return neighbors(s, el.Identity(), reverse(direction(t.Method)), t.EdgeClasses)
	case OutE, InE, BothE:
		// the edge was reached from the vertex on its declared side
		if !isEdge || !matchesAny(edge, t.EdgeClasses) {
			return nil, nil
		}
		return endpoints(s, edge, t.Method != InE, t.Method != OutE)
	case OutV, InV, BothV:
		if isEdge {
			return nil, nil
		}
		return edgesOf(s, el.Identity(), vertexSide(t.Method), nil)
	}
	return nil, nil
}

func direction(m Method) graph.Direction {
	switch m {
	case In, InE, InV:
		return graph.DirectionIn
	case Both, BothE, BothV:
		return graph.DirectionBoth
	}
	return graph.DirectionOut
}

func reverse(d graph.Direction) graph.Direction {
	switch d {
	case graph.DirectionOut:
		return graph.DirectionIn
	case graph.DirectionIn:
		return graph.DirectionOut
	}
	return d
}

// vertexSide maps outV/inV to the direction of the edges a vertex sees
// when it is an edge's source or target
func vertexSide(m Method) graph.Direction {
	switch m {
	case OutV:
		return graph.DirectionOut
	case InV:
		return graph.DirectionIn
	}
	return graph.DirectionBoth
}

func neighbors(s storage.Session, id graph.ID, dir graph.Direction, classes []string) ([]graph.Element, error) {
	out, err := storage.Neighbors(s, id, dir, classes)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return out, err
}

func edgesOf(s storage.Session, id graph.ID, dir graph.Direction, classes []string) ([]graph.Element, error) {
	edges, err := s.EdgesOf(id, dir, classes)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]graph.Element, len(edges))
	for i, e := range edges {
		out[i] = e
	}
	return out, nil
}

// endpoints loads the source and/or target vertex of e
func endpoints(s storage.Session, e *graph.Edge, source, target bool) ([]graph.Element, error) {
	var ids []graph.ID
	if source {
		ids = append(ids, e.Source)
	}
	if target && (!source || e.Target != e.Source) {
		ids = append(ids, e.Target)
	}
	return load(s, ids)
}

func matchesAny(e graph.Element, classes []string) bool {
	if len(classes) == 0 {
		return true
	}
	for _, c := range classes {
		if graph.MatchesClass(e, c) {
			return true
		}
	}
	return false
}

// follow reads a link or link-list property. Anything else, including a
// missing or null value, yields nothing.
func follow(s storage.Session, el graph.Element, field string) ([]graph.Element, error) {
	v, _ := el.Property(field)
	var ids []graph.ID
	var direct []graph.Element
	collect := func(item any) {
		switch x := item.(type) {
		case graph.Element:
			if x != nil {
				direct = append(direct, x)
			}
		default:
			if id, ok := asLink(item); ok {
				ids = append(ids, id)
			}
		}
	}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			collect(item)
		}
	case []graph.ID:
		ids = append(ids, list...)
	default:
		collect(v)
	}
	loaded, err := load(s, ids)
	if err != nil {
		return nil, err
	}
	return append(direct, loaded...), nil
}

// asLink accepts record ids and "#n" strings. Plain numbers are data, not
// links.
func asLink(v any) (graph.ID, bool) {
	switch x := v.(type) {
	case graph.ID:
		return x, true
	case string:
		if strings.HasPrefix(x, "#") {
			return exec.ParseID(x)
		}
	}
	return 0, false
}

func load(s storage.Session, ids []graph.ID) ([]graph.Element, error) {
	out := make([]graph.Element, 0, len(ids))
	for _, id := range ids {
		el, err := s.Load(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}
