package match

import (
	"math"
	"strings"
)

// opKind tells a scheduled operation apart
type opKind int

const (
	opRoot opKind = iota
	opTraverse
)

// scheduledOp is one entry of a component's execution order: either a new
// root alias or the traversal of an edge, possibly walked in reverse
type scheduledOp struct {
	kind    opKind
	alias   int
	edge    int
	reverse bool
	check   bool
}

// Estimator returns the expected number of candidates for a root alias
type Estimator func(f Filter) (int64, error)

// schedule orders the aliases and edges of one component. Edges whose both
// ends are bound are emitted first as consistency checks; then edges
// reaching required aliases; optional aliases last. When nothing is
// reachable a new root is picked among the cheapest unbound aliases whose
// dependencies are satisfied.
func (p *Pattern) schedule(group []int, estimate Estimator) ([]scheduledOp, error) {
	inGroup := make(map[int]bool, len(group))
	for _, a := range group {
		inGroup[a] = true
	}
	var edges []int
	for i, e := range p.edges {
		if inGroup[e.from] {
			edges = append(edges, i)
		}
	}

	bound := make(map[int]bool, len(group))
	used := make(map[int]bool, len(edges))
	ready := func(a int) bool {
		for _, d := range p.aliases[a].deps {
			if !bound[d] {
				return false
			}
		}
		return true
	}

	var ops []scheduledOp
	for len(bound) < len(group) || len(used) < len(edges) {
		if op, ok := p.nextEdge(edges, bound, used, ready); ok {
			used[op.edge] = true
			e := p.edges[op.edge]
			if op.reverse {
				bound[e.from] = true
			} else {
				bound[e.to] = true
			}
			ops = append(ops, op)
			continue
		}

		root, err := p.pickRoot(group, bound, ready, estimate)
		if err != nil {
			return nil, err
		}
		bound[root] = true
		ops = append(ops, scheduledOp{kind: opRoot, alias: root})
	}
	return ops, nil
}

// nextEdge picks the best traversable edge of the frontier
func (p *Pattern) nextEdge(edges []int, bound, used map[int]bool, ready func(int) bool) (scheduledOp, bool) {
	const (
		rankRequired = iota
		rankOptional
		rankNone
	)
	best, bestRank := scheduledOp{}, rankNone
	for _, i := range edges {
		if used[i] {
			continue
		}
		e := p.edges[i]
		var op scheduledOp
		var target int
		switch {
		case bound[e.from] && bound[e.to]:
			return scheduledOp{kind: opTraverse, edge: i, check: true}, true
		case bound[e.from]:
			op, target = scheduledOp{kind: opTraverse, edge: i}, e.to
		case bound[e.to] && e.item.Method.Reversible() && !e.item.Filter.Recursive():
			op, target = scheduledOp{kind: opTraverse, edge: i, reverse: true}, e.from
		default:
			continue
		}
		if !ready(target) {
			continue
		}
		rank := rankRequired
		if p.aliases[target].filter.Optional {
			rank = rankOptional
		}
		if rank < bestRank {
			best, bestRank = op, rank
		}
	}
	return best, bestRank != rankNone
}

// pickRoot chooses the unbound required alias with the smallest estimated
// cardinality. Ties keep declaration order.
func (p *Pattern) pickRoot(group []int, bound map[int]bool, ready func(int) bool, estimate Estimator) (int, error) {
	root := -1
	var best int64 = math.MaxInt64
	var pending []string
	for _, a := range group {
		if bound[a] {
			continue
		}
		pending = append(pending, p.aliases[a].name)
		if p.aliases[a].filter.Optional || !ready(a) {
			continue
		}
		n, err := estimate(p.aliases[a].filter)
		if err != nil {
			return 0, err
		}
		if root < 0 || n < best {
			root, best = a, n
		}
	}
	if root < 0 {
		return 0, configError("Cannot schedule MATCH aliases %s: no evaluation order satisfies their dependencies", strings.Join(pending, ", "))
	}
	return root, nil
}

// describe renders a schedule for logs and tests. A reversed edge a->b
// prints as a<-b.
func (p *Pattern) describe(ops []scheduledOp) string {
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.kind == opRoot {
			parts = append(parts, "{"+p.aliases[op.alias].name+"}")
			continue
		}
		e := p.edges[op.edge]
		from, to, arrow := p.aliases[e.from].name, p.aliases[e.to].name, "->"
		if op.reverse {
			arrow = "<-"
		}
		if op.check {
			arrow = "=="
		}
		parts = append(parts, from+arrow+to)
	}
	return strings.Join(parts, " ")
}
