package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
)

// aliasNode is one named node of the pattern. Its filter merges every
// declaration of the alias; traversal modifiers live on the edges.
type aliasNode struct {
	name   string
	filter Filter
	out    []int
	in     []int
	deps   []int
}

// patternEdge is one path item between two aliases
type patternEdge struct {
	from, to int
	item     PathItem
}

// Pattern is an arena of aliases and the edges between them. Edges and
// dependencies refer to aliases by index.
type Pattern struct {
	aliases []aliasNode
	index   map[string]int
	edges   []patternEdge
	anon    int
}

func newPattern(anonStart int) *Pattern {
	return &Pattern{index: make(map[string]int), anon: anonStart}
}

// BuildPattern merges match expressions into one pattern and resolves the
// $matched dependencies between its aliases
func BuildPattern(exprs []Expression) (*Pattern, error) {
	p := newPattern(0)
	for _, e := range exprs {
		if err := p.add(e); err != nil {
			return nil, err
		}
	}
	if err := p.resolveDependencies(nil); err != nil {
		return nil, err
	}
	if err := p.checkCycles(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pattern) add(e Expression) error {
	from, err := p.declare(e.Origin)
	if err != nil {
		return err
	}
	for _, item := range e.Items {
		if item.Method == "" {
			item.Method = Out
		}
		if _, err := ParseMethod(string(item.Method)); err != nil {
			return configError("%v", err)
		}
		if item.Method == FieldMethod && item.Field == "" {
			return configError("field traversal needs a field name")
		}
		to, err := p.declare(item.Filter)
		if err != nil {
			return err
		}
		item.Filter.Alias = p.aliases[to].name
		idx := len(p.edges)
		p.edges = append(p.edges, patternEdge{from: from, to: to, item: item})
		p.aliases[from].out = append(p.aliases[from].out, idx)
		p.aliases[to].in = append(p.aliases[to].in, idx)
		from = to
	}
	return nil
}

// declare registers a filter, merging it into an existing alias of the
// same name
func (p *Pattern) declare(f Filter) (int, error) {
	name := f.Alias
	if name == "" {
		name = fmt.Sprintf("%s%d", InternalAliasPrefix, p.anon)
		p.anon++
	}
	node := Filter{Alias: name, Class: f.Class, RID: f.RID, Where: f.Where, Optional: f.Optional}

	idx, ok := p.index[name]
	if !ok {
		idx = len(p.aliases)
		p.index[name] = idx
		p.aliases = append(p.aliases, aliasNode{name: name, filter: node})
		return idx, nil
	}

	cur := &p.aliases[idx].filter
	if node.Class != "" {
		if cur.Class != "" && cur.Class != node.Class {
			return 0, configError("Alias %s is declared with conflicting classes %s and %s", name, cur.Class, node.Class)
		}
		cur.Class = node.Class
	}
	if node.RID != nil {
		if cur.RID != nil && *cur.RID != *node.RID {
			return 0, configError("Alias %s is declared with conflicting rids %s and %s", name, cur.RID, node.RID)
		}
		cur.RID = node.RID
	}
	cur.Where = expr.And(cur.Where, node.Where)
	cur.Optional = cur.Optional || node.Optional
	return idx, nil
}

// resolveDependencies records, for every alias, the aliases its where
// condition or incoming while conditions read through $matched. known
// lists aliases bound outside this pattern.
func (p *Pattern) resolveDependencies(known map[string]bool) error {
	for i := range p.aliases {
		p.aliases[i].deps = nil
	}
	for i := range p.aliases {
		refs := expr.MatchedAliases(p.aliases[i].filter.Where)
		for _, e := range p.aliases[i].in {
			refs = append(refs, expr.MatchedAliases(p.edges[e].item.Filter.While)...)
		}
		seen := make(map[int]bool)
		for _, ref := range refs {
			dep, ok := p.index[ref]
			if !ok {
				if known[ref] {
					continue
				}
				return configError("Unknown alias in MATCH pattern: %s (referenced by %s)", ref, p.aliases[i].name)
			}
			if dep == i || seen[dep] {
				continue
			}
			seen[dep] = true
			p.aliases[i].deps = append(p.aliases[i].deps, dep)
		}
		sort.Ints(p.aliases[i].deps)
	}
	return nil
}

// checkCycles fails when the dependency graph is not a DAG
func (p *Pattern) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(p.aliases))
	var stack []int
	var visit func(i int) error
	visit = func(i int) error {
		state[i] = visiting
		stack = append(stack, i)
		for _, d := range p.aliases[i].deps {
			switch state[d] {
			case visiting:
				return p.cycleError(stack, d)
			case unvisited:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil
	}
	for i := range p.aliases {
		if state[i] == unvisited {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pattern) cycleError(stack []int, start int) error {
	i := len(stack) - 1
	for stack[i] != start {
		i--
	}
	names := make([]string, 0, len(stack)-i+1)
	for _, idx := range stack[i:] {
		names = append(names, p.aliases[idx].name)
	}
	names = append(names, p.aliases[start].name)
	return configError("Circular dependency among MATCH aliases: %s", strings.Join(names, " -> "))
}

// components groups aliases connected by edges or dependencies. Groups and
// their members keep declaration order.
func (p *Pattern) components() [][]int {
	parent := make([]int, len(p.aliases))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}
	for _, e := range p.edges {
		union(e.from, e.to)
	}
	for i, a := range p.aliases {
		for _, d := range a.deps {
			union(i, d)
		}
	}

	var groups [][]int
	slot := make(map[int]int)
	for i := range p.aliases {
		root := find(i)
		g, ok := slot[root]
		if !ok {
			g = len(groups)
			slot[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// Aliases lists alias names in declaration order
func (p *Pattern) Aliases() []string {
	out := make([]string, len(p.aliases))
	for i, a := range p.aliases {
		out[i] = a.name
	}
	return out
}

// Dependencies lists the aliases alias reads through $matched
func (p *Pattern) Dependencies(alias string) []string {
	idx, ok := p.index[alias]
	if !ok {
		return nil
	}
	var out []string
	for _, d := range p.aliases[idx].deps {
		out = append(out, p.aliases[d].name)
	}
	return out
}

// HasAlias reports whether the pattern declares alias
func (p *Pattern) HasAlias(alias string) bool {
	_, ok := p.index[alias]
	return ok
}

// Filter returns the merged filter of alias
func (p *Pattern) Filter(alias string) (Filter, bool) {
	idx, ok := p.index[alias]
	if !ok {
		return Filter{}, false
	}
	return p.aliases[idx].filter, true
}

func (p *Pattern) hasOptional() bool {
	for _, a := range p.aliases {
		if a.filter.Optional {
			return true
		}
	}
	return false
}

func configError(format string, args ...any) *exec.CommandError {
	return exec.NewCommandError(exec.CategoryConfiguration, "", format, args...)
}
