// Package match compiles MATCH graph patterns into execution plans: the
// pattern AST, the alias arena and its dependency graph, the traversal
// scheduler, and the steps that bind aliases while rows flow through them.
package match

import (
	"fmt"
	"strings"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
)

// Method is a traversal from one pattern item to the next
type Method string

// Traversal methods. The vertex methods reach adjacent vertices, the E
// variants reach the edges themselves and the V variants step from an edge
// to its endpoints.
const (
	Out         Method = "out"
	In          Method = "in"
	Both        Method = "both"
	OutE        Method = "outE"
	InE         Method = "inE"
	BothE       Method = "bothE"
	OutV        Method = "outV"
	InV         Method = "inV"
	BothV       Method = "bothV"
	FieldMethod Method = "field" // follows a property holding element references
)

// ParseMethod validates a method name
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Out, In, Both, OutE, InE, BothE, OutV, InV, BothV, FieldMethod:
		return m, nil
	}
	return "", fmt.Errorf("unknown traversal method: %s", s)
}

// Reversible reports whether the traversal can be walked from its target
func (m Method) Reversible() bool { return m != FieldMethod }

// InternalAliasPrefix marks aliases generated for anonymous pattern items
const InternalAliasPrefix = "$anon_"

// IsInternalAlias reports whether alias was generated by the compiler
func IsInternalAlias(alias string) bool {
	return strings.HasPrefix(alias, InternalAliasPrefix)
}

// Filter constrains the records an alias can bind. While, MaxDepth,
// DepthAlias and PathAlias only apply to the target of a path item and turn
// the traversal into a recursive one.
type Filter struct {
	Alias    string
	Class    string
	RID      *graph.ID
	Where    exec.Expression
	Optional bool

	While      exec.Expression
	MaxDepth   *int
	DepthAlias string
	PathAlias  string
}

// Recursive reports whether the filter makes its traversal variable length
func (f Filter) Recursive() bool {
	return f.While != nil || (f.MaxDepth != nil && *f.MaxDepth >= 0)
}

func (f Filter) String() string {
	var parts []string
	if f.Class != "" {
		parts = append(parts, "class: "+f.Class)
	}
	if f.Alias != "" {
		parts = append(parts, "as: "+f.Alias)
	}
	if f.RID != nil {
		parts = append(parts, "rid: "+f.RID.String())
	}
	if f.Where != nil {
		parts = append(parts, "where: ("+f.Where.String()+")")
	}
	if f.While != nil {
		parts = append(parts, "while: ("+f.While.String()+")")
	}
	if f.MaxDepth != nil {
		parts = append(parts, fmt.Sprintf("maxDepth: %d", *f.MaxDepth))
	}
	if f.Optional {
		parts = append(parts, "optional: true")
	}
	if f.DepthAlias != "" {
		parts = append(parts, "depthAlias: "+f.DepthAlias)
	}
	if f.PathAlias != "" {
		parts = append(parts, "pathAlias: "+f.PathAlias)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// PathItem is one traversal of a match expression and the filter on the
// records it reaches
type PathItem struct {
	Method      Method
	EdgeClasses []string
	Field       string
	Filter      Filter
}

func (p PathItem) String() string { return p.call() + p.Filter.String() }

func (p PathItem) call() string {
	arg := strings.Join(quoteAll(p.EdgeClasses), ", ")
	if p.Method == FieldMethod {
		arg = p.Field
	}
	return "." + string(p.Method) + "(" + arg + ")"
}

func quoteAll(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = "'" + s + "'"
	}
	return out
}

// Expression is one {origin}.method(){target}... chain
type Expression struct {
	Origin Filter
	Items  []PathItem
}

// From starts a match expression at origin
func From(origin Filter) Expression {
	return Expression{Origin: origin}
}

func (e Expression) with(item PathItem) Expression {
	items := make([]PathItem, len(e.Items), len(e.Items)+1)
	copy(items, e.Items)
	e.Items = append(items, item)
	return e
}

// Out follows outgoing edges to adjacent vertices
func (e Expression) Out(target Filter, edgeClasses ...string) Expression {
	return e.with(PathItem{Method: Out, EdgeClasses: edgeClasses, Filter: target})
}

// In follows incoming edges to adjacent vertices
func (e Expression) In(target Filter, edgeClasses ...string) Expression {
	return e.with(PathItem{Method: In, EdgeClasses: edgeClasses, Filter: target})
}

// Both follows edges in either direction
func (e Expression) Both(target Filter, edgeClasses ...string) Expression {
	return e.with(PathItem{Method: Both, EdgeClasses: edgeClasses, Filter: target})
}

// OutE binds the outgoing edges themselves
func (e Expression) OutE(target Filter, edgeClasses ...string) Expression {
	return e.with(PathItem{Method: OutE, EdgeClasses: edgeClasses, Filter: target})
}

// InE binds the incoming edges themselves
func (e Expression) InE(target Filter, edgeClasses ...string) Expression {
	return e.with(PathItem{Method: InE, EdgeClasses: edgeClasses, Filter: target})
}

// BothE binds every attached edge
func (e Expression) BothE(target Filter, edgeClasses ...string) Expression {
	return e.with(PathItem{Method: BothE, EdgeClasses: edgeClasses, Filter: target})
}

// OutV moves from an edge to its source vertex
func (e Expression) OutV(target Filter) Expression {
	return e.with(PathItem{Method: OutV, Filter: target})
}

// InV moves from an edge to its target vertex
func (e Expression) InV(target Filter) Expression {
	return e.with(PathItem{Method: InV, Filter: target})
}

// BothV moves from an edge to both of its vertices
func (e Expression) BothV(target Filter) Expression {
	return e.with(PathItem{Method: BothV, Filter: target})
}

// Field follows a link or link-list property
func (e Expression) Field(name string, target Filter) Expression {
	return e.with(PathItem{Method: FieldMethod, Field: name, Filter: target})
}

func (e Expression) String() string {
	var sb strings.Builder
	sb.WriteString(e.Origin.String())
	for _, item := range e.Items {
		sb.WriteString(item.String())
	}
	return sb.String()
}

// As is shorthand for a filter that only names an alias
func As(alias string) Filter { return Filter{Alias: alias} }

// Node is shorthand for a filter naming an alias and a class
func Node(alias, class string) Filter { return Filter{Alias: alias, Class: class} }

// Depth returns a pointer for Filter.MaxDepth
func Depth(n int) *int { return &n }

// RID returns a pointer for Filter.RID
func RID(id graph.ID) *graph.ID { return &id }
