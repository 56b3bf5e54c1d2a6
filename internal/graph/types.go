// Package graph defines the record model shared by storage and execution
package graph

import (
	"fmt"
	"sort"
	"time"
)

// ID identifies a record. Vertices and edges share one id space.
type ID uint64

// String renders the id in record-identity form
func (id ID) String() string {
	return fmt.Sprintf("#%d", uint64(id))
}

// PropertyValue represents a property value of various types
type PropertyValue interface{}

// Properties is a map of property names to values
type Properties map[string]PropertyValue

// Direction of an edge traversal relative to the starting vertex
type Direction int

const (
	DirectionOut  Direction = iota // source to target
	DirectionIn                    // target to source
	DirectionBoth                  // either way
)

// String returns the traversal method name for the direction
func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	default:
		return "both"
	}
}

// Pseudo-properties readable on every element.
const (
	PropertyRID   = "@rid"
	PropertyClass = "@class"
)

// Base classes that match any vertex or any edge.
const (
	VertexClass = "V"
	EdgeClass   = "E"
)

// Element is a stored record with identity
type Element interface {
	Identity() ID
	ClassName() string
	Property(name string) (PropertyValue, bool)
	PropertyNames() []string
	IsEdge() bool
}

// Node represents a vertex in the graph
type Node struct {
	ID         ID         `json:"id"`
	Class      string     `json:"class"`
	Properties Properties `json:"properties"`

	// Adjacency lists for fast traversal
	OutEdges []ID `json:"out_edges"`
	InEdges  []ID `json:"in_edges"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edge represents a relationship between two nodes
type Edge struct {
	ID         ID         `json:"id"`
	Class      string     `json:"class"`
	Source     ID         `json:"source"`
	Target     ID         `json:"target"`
	Properties Properties `json:"properties"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNode creates a new node with the given class
func NewNode(id ID, class string) *Node {
	now := time.Now()
	return &Node{
		ID:         id,
		Class:      class,
		Properties: make(Properties),
		OutEdges:   make([]ID, 0),
		InEdges:    make([]ID, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewEdge creates a new edge
func NewEdge(id ID, source, target ID, class string) *Edge {
	now := time.Now()
	return &Edge{
		ID:         id,
		Class:      class,
		Source:     source,
		Target:     target,
		Properties: make(Properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Identity returns the node id
func (n *Node) Identity() ID { return n.ID }

// ClassName returns the node class
func (n *Node) ClassName() string { return n.Class }

// IsEdge reports false for vertices
func (n *Node) IsEdge() bool { return false }

// Property reads a property or pseudo-property
func (n *Node) Property(name string) (PropertyValue, bool) {
	return lookup(n.ID, n.Class, n.Properties, name)
}

// PropertyNames returns the stored property names in sorted order
func (n *Node) PropertyNames() []string {
	return sortedNames(n.Properties)
}

// SetProperty sets a property on a node
func (n *Node) SetProperty(key string, value PropertyValue) {
	if n.Properties == nil {
		n.Properties = make(Properties)
	}
	n.Properties[key] = value
	n.UpdatedAt = time.Now()
}

// AddOutEdge adds an outgoing edge
func (n *Node) AddOutEdge(edgeID ID) {
	n.OutEdges = append(n.OutEdges, edgeID)
	n.UpdatedAt = time.Now()
}

// AddInEdge adds an incoming edge
func (n *Node) AddInEdge(edgeID ID) {
	n.InEdges = append(n.InEdges, edgeID)
	n.UpdatedAt = time.Now()
}

// Clone returns a copy that shares no slices or maps with n
func (n *Node) Clone() *Node {
	c := *n
	c.Properties = cloneProperties(n.Properties)
	c.OutEdges = append([]ID(nil), n.OutEdges...)
	c.InEdges = append([]ID(nil), n.InEdges...)
	return &c
}

// Identity returns the edge id
func (e *Edge) Identity() ID { return e.ID }

// ClassName returns the edge class
func (e *Edge) ClassName() string { return e.Class }

// IsEdge reports true for edges
func (e *Edge) IsEdge() bool { return true }

// Property reads a property or pseudo-property
func (e *Edge) Property(name string) (PropertyValue, bool) {
	return lookup(e.ID, e.Class, e.Properties, name)
}

// PropertyNames returns the stored property names in sorted order
func (e *Edge) PropertyNames() []string {
	return sortedNames(e.Properties)
}

// SetProperty sets a property on an edge
func (e *Edge) SetProperty(key string, value PropertyValue) {
	if e.Properties == nil {
		e.Properties = make(Properties)
	}
	e.Properties[key] = value
	e.UpdatedAt = time.Now()
}

// Clone returns a copy that shares no maps with e
func (e *Edge) Clone() *Edge {
	c := *e
	c.Properties = cloneProperties(e.Properties)
	return &c
}

// MatchesClass reports whether the element belongs to class.
// An empty class matches everything.
func MatchesClass(e Element, class string) bool {
	switch class {
	case "":
		return true
	case VertexClass:
		return !e.IsEdge()
	case EdgeClass:
		return e.IsEdge()
	default:
		return e.ClassName() == class
	}
}

// SameElement compares two elements by identity
func SameElement(a, b Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Identity() == b.Identity()
}

func lookup(id ID, class string, props Properties, name string) (PropertyValue, bool) {
	switch name {
	case PropertyRID:
		return id, true
	case PropertyClass:
		return class, true
	}
	val, ok := props[name]
	return val, ok
}

func sortedNames(props Properties) []string {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func cloneProperties(props Properties) Properties {
	out := make(Properties, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
