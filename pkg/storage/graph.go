// Package storage implements the graph storage engines behind a data session
package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// Graph represents the in-memory graph storage
type Graph struct {
	name string

	// Primary indexes
	nodes map[graph.ID]*graph.Node
	edges map[graph.ID]*graph.Edge

	// Insertion order per class, used for deterministic scans
	nodesByClass map[string][]graph.ID
	edgesByClass map[string][]graph.ID
	nodeOrder    []graph.ID
	edgeOrder    []graph.ID

	// ID generator shared by vertices and edges
	nextID atomic.Uint64

	mu sync.RWMutex

	// Undo log of the active transaction, nil when none
	undo []func()
}

// NewGraph creates a new in-memory graph storage
func NewGraph(name string) *Graph {
	g := &Graph{
		name:         name,
		nodes:        make(map[graph.ID]*graph.Node),
		edges:        make(map[graph.ID]*graph.Edge),
		nodesByClass: make(map[string][]graph.ID),
		edgesByClass: make(map[string][]graph.ID),
	}
	// Start IDs from 1 (0 is reserved for null/invalid)
	g.nextID.Store(1)
	return g
}

// Name returns the database name
func (g *Graph) Name() string { return g.name }

// AddVertex creates a new node in the graph
func (g *Graph) AddVertex(class string, properties graph.Properties) (*graph.Node, error) {
	if class == "" {
		class = graph.VertexClass
	}
	id := graph.ID(g.nextID.Add(1) - 1)
	node := graph.NewNode(id, class)
	for k, v := range properties {
		node.SetProperty(k, v)
	}

	g.mu.Lock()
	g.nodes[id] = node
	g.nodesByClass[class] = append(g.nodesByClass[class], id)
	g.nodeOrder = append(g.nodeOrder, id)
	g.record(func() { g.removeNodeLocked(id) })
	g.mu.Unlock()

	return node.Clone(), nil
}

// AddEdge creates a new edge between two nodes
func (g *Graph) AddEdge(source, target graph.ID, class string, properties graph.Properties) (*graph.Edge, error) {
	if class == "" {
		class = graph.EdgeClass
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	srcNode, ok := g.nodes[source]
	if !ok {
		return nil, fmt.Errorf("source node %s: %w", source, ErrNotFound)
	}
	tgtNode, ok := g.nodes[target]
	if !ok {
		return nil, fmt.Errorf("target node %s: %w", target, ErrNotFound)
	}

	id := graph.ID(g.nextID.Add(1) - 1)
	edge := graph.NewEdge(id, source, target, class)
	for k, v := range properties {
		edge.SetProperty(k, v)
	}

	g.edges[id] = edge
	g.edgesByClass[class] = append(g.edgesByClass[class], id)
	g.edgeOrder = append(g.edgeOrder, id)

	// Update adjacency lists
	srcNode.AddOutEdge(id)
	tgtNode.AddInEdge(id)
	g.record(func() { g.removeEdgeLocked(id) })

	return edge.Clone(), nil
}

// Load retrieves a vertex or edge by identity
func (g *Graph) Load(id graph.ID) (graph.Element, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if n, ok := g.nodes[id]; ok {
		return n.Clone(), nil
	}
	if e, ok := g.edges[id]; ok {
		return e.Clone(), nil
	}
	return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
}

// Scan returns a snapshot cursor over the records of class
func (g *Graph) Scan(class string) (Cursor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var items []graph.Element
	switch {
	case isVertexScan(class):
		for _, id := range g.nodeOrder {
			items = append(items, g.nodes[id].Clone())
		}
	case class == graph.EdgeClass:
		for _, id := range g.edgeOrder {
			items = append(items, g.edges[id].Clone())
		}
	default:
		for _, id := range g.nodesByClass[class] {
			items = append(items, g.nodes[id].Clone())
		}
		for _, id := range g.edgesByClass[class] {
			items = append(items, g.edges[id].Clone())
		}
	}
	return newSliceCursor(items), nil
}

// Count returns the number of records of class
func (g *Graph) Count(class string) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch {
	case isVertexScan(class):
		return int64(len(g.nodes)), nil
	case class == graph.EdgeClass:
		return int64(len(g.edges)), nil
	default:
		return int64(len(g.nodesByClass[class]) + len(g.edgesByClass[class])), nil
	}
}

// EdgesOf returns the edges attached to a vertex
func (g *Graph) EdgesOf(id graph.ID, dir graph.Direction, classes []string) ([]*graph.Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	var ids []graph.ID
	if dir == graph.DirectionOut || dir == graph.DirectionBoth {
		ids = append(ids, node.OutEdges...)
	}
	if dir == graph.DirectionIn || dir == graph.DirectionBoth {
		ids = append(ids, node.InEdges...)
	}

	out := make([]*graph.Edge, 0, len(ids))
	seen := make(map[graph.ID]bool, len(ids))
	for _, eid := range ids {
		edge, ok := g.edges[eid]
		if !ok || seen[eid] || !matchesEdgeClass(edge, classes) {
			continue
		}
		seen[eid] = true
		out = append(out, edge.Clone())
	}
	return out, nil
}

// NodeCount returns the number of nodes in the graph
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// DeleteNode removes a node and all its associated edges
func (g *Graph) DeleteNode(id graph.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	for _, eid := range append(append([]graph.ID(nil), node.OutEdges...), node.InEdges...) {
		g.deleteEdgeLocked(eid)
	}

	saved := node.Clone()
	g.removeNodeLocked(id)
	g.record(func() { g.restoreNodeLocked(saved) })
	return nil
}

// DeleteEdge removes an edge from the graph
func (g *Graph) DeleteEdge(id graph.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[id]; !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	g.deleteEdgeLocked(id)
	return nil
}

// Begin starts a transaction. Writes made until Commit can be undone by Rollback.
func (g *Graph) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.undo != nil {
		return ErrTransactionActive
	}
	g.undo = make([]func(), 0)
	return nil
}

// Commit makes the transaction's writes permanent
func (g *Graph) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.undo == nil {
		return ErrNoTransaction
	}
	g.undo = nil
	return nil
}

// Rollback undoes every write made since Begin
func (g *Graph) Rollback() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.undo == nil {
		return ErrNoTransaction
	}
	for i := len(g.undo) - 1; i >= 0; i-- {
		g.undo[i]()
	}
	g.undo = nil
	return nil
}

// Close releases the graph. The in-memory engine holds no external resources.
func (g *Graph) Close() error { return nil }

func (g *Graph) record(undo func()) {
	if g.undo != nil {
		g.undo = append(g.undo, undo)
	}
}

func (g *Graph) deleteEdgeLocked(id graph.ID) {
	edge, ok := g.edges[id]
	if !ok {
		return
	}
	saved := edge.Clone()
	g.removeEdgeLocked(id)
	g.record(func() { g.restoreEdgeLocked(saved) })
}

func (g *Graph) removeNodeLocked(id graph.ID) {
	node, ok := g.nodes[id]
	if !ok {
		return
	}
	delete(g.nodes, id)
	g.nodesByClass[node.Class] = without(g.nodesByClass[node.Class], id)
	g.nodeOrder = without(g.nodeOrder, id)
}

func (g *Graph) removeEdgeLocked(id graph.ID) {
	edge, ok := g.edges[id]
	if !ok {
		return
	}
	if src, ok := g.nodes[edge.Source]; ok {
		src.OutEdges = without(src.OutEdges, id)
	}
	if tgt, ok := g.nodes[edge.Target]; ok {
		tgt.InEdges = without(tgt.InEdges, id)
	}
	delete(g.edges, id)
	g.edgesByClass[edge.Class] = without(g.edgesByClass[edge.Class], id)
	g.edgeOrder = without(g.edgeOrder, id)
}

func (g *Graph) restoreNodeLocked(n *graph.Node) {
	n.OutEdges = n.OutEdges[:0]
	n.InEdges = n.InEdges[:0]
	g.nodes[n.ID] = n
	g.nodesByClass[n.Class] = append(g.nodesByClass[n.Class], n.ID)
	g.nodeOrder = append(g.nodeOrder, n.ID)
}

func (g *Graph) restoreEdgeLocked(e *graph.Edge) {
	g.edges[e.ID] = e
	g.edgesByClass[e.Class] = append(g.edgesByClass[e.Class], e.ID)
	g.edgeOrder = append(g.edgeOrder, e.ID)
	if src, ok := g.nodes[e.Source]; ok {
		src.AddOutEdge(e.ID)
	}
	if tgt, ok := g.nodes[e.Target]; ok {
		tgt.AddInEdge(e.ID)
	}
}

func without(ids []graph.ID, id graph.ID) []graph.ID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
