package storage

import (
	"errors"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrNoTransaction is returned by Commit/Rollback outside a transaction
var ErrNoTransaction = errors.New("no active transaction")

// ErrTransactionActive is returned by Begin when a transaction is already open
var ErrTransactionActive = errors.New("transaction already active")

// Session is the data-session handle the executor works against.
// Implementations must be safe for concurrent reads.
type Session interface {
	// Name is the database name used in error messages
	Name() string

	// Load returns the record with the given identity or ErrNotFound
	Load(id graph.ID) (graph.Element, error)

	// Scan returns a cursor over every record matching class.
	// An empty class scans all vertices.
	Scan(class string) (Cursor, error)

	// Count estimates the number of records matching class
	Count(class string) (int64, error)

	// EdgesOf returns the edges attached to a vertex in the given direction,
	// restricted to the given edge classes when any are supplied
	EdgesOf(id graph.ID, dir graph.Direction, classes []string) ([]*graph.Edge, error)

	// AddVertex and AddEdge create records with fresh identities
	AddVertex(class string, props graph.Properties) (*graph.Node, error)
	AddEdge(from, to graph.ID, class string, props graph.Properties) (*graph.Edge, error)

	// Begin opens a write transaction; only one may be active
	Begin() error
	Commit() error
	Rollback() error

	Close() error
}

// Cursor iterates records produced by Scan. Close must always be called.
type Cursor interface {
	// Next advances to the next record and reports whether there is one
	Next() bool
	// Element returns the current record
	Element() graph.Element
	// Err returns the error that stopped iteration, if any
	Err() error
	Close() error
}

// Neighbors returns the vertices reached from id through edges in dir
func Neighbors(s Session, id graph.ID, dir graph.Direction, classes []string) ([]graph.Element, error) {
	edges, err := s.EdgesOf(id, dir, classes)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Element, 0, len(edges))
	for _, e := range edges {
		other := e.Target
		if e.Target == id && (dir == graph.DirectionIn || (dir == graph.DirectionBoth && e.Source != id)) {
			other = e.Source
		}
		n, err := s.Load(other)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// sliceCursor iterates an in-memory snapshot
type sliceCursor struct {
	items []graph.Element
	pos   int
}

func newSliceCursor(items []graph.Element) *sliceCursor {
	return &sliceCursor{items: items, pos: -1}
}

func (c *sliceCursor) Next() bool {
	if c.pos+1 >= len(c.items) {
		c.pos = len(c.items)
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Element() graph.Element {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos]
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close() error {
	c.items = nil
	return nil
}

func matchesEdgeClass(e *graph.Edge, classes []string) bool {
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

func isVertexScan(class string) bool {
	return class == "" || class == graph.VertexClass
}
