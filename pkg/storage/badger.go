package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// Key prefixes for the badger layout
const (
	prefixRecord   = byte(0x01) // record:<id> -> kind + gob payload
	prefixClass    = byte(0x02) // class:<name>\x00<id> -> ""
	prefixOut      = byte(0x03) // out:<vertex><edge> -> ""
	prefixIn       = byte(0x04) // in:<vertex><edge> -> ""
	prefixVertices = byte(0x05) // vertices:<id> -> ""
	prefixEdges    = byte(0x06) // edges:<id> -> ""
)

const (
	kindVertex = byte('v')
	kindEdge   = byte('e')
)

var sequenceKey = []byte("!seq")

func init() {
	gob.Register(graph.ID(0))
	gob.Register([]graph.ID{})
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
}

// BadgerOptions configures a BadgerGraph
type BadgerOptions struct {
	Name       string
	DataDir    string
	InMemory   bool
	SyncWrites bool
}

// BadgerGraph is a persistent Session backed by badger
type BadgerGraph struct {
	name string
	db   *badger.DB
	seq  *badger.Sequence

	mu  sync.Mutex
	txn *badger.Txn
}

// NewBadgerGraph opens (or creates) a badger-backed graph
func NewBadgerGraph(opts BadgerOptions) (*BadgerGraph, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	seq, err := db.GetSequence(sequenceKey, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to allocate id sequence: %w", err)
	}
	return &BadgerGraph{name: opts.Name, db: db, seq: seq}, nil
}

// Name returns the database name
func (b *BadgerGraph) Name() string { return b.name }

func recordKey(id graph.ID) []byte {
	key := make([]byte, 9)
	key[0] = prefixRecord
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	return key
}

func idKey(prefix byte, id graph.ID) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	return key
}

func classPrefix(class string) []byte {
	key := make([]byte, 0, len(class)+2)
	key = append(key, prefixClass)
	key = append(key, class...)
	return append(key, 0x00)
}

func classKey(class string, id graph.ID) []byte {
	key := classPrefix(class)
	return binary.BigEndian.AppendUint64(key, uint64(id))
}

func adjacencyKey(prefix byte, vertex, edge graph.ID) []byte {
	key := idKey(prefix, vertex)
	return binary.BigEndian.AppendUint64(key, uint64(edge))
}

func trailingID(key []byte) graph.ID {
	return graph.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func encodeRecord(kind byte, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(kind)
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (graph.Element, error) {
	if len(data) == 0 {
		return nil, errors.New("empty record")
	}
	dec := gob.NewDecoder(bytes.NewReader(data[1:]))
	switch data[0] {
	case kindVertex:
		var n graph.Node
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		return &n, nil
	case kindEdge:
		var e graph.Edge
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", data[0])
	}
}

// update runs fn inside the active transaction, or in its own one
func (b *BadgerGraph) update(fn func(txn *badger.Txn) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn != nil {
		return fn(b.txn)
	}
	return b.db.Update(fn)
}

// view runs fn against the active transaction, or a read-only one
func (b *BadgerGraph) view(fn func(txn *badger.Txn) error) error {
	b.mu.Lock()
	txn := b.txn
	if txn == nil {
		b.mu.Unlock()
		return b.db.View(fn)
	}
	defer b.mu.Unlock()
	return fn(txn)
}

func (b *BadgerGraph) nextID() (graph.ID, error) {
	n, err := b.seq.Next()
	if err != nil {
		return 0, err
	}
	return graph.ID(n + 1), nil
}

// AddVertex stores a new vertex
func (b *BadgerGraph) AddVertex(class string, props graph.Properties) (*graph.Node, error) {
	if class == "" {
		class = graph.VertexClass
	}
	id, err := b.nextID()
	if err != nil {
		return nil, err
	}
	node := graph.NewNode(id, class)
	for k, v := range props {
		node.SetProperty(k, v)
	}

	data, err := encodeRecord(kindVertex, stripAdjacency(node))
	if err != nil {
		return nil, fmt.Errorf("encode vertex: %w", err)
	}
	err = b.update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(classKey(class, id), nil); err != nil {
			return err
		}
		return txn.Set(idKey(prefixVertices, id), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("store vertex: %w", err)
	}
	return node, nil
}

// AddEdge stores a new edge and its adjacency entries
func (b *BadgerGraph) AddEdge(from, to graph.ID, class string, props graph.Properties) (*graph.Edge, error) {
	if class == "" {
		class = graph.EdgeClass
	}
	id, err := b.nextID()
	if err != nil {
		return nil, err
	}
	edge := graph.NewEdge(id, from, to, class)
	for k, v := range props {
		edge.SetProperty(k, v)
	}
	data, err := encodeRecord(kindEdge, edge)
	if err != nil {
		return nil, fmt.Errorf("encode edge: %w", err)
	}

	err = b.update(func(txn *badger.Txn) error {
		for _, end := range []graph.ID{from, to} {
			if _, err := txn.Get(recordKey(end)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("node %s: %w", end, ErrNotFound)
				}
				return err
			}
		}
		writes := [][]byte{
			classKey(class, id),
			idKey(prefixEdges, id),
			adjacencyKey(prefixOut, from, id),
			adjacencyKey(prefixIn, to, id),
		}
		if err := txn.Set(recordKey(id), data); err != nil {
			return err
		}
		for _, k := range writes {
			if err := txn.Set(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// Load retrieves a vertex or edge by identity
func (b *BadgerGraph) Load(id graph.ID) (graph.Element, error) {
	var elem graph.Element
	err := b.view(func(txn *badger.Txn) error {
		var err error
		elem, err = loadInTxn(txn, id)
		return err
	})
	return elem, err
}

func loadInTxn(txn *badger.Txn, id graph.ID) (graph.Element, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	elem, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	if n, ok := elem.(*graph.Node); ok {
		n.OutEdges = scanIDs(txn, idKey(prefixOut, id))
		n.InEdges = scanIDs(txn, idKey(prefixIn, id))
	}
	return elem, nil
}

func scanIDs(txn *badger.Txn, prefix []byte) []graph.ID {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	ids := make([]graph.ID, 0)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, trailingID(it.Item().Key()))
	}
	return ids
}

func scanPrefix(class string) []byte {
	switch {
	case isVertexScan(class):
		return []byte{prefixVertices}
	case class == graph.EdgeClass:
		return []byte{prefixEdges}
	default:
		return classPrefix(class)
	}
}

// Scan returns a lazy cursor over the records of class. The cursor owns a
// read-only transaction that is released by Close.
func (b *BadgerGraph) Scan(class string) (Cursor, error) {
	prefix := scanPrefix(class)
	txn := b.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	it.Seek(prefix)
	return &badgerCursor{txn: txn, it: it, prefix: prefix}, nil
}

// Count returns the number of records of class
func (b *BadgerGraph) Count(class string) (int64, error) {
	prefix := scanPrefix(class)
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// EdgesOf returns the edges attached to a vertex
func (b *BadgerGraph) EdgesOf(id graph.ID, dir graph.Direction, classes []string) ([]*graph.Edge, error) {
	var out []*graph.Edge
	err := b.view(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("node %s: %w", id, ErrNotFound)
			}
			return err
		}
		var ids []graph.ID
		if dir == graph.DirectionOut || dir == graph.DirectionBoth {
			ids = append(ids, scanIDs(txn, idKey(prefixOut, id))...)
		}
		if dir == graph.DirectionIn || dir == graph.DirectionBoth {
			ids = append(ids, scanIDs(txn, idKey(prefixIn, id))...)
		}
		seen := make(map[graph.ID]bool, len(ids))
		for _, eid := range ids {
			if seen[eid] {
				continue
			}
			seen[eid] = true
			elem, err := loadInTxn(txn, eid)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			edge, ok := elem.(*graph.Edge)
			if ok && matchesEdgeClass(edge, classes) {
				out = append(out, edge)
			}
		}
		return nil
	})
	return out, err
}

// Begin opens a read-write transaction used by subsequent writes
func (b *BadgerGraph) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn != nil {
		return ErrTransactionActive
	}
	b.txn = b.db.NewTransaction(true)
	return nil
}

// Commit commits the active transaction
func (b *BadgerGraph) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return ErrNoTransaction
	}
	err := b.txn.Commit()
	b.txn = nil
	return err
}

// Rollback discards the active transaction
func (b *BadgerGraph) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return ErrNoTransaction
	}
	b.txn.Discard()
	b.txn = nil
	return nil
}

// Close releases the id sequence and closes the database
func (b *BadgerGraph) Close() error {
	b.mu.Lock()
	if b.txn != nil {
		b.txn.Discard()
		b.txn = nil
	}
	b.mu.Unlock()

	if err := b.seq.Release(); err != nil {
		b.db.Close()
		return err
	}
	return b.db.Close()
}

func stripAdjacency(n *graph.Node) *graph.Node {
	c := *n
	c.OutEdges = nil
	c.InEdges = nil
	return &c
}

type badgerCursor struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	cur    graph.Element
	err    error
	closed bool
	primed bool
}

func (c *badgerCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.primed {
		c.it.Next()
	}
	c.primed = true
	for ; c.it.ValidForPrefix(c.prefix); c.it.Next() {
		elem, err := loadInTxn(c.txn, trailingID(c.it.Item().Key()))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			c.err = err
			return false
		}
		c.cur = elem
		return true
	}
	c.cur = nil
	return false
}

func (c *badgerCursor) Element() graph.Element { return c.cur }

func (c *badgerCursor) Err() error { return c.err }

func (c *badgerCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.it.Close()
	c.txn.Discard()
	return nil
}
