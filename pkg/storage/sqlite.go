package storage

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// Querier abstracts *sql.DB and *sql.Tx so graph methods work in both contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SQLiteGraph is a persistent Session backed by SQLite
type SQLiteGraph struct {
	name string
	db   *sql.DB

	mu sync.Mutex
	tx *sql.Tx
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	class TEXT NOT NULL,
	source_id INTEGER,
	target_id INTEGER,
	properties TEXT DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_class ON records(class);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id, class);
CREATE INDEX IF NOT EXISTS idx_records_target ON records(target_id, class);
`

// OpenSQLiteGraph opens a SQLite database file inside dataDir
func OpenSQLiteGraph(name, dataDir string) (*SQLiteGraph, error) {
	dbPath := filepath.Join(dataDir, name+".db")
	return openSQLite(name, dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// OpenSQLiteMemory opens an in-memory SQLite graph (for testing)
func OpenSQLiteMemory(name string) (*SQLiteGraph, error) {
	return openSQLite(name, ":memory:")
}

func openSQLite(name, dsn string) (*SQLiteGraph, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteGraph{name: name, db: db}, nil
}

// Name returns the database name
func (s *SQLiteGraph) Name() string { return s.name }

func (s *SQLiteGraph) q() Querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// AddVertex inserts a vertex row
func (s *SQLiteGraph) AddVertex(class string, props graph.Properties) (*graph.Node, error) {
	if class == "" {
		class = graph.VertexClass
	}
	now := time.Now()
	res, err := s.q().Exec(`INSERT INTO records (kind, class, properties, created_at) VALUES ('v', ?, ?, ?)`,
		class, marshalProps(props), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert vertex: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	node := graph.NewNode(graph.ID(id), class)
	for k, v := range props {
		node.SetProperty(k, v)
	}
	return node, nil
}

// AddEdge inserts an edge row after checking both endpoints exist
func (s *SQLiteGraph) AddEdge(from, to graph.ID, class string, props graph.Properties) (*graph.Edge, error) {
	if class == "" {
		class = graph.EdgeClass
	}
	q := s.q()
	for _, end := range []graph.ID{from, to} {
		var kind string
		err := q.QueryRow(`SELECT kind FROM records WHERE id=?`, int64(end)).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && kind != "v") {
			return nil, fmt.Errorf("node %s: %w", end, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("check endpoint: %w", err)
		}
	}

	res, err := q.Exec(`INSERT INTO records (kind, class, source_id, target_id, properties, created_at) VALUES ('e', ?, ?, ?, ?, ?)`,
		class, int64(from), int64(to), marshalProps(props), time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	edge := graph.NewEdge(graph.ID(id), from, to, class)
	for k, v := range props {
		edge.SetProperty(k, v)
	}
	return edge, nil
}

const recordColumns = `id, kind, class, source_id, target_id, properties, created_at`

// Load retrieves a record and, for vertices, its adjacency lists
func (s *SQLiteGraph) Load(id graph.ID) (graph.Element, error) {
	q := s.q()
	rows, err := q.Query(`SELECT `+recordColumns+` FROM records WHERE id=?`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	elems, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if n, ok := elems[0].(*graph.Node); ok {
		if n.OutEdges, err = edgeIDs(q, `SELECT id FROM records WHERE kind='e' AND source_id=? ORDER BY id`, id); err != nil {
			return nil, err
		}
		if n.InEdges, err = edgeIDs(q, `SELECT id FROM records WHERE kind='e' AND target_id=? ORDER BY id`, id); err != nil {
			return nil, err
		}
	}
	return elems[0], nil
}

func edgeIDs(q Querier, query string, id graph.ID) ([]graph.ID, error) {
	rows, err := q.Query(query, int64(id))
	if err != nil {
		return nil, fmt.Errorf("adjacency: %w", err)
	}
	defer rows.Close()
	ids := make([]graph.ID, 0)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, graph.ID(v))
	}
	return ids, rows.Err()
}

func classFilter(class string) (string, []any) {
	switch {
	case isVertexScan(class):
		return `kind='v'`, nil
	case class == graph.EdgeClass:
		return `kind='e'`, nil
	default:
		return `class=?`, []any{class}
	}
}

// Scan reads the records of class into a snapshot cursor. Rows are
// materialized so that no connection stays busy while the caller loads
// neighbors through the same single connection.
func (s *SQLiteGraph) Scan(class string) (Cursor, error) {
	where, args := classFilter(class)
	rows, err := s.q().Query(`SELECT `+recordColumns+` FROM records WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", class, err)
	}
	elems, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return newSliceCursor(elems), nil
}

// Count returns the number of records of class
func (s *SQLiteGraph) Count(class string) (int64, error) {
	where, args := classFilter(class)
	var n int64
	if err := s.q().QueryRow(`SELECT COUNT(*) FROM records WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %q: %w", class, err)
	}
	return n, nil
}

// EdgesOf returns the edges attached to a vertex
func (s *SQLiteGraph) EdgesOf(id graph.ID, dir graph.Direction, classes []string) ([]*graph.Edge, error) {
	q := s.q()
	var exists int
	if err := q.QueryRow(`SELECT COUNT(*) FROM records WHERE id=? AND kind='v'`, int64(id)).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	var conds []string
	args := []any{}
	if dir == graph.DirectionOut || dir == graph.DirectionBoth {
		conds = append(conds, `source_id=?`)
		args = append(args, int64(id))
	}
	if dir == graph.DirectionIn || dir == graph.DirectionBoth {
		conds = append(conds, `target_id=?`)
		args = append(args, int64(id))
	}
	query := `SELECT ` + recordColumns + ` FROM records WHERE kind='e' AND (` + strings.Join(conds, " OR ") + `) ORDER BY id`
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", id, err)
	}
	elems, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*graph.Edge, 0, len(elems))
	for _, el := range elems {
		if e, ok := el.(*graph.Edge); ok && matchesEdgeClass(e, classes) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Begin starts a SQL transaction used by subsequent calls
func (s *SQLiteGraph) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionActive
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the active transaction
func (s *SQLiteGraph) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrNoTransaction
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// Rollback aborts the active transaction
func (s *SQLiteGraph) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrNoTransaction
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// Close closes the database connection
func (s *SQLiteGraph) Close() error {
	s.mu.Lock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]graph.Element, error) {
	defer rows.Close()
	var result []graph.Element
	for rows.Next() {
		var (
			id, created    int64
			kind, class    string
			source, target sql.NullInt64
			props          string
		)
		if err := rows.Scan(&id, &kind, &class, &source, &target, &props, &created); err != nil {
			return nil, err
		}
		ts := time.Unix(0, created)
		switch kind {
		case "v":
			n := graph.NewNode(graph.ID(id), class)
			n.Properties = unmarshalProps(props)
			n.CreatedAt, n.UpdatedAt = ts, ts
			result = append(result, n)
		case "e":
			e := graph.NewEdge(graph.ID(id), graph.ID(source.Int64), graph.ID(target.Int64), class)
			e.Properties = unmarshalProps(props)
			e.CreatedAt, e.UpdatedAt = ts, ts
			result = append(result, e)
		default:
			return nil, fmt.Errorf("record %d: unknown kind %q", id, kind)
		}
	}
	return result, rows.Err()
}

func marshalProps(props graph.Properties) string {
	if len(props) == 0 {
		return "{}"
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// unmarshalProps decodes JSON properties, keeping integral numbers as int64
func unmarshalProps(data string) graph.Properties {
	props := make(graph.Properties)
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return props
	}
	for k, v := range raw {
		props[k] = normalizeJSON(v)
	}
	return props
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeJSON(x[k])
		}
		return x
	default:
		return v
	}
}
