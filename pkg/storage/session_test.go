package storage

import (
	"errors"
	"testing"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a fresh session for every engine
func backends(t *testing.T) map[string]Session {
	t.Helper()

	bg, err := NewBadgerGraph(BadgerOptions{Name: "test", DataDir: t.TempDir()})
	require.NoError(t, err)
	sq, err := OpenSQLiteGraph("test", t.TempDir())
	require.NoError(t, err)

	sessions := map[string]Session{
		BackendMemory: NewGraph("test"),
		BackendBadger: bg,
		BackendSQLite: sq,
	}
	t.Cleanup(func() {
		for _, s := range sessions {
			s.Close()
		}
	})
	return sessions
}

func collect(t *testing.T, c Cursor) []graph.Element {
	t.Helper()
	defer c.Close()
	var out []graph.Element
	for c.Next() {
		out = append(out, c.Element())
	}
	require.NoError(t, c.Err())
	return out
}

func TestSessionContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			alice, err := s.AddVertex("Person", graph.Properties{"name": "Alice"})
			require.NoError(t, err)
			bob, err := s.AddVertex("Person", graph.Properties{"name": "Bob"})
			require.NoError(t, err)
			rome, err := s.AddVertex("City", graph.Properties{"name": "Rome"})
			require.NoError(t, err)

			knows, err := s.AddEdge(alice.ID, bob.ID, "Knows", graph.Properties{"since": 2020})
			require.NoError(t, err)
			_, err = s.AddEdge(bob.ID, rome.ID, "LivesIn", nil)
			require.NoError(t, err)

			loaded, err := s.Load(alice.ID)
			require.NoError(t, err)
			assert.Equal(t, "Person", loaded.ClassName())
			v, _ := loaded.Property("name")
			assert.Equal(t, "Alice", v)
			assert.Equal(t, []graph.ID{knows.ID}, loaded.(*graph.Node).OutEdges)

			loadedEdge, err := s.Load(knows.ID)
			require.NoError(t, err)
			assert.True(t, loadedEdge.IsEdge())
			since, _ := loadedEdge.Property("since")
			assert.EqualValues(t, 2020, since)

			_, err = s.Load(9999)
			assert.True(t, errors.Is(err, ErrNotFound))

			c, err := s.Scan("Person")
			require.NoError(t, err)
			people := collect(t, c)
			require.Len(t, people, 2)
			assert.Equal(t, alice.ID, people[0].Identity())
			assert.Equal(t, bob.ID, people[1].Identity())

			c, err = s.Scan("")
			require.NoError(t, err)
			assert.Len(t, collect(t, c), 3)

			c, err = s.Scan(graph.EdgeClass)
			require.NoError(t, err)
			assert.Len(t, collect(t, c), 2)

			n, err := s.Count("Person")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
			n, err = s.Count(graph.VertexClass)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			out, err := s.EdgesOf(bob.ID, graph.DirectionOut, nil)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "LivesIn", out[0].Class)

			both, err := s.EdgesOf(bob.ID, graph.DirectionBoth, []string{"Knows"})
			require.NoError(t, err)
			require.Len(t, both, 1)
			assert.Equal(t, knows.ID, both[0].ID)

			nb, err := Neighbors(s, bob.ID, graph.DirectionIn, nil)
			require.NoError(t, err)
			require.Len(t, nb, 1)
			assert.Equal(t, alice.ID, nb[0].Identity())

			nb, err = Neighbors(s, bob.ID, graph.DirectionBoth, nil)
			require.NoError(t, err)
			assert.Len(t, nb, 2)

			_, err = s.AddEdge(alice.ID, 9999, "Knows", nil)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestSessionRollback(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.AddVertex("Person", nil)
			require.NoError(t, err)

			require.NoError(t, s.Begin())
			_, err = s.AddVertex("Person", nil)
			require.NoError(t, err)
			require.NoError(t, s.Rollback())

			n, err := s.Count("Person")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			require.NoError(t, s.Begin())
			_, err = s.AddVertex("Person", nil)
			require.NoError(t, err)
			require.NoError(t, s.Commit())

			n, err = s.Count("Person")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		})
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	bg, err := NewBadgerGraph(BadgerOptions{Name: "test", DataDir: dir})
	require.NoError(t, err)
	node, err := bg.AddVertex("Person", graph.Properties{"name": "Alice", "tags": []interface{}{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, bg.Close())

	bg, err = NewBadgerGraph(BadgerOptions{Name: "test", DataDir: dir})
	require.NoError(t, err)
	defer bg.Close()

	loaded, err := bg.Load(node.ID)
	require.NoError(t, err)
	name, _ := loaded.Property("name")
	assert.Equal(t, "Alice", name)
	tags, _ := loaded.Property("tags")
	assert.Equal(t, []interface{}{"a", "b"}, tags)

	next, err := bg.AddVertex("Person", nil)
	require.NoError(t, err)
	assert.Greater(t, uint64(next.ID), uint64(node.ID))
}

func TestOpenBackends(t *testing.T) {
	s, err := Open(Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.Equal(t, "rdgql", s.Name())

	s, err = Open(Options{Backend: BackendSQLite, InMemory: true, Name: "mem"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "mem", s.Name())

	_, err = Open(Options{Backend: "cassandra"})
	assert.Error(t, err)
}
