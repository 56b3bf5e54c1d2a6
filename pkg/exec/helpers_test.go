package exec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// trackedStep emits fixed rows and counts starts and closes
type trackedStep struct {
	exec.BaseStep

	rows   []*exec.Row
	delay  time.Duration
	starts int
	closes int
}

func tracked(rows ...*exec.Row) *trackedStep {
	return &trackedStep{rows: rows}
}

func (s *trackedStep) Kind() exec.Kind { return "TrackedStep" }

func (s *trackedStep) Start(ctx *exec.Context) (exec.Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	s.starts++
	rows := make([]*exec.Row, len(s.rows))
	for i, r := range s.rows {
		rows[i] = r.Copy()
	}
	var st exec.Stream = exec.NewSliceStream(rows)
	if s.delay > 0 {
		st = exec.MapStream(st, func(_ *exec.Context, r *exec.Row) (*exec.Row, error) {
			time.Sleep(s.delay)
			return r, nil
		})
	}
	return exec.OnCloseStream(st, func(*exec.Context) { s.closes++ }), nil
}

func (s *trackedStep) Copy(*exec.Context) exec.Step { return tracked(s.rows...) }

func (s *trackedStep) CanBeCached() bool { return true }

func (s *trackedStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "TRACKED")
}

func rowsOf(key string, values ...any) []*exec.Row {
	rows := make([]*exec.Row, len(values))
	for i, v := range values {
		rows[i] = exec.RowOf(key, v)
	}
	return rows
}

func collect(t *testing.T, ctx *exec.Context, step exec.Step) []*exec.Row {
	t.Helper()
	s, err := step.Start(ctx)
	require.NoError(t, err)
	rs, err := exec.Collect(ctx, s)
	require.NoError(t, err)
	return rs.Rows
}

func values(rows []*exec.Row, name string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.Property(name)
	}
	return out
}

func createTestGraph(t *testing.T) (*storage.Graph, map[string]graph.ID) {
	t.Helper()
	g := storage.NewGraph("testdb")
	ids := make(map[string]graph.ID)

	for _, p := range []struct {
		name string
		age  int
		city string
	}{
		{"Alice", 30, "SF"},
		{"Bob", 25, "NY"},
		{"Charlie", 35, "SF"},
	} {
		n, err := g.AddVertex("Person", graph.Properties{"name": p.name, "age": p.age, "city": p.city})
		require.NoError(t, err)
		ids[p.name] = n.ID
	}
	google, err := g.AddVertex("Company", graph.Properties{"name": "Google"})
	require.NoError(t, err)
	ids["Google"] = google.ID

	_, err = g.AddEdge(ids["Alice"], ids["Bob"], "KNOWS", nil)
	require.NoError(t, err)
	_, err = g.AddEdge(ids["Bob"], ids["Charlie"], "KNOWS", nil)
	require.NoError(t, err)
	_, err = g.AddEdge(ids["Alice"], google.ID, "WORKS_AT", nil)
	require.NoError(t, err)
	return g, ids
}
