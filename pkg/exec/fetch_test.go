package exec_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
)

func names(rows []*exec.Row) []any { return values(rows, "name") }

func TestFetchFromClass(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := exec.NewContext(exec.WithSession(g))

	rows := collect(t, ctx, exec.NewFetchFromClassStep("Person"))
	assert.Equal(t, []any{"Alice", "Bob", "Charlie"}, names(rows))
	for _, r := range rows {
		assert.True(t, r.IsElement())
	}

	rows = collect(t, ctx, exec.NewFetchFromClassStep("V"))
	assert.Len(t, rows, 4)

	assert.Empty(t, collect(t, ctx, exec.NewFetchFromClassStep("Nobody")))
}

func TestFetchFromClass_RequiresSession(t *testing.T) {
	_, err := exec.NewFetchFromClassStep("Person").Start(exec.NewContext())
	var cerr *exec.CommandError
	assert.True(t, errors.As(err, &cerr))
}

func TestFetchFromRIDs_SkipsMissing(t *testing.T) {
	g, ids := createTestGraph(t)
	ctx := exec.NewContext(exec.WithSession(g))

	rows := collect(t, ctx, exec.NewFetchFromRIDsStep(ids["Bob"], graph.ID(999), ids["Alice"]))
	assert.Equal(t, []any{"Bob", "Alice"}, names(rows))
}

func TestFetchFromVariable_Shapes(t *testing.T) {
	g, ids := createTestGraph(t)
	alice, err := g.Load(ids["Alice"])
	require.NoError(t, err)
	bob, err := g.Load(ids["Bob"])
	require.NoError(t, err)

	tests := []struct {
		name  string
		value any
		want  []any
	}{
		{"row", exec.RowOf("name", "x"), []any{"x"}},
		{"element", alice, []any{"Alice"}},
		{"id", ids["Bob"], []any{"Bob"}},
		{"missing id", graph.ID(999), []any{}},
		{"rows", []*exec.Row{exec.RowOf("name", "x"), exec.RowOf("name", "y")}, []any{"x", "y"}},
		{"elements", []graph.Element{alice, bob}, []any{"Alice", "Bob"}},
		{"mixed list", []any{alice, ids["Charlie"], exec.RowOf("name", "z")}, []any{"Alice", "Charlie", "z"}},
		{"stream", exec.NewSliceStream([]*exec.Row{exec.RowOf("name", "s")}), []any{"s"}},
		{"result set", &exec.ResultSet{Rows: []*exec.Row{exec.RowOf("name", "r")}}, []any{"r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := exec.NewContext(exec.WithSession(g))
			ctx.SetVariable("$x", tt.value)
			rows := collect(t, ctx, exec.NewFetchFromVariableStep("$x"))
			assert.Equal(t, tt.want, names(rows))
		})
	}
}

func TestFetchFromVariable_ResultSetIsCopied(t *testing.T) {
	original := exec.RowOf("name", "r")
	rs := &exec.ResultSet{Rows: []*exec.Row{original}}
	ctx := exec.NewContext()
	ctx.SetVariable("$x", rs)

	rows := collect(t, ctx, exec.NewFetchFromVariableStep("$x"))
	require.Len(t, rows, 1)
	rows[0].SetProperty("name", "changed")
	assert.Equal(t, "r", original.Property("name"))
	assert.NotSame(t, original, rows[0])
}

func TestFetchFromVariable_BadTarget(t *testing.T) {
	for _, v := range []any{nil, 42, "text", []any{1}} {
		ctx := exec.NewContext()
		ctx.SetVariable("$x", v)
		_, err := exec.NewFetchFromVariableStep("$x").Start(ctx)

		var cerr *exec.CommandError
		require.True(t, errors.As(err, &cerr), "%v", v)
		assert.Equal(t, exec.CategoryDataShape, cerr.Category)
		assert.Contains(t, cerr.Message, "$x")
	}
}

func TestFetchFromVariable_NeverCacheable(t *testing.T) {
	s := exec.NewFetchFromVariableStep("$x")
	assert.False(t, s.CanBeCached())
	assert.False(t, s.Copy(exec.NewContext()).CanBeCached())
}

func TestFetchFromVariable_ChildReadsParent(t *testing.T) {
	ctx := exec.NewContext()
	ctx.SetVariable("$x", exec.RowOf("name", "parent"))
	child := ctx.NewChild()

	rows := collect(t, child, exec.NewFetchFromVariableStep("$x"))
	assert.Equal(t, []any{"parent"}, names(rows))
}

func TestLet_ThenFetchFromVariable(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := exec.NewContext(exec.WithSession(g))

	let := exec.NewLetStep("$people", exec.NewPlan(exec.NewFetchFromClassStep("Person")))
	fetch := exec.NewFetchFromVariableStep("$people")
	plan := exec.NewPlan(let, fetch)

	rs, err := plan.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Alice", "Bob", "Charlie"}, names(rs.Rows))
	assert.False(t, plan.CanBeCached())
}

func TestEmptyStep(t *testing.T) {
	prev := tracked(rowsOf("a", 1)...)
	empty := &exec.EmptyStep{}
	exec.NewPlan(prev, empty)

	assert.Empty(t, collect(t, exec.NewContext(), empty))
	assert.Equal(t, 1, prev.closes)
}
