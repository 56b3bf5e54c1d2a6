package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// createTestGraph builds a KNOWS triangle Alice -> Bob -> Charlie -> Alice,
// a lone Dave, and Alice WORKS_AT Google. Bob and Charlie carry link
// properties.
func createTestGraph(t *testing.T) (*storage.Graph, map[string]graph.ID) {
	t.Helper()
	g := storage.NewGraph("matchdb")
	ids := make(map[string]graph.ID)

	add := func(name, class string, props graph.Properties) {
		if props == nil {
			props = graph.Properties{}
		}
		props["name"] = name
		n, err := g.AddVertex(class, props)
		require.NoError(t, err)
		ids[name] = n.ID
	}
	add("Alice", "Person", graph.Properties{"age": 30, "manager": 42})
	add("Bob", "Person", graph.Properties{"age": 25, "manager": ids["Alice"]})
	add("Charlie", "Person", graph.Properties{"age": 35, "friends": []any{ids["Alice"].String(), ids["Bob"], 7}})
	add("Dave", "Person", graph.Properties{"age": 40, "manager": nil})
	add("Google", "Company", nil)

	link := func(from, to, class string) {
		_, err := g.AddEdge(ids[from], ids[to], class, nil)
		require.NoError(t, err)
	}
	link("Alice", "Bob", "KNOWS")
	link("Bob", "Charlie", "KNOWS")
	link("Charlie", "Alice", "KNOWS")
	link("Alice", "Google", "WORKS_AT")
	return g, ids
}

func newTestContext(g *storage.Graph) *exec.Context {
	return exec.NewContext(exec.WithSession(g))
}

func run(t *testing.T, ctx *exec.Context, plan *exec.Plan) []*exec.Row {
	t.Helper()
	rs, err := plan.Execute(ctx)
	require.NoError(t, err)
	return rs.Rows
}

func compileAndRun(t *testing.T, g *storage.Graph, match, not []Expression, mode ReturnMode) []*exec.Row {
	t.Helper()
	ctx := newTestContext(g)
	plan, err := Compile(ctx, match, not, mode)
	require.NoError(t, err)
	return run(t, ctx, plan)
}

// names reads the "name" property of the element bound to alias in each row
func names(rows []*exec.Row, alias string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = exec.PropertyOf(r.Property(alias), "name")
	}
	return out
}

func named(name string) exec.Expression {
	return expr.Eq(expr.Prop("name"), expr.Lit(name))
}

func person(alias, name string) Filter {
	f := Node(alias, "Person")
	if name != "" {
		f.Where = named(name)
	}
	return f
}

func matched(alias, property string) *expr.Matched {
	return &expr.Matched{Alias: alias, Property: property}
}
