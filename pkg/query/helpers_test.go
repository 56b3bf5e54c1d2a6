package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
	"github.com/fnuworsu/rdgql/pkg/match"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// createTestGraph builds five people in three cities, two companies, a
// KNOWS triangle Alice -> Bob -> Charlie -> Alice plus Dave -> Alice, and
// WORKS_AT edges from Alice and Bob to Acme and from Charlie to Globex.
func createTestGraph(t *testing.T) (*storage.Graph, map[string]graph.ID) {
	t.Helper()
	g := storage.NewGraph("querydb")
	ids := make(map[string]graph.ID)

	add := func(name, class string, props graph.Properties) {
		props["name"] = name
		n, err := g.AddVertex(class, props)
		require.NoError(t, err)
		ids[name] = n.ID
	}
	add("Alice", "Person", graph.Properties{"age": 30, "city": "Paris"})
	add("Bob", "Person", graph.Properties{"age": 25, "city": "Paris"})
	add("Charlie", "Person", graph.Properties{"age": 35, "city": "Rome"})
	add("Dave", "Person", graph.Properties{"age": 40, "city": "Rome"})
	add("Eve", "Person", graph.Properties{"age": 28, "city": "Oslo"})
	add("Acme", "Company", graph.Properties{})
	add("Globex", "Company", graph.Properties{})

	link := func(from, to, class string) {
		_, err := g.AddEdge(ids[from], ids[to], class, nil)
		require.NoError(t, err)
	}
	link("Alice", "Bob", "KNOWS")
	link("Bob", "Charlie", "KNOWS")
	link("Charlie", "Alice", "KNOWS")
	link("Dave", "Alice", "KNOWS")
	link("Alice", "Acme", "WORKS_AT")
	link("Bob", "Acme", "WORKS_AT")
	link("Charlie", "Globex", "WORKS_AT")
	return g, ids
}

func newTestContext(g *storage.Graph) *exec.Context {
	return exec.NewContext(exec.WithSession(g))
}

// runQuery plans and executes q without the engine
func runQuery(t *testing.T, g *storage.Graph, q *Query, opts PlanOptions) []*exec.Row {
	t.Helper()
	ctx := newTestContext(g)
	plan, err := BuildPlan(ctx, q, opts)
	require.NoError(t, err)
	rs, err := plan.Execute(ctx)
	require.NoError(t, err)
	return rs.Rows
}

func column(rows []*exec.Row, name string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.Property(name)
	}
	return out
}

func people() match.Expression {
	return match.From(match.Node("p", "Person"))
}

func named(name string) exec.Expression {
	return expr.Eq(expr.Prop("name"), expr.Lit(name))
}

func item(path, alias string) ReturnItem {
	return ReturnItem{Expr: expr.Prop(path), Alias: alias}
}
