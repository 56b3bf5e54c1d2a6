package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
	"github.com/fnuworsu/rdgql/pkg/match"
)

func requireConfigError(t *testing.T, err error) *exec.CommandError {
	t.Helper()
	require.Error(t, err)
	var cerr *exec.CommandError
	require.True(t, errors.As(err, &cerr), "expected *CommandError, got %T", err)
	assert.Equal(t, exec.CategoryConfiguration, cerr.Category)
	return cerr
}

func count(alias string) ReturnItem {
	return ReturnItem{Alias: alias, Aggregate: exec.AggregateCount}
}

func TestBuildPlan_Projection(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().
		AddMatch(people().Out(match.As("f"), "KNOWS")).
		AddReturnItem(item("p.name", "person")).
		AddReturnItem(item("f.name", "friend")).
		AddOrderBy(expr.Prop("person"), false)

	rows := runQuery(t, g, q, PlanOptions{})
	assert.Equal(t, []any{"Alice", "Bob", "Charlie", "Dave"}, column(rows, "person"))
	assert.Equal(t, []any{"Bob", "Charlie", "Alice", "Alice"}, column(rows, "friend"))
	assert.Equal(t, []string{"person", "friend"}, rows[0].PropertyNames())
}

func TestBuildPlan_OrderByInferredColumn(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().
		AddMatch(people()).
		AddReturnItem(ReturnItem{Expr: expr.Prop("p.name")}).
		AddOrderBy(expr.Prop("p.name"), true)

	rows := runQuery(t, g, q, PlanOptions{})
	assert.Equal(t, []any{"Eve", "Dave", "Charlie", "Bob", "Alice"}, column(rows, "p.name"))
}

func TestBuildPlan_DefaultsToMatches(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := runQuery(t, g, NewQuery().AddMatch(people()), PlanOptions{})
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"p"}, rows[0].PropertyNames())
}

func TestBuildPlan_ReturnMode(t *testing.T) {
	g, ids := createTestGraph(t)
	q := NewQuery().AddMatch(people()).SetReturnMode(match.ReturnElements).SetLimit(2)

	rows := runQuery(t, g, q, PlanOptions{})
	require.Len(t, rows, 2)
	id, ok := rows[0].Identity()
	require.True(t, ok)
	assert.Equal(t, ids["Alice"], id)
}

func TestBuildPlan_Aggregates(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).
		AddReturnItem(count("n")).
		AddReturnItem(ReturnItem{Expr: expr.Prop("p.age"), Alias: "total", Aggregate: exec.AggregateSum}).
		AddReturnItem(ReturnItem{Expr: expr.Prop("p.age"), Alias: "youngest", Aggregate: exec.AggregateMin}).
		AddReturnItem(ReturnItem{Expr: expr.Prop("p.age"), Alias: "oldest", Aggregate: exec.AggregateMax})

	rows := runQuery(t, g, q, PlanOptions{})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].Property("n"))
	assert.Equal(t, int64(158), rows[0].Property("total"))
	assert.Equal(t, 25, rows[0].Property("youngest"))
	assert.Equal(t, 40, rows[0].Property("oldest"))
}

func TestBuildPlan_GroupBy(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).
		AddReturnItem(item("p.city", "city")).
		AddReturnItem(count("n")).
		AddOrderBy(expr.Prop("city"), false)
	q.GroupBy = []exec.Expression{expr.Prop("p.city")}

	rows := runQuery(t, g, q, PlanOptions{})
	assert.Equal(t, []any{"Oslo", "Paris", "Rome"}, column(rows, "city"))
	assert.Equal(t, []any{int64(1), int64(2), int64(2)}, column(rows, "n"))
}

func TestBuildPlan_GroupLimitStillReturnsLimit(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).
		AddReturnItem(item("p.city", "city")).
		AddReturnItem(count("n")).
		SetLimit(1)
	q.GroupBy = []exec.Expression{expr.Prop("p.city")}

	rows := runQuery(t, g, q, PlanOptions{})
	require.Len(t, rows, 1)
	assert.Equal(t, "Paris", rows[0].Property("city"))
}

func TestGroupLimit(t *testing.T) {
	q := NewQuery().SetLimit(2)
	q.Skip = 3
	assert.Equal(t, 5, groupLimit(q))

	assert.Equal(t, -1, groupLimit(NewQuery()))

	ordered := NewQuery().SetLimit(2).AddOrderBy(expr.Prop("n"), false)
	assert.Equal(t, -1, groupLimit(ordered))

	distinct := NewQuery().SetLimit(2)
	distinct.Return.Distinct = true
	assert.Equal(t, -1, groupLimit(distinct))
}

func TestBuildPlan_CountOnEmptyInput(t *testing.T) {
	g, _ := createTestGraph(t)
	nobody := match.From(match.Filter{Alias: "p", Class: "Person", Where: named("Zed")})

	rows := runQuery(t, g, NewQuery().AddMatch(nobody).AddReturnItem(count("n")), PlanOptions{})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].Property("n"))

	grouped := NewQuery().AddMatch(nobody).AddReturnItem(count("n"))
	grouped.GroupBy = []exec.Expression{expr.Prop("p.city")}
	assert.Empty(t, runQuery(t, g, grouped, PlanOptions{}))

	mixed := NewQuery().AddMatch(nobody).
		AddReturnItem(count("n")).
		AddReturnItem(ReturnItem{Expr: expr.Prop("p.age"), Alias: "total", Aggregate: exec.AggregateSum})
	assert.Empty(t, runQuery(t, g, mixed, PlanOptions{}))
}

func TestBuildPlan_Distinct(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().
		AddMatch(people().Out(match.Node("c", "Company"), "WORKS_AT")).
		AddReturnItem(item("c.name", "company"))

	assert.Len(t, runQuery(t, g, q, PlanOptions{}), 3)

	q.Return.Distinct = true
	assert.ElementsMatch(t, []any{"Acme", "Globex"}, column(runQuery(t, g, q, PlanOptions{}), "company"))
}

func TestBuildPlan_SkipAndLimit(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).
		AddReturnItem(item("p.name", "name")).
		AddOrderBy(expr.Prop("name"), false).
		SetLimit(2)
	q.Skip = 1

	assert.Equal(t, []any{"Bob", "Charlie"}, column(runQuery(t, g, q, PlanOptions{}), "name"))
}

func TestBuildPlan_Not(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).
		AddNot(match.From(match.As("p")).Out(match.Node("c", "Company"), "WORKS_AT")).
		AddReturnItem(item("p.name", "name")).
		AddOrderBy(expr.Prop("name"), false)

	assert.Equal(t, []any{"Dave", "Eve"}, column(runQuery(t, g, q, PlanOptions{}), "name"))
}

func TestBuildPlan_UnionAll(t *testing.T) {
	g, _ := createTestGraph(t)
	build := func() *Query {
		alice := match.From(match.Filter{Alias: "p", Class: "Person", Where: named("Alice")})
		companies := NewQuery().
			AddMatch(match.From(match.Node("c", "Company"))).
			AddReturnItem(item("c.name", "name"))
		return NewQuery().AddMatch(alice).AddReturnItem(item("p.name", "name")).Union(companies)
	}

	for _, parallel := range []bool{false, true} {
		rows := runQuery(t, g, build(), PlanOptions{Parallel: parallel, MaxWorkers: 2})
		assert.Equal(t, []any{"Alice", "Acme", "Globex"}, column(rows, "name"), "parallel=%v", parallel)
	}
}

func TestBuildPlan_Timeout(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := newTestContext(g)
	plan, err := BuildPlan(ctx, NewQuery().AddMatch(people()), PlanOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)

	steps := plan.Steps()
	assert.Equal(t, exec.KindTimeout, steps[len(steps)-1].Kind())
	assert.Contains(t, plan.PrettyPrint(0, 2), "+ TIMEOUT (5s)")
}

func TestBuildPlan_PrettyPrint(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).
		AddReturnItem(count("n")).
		AddOrderBy(expr.Prop("n"), true).
		SetLimit(3)
	q.Return.Distinct = true

	plan, err := BuildPlan(newTestContext(g), q, PlanOptions{})
	require.NoError(t, err)
	out := plan.PrettyPrint(0, 2)
	for _, want := range []string{
		"+ FETCH FROM CLASS Person",
		"+ CALCULATE AGGREGATE PROJECTIONS",
		"+ CALCULATE PROJECTIONS",
		"+ GUARANTEE FOR ZERO COUNT",
		"+ DISTINCT",
		"+ ORDER BY",
		"+ LIMIT (3)",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, plan.CanBeCached())
}

func TestBuildPlan_Errors(t *testing.T) {
	g, _ := createTestGraph(t)

	tests := []struct {
		name string
		q    *Query
		want string
	}{
		{
			name: "mode with items",
			q:    NewQuery().AddMatch(people()).SetReturnMode(match.ReturnPaths).AddReturnItem(item("p.name", "")),
			want: "RETURN $paths cannot be combined with projection items",
		},
		{
			name: "group by without aggregate",
			q: func() *Query {
				q := NewQuery().AddMatch(people()).AddReturnItem(item("p.city", "city"))
				q.GroupBy = []exec.Expression{expr.Prop("p.city")}
				return q
			}(),
			want: "GROUP BY requires an aggregate in RETURN",
		},
		{
			name: "duplicate column",
			q:    NewQuery().AddMatch(people()).AddReturnItem(item("p.name", "x")).AddReturnItem(item("p.age", "x")),
			want: "Duplicate RETURN column: x",
		},
		{
			name: "unknown aggregate",
			q:    NewQuery().AddMatch(people()).AddReturnItem(ReturnItem{Alias: "m", Aggregate: "median"}),
			want: `Unknown aggregate function "median"`,
		},
		{
			name: "item without expression",
			q:    NewQuery().AddMatch(people()).AddReturnItem(ReturnItem{Alias: "x"}),
			want: "RETURN item 0 has no expression",
		},
		{
			name: "order by without expression",
			q: func() *Query {
				q := NewQuery().AddMatch(people())
				q.OrderBy = []exec.OrderItem{{}}
				return q
			}(),
			want: "ORDER BY item 0 has no expression",
		},
		{
			name: "negative skip",
			q: func() *Query {
				q := NewQuery().AddMatch(people())
				q.Skip = -1
				return q
			}(),
			want: "Invalid SKIP value: -1",
		},
		{
			name: "no pattern",
			q:    NewQuery(),
			want: "MATCH needs at least one pattern expression",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan(newTestContext(g), tt.q, PlanOptions{})
			cerr := requireConfigError(t, err)
			assert.Equal(t, tt.want, cerr.Message)
			assert.Equal(t, "querydb", cerr.Database)
		})
	}

	_, err := BuildPlan(newTestContext(g), nil, PlanOptions{})
	requireConfigError(t, err)
}

func TestBuildPlan_UnionBranchErrorPropagates(t *testing.T) {
	g, _ := createTestGraph(t)
	q := NewQuery().AddMatch(people()).Union(NewQuery())
	_, err := BuildPlan(newTestContext(g), q, PlanOptions{})
	requireConfigError(t, err)
}
