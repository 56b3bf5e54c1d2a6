package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
)

func identities(list []any) []graph.ID {
	out := make([]graph.ID, len(list))
	for i, v := range list {
		out[i] = v.(graph.Element).Identity()
	}
	return out
}

func TestMatch_SimpleTraversal(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("p", "Alice")).Out(As("f"), "KNOWS"),
	}, nil, ReturnMatches)

	require.Len(t, rows, 1)
	assert.Equal(t, []string{"p", "f"}, rows[0].PropertyNames())
	assert.Equal(t, []any{"Bob"}, names(rows, "f"))
}

func TestMatch_EdgeMethods(t *testing.T) {
	g, _ := createTestGraph(t)

	rows := compileAndRun(t, g, []Expression{
		From(person("p", "Alice")).OutE(As("e"), "WORKS_AT").InV(As("c")),
	}, nil, ReturnMatches)
	require.Len(t, rows, 1)
	assert.Equal(t, "WORKS_AT", rows[0].Property("e").(graph.Element).ClassName())
	assert.Equal(t, []any{"Google"}, names(rows, "c"))

	rows = compileAndRun(t, g, []Expression{
		From(person("p", "Alice")).Both(As("n"), "KNOWS"),
	}, nil, ReturnMatches)
	assert.ElementsMatch(t, []any{"Bob", "Charlie"}, names(rows, "n"))

	rows = compileAndRun(t, g, []Expression{
		From(person("p", "Bob")).InE(As("e"), "KNOWS").OutV(As("src")),
	}, nil, ReturnMatches)
	assert.Equal(t, []any{"Alice"}, names(rows, "src"))
}

func TestMatch_ReverseTraversalFollowsDependency(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(Filter{
			Alias: "a",
			Class: "Company",
			Where: expr.Eq(matched("b", "name"), expr.Lit("Alice")),
		}).In(Node("b", "Person"), "WORKS_AT"),
	}, nil, ReturnMatches)

	require.Len(t, rows, 1)
	assert.Equal(t, []any{"Google"}, names(rows, "a"))
	assert.Equal(t, []any{"Alice"}, names(rows, "b"))
}

func TestMatch_ReverseEdgeTraversal(t *testing.T) {
	g, ids := createTestGraph(t)
	// e is cheaper to bind by rid, so the edge walk runs from the edge back
	// to its source
	edges, err := g.EdgesOf(ids["Alice"], graph.DirectionOut, []string{"WORKS_AT"})
	require.NoError(t, err)
	require.Len(t, edges, 1)

	rows := compileAndRun(t, g, []Expression{
		From(As("p")).OutE(Filter{Alias: "e", RID: RID(edges[0].ID)}, "WORKS_AT"),
	}, nil, ReturnMatches)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"Alice"}, names(rows, "p"))
}

func TestMatch_TriangleConsistencyCheck(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(Node("a", "Person")).Out(As("b"), "KNOWS").Out(As("c"), "KNOWS").Out(As("a"), "KNOWS"),
	}, nil, ReturnMatches)

	require.Len(t, rows, 3)
	assert.Equal(t, []any{"Alice", "Bob", "Charlie"}, names(rows, "a"))
	assert.Equal(t, []any{"Bob", "Charlie", "Alice"}, names(rows, "b"))
	assert.Equal(t, []any{"Charlie", "Alice", "Bob"}, names(rows, "c"))
}

func TestMatch_DependencyCycleFailsBeforeExecution(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := newTestContext(g)
	_, err := Compile(ctx, []Expression{
		From(Filter{Alias: "a", Where: expr.Eq(matched("b", "name"), expr.Lit("x"))}).
			Out(Filter{Alias: "b", Where: expr.Eq(matched("a", "name"), expr.Lit("y"))}),
	}, nil, ReturnMatches)

	cerr := requireConfigError(t, err)
	assert.Equal(t, "matchdb", cerr.Database)
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Contains(t, err.Error(), "[database=matchdb]")
}

func TestMatch_CompileErrors(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := newTestContext(g)

	_, err := Compile(ctx, nil, nil, ReturnMatches)
	requireConfigError(t, err)

	_, err = Compile(ctx, []Expression{From(As("a"))}, nil, "$bogus")
	cerr := requireConfigError(t, err)
	assert.Contains(t, cerr.Message, "$bogus")

	_, err = Compile(ctx, []Expression{From(As("a"))}, []Expression{From(As("zzz")).Out(As("q"))}, ReturnMatches)
	cerr = requireConfigError(t, err)
	assert.Contains(t, cerr.Message, "NOT pattern must start from an alias")
}

func TestMatch_Optional(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("p", "")).Out(Filter{Alias: "c", Class: "Company", Optional: true}, "WORKS_AT"),
	}, nil, ReturnMatches)

	require.Len(t, rows, 4)
	assert.Equal(t, []any{"Alice", "Bob", "Charlie", "Dave"}, names(rows, "p"))
	assert.Equal(t, []any{"Google", nil, nil, nil}, names(rows, "c"))
	for _, r := range rows[1:] {
		assert.True(t, r.HasProperty("c"))
		assert.Nil(t, r.Property("c"))
	}
}

func TestMatch_OptionalAliasInConsistencyCheck(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("p", "")).Out(Filter{Alias: "c", Class: "Company", Optional: true}, "WORKS_AT"),
		From(Filter{Alias: "c", Optional: true}).In(As("p"), "WORKS_AT"),
	}, nil, ReturnMatches)

	require.Len(t, rows, 4)
	assert.Equal(t, []any{"Alice", "Bob", "Charlie", "Dave"}, names(rows, "p"))
	assert.Equal(t, []any{"Google", nil, nil, nil}, names(rows, "c"))
}

func TestMatch_OptionalFilterRejectsEverything(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("p", "Alice")).Out(Filter{Alias: "c", Where: named("Nobody"), Optional: true}),
	}, nil, ReturnMatches)

	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Property("c"))
}

func TestMatch_Not(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g,
		[]Expression{From(person("p", ""))},
		[]Expression{From(As("p")).Out(Node("c", "Company"), "WORKS_AT")},
		ReturnMatches)

	assert.Equal(t, []any{"Bob", "Charlie", "Dave"}, names(rows, "p"))
}

func TestMatch_NotChecksBoundAliases(t *testing.T) {
	g, _ := createTestGraph(t)
	// drop the pairs whose b knows Alice
	rows := compileAndRun(t, g,
		[]Expression{From(Node("a", "Person")).Out(As("b"), "KNOWS")},
		[]Expression{From(As("a")).Out(As("b"), "KNOWS").Out(Filter{Alias: "x", Where: named("Alice")}, "KNOWS")},
		ReturnMatches)

	assert.Equal(t, []any{"Alice", "Charlie"}, names(rows, "a"))
	assert.Equal(t, []any{"Bob", "Alice"}, names(rows, "b"))
}

func TestMatch_NotWithOriginFilter(t *testing.T) {
	g, _ := createTestGraph(t)
	// only people older than 28 are excluded when they know someone
	older := &expr.BinaryExpr{Left: expr.Prop("age"), Operator: expr.OpGt, Right: expr.Lit(28)}
	rows := compileAndRun(t, g,
		[]Expression{From(person("p", ""))},
		[]Expression{From(Filter{Alias: "p", Where: older}).Out(Filter{}, "KNOWS")},
		ReturnMatches)

	assert.Equal(t, []any{"Bob", "Dave"}, names(rows, "p"))
}

func TestMatch_RecursiveMaxDepth(t *testing.T) {
	g, ids := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("a", "Alice")).Out(Filter{Alias: "r", MaxDepth: Depth(2), DepthAlias: "d", PathAlias: "path"}, "KNOWS"),
	}, nil, ReturnMatches)

	require.Len(t, rows, 3)
	assert.Equal(t, []any{"Alice", "Bob", "Charlie"}, names(rows, "r"))
	assert.Equal(t, []any{0, 1, 2}, []any{rows[0].Property("d"), rows[1].Property("d"), rows[2].Property("d")})

	path := rows[2].Property("path").([]any)
	assert.Equal(t, []graph.ID{ids["Alice"], ids["Bob"], ids["Charlie"]}, identities(path))
	assert.Equal(t, []graph.ID{ids["Bob"]}, identities(rows[2].TemporaryProperty(PathPrefix+"r").([]any)))
	assert.Empty(t, rows[0].TemporaryProperty(PathPrefix+"r"))
}

func TestMatch_RecursiveDoesNotReenterPath(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("a", "Alice")).Out(Filter{Alias: "r", While: expr.Lit(true)}, "KNOWS"),
	}, nil, ReturnMatches)

	assert.Equal(t, []any{"Alice", "Bob", "Charlie"}, names(rows, "r"))
}

func TestMatch_RecursiveWhileSeesDepth(t *testing.T) {
	g, _ := createTestGraph(t)
	shallow := &expr.BinaryExpr{Left: &expr.Variable{Name: expr.VarDepth}, Operator: expr.OpLt, Right: expr.Lit(1)}
	rows := compileAndRun(t, g, []Expression{
		From(person("a", "Alice")).Out(Filter{Alias: "r", While: shallow}, "KNOWS"),
	}, nil, ReturnMatches)

	assert.Equal(t, []any{"Alice", "Bob"}, names(rows, "r"))
}

func TestMatch_RecursiveWhereDecidesEmissionOnly(t *testing.T) {
	g, _ := createTestGraph(t)
	older := &expr.BinaryExpr{Left: expr.Prop("age"), Operator: expr.OpGt, Right: expr.Lit(26)}
	rows := compileAndRun(t, g, []Expression{
		From(person("a", "Alice")).Out(Filter{Alias: "r", Where: older, MaxDepth: Depth(2)}, "KNOWS"),
	}, nil, ReturnMatches)

	// Bob is too young to be emitted but the walk still goes through him
	assert.Equal(t, []any{"Alice", "Charlie"}, names(rows, "r"))
}

func TestMatch_RecursiveZeroDepth(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("a", "Alice")).Out(Filter{Alias: "r", MaxDepth: Depth(0)}, "KNOWS"),
	}, nil, ReturnMatches)

	assert.Equal(t, []any{"Alice"}, names(rows, "r"))
}

func TestMatch_RecursiveTimeout(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := exec.NewContext(exec.WithSession(g), exec.WithTimeout(1))
	plan, err := Compile(ctx, []Expression{
		From(person("a", "")).Out(Filter{Alias: "r", While: expr.Lit(true)}),
	}, nil, ReturnMatches)
	require.NoError(t, err)

	_, err = plan.Execute(ctx)
	assert.True(t, errors.Is(err, exec.ErrTimeout))
}

func TestMatch_FieldTraversal(t *testing.T) {
	g, _ := createTestGraph(t)

	rows := compileAndRun(t, g, []Expression{
		From(person("p", "")).Field("manager", As("m")),
	}, nil, ReturnMatches)
	// Alice's manager is a plain number and Dave's is null
	assert.Equal(t, []any{"Bob"}, names(rows, "p"))
	assert.Equal(t, []any{"Alice"}, names(rows, "m"))

	rows = compileAndRun(t, g, []Expression{
		From(person("p", "Charlie")).Field("friends", As("f")),
	}, nil, ReturnMatches)
	assert.Equal(t, []any{"Alice", "Bob"}, names(rows, "f"))

	rows = compileAndRun(t, g, []Expression{
		From(person("p", "")).Field("missing", As("m")),
	}, nil, ReturnMatches)
	assert.Empty(t, rows)
}

func TestMatch_DisconnectedComponents(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := newTestContext(g)
	plan, err := Compile(ctx, []Expression{
		From(Node("p", "Person")),
		From(Node("c", "Company")),
	}, nil, ReturnMatches)
	require.NoError(t, err)
	assert.Equal(t, exec.KindCartesianProduct, plan.Steps()[0].Kind())

	rows := run(t, ctx, plan)
	require.Len(t, rows, 4)
	assert.Equal(t, []any{"Alice", "Bob", "Charlie", "Dave"}, names(rows, "p"))
	assert.Equal(t, []any{"Google", "Google", "Google", "Google"}, names(rows, "c"))
}

func TestMatch_RIDRoot(t *testing.T) {
	g, ids := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(Filter{Alias: "p", RID: RID(ids["Bob"])}).Out(As("f"), "KNOWS"),
	}, nil, ReturnMatches)
	assert.Equal(t, []any{"Charlie"}, names(rows, "f"))
}

func TestMatch_EmptyResult(t *testing.T) {
	g, _ := createTestGraph(t)
	rows := compileAndRun(t, g, []Expression{
		From(person("p", "Dave")).Out(As("f")),
	}, nil, ReturnMatches)
	assert.Empty(t, rows)
}

func TestMatch_PlanCopyAndCache(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := newTestContext(g)
	plan, err := Compile(ctx,
		[]Expression{From(person("p", "")).Out(Filter{Alias: "c", Optional: true}, "WORKS_AT")},
		[]Expression{From(As("p")).In(Filter{}, "KNOWS")},
		ReturnPatterns)
	require.NoError(t, err)
	assert.True(t, plan.CanBeCached())

	first := run(t, ctx, plan)
	copied := plan.Copy(ctx)
	assert.NotSame(t, plan.Steps()[0], copied.Steps()[0])
	assert.Equal(t, len(plan.Steps()), len(copied.Steps()))

	second := run(t, newTestContext(g), copied)
	assert.Equal(t, names(first, "p"), names(second, "p"))
	assert.Equal(t, []any{"Dave"}, names(second, "p"))
}

func TestMatch_NotSerializable(t *testing.T) {
	g, _ := createTestGraph(t)
	plan, err := Compile(newTestContext(g), []Expression{From(person("p", ""))}, nil, ReturnMatches)
	require.NoError(t, err)

	_, err = plan.Serialize()
	assert.ErrorIs(t, err, exec.ErrUnsupported)
	var uerr *exec.UnsupportedOperationError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, string(KindMatchFirst), uerr.Target)
}

func TestMatch_TraversalWithoutSession(t *testing.T) {
	g, _ := createTestGraph(t)
	start, err := g.Load(1)
	require.NoError(t, err)

	step := newMatchStep(traversal{From: "a", To: "b", Method: Out})
	plan := exec.NewPlan(exec.NewRowsStep(exec.RowOf("a", start)))
	plan.Chain(step)
	_, err = plan.Execute(exec.NewContext())
	requireConfigError(t, err)
}

func TestMatch_UnboundSourceYieldsNothing(t *testing.T) {
	g, _ := createTestGraph(t)
	step := newMatchStep(traversal{From: "a", To: "b", Method: Out})
	plan := exec.NewPlan(exec.NewRowsStep(exec.RowOf("a", nil), exec.RowOf("a", "text")))
	plan.Chain(step)

	rows := run(t, newTestContext(g), plan)
	assert.Empty(t, rows)
}

func TestMatch_StepsRequireUpstream(t *testing.T) {
	ctx := exec.NewContext()
	for _, step := range []exec.Step{
		newMatchStep(traversal{From: "a", To: "b", Method: Out}),
		newOptionalMatchStep(traversal{From: "a", To: "b", Method: Out}),
		&RemoveEmptyOptionalsStep{},
		NewFilterNotMatchPatternStep(),
		&MatchFilterStep{Alias: "a"},
		NewReturnMatchStep(ReturnElements),
	} {
		_, err := step.Start(ctx)
		requireConfigError(t, err)
	}
}
