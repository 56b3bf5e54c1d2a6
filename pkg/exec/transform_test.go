package exec_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
)

func TestFilterProjectOrderSkipLimit(t *testing.T) {
	g, _ := createTestGraph(t)
	ctx := exec.NewContext(exec.WithSession(g))

	plan := exec.NewPlan(
		exec.NewFetchFromClassStep("Person"),
		exec.NewFilterStep(&expr.BinaryExpr{Left: expr.Prop("age"), Operator: expr.OpGt, Right: expr.Lit(20)}),
		exec.NewProjectionStep(
			exec.ProjectionItem{Alias: "name", Expr: expr.Prop("name")},
			exec.ProjectionItem{Alias: "age", Expr: expr.Prop("age")},
		),
		exec.NewOrderByStep(exec.OrderItem{Expr: expr.Prop("age"), Desc: true}),
		&exec.SkipStep{N: 1},
		&exec.LimitStep{N: 1},
	)
	rs, err := plan.Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "Alice", rs.Rows[0].Property("name"))
	assert.Equal(t, []string{"name", "age"}, rs.Rows[0].PropertyNames())
}

func TestLimit_ClosesUpstreamAtCap(t *testing.T) {
	src := tracked(rowsOf("v", 1, 2, 3)...)
	limit := &exec.LimitStep{N: 2}
	exec.NewPlan(src, limit)

	ctx := exec.NewContext()
	s, err := limit.Start(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	ok, err := s.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, src.closes)

	s.Close(ctx)
	assert.Equal(t, 1, src.closes)
}

func TestDistinct(t *testing.T) {
	src := tracked(
		exec.RowOf("a", 1, "b", "x"),
		exec.RowOf("a", int64(1), "b", "x"),
		exec.RowOf("a", 2, "b", "x"),
		exec.RowOf("a", 1, "b", "y"),
	)
	d := &exec.DistinctStep{}
	exec.NewPlan(src, d)

	rows := collect(t, exec.NewContext(), d)
	assert.Len(t, rows, 3)
}

func TestOrderBy_NullsFirstAndStable(t *testing.T) {
	src := tracked(
		exec.RowOf("k", 2, "id", "a"),
		exec.RowOf("k", nil, "id", "b"),
		exec.RowOf("k", 1, "id", "c"),
		exec.RowOf("k", 2, "id", "d"),
	)
	o := exec.NewOrderByStep(exec.OrderItem{Expr: expr.Prop("k")})
	exec.NewPlan(src, o)

	rows := collect(t, exec.NewContext(), o)
	assert.Equal(t, []any{"b", "c", "a", "d"}, values(rows, "id"))
}

func TestCountStep(t *testing.T) {
	c := &exec.CountStep{}
	exec.NewPlan(tracked(rowsOf("v", 1, 2, 3)...), c)
	rows := collect(t, exec.NewContext(), c)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Property("count"))
}

func TestGuaranteeEmptyCount(t *testing.T) {
	items := []exec.ProjectionItem{{Alias: "cnt", Aggregate: exec.AggregateCount}}

	empty := exec.NewGuaranteeEmptyCountStep(items...)
	exec.NewPlan(tracked(), empty)
	rows := collect(t, exec.NewContext(), empty)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].Property("cnt"))

	nonEmpty := exec.NewGuaranteeEmptyCountStep(items...)
	exec.NewPlan(tracked(rowsOf("cnt", int64(4))...), nonEmpty)
	rows = collect(t, exec.NewContext(), nonEmpty)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].Property("cnt"))
}

func TestAggregateThenIdentityProjection(t *testing.T) {
	src := tracked(rowsOf("grp", "A", "B", "A")...)
	plan := exec.NewPlan(
		src,
		exec.NewAggregateProjectionStep([]exec.ProjectionItem{
			{Alias: "grp", Expr: expr.Prop("grp")},
			{Alias: "cnt", Aggregate: exec.AggregateCount},
		}, []exec.Expression{expr.Prop("grp")}, -1, 0),
		exec.NewProjectionStep(exec.ProjectionItem{Alias: "grp"}, exec.ProjectionItem{Alias: "cnt"}),
	)
	rs, err := plan.Execute(exec.NewContext())
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, map[string]any{"grp": "A", "cnt": int64(2)}, rs.Rows[0].ToMap())
	assert.Equal(t, map[string]any{"grp": "B", "cnt": int64(1)}, rs.Rows[1].ToMap())
}

func TestTimeoutStep(t *testing.T) {
	src := tracked(rowsOf("v", 1, 2, 3)...)
	src.delay = 5 * time.Millisecond
	ts := exec.NewTimeoutStep(time.Millisecond)
	exec.NewPlan(src, ts)

	ctx := exec.NewContext()
	s, err := ts.Start(ctx)
	require.NoError(t, err)
	_, err = exec.Collect(ctx, s)

	var terr *exec.TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, time.Millisecond, terr.Limit)
	assert.Equal(t, 1, src.closes)
}

func TestContextTimeout(t *testing.T) {
	src := tracked(rowsOf("a", 1, 2)...)
	src.delay = 5 * time.Millisecond
	step := exec.NewCartesianProductStep(exec.NewPlan(src), exec.NewPlan(tracked(rowsOf("b", 1)...)))

	ctx := exec.NewContext(exec.WithTimeout(time.Millisecond))
	s, err := step.Start(ctx)
	require.NoError(t, err)
	_, err = exec.Collect(ctx, s)
	assert.True(t, errors.Is(err, exec.ErrTimeout))
	assert.Equal(t, src.starts, src.closes)
}

func TestMissingPreviousStep(t *testing.T) {
	steps := []exec.Step{
		exec.NewFilterStep(nil),
		exec.NewProjectionStep(),
		&exec.DistinctStep{},
		exec.NewOrderByStep(),
		&exec.SkipStep{},
		&exec.LimitStep{},
		&exec.CountStep{},
		exec.NewGuaranteeEmptyCountStep(),
		exec.NewTimeoutStep(time.Second),
	}
	for _, s := range steps {
		_, err := s.Start(exec.NewContext())
		var cerr *exec.CommandError
		assert.True(t, errors.As(err, &cerr), "%s", s.Kind())
	}
}

func TestCopy_AllSteps(t *testing.T) {
	ctx := exec.NewContext()
	steps := []exec.Step{
		exec.NewFetchFromClassStep("Person"),
		exec.NewFetchFromRIDsStep(1, 2),
		exec.NewFetchFromVariableStep("$x"),
		exec.NewRowsStep(exec.RowOf("a", 1)),
		&exec.EmptyStep{},
		exec.NewSubQueryStep(exec.NewPlan(&exec.EmptyStep{})),
		exec.NewLetStep("$x", exec.NewPlan(&exec.EmptyStep{})),
		exec.NewFilterStep(expr.Lit(true)),
		exec.NewProjectionStep(exec.ProjectionItem{Alias: "a"}),
		&exec.DistinctStep{},
		exec.NewOrderByStep(exec.OrderItem{Expr: expr.Prop("a")}),
		&exec.SkipStep{N: 1},
		&exec.LimitStep{N: 1},
		&exec.CountStep{},
		exec.NewGuaranteeEmptyCountStep(),
		exec.NewTimeoutStep(time.Second),
		exec.NewAggregateProjectionStep(nil, nil, -1, 0),
		exec.NewCartesianProductStep(),
		exec.NewParallelExecStep(),
	}
	for _, s := range steps {
		c := s.Copy(ctx)
		assert.NotSame(t, s, c, "%s", s.Kind())
		assert.Equal(t, s.Kind(), c.Kind())
		assert.Equal(t, s.PrettyPrint(0, 2), c.PrettyPrint(0, 2))
		assert.Equal(t, s.CanBeCached(), c.CanBeCached())
	}
}
