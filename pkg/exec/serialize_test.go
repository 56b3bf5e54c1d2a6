package exec_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
)

func samplePlan() *exec.Plan {
	return exec.NewPlan(
		exec.NewCartesianProductStep(
			exec.NewPlan(exec.NewFetchFromClassStep("Person")),
			exec.NewPlan(exec.NewFetchFromRIDsStep(4)),
		),
		exec.NewFilterStep(expr.Eq(expr.Prop("city"), expr.Lit("SF"))),
		exec.NewAggregateProjectionStep([]exec.ProjectionItem{
			{Alias: "city", Expr: expr.Prop("city")},
			{Alias: "cnt", Aggregate: exec.AggregateCount},
		}, []exec.Expression{expr.Prop("city")}, 10, 2*time.Second),
		exec.NewProjectionStep(exec.ProjectionItem{Alias: "city"}, exec.ProjectionItem{Alias: "cnt"}),
		exec.NewOrderByStep(exec.OrderItem{Expr: expr.Prop("cnt"), Desc: true}),
		&exec.SkipStep{N: 1},
		&exec.LimitStep{N: 5},
	)
}

func TestSerialize_PlanRoundTrip(t *testing.T) {
	plan := samplePlan()
	rec, err := plan.Serialize()
	require.NoError(t, err)

	restored, err := exec.DeserializePlan(rec)
	require.NoError(t, err)
	assert.Equal(t, plan.PrettyPrint(0, 2), restored.PrettyPrint(0, 2))

	agg, ok := restored.Steps()[2].(*exec.AggregateProjectionStep)
	require.True(t, ok)
	assert.Equal(t, 10, agg.Limit)
	assert.Equal(t, 2*time.Second, agg.Timeout)
	assert.Equal(t, exec.AggregateCount, agg.Projection[1].Aggregate)
}

func TestSerialize_SurvivesJSONAndYAML(t *testing.T) {
	rec, err := samplePlan().Serialize()
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	p, err := exec.DeserializePlan(fromJSON)
	require.NoError(t, err)
	assert.Equal(t, samplePlan().PrettyPrint(0, 2), p.PrettyPrint(0, 2))

	data, err = yaml.Marshal(rec)
	require.NoError(t, err)
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	p, err = exec.DeserializePlan(fromYAML)
	require.NoError(t, err)
	assert.Equal(t, samplePlan().PrettyPrint(0, 2), p.PrettyPrint(0, 2))
}

func TestSerialize_SubCollectionKeys(t *testing.T) {
	rec, err := exec.SerializeStep(exec.NewFetchFromClassStep("Person"))
	require.NoError(t, err)
	assert.Equal(t, "FetchFromClassStep", rec[exec.KeyType])
	assert.NotContains(t, rec, exec.KeySubSteps)
	assert.NotContains(t, rec, exec.KeySubPlans)

	rec, err = exec.SerializeStep(exec.NewCartesianProductStep())
	require.NoError(t, err)
	assert.NotContains(t, rec, exec.KeySubPlans)

	rec, err = exec.SerializeStep(exec.NewCartesianProductStep(exec.NewPlan(&exec.EmptyStep{})))
	require.NoError(t, err)
	require.Contains(t, rec, exec.KeySubPlans)
	assert.Len(t, rec[exec.KeySubPlans], 1)
}

func TestSerialize_FetchFromVariable(t *testing.T) {
	rec, err := exec.SerializeStep(exec.NewFetchFromVariableStep("$x"))
	require.NoError(t, err)
	assert.Equal(t, "$x", rec["variableName"])

	s, err := exec.DeserializeStep(rec)
	require.NoError(t, err)
	assert.Equal(t, "$x", s.(*exec.FetchFromVariableStep).Variable)
}

func TestSerialize_UnsupportedByDefault(t *testing.T) {
	_, err := exec.SerializeStep(exec.NewRowsStep())
	assert.True(t, errors.Is(err, exec.ErrUnsupported))

	var uerr *exec.UnsupportedOperationError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "RowsStep", uerr.Target)

	err = exec.NewRowsStep().Deserialize(map[string]any{})
	assert.True(t, errors.Is(err, exec.ErrUnsupported))
}

func TestDeserialize_RegistryMiss(t *testing.T) {
	_, err := exec.DeserializeStep(map[string]any{exec.KeyType: "NoSuchStep"})
	assert.True(t, errors.Is(err, exec.ErrUnsupported))
}

func TestDeserialize_Malformed(t *testing.T) {
	tests := []map[string]any{
		{},
		{exec.KeyType: 5},
		{exec.KeyType: "CartesianProductStep", exec.KeySubPlans: "nope"},
		{exec.KeyType: "CartesianProductStep", exec.KeySubPlans: []any{"nope"}},
		{exec.KeyType: "LimitStep", "limit": "ten"},
		{exec.KeyType: "FilterStep", "where": map[string]any{"unknown": 1}},
		{exec.KeyType: "FetchFromRIDsStep", "rids": []any{"#x"}},
		{exec.KeyType: "SubQueryStep"},
	}
	for _, rec := range tests {
		_, err := exec.DeserializeStep(rec)
		var cerr *exec.CommandError
		assert.True(t, errors.As(err, &cerr), "%v: %v", rec, err)
	}
}

func TestDeserialize_MissingFieldsUseDefaults(t *testing.T) {
	s, err := exec.DeserializeStep(map[string]any{exec.KeyType: "AggregateProjectionStep"})
	require.NoError(t, err)
	agg := s.(*exec.AggregateProjectionStep)
	assert.Equal(t, -1, agg.Limit)
	assert.Zero(t, agg.Timeout)
	assert.Empty(t, agg.GroupBy)
}
