package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/models"
)

func sampleRows() []models.Row {
	return []models.Row{
		{"id": models.Int(1), "region": models.String("east"), "amount": models.Int(10)},
		{"id": models.Int(2), "region": models.String("west"), "amount": models.Int(20)},
		{"id": models.Int(3), "region": models.String("east"), "amount": models.Int(30)},
	}
}

func TestApplyRunsRulesInOrder(t *testing.T) {
	e := NewEngine()

	// Declared out of order: the rename must run before the map reads
	// the renamed field.
	rules := []Rule{
		{ID: "copy", Order: 2, Type: RuleTypeMap, SourceFields: []string{"total"}, TargetFields: []string{"grand_total"}},
		{ID: "rn", Order: 1, Type: RuleTypeRename, SourceFields: []string{"amount"}, TargetFields: []string{"total"}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, result.Success)
	require.Len(t, result.RuleResults, 2)
	assert.Equal(t, "rn", result.RuleResults[0].RuleID)
	assert.Equal(t, "copy", result.RuleResults[1].RuleID)

	for _, row := range result.Rows {
		_, hasOld := row["amount"]
		assert.False(t, hasOld)
		assert.Equal(t, row["total"], row["grand_total"])
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "agg", Order: 1, Type: RuleTypeAggregate, TargetFields: []string{"amount"},
			Parameters: map[string]string{"group_by": "region", "function": "sum"}},
	}

	first := e.Apply(context.Background(), sampleRows(), rules, nil)
	second := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, first.Success)
	require.Equal(t, len(first.Rows), len(second.Rows))
	for i := range first.Rows {
		for k, v := range first.Rows[i] {
			assert.True(t, v.Equal(second.Rows[i][k]), "row %d field %s", i, k)
		}
	}
}

func TestPreserveOriginalLeavesInputUntouched(t *testing.T) {
	e := NewEngine()
	input := sampleRows()
	rules := []Rule{
		{ID: "rm", Order: 1, Type: RuleTypeRemove, SourceFields: []string{"amount"}},
	}

	result := e.Apply(context.Background(), input, rules, &Options{PreserveOriginal: true})
	require.True(t, result.Success)

	_, has := input[0]["amount"]
	assert.True(t, has, "original buffer must keep the removed field")
	_, has = result.Rows[0]["amount"]
	assert.False(t, has)
}

func TestConditionGatesPerRow(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "tag", Order: 1, Type: RuleTypeAdd, Condition: `region == "east"`,
			TargetFields: []string{"zone"}, Parameters: map[string]string{"value": "Z1"}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, result.Success)
	assert.Equal(t, "Z1", result.Rows[0]["zone"].StringValue())
	_, tagged := result.Rows[1]["zone"]
	assert.False(t, tagged, "west row fails the gate and is skipped, not removed")
	assert.Equal(t, 2, result.RuleResults[0].SuccessCount)
}

func TestFilterRemovesMatchingRows(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "drop-east", Order: 1, Type: RuleTypeFilter,
			Parameters: map[string]string{"field": "region", "operator": "==", "value": `"east"`}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, result.Success)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "west", result.Rows[0]["region"].StringValue())
}

func TestAggregateSumAndCount(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "sum", Order: 1, Type: RuleTypeAggregate, TargetFields: []string{"amount"},
			Parameters: map[string]string{"group_by": "region", "function": "sum"}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, result.Success)
	require.Len(t, result.Rows, 2)
	// Group order follows first appearance: east, then west.
	assert.Equal(t, "east", result.Rows[0]["region"].StringValue())
	assert.InDelta(t, 40.0, result.Rows[0]["amount"].FloatValue(), 1e-9)
	assert.InDelta(t, 20.0, result.Rows[1]["amount"].FloatValue(), 1e-9)

	countRules := []Rule{
		{ID: "cnt", Order: 1, Type: RuleTypeAggregate,
			Parameters: map[string]string{"group_by": "region", "function": "count"}},
	}
	counted := e.Apply(context.Background(), sampleRows(), countRules, nil)
	require.True(t, counted.Success)
	assert.Equal(t, int64(2), counted.Rows[0]["count"].IntValue())
}

func TestJoinMergesPrefixedFields(t *testing.T) {
	e := NewEngine()
	right := []models.Row{
		{"region": models.String("east"), "manager": models.String("ana")},
	}
	rules := []Rule{
		{ID: "j", Order: 1, Type: RuleTypeJoin, SourceFields: []string{"region"},
			Parameters: map[string]string{"type": "left"}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, &Options{
		JoinData: map[string][]models.Row{"j": right},
	})
	require.True(t, result.Success)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "ana", result.Rows[0]["j_manager"].StringValue())
	_, joined := result.Rows[1]["j_manager"]
	assert.False(t, joined, "left join keeps unmatched rows without merged fields")

	inner := []Rule{
		{ID: "j", Order: 1, Type: RuleTypeJoin, SourceFields: []string{"region"}},
	}
	innerResult := e.Apply(context.Background(), sampleRows(), inner, &Options{
		JoinData: map[string][]models.Row{"j": right},
	})
	require.True(t, innerResult.Success)
	assert.Len(t, innerResult.Rows, 2, "inner join drops unmatched rows")
}

func TestUnknownRuleTypeFailsRuleOnly(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "weird", Order: 1, Type: RuleType("mystery")},
		{ID: "tag", Order: 2, Type: RuleTypeAdd, TargetFields: []string{"ok"},
			Parameters: map[string]string{"value": "yes"}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	assert.True(t, result.Success, "pipeline continues past a failed rule")
	require.Len(t, result.RuleResults, 2)
	assert.False(t, result.RuleResults[0].Success)
	assert.True(t, result.RuleResults[1].Success)
	assert.Equal(t, "yes", result.Rows[0]["ok"].StringValue())
}

func TestFailOnErrorAbortsPipeline(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "weird", Order: 1, Type: RuleType("mystery"), FailOnError: true},
		{ID: "tag", Order: 2, Type: RuleTypeAdd, TargetFields: []string{"ok"},
			Parameters: map[string]string{"value": "yes"}},
	}

	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	assert.False(t, result.Success)
	assert.Nil(t, result.Rows)
	require.Len(t, result.RuleResults, 1, "partial rule results up to the failure")
	assert.NotEmpty(t, result.Errors)
}

func TestCancellationDiscardsRows(t *testing.T) {
	e := NewEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rules := []Rule{
		{ID: "tag", Order: 1, Type: RuleTypeAdd, TargetFields: []string{"ok"},
			Parameters: map[string]string{"value": "yes"}},
	}
	result := e.Apply(ctx, sampleRows(), rules, nil)
	assert.False(t, result.Success)
	assert.Nil(t, result.Rows, "cancellation is not a partial commit")
}

func TestCustomHook(t *testing.T) {
	e := NewEngine()
	e.RegisterCustom("double", func(row models.Row, rule *Rule) (models.Row, error) {
		row["amount"] = models.Int(row["amount"].IntValue() * 2)
		return nil, nil
	})

	rules := []Rule{
		{ID: "dbl", Order: 1, Type: RuleTypeCustom, Expression: "double"},
	}
	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, result.Success)
	assert.Equal(t, int64(20), result.Rows[0]["amount"].IntValue())

	missing := e.Apply(context.Background(), sampleRows(), []Rule{
		{ID: "nope", Order: 1, Type: RuleTypeCustom, Expression: "absent"},
	}, nil)
	assert.False(t, missing.RuleResults[0].Success)
}

func TestMapExpression(t *testing.T) {
	e := NewEngine()
	rules := []Rule{
		{ID: "label", Order: 1, Type: RuleTypeMap, TargetFields: []string{"label"},
			Expression: "${region}-${id}"},
	}
	result := e.Apply(context.Background(), sampleRows(), rules, nil)
	require.True(t, result.Success)
	assert.Equal(t, "east-1", result.Rows[0]["label"].StringValue())
}
