package node

import (
	"context"
	"testing"

	"github.com/conveyorhq/conveyor/model"
	"github.com/stretchr/testify/require"
)

func conditionNode(field, operator string, value any) *model.Node {
	return &model.Node{
		ID:   "cond",
		Type: model.NodeTypeCondition,
		Config: map[string]any{
			"field":    field,
			"operator": operator,
			"value":    value,
		},
		Connections: []model.Connection{
			{Label: model.BranchTrue, TargetID: "yes"},
			{Label: model.BranchFalse, TargetID: "no"},
		},
	}
}

func conditionContext() *model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Set("lead", map[string]any{
		"score":  75.0,
		"name":   "Ada Lovelace",
		"active": true,
	})
	return ec
}

func TestConditionExecutor(t *testing.T) {
	for scenario, tc := range map[string]struct {
		field    string
		operator string
		value    any
		want     bool
	}{
		"eq match":                  {"lead.name", "eq", "Ada Lovelace", true},
		"eq mismatch":               {"lead.name", "eq", "Grace", false},
		"eq numeric string":         {"lead.score", "eq", "75", true},
		"neq":                       {"lead.name", "neq", "Grace", true},
		"gt true":                   {"lead.score", "gt", 50, true},
		"gt false":                  {"lead.score", "gt", 80, false},
		"gte boundary":              {"lead.score", "gte", 75, true},
		"lt":                        {"lead.score", "lt", 100, true},
		"lte boundary":              {"lead.score", "lte", 75, true},
		"contains":                  {"lead.name", "contains", "Love", true},
		"exists present":            {"lead.name", "exists", nil, true},
		"exists absent":             {"lead.missing", "exists", nil, false},
		"absent operand is false":   {"lead.missing", "eq", "anything", false},
		"non-numeric gt is false":   {"lead.name", "gt", 10, false},
		"non-numeric value for lte": {"lead.score", "lte", "not-a-number", false},
	} {
		t.Run(scenario, func(t *testing.T) {
			e := NewConditionExecutor()
			n := conditionNode(tc.field, tc.operator, tc.value)

			result, err := e.Execute(context.Background(), n, conditionContext())
			require.NoError(t, err)
			require.Equal(t, tc.want, result.Output["result"])

			wantTarget := "no"
			if tc.want {
				wantTarget = "yes"
			}
			require.Equal(t, []string{wantTarget}, result.NextNodeIDs)
		})
	}
}

func TestConditionValidate(t *testing.T) {
	e := NewConditionExecutor()

	require.NoError(t, e.Validate(conditionNode("lead.score", "gt", 10)))

	missingField := conditionNode("", "gt", 10)
	require.Error(t, e.Validate(missingField))

	badOperator := conditionNode("lead.score", "between", 10)
	require.Error(t, e.Validate(badOperator))

	noBranches := conditionNode("lead.score", "gt", 10)
	noBranches.Connections = nil
	require.Error(t, e.Validate(noBranches))
}
