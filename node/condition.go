package node

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/util"
)

var _ Executor = new(ConditionExecutor)

var conditionOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true,
	"lt": true, "lte": true, "contains": true, "exists": true,
}

// ConditionExecutor evaluates a comparison against the context and picks
// the "true" or "false" connection. A missing or non-comparable operand
// evaluates to false rather than failing: workflows routinely branch on
// fields the trigger payload may not carry, and an absent field must not
// hard-fail the execution.
type ConditionExecutor struct{}

func NewConditionExecutor() *ConditionExecutor {
	return &ConditionExecutor{}
}

func (e *ConditionExecutor) Type() string {
	return model.NodeTypeCondition
}

func (e *ConditionExecutor) Validate(n *model.Node) error {
	field, ok := configString(n, "field")
	if !ok || strings.TrimSpace(field) == "" {
		return validationError(n, "condition node needs a field")
	}
	operator, ok := configString(n, "operator")
	if !ok || !conditionOperators[operator] {
		return validationError(n, "unknown condition operator %q", operator)
	}
	if len(nextByLabel(n, model.BranchTrue)) == 0 && len(nextByLabel(n, model.BranchFalse)) == 0 {
		return validationError(n, "condition node needs a true or false connection")
	}
	return nil
}

func (e *ConditionExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	field, _ := configString(n, "field")
	operator, _ := configString(n, "operator")
	expected := n.Config["value"]

	operand, found := util.Lookup(ec.Snapshot(), field)
	matched := evaluate(operand, found, operator, expected)

	branch := model.BranchFalse
	if matched {
		branch = model.BranchTrue
	}
	return &Result{
		Output:      map[string]any{"field": field, "operator": operator, "result": matched},
		NextNodeIDs: nextByLabel(n, branch),
	}, nil
}

func evaluate(operand any, found bool, operator string, expected any) bool {
	if operator == "exists" {
		return found
	}
	if !found {
		return false
	}
	switch operator {
	case "eq":
		return equal(operand, expected)
	case "neq":
		return !equal(operand, expected)
	case "contains":
		return strings.Contains(asString(operand), asString(expected))
	case "gt", "gte", "lt", "lte":
		left, lok := asNumber(operand)
		right, rok := asNumber(expected)
		if !lok || !rok {
			return false
		}
		switch operator {
		case "gt":
			return left > right
		case "gte":
			return left >= right
		case "lt":
			return left < right
		default:
			return left <= right
		}
	}
	return false
}

func equal(a, b any) bool {
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			return an == bn
		}
	}
	return asString(a) == asString(b)
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
