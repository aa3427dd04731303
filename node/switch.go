package node

import (
	"context"
	"math"
	"strconv"

	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/util"
)

var _ Executor = new(SwitchExecutor)

// SwitchExecutor routes on the value of a context expression: the
// connection whose label equals the stringified value wins, with
// "default" as the fallback.
type SwitchExecutor struct{}

func NewSwitchExecutor() *SwitchExecutor {
	return &SwitchExecutor{}
}

func (e *SwitchExecutor) Type() string {
	return model.NodeTypeSwitch
}

func (e *SwitchExecutor) Validate(n *model.Node) error {
	if _, ok := configString(n, "expression"); !ok {
		return validationError(n, "switch node needs an expression")
	}
	if len(n.Connections) == 0 {
		return validationError(n, "switch node needs at least one case connection")
	}
	return nil
}

func (e *SwitchExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	expression, _ := configString(n, "expression")
	value, found := util.Lookup(ec.Snapshot(), expression)

	label := model.BranchDefault
	if found {
		label = caseLabel(value)
	}
	next := nextByLabel(n, label)
	if len(next) == 0 {
		next = nextByLabel(n, model.BranchDefault)
	}
	return &Result{
		Output:      map[string]any{"expression": expression, "case": label},
		NextNodeIDs: next,
	}, nil
}

func caseLabel(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.Itoa(int(v))
	default:
		return model.BranchDefault
	}
}
