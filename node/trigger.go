package node

import (
	"context"

	"github.com/conveyorhq/conveyor/model"
)

var _ Executor = new(TriggerExecutor)

// TriggerExecutor handles the terminal start points of a graph. The
// trigger payload is already merged into the context by the saga; the
// executor just surfaces it and follows the declared connection.
type TriggerExecutor struct{}

func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{}
}

func (e *TriggerExecutor) Type() string {
	return model.NodeTypeTrigger
}

func (e *TriggerExecutor) Validate(n *model.Node) error {
	return nil
}

func (e *TriggerExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	output := map[string]any{}
	if payload, ok := ec.Get("input"); ok {
		output["input"] = payload
	}
	return &Result{
		Output:      output,
		NextNodeIDs: defaultNext(n),
	}, nil
}
