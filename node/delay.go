package node

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/model"
)

var _ Executor = new(DelayExecutor)

// DelayExecutor never blocks the worker: it reports a suspend-until
// timestamp and the orchestrator parks the execution on the delay queue
// for resumption.
type DelayExecutor struct {
	now func() time.Time
}

func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{now: time.Now}
}

func (e *DelayExecutor) Type() string {
	return model.NodeTypeDelay
}

func (e *DelayExecutor) Validate(n *model.Node) error {
	seconds, ok := configInt(n, "delaySeconds")
	if !ok || seconds <= 0 {
		return validationError(n, "delay node needs delaySeconds > 0")
	}
	if len(defaultNext(n)) == 0 {
		return validationError(n, "delay node needs a default next connection")
	}
	return nil
}

func (e *DelayExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	seconds, _ := configInt(n, "delaySeconds")
	until := e.now().Add(time.Duration(seconds) * time.Second)
	return &Result{
		Output:       map[string]any{"delaySeconds": seconds},
		NextNodeIDs:  defaultNext(n),
		SuspendUntil: &until,
	}, nil
}
