package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var _ Executor = new(ScriptExecutor)

// ScriptExecutor evaluates a javascript program against the context. The
// snapshot is bound to $; whatever the script leaves in $ becomes the
// node output. Scripts run on a fresh vm per invocation so executions
// cannot leak state into each other.
type ScriptExecutor struct{}

func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

func (e *ScriptExecutor) Type() string {
	return model.NodeTypeScript
}

func (e *ScriptExecutor) Validate(n *model.Node) error {
	script, ok := configString(n, "script")
	if !ok || script == "" {
		return validationError(n, "script node needs a script")
	}
	return nil
}

func (e *ScriptExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	script, _ := configString(n, "script")
	logger.Debug("running script node", zap.String("node", n.ID))

	vm := goja.New()
	data, err := json.Marshal(ec.Snapshot())
	if err != nil {
		return nil, execErr(n.ID, Permanent(err))
	}
	var bound map[string]any
	if err := json.Unmarshal(data, &bound); err != nil {
		return nil, execErr(n.ID, Permanent(err))
	}
	if err := vm.Set("$", bound); err != nil {
		return nil, execErr(n.ID, Permanent(err))
	}
	if _, err := vm.RunString(script); err != nil {
		return nil, execErr(n.ID, Permanent(fmt.Errorf("script failed: %w", err)))
	}

	var output map[string]any
	if err := vm.ExportTo(vm.Get("$"), &output); err != nil {
		return nil, execErr(n.ID, Permanent(fmt.Errorf("script produced unusable $: %w", err)))
	}
	return &Result{
		Output:      output,
		NextNodeIDs: defaultNext(n),
	}, nil
}
