package node

import (
	"context"
	"fmt"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/util"
	"go.uber.org/zap"
)

var _ Executor = new(ActionExecutor)

// ActionExecutor performs a side effect through an injected integration
// client. Config:
//
//	operation:    client operation name (required)
//	params:       operation parameters, {{path}} tokens resolved
//	compensation: optional {operation, params} reverse action
type ActionExecutor struct {
	clients *ClientRegistry
}

func NewActionExecutor(clients *ClientRegistry) *ActionExecutor {
	return &ActionExecutor{clients: clients}
}

func (e *ActionExecutor) Type() string {
	return model.NodeTypeAction
}

func (e *ActionExecutor) Validate(n *model.Node) error {
	if n.Service == "" {
		return validationError(n, "action node needs a service")
	}
	if _, ok := configString(n, "operation"); !ok {
		return validationError(n, "action node needs an operation")
	}
	if comp, ok := n.Config["compensation"]; ok {
		m, ok := comp.(map[string]any)
		if !ok {
			return validationError(n, "compensation must be a map")
		}
		if _, ok := m["operation"].(string); !ok {
			return validationError(n, "compensation needs an operation")
		}
	}
	return nil
}

func (e *ActionExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	operation, _ := configString(n, "operation")
	snapshot := ec.Snapshot()
	params, _ := configMap(n, "params")
	resolved := util.ResolveParams(params, snapshot)

	logger.Info("running action", zap.String("node", n.ID), zap.String("service", n.Service), zap.String("operation", operation))
	output, err := e.clients.Call(ctx, n.Service, operation, resolved)
	if err != nil {
		return nil, execErr(n.ID, err)
	}

	result := &Result{
		Output:      output,
		NextNodeIDs: defaultNext(n),
	}
	if comp, ok := configMap(n, "compensation"); ok {
		compOp, ok := comp["operation"].(string)
		if !ok {
			return nil, execErr(n.ID, Permanent(fmt.Errorf("compensation needs an operation")))
		}
		compParams, _ := comp["params"].(map[string]any)
		// resolve against the post-call snapshot so the reverse action can
		// reference the forward output
		snapshot[n.ID] = map[string]any{"output": output}
		result.Compensation = &model.CompensationRef{
			Service:   n.Service,
			Operation: compOp,
			Params:    util.ResolveParams(compParams, snapshot),
		}
	}
	return result, nil
}
