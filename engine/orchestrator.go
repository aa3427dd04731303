// Package engine holds the orchestrator: it resolves start nodes, walks
// the graph one node at a time, guards external calls with the circuit
// breaker and records a log entry for every attempt and outcome. The
// saga manager drives it and owns terminal statuses.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyorhq/conveyor/breaker"
	"github.com/conveyorhq/conveyor/events"
	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/node"
	"github.com/conveyorhq/conveyor/persistence"
	"go.uber.org/zap"
)

type Orchestrator struct {
	registry  *node.Registry
	breakers  *breaker.Registry
	logs      persistence.LogStorage
	publisher events.Publisher
}

func NewOrchestrator(registry *node.Registry, breakers *breaker.Registry, logs persistence.LogStorage, publisher events.Publisher) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		breakers:  breakers,
		logs:      logs,
		publisher: publisher,
	}
	return o
}

// BindLoopExecutor wires a loop executor's sub-chain entry point to this
// orchestrator. The per-run state travels in the context so one bound
// executor serves every concurrent execution.
func (o *Orchestrator) BindLoopExecutor(loop *node.LoopExecutor) {
	loop.BindChainRunner(o.runSubChain)
}

// StartNodes resolves the entry points of a workflow in declaration
// order.
func (o *Orchestrator) StartNodes(wf *model.Workflow) []*model.Node {
	return wf.Definition.StartNodes()
}

// NextNodes resolves the connection targets an executor selected.
// A missing target should have been caught by validation; it is checked
// again here and surfaces as DanglingConnectionError.
func (o *Orchestrator) NextNodes(def *model.Definition, n *model.Node, result *node.Result) ([]*model.Node, error) {
	nodes := make([]*model.Node, 0, len(result.NextNodeIDs))
	for _, id := range result.NextNodeIDs {
		next, ok := def.Node(id)
		if !ok {
			return nil, model.DanglingConnectionError{NodeID: n.ID, TargetID: id}
		}
		nodes = append(nodes, next)
	}
	return nodes, nil
}

// ProcessNode runs one node: registry lookup, breaker-guarded execution
// for external calls, log entries for the attempt and its outcome, and
// the output merged into the run context. Returns the executor result
// and the log sequence used.
func (o *Orchestrator) ProcessNode(ctx context.Context, run *Run, n *model.Node) (*node.Result, int, error) {
	seq := run.NextSeq()
	executor, err := o.registry.Resolve(n)
	if err != nil {
		o.appendOutcome(run, n, seq, nil, err)
		return nil, seq, err
	}

	o.appendAttempt(run, n, seq)

	var result *node.Result
	execute := func() error {
		var execErr error
		result, execErr = executor.Execute(withRun(ctx, run), n, run.Context)
		return execErr
	}
	if n.Service != "" {
		err = o.breakers.Get(n.Service).Execute(execute)
	} else {
		err = execute()
	}

	if err == nil && result != nil {
		run.Context.Set(n.ID, map[string]any{"output": result.Output})
	}
	o.finishEntry(run, n, seq, result, err)
	o.publishNodeProcessed(run, n, err)
	return result, seq, err
}

// runSubChain walks a child chain for a loop iteration: strictly
// sequential, same log stream as the parent run, output of the last node
// returned as the iteration output. Suspensions are not allowed inside
// an iteration.
func (o *Orchestrator) runSubChain(ctx context.Context, startNodeID string, ec *model.ExecutionContext) (map[string]any, error) {
	run, ok := runFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("sub-chain invoked outside an execution run")
	}
	def := &run.Workflow.Definition
	current, found := def.Node(startNodeID)
	if !found {
		return nil, model.DanglingConnectionError{NodeID: startNodeID, TargetID: startNodeID}
	}

	childRun := run.ForkContext(ec)
	var lastOutput map[string]any
	for current != nil {
		if err := run.CheckDeadline(); err != nil {
			return nil, err
		}
		result, _, err := o.ProcessNode(ctx, childRun, current)
		if err != nil {
			return nil, err
		}
		if result.SuspendUntil != nil {
			return nil, model.NodeExecutionError{
				NodeID:    current.ID,
				Retryable: false,
				Cause:     fmt.Errorf("delay nodes cannot suspend inside a loop iteration"),
			}
		}
		lastOutput = result.Output
		next, err := o.NextNodes(def, current, result)
		if err != nil {
			return nil, err
		}
		if len(next) == 0 {
			break
		}
		current = next[0]
	}
	return lastOutput, nil
}

func (o *Orchestrator) appendAttempt(run *Run, n *model.Node, seq int) {
	entry := &model.LogEntry{
		ExecutionID: run.Execution.ID,
		NodeID:      n.ID,
		Sequence:    seq,
		Status:      model.LogRunning,
		Input:       n.Config,
		CreatedAt:   time.Now(),
	}
	if err := o.logs.Append(entry); err != nil {
		logger.Error("error appending node attempt log", zap.String("execution", run.Execution.ID), zap.Error(err))
	}
}

// appendOutcome writes a single failed entry for nodes that never got an
// attempt entry (unknown type).
func (o *Orchestrator) appendOutcome(run *Run, n *model.Node, seq int, result *node.Result, err error) {
	entry := &model.LogEntry{
		ExecutionID: run.Execution.ID,
		NodeID:      n.ID,
		Sequence:    seq,
		Status:      model.LogFailed,
		Input:       n.Config,
		Error:       err.Error(),
		CreatedAt:   time.Now(),
		FinishedAt:  time.Now(),
	}
	if appendErr := o.logs.Append(entry); appendErr != nil {
		logger.Error("error appending node outcome log", zap.String("execution", run.Execution.ID), zap.Error(appendErr))
	}
}

func (o *Orchestrator) finishEntry(run *Run, n *model.Node, seq int, result *node.Result, err error) {
	status := model.LogSucceeded
	errMsg := ""
	var output map[string]any
	if err != nil {
		status = model.LogFailed
		errMsg = err.Error()
	} else if result != nil {
		output = result.Output
	}
	if updateErr := o.logs.UpdateOutcome(run.Execution.ID, seq, status, output, errMsg, time.Now()); updateErr != nil {
		logger.Error("error updating node log outcome", zap.String("execution", run.Execution.ID), zap.Error(updateErr))
	}
}

func (o *Orchestrator) publishNodeProcessed(run *Run, n *model.Node, err error) {
	data := map[string]any{"nodeType": n.Type}
	if err != nil {
		data["error"] = err.Error()
	}
	o.publisher.Publish(model.Event{
		Type:        model.EventNodeProcessed,
		WorkflowID:  run.Workflow.ID,
		ExecutionID: run.Execution.ID,
		NodeID:      n.ID,
		Data:        data,
		At:          time.Now(),
	})
}
