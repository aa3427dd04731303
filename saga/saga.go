// Package saga runs one execution's node invocations as a compensable
// transaction: every successful step that declares a reverse action is
// recorded, and on unrecoverable failure the recorded compensations run
// in strictly reverse order, best effort.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/events"
	"github.com/conveyorhq/conveyor/governor"
	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/node"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResumeQueue carries executions parked by a delay node; RetryQueue
// carries executions parked for a breaker cooldown or a denied
// re-admission. Both deliver to Continue.
const (
	ResumeQueue = "resume"
	RetryQueue  = "retry"
)

// ResumeMessage is the payload parked on the delay queue; resumption
// re-hydrates everything else from storage.
type ResumeMessage struct {
	ExecutionID string `json:"executionId"`
}

var errCancelled = errors.New("cancel requested")

// parkRequest asks the driver to suspend the execution until a deadline
// and continue from the given nodes.
type parkRequest struct {
	queue   string
	until   time.Time
	pending []string
}

type Manager struct {
	orchestrator *engine.Orchestrator
	metadata     persistence.MetadataStorage
	executions   persistence.ExecutionStorage
	logs         persistence.LogStorage
	delayQueue   persistence.DelayQueue
	clients      *node.ClientRegistry
	governor     *governor.Governor
	publisher    events.Publisher
	resumeEncDec util.EncoderDecoder[ResumeMessage]
}

func NewManager(
	orchestrator *engine.Orchestrator,
	metadata persistence.MetadataStorage,
	executions persistence.ExecutionStorage,
	logs persistence.LogStorage,
	delayQueue persistence.DelayQueue,
	clients *node.ClientRegistry,
	gov *governor.Governor,
	publisher events.Publisher,
) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		metadata:     metadata,
		executions:   executions,
		logs:         logs,
		delayQueue:   delayQueue,
		clients:      clients,
		governor:     gov,
		publisher:    publisher,
		resumeEncDec: util.NewJsonEncoderDecoder[ResumeMessage](),
	}
}

// Begin creates the pending execution record for an admitted trigger.
// The caller has already passed the resource governor and owns running
// it, synchronously or on a worker.
func (m *Manager) Begin(wf *model.Workflow, triggerPayload map[string]any) (*model.Execution, error) {
	execution := &model.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     wf.ID,
		Status:         model.ExecutionPending,
		TriggerPayload: triggerPayload,
		StartedAt:      time.Now(),
	}
	if err := m.executions.SaveExecution(execution); err != nil {
		m.governor.Release(wf.Principal)
		return nil, err
	}
	return execution, nil
}

// Run drives a pending execution to a terminal status or a delay
// suspension.
func (m *Manager) Run(ctx context.Context, wf *model.Workflow, execution *model.Execution) error {
	execution.Status = model.ExecutionRunning
	if err := m.executions.SaveExecution(execution); err != nil {
		m.governor.Release(wf.Principal)
		return err
	}
	m.recordStartMetrics(wf.ID, execution.StartedAt)
	m.publish(model.EventWorkflowStarted, wf, execution, nil)
	logger.Info("execution started", zap.String("workflow", wf.ID), zap.String("execution", execution.ID))

	ec := model.NewExecutionContext()
	ec.Set("input", execution.TriggerPayload)
	run := engine.NewRun(wf, execution, ec)
	m.drive(ctx, run, m.startPending(run))
	return nil
}

// Start is Begin followed by Run on the calling goroutine.
func (m *Manager) Start(ctx context.Context, wf *model.Workflow, triggerPayload map[string]any) (*model.Execution, error) {
	execution, err := m.Begin(wf, triggerPayload)
	if err != nil {
		return nil, err
	}
	if err := m.Run(ctx, wf, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// Continue resumes a parked execution from its persisted snapshot. Called
// by the delay poller when the suspension deadline passes.
func (m *Manager) Continue(ctx context.Context, executionID string) error {
	execution, err := m.executions.GetExecution(executionID)
	if err != nil {
		return err
	}
	if execution.Status != model.ExecutionPaused {
		logger.Debug("execution not paused, nothing to resume", zap.String("execution", executionID))
		return nil
	}
	wf, err := m.metadata.GetWorkflow(execution.WorkflowID)
	if err != nil {
		return err
	}
	// the slot was released when the execution parked; re-admit before
	// running again
	if err := m.governor.Admit(wf.Principal, wf.Priority); err != nil {
		var limitErr model.ResourceLimitError
		if errors.As(err, &limitErr) {
			logger.Info("resume denied by governor, requeueing", zap.String("execution", executionID))
			return m.requeue(executionID, 30*time.Second)
		}
		return err
	}

	execution.Status = model.ExecutionRunning
	if err := m.executions.SaveExecution(execution); err != nil {
		m.governor.Release(wf.Principal)
		return err
	}
	ec := model.NewExecutionContextFrom(execution.ContextSnapshot)
	run := engine.NewResumedRun(wf, execution, ec)
	pending, err := m.resumePending(run)
	if err != nil {
		// the definition changed while parked and a pending node is gone;
		// settle the execution instead of skipping nodes
		m.finish(ctx, run, err)
		return nil
	}
	m.drive(ctx, run, pending)
	return nil
}

// Cancel requests cooperative cancellation. A running execution observes
// the flag between node steps; a parked one is compensated immediately.
func (m *Manager) Cancel(ctx context.Context, executionID string) error {
	execution, err := m.executions.GetExecution(executionID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return model.ValidationError{Message: fmt.Sprintf("execution %s already %s", executionID, execution.Status)}
	}
	execution.CancelRequested = true
	if err := m.executions.SaveExecution(execution); err != nil {
		return err
	}
	if execution.Status != model.ExecutionPaused {
		return nil
	}
	wf, err := m.metadata.GetWorkflow(execution.WorkflowID)
	if err != nil {
		return err
	}
	ec := model.NewExecutionContextFrom(execution.ContextSnapshot)
	run := engine.NewResumedRun(wf, execution, ec)
	// the slot was given back when the execution parked
	run.MarkSlotReleased()
	m.finish(ctx, run, errCancelled)
	return nil
}

func (m *Manager) startPending(run *engine.Run) []*model.Node {
	return m.orchestrator.StartNodes(run.Workflow)
}

func (m *Manager) resumePending(run *engine.Run) ([]*model.Node, error) {
	def := &run.Workflow.Definition
	pending := make([]*model.Node, 0, len(run.Execution.PendingNodeIDs))
	for _, id := range run.Execution.PendingNodeIDs {
		n, ok := def.Node(id)
		if !ok {
			return nil, model.DanglingConnectionError{NodeID: id, TargetID: id}
		}
		pending = append(pending, n)
	}
	return pending, nil
}

// drive walks the graph to a terminal status or a park. All error
// handling funnels into finish.
func (m *Manager) drive(ctx context.Context, run *engine.Run, pending []*model.Node) {
	var park *parkRequest
	var err error
	if run.Workflow.Type.SupportsParallelExecution() && len(pending) > 1 && len(run.Execution.PendingNodeIDs) == 0 {
		err = m.advanceParallel(ctx, run, pending)
	} else {
		park, err = m.advance(ctx, run, pending)
	}
	if err != nil {
		m.finish(ctx, run, err)
		return
	}
	if park != nil {
		m.park(run, park)
		return
	}
	m.finish(ctx, run, nil)
}

// advance processes nodes depth-first so one start branch completes
// before the next begins. Returns a park request when a delay or breaker
// cooldown suspends the execution.
func (m *Manager) advance(ctx context.Context, run *engine.Run, pending []*model.Node) (*parkRequest, error) {
	for len(pending) > 0 {
		if err := run.CheckDeadline(); err != nil {
			return nil, err
		}
		cancelled, err := m.cancelRequested(run.Execution.ID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			run.Execution.CancelRequested = true
			return nil, errCancelled
		}

		current := pending[0]
		pending = pending[1:]

		result, seq, park, err := m.processWithRetry(ctx, run, current)
		if err != nil {
			return nil, err
		}
		if park != nil {
			park.pending = append(park.pending, nodeIDs(pending)...)
			return park, nil
		}

		m.recordStep(run, current, seq, result)
		if err := m.checkpoint(run); err != nil {
			return nil, err
		}
		if result.SuspendUntil != nil {
			return &parkRequest{
				queue:   ResumeQueue,
				until:   *result.SuspendUntil,
				pending: append(result.NextNodeIDs, nodeIDs(pending)...),
			}, nil
		}

		next, err := m.orchestrator.NextNodes(&run.Workflow.Definition, current, result)
		if err != nil {
			return nil, err
		}
		pending = append(next, pending...)
	}
	return nil, nil
}

// advanceParallel fans out independent start branches, one goroutine per
// branch on a forked context. Branch outputs merge back in declaration
// order; the first branch error wins. Delay suspensions are not
// supported in parallel branches.
func (m *Manager) advanceParallel(ctx context.Context, run *engine.Run, starts []*model.Node) error {
	branchErrs := make([]error, len(starts))
	branchCtxs := make([]*model.ExecutionContext, len(starts))
	var wg sync.WaitGroup
	for i, start := range starts {
		wg.Add(1)
		go func(i int, start *model.Node) {
			defer wg.Done()
			branchCtx := run.Context.Child()
			branchCtxs[i] = branchCtx
			branchRun := run.ForkContext(branchCtx)
			park, err := m.advanceBranch(ctx, branchRun, start)
			if err == nil && park != nil {
				err = model.NodeExecutionError{
					NodeID:    start.ID,
					Retryable: false,
					Cause:     errors.New("delay nodes cannot suspend a parallel branch"),
				}
			}
			branchErrs[i] = err
		}(i, start)
	}
	wg.Wait()

	for i := range starts {
		if branchCtxs[i] != nil {
			run.Context.Merge(branchCtxs[i].Snapshot())
		}
	}
	if err := m.checkpoint(run); err != nil {
		return err
	}
	for _, err := range branchErrs {
		if err != nil {
			if errors.Is(err, errCancelled) {
				run.Execution.CancelRequested = true
			}
			return err
		}
	}
	return nil
}

// advanceBranch is advance inside parallel fan-out: it polls the stored
// cancel flag between steps but leaves the shared run untouched, the
// parent goroutine records the flag after joining.
func (m *Manager) advanceBranch(ctx context.Context, run *engine.Run, start *model.Node) (*parkRequest, error) {
	pending := []*model.Node{start}
	for len(pending) > 0 {
		if err := run.CheckDeadline(); err != nil {
			return nil, err
		}
		cancelled, err := m.cancelRequested(run.Execution.ID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			return nil, errCancelled
		}
		current := pending[0]
		pending = pending[1:]

		result, seq, park, err := m.processWithRetry(ctx, run, current)
		if err != nil {
			return nil, err
		}
		if park != nil || result.SuspendUntil != nil {
			return &parkRequest{}, nil
		}
		m.recordStep(run, current, seq, result)

		next, err := m.orchestrator.NextNodes(&run.Workflow.Definition, current, result)
		if err != nil {
			return nil, err
		}
		pending = append(next, pending...)
	}
	return nil, nil
}

// processWithRetry retries retryable node failures in place under the
// priority's attempt budget. An open circuit does not burn attempts: the
// execution parks until the breaker's cooldown instead.
func (m *Manager) processWithRetry(ctx context.Context, run *engine.Run, n *model.Node) (*node.Result, int, *parkRequest, error) {
	attempts := run.Workflow.Priority.RetryAttempts()
	for attempt := 1; ; attempt++ {
		result, seq, err := m.orchestrator.ProcessNode(ctx, run, n)
		if err == nil {
			return result, seq, nil, nil
		}
		var open model.CircuitOpenError
		if errors.As(err, &open) {
			logger.Info("circuit open, parking execution until cooldown",
				zap.String("execution", run.Execution.ID), zap.String("service", open.Service))
			return nil, 0, &parkRequest{queue: RetryQueue, until: open.RetryAt, pending: []string{n.ID}}, nil
		}
		var nodeErr model.NodeExecutionError
		if errors.As(err, &nodeErr) && nodeErr.Retryable && attempt < attempts {
			logger.Info("retrying node",
				zap.String("execution", run.Execution.ID), zap.String("node", n.ID),
				zap.Int("attempt", attempt), zap.Int("budget", attempts))
			continue
		}
		return nil, 0, nil, err
	}
}

func (m *Manager) recordStep(run *engine.Run, n *model.Node, seq int, result *node.Result) {
	run.AppendStep(model.SagaStep{
		Sequence:     seq,
		NodeID:       n.ID,
		Output:       result.Output,
		Compensation: result.Compensation,
	})
}

// checkpoint persists the context snapshot and step list so the
// execution survives a process restart at any node boundary.
func (m *Manager) checkpoint(run *engine.Run) error {
	run.Execution.ContextSnapshot = run.Context.Snapshot()
	return m.executions.SaveExecution(run.Execution)
}

// cancelRequested reloads the stored cancel flag. It never mutates the
// run, so parallel branches can poll it concurrently.
func (m *Manager) cancelRequested(executionID string) (bool, error) {
	stored, err := m.executions.GetExecution(executionID)
	if err != nil {
		return false, err
	}
	return stored.CancelRequested, nil
}

func (m *Manager) park(run *engine.Run, park *parkRequest) {
	run.Execution.Status = model.ExecutionPaused
	run.Execution.PendingNodeIDs = park.pending
	run.Execution.ContextSnapshot = run.Context.Snapshot()
	if err := m.executions.SaveExecution(run.Execution); err != nil {
		logger.Error("error parking execution", zap.String("execution", run.Execution.ID), zap.Error(err))
		m.finish(context.Background(), run, err)
		return
	}
	msg, err := m.resumeEncDec.Encode(ResumeMessage{ExecutionID: run.Execution.ID})
	if err != nil {
		m.finish(context.Background(), run, err)
		return
	}
	delay := time.Until(park.until)
	if delay < 0 {
		delay = 0
	}
	if err := m.delayQueue.PushWithDelay(park.queue, delay, msg); err != nil {
		m.finish(context.Background(), run, err)
		return
	}
	// parked executions do not hold a concurrency slot
	m.governor.Release(run.Workflow.Principal)
	run.MarkSlotReleased()
	logger.Info("execution parked", zap.String("execution", run.Execution.ID), zap.Time("until", park.until))
}

func (m *Manager) requeue(executionID string, delay time.Duration) error {
	msg, err := m.resumeEncDec.Encode(ResumeMessage{ExecutionID: executionID})
	if err != nil {
		return err
	}
	return m.delayQueue.PushWithDelay(RetryQueue, delay, msg)
}

// finish settles the execution: compensation for failures and cancels,
// terminal status, metrics, slot release and the outbound event.
func (m *Manager) finish(ctx context.Context, run *engine.Run, cause error) {
	execution := run.Execution
	execution.FinishedAt = time.Now()
	var eventType model.EventType
	switch {
	case cause == nil:
		execution.Status = model.ExecutionCompleted
		eventType = model.EventWorkflowCompleted
	case errors.Is(cause, errCancelled):
		m.compensate(ctx, run)
		execution.Status = model.ExecutionCancelled
		execution.Error = "cancelled"
		eventType = model.EventWorkflowCancelled
	default:
		m.compensate(ctx, run)
		execution.Status = model.ExecutionFailed
		execution.Error = cause.Error()
		eventType = model.EventWorkflowFailed
	}
	execution.ContextSnapshot = run.Context.Snapshot()
	if err := m.executions.SaveExecution(execution); err != nil {
		logger.Error("error saving terminal execution", zap.String("execution", execution.ID), zap.Error(err))
	}
	if run.HoldsSlot() {
		m.governor.Release(run.Workflow.Principal)
		run.MarkSlotReleased()
	}
	m.settleMetrics(run, cause == nil)
	var data map[string]any
	if execution.Error != "" {
		data = map[string]any{"error": execution.Error}
	}
	m.publish(eventType, run.Workflow, execution, data)
	logger.Info("execution finished",
		zap.String("workflow", run.Workflow.ID),
		zap.String("execution", execution.ID),
		zap.String("status", string(execution.Status)))
}

// compensate rolls back recorded steps in strictly reverse order. Only
// steps that declared a compensation are invoked; the rest are skipped
// but stay in the step list for audit. A compensation failure is logged
// and the rollback continues: it must never keep the execution from
// reaching a terminal status.
func (m *Manager) compensate(ctx context.Context, run *engine.Run) {
	steps := run.Execution.Steps
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Compensation == nil {
			continue
		}
		ref := step.Compensation
		_, err := m.clients.Call(ctx, ref.Service, ref.Operation, ref.Params)
		status := model.LogCompensated
		errMsg := ""
		if err != nil {
			status = model.LogFailed
			errMsg = fmt.Sprintf("compensation failed: %v", err)
			logger.Error("compensation failed, continuing rollback",
				zap.String("execution", run.Execution.ID), zap.String("node", step.NodeID), zap.Error(err))
		}
		entry := &model.LogEntry{
			ExecutionID: run.Execution.ID,
			NodeID:      step.NodeID,
			Sequence:    run.NextSeq(),
			Status:      status,
			Input:       ref.Params,
			Error:       errMsg,
			CreatedAt:   time.Now(),
			FinishedAt:  time.Now(),
		}
		if appendErr := m.logs.Append(entry); appendErr != nil {
			logger.Error("error appending compensation log", zap.String("execution", run.Execution.ID), zap.Error(appendErr))
		}
	}
}

func (m *Manager) recordStartMetrics(workflowID string, at time.Time) {
	wf, err := m.metadata.GetWorkflow(workflowID)
	if err != nil {
		logger.Error("error loading workflow for metrics", zap.String("workflow", workflowID), zap.Error(err))
		return
	}
	wf.Metrics.RecordStart(at)
	if err := m.metadata.SaveWorkflow(wf); err != nil {
		logger.Error("error saving workflow metrics", zap.String("workflow", wf.ID), zap.Error(err))
	}
}

func (m *Manager) settleMetrics(run *engine.Run, success bool) {
	wf, err := m.metadata.GetWorkflow(run.Workflow.ID)
	if err != nil {
		logger.Error("error loading workflow for metrics", zap.String("workflow", run.Workflow.ID), zap.Error(err))
		return
	}
	duration := run.Execution.FinishedAt.Sub(run.Execution.StartedAt)
	if success {
		err = wf.Metrics.RecordSuccess(duration)
	} else {
		err = wf.Metrics.RecordFailure(duration)
	}
	if err != nil {
		logger.Error("error settling workflow metrics", zap.String("workflow", wf.ID), zap.Error(err))
		return
	}
	if err := m.metadata.SaveWorkflow(wf); err != nil {
		logger.Error("error saving workflow metrics", zap.String("workflow", wf.ID), zap.Error(err))
	}
}

func (m *Manager) publish(eventType model.EventType, wf *model.Workflow, execution *model.Execution, data map[string]any) {
	m.publisher.Publish(model.Event{
		Type:        eventType,
		WorkflowID:  wf.ID,
		ExecutionID: execution.ID,
		Data:        data,
		At:          time.Now(),
	})
}

func nodeIDs(nodes []*model.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
