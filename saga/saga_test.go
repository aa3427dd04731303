package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/breaker"
	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/governor"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/node"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/util"
	"github.com/stretchr/testify/require"
)

// ---- in-memory storage fakes ----

type memMetadata struct {
	mu        sync.Mutex
	workflows map[string]model.Workflow
}

func newMemMetadata() *memMetadata {
	return &memMetadata{workflows: map[string]model.Workflow{}}
}

func (m *memMetadata) SaveWorkflow(wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = *wf
	return nil
}

func (m *memMetadata) GetWorkflow(id string) (*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, model.ValidationError{Message: "workflow " + id + " not found"}
	}
	return &wf, nil
}

func (m *memMetadata) DeleteWorkflow(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

func (m *memMetadata) ListWorkflows() ([]*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Workflow, 0, len(m.workflows))
	for id := range m.workflows {
		wf := m.workflows[id]
		out = append(out, &wf)
	}
	return out, nil
}

// memExecutions round-trips through JSON so stored state is as detached
// from the live run as the Redis dao's.
type memExecutions struct {
	mu     sync.Mutex
	stored map[string][]byte
	encDec util.EncoderDecoder[model.Execution]
}

func newMemExecutions() *memExecutions {
	return &memExecutions{
		stored: map[string][]byte{},
		encDec: util.NewJsonEncoderDecoder[model.Execution](),
	}
}

func (m *memExecutions) SaveExecution(ex *model.Execution) error {
	data, err := m.encDec.Encode(*ex)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[ex.ID] = data
	return nil
}

func (m *memExecutions) GetExecution(id string) (*model.Execution, error) {
	m.mu.Lock()
	data, ok := m.stored[id]
	m.mu.Unlock()
	if !ok {
		return nil, model.ValidationError{Message: "execution " + id + " not found"}
	}
	return m.encDec.Decode(data)
}

type memLogs struct {
	mu      sync.Mutex
	entries []*model.LogEntry
}

func (m *memLogs) Append(entry *model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.entries = append(m.entries, &copied)
	return nil
}

func (m *memLogs) UpdateOutcome(executionID string, sequence int, status model.LogStatus, output map[string]any, errMsg string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ExecutionID == executionID && e.Sequence == sequence {
			e.Status = status
			e.Output = output
			e.Error = errMsg
			e.FinishedAt = finishedAt
			return nil
		}
	}
	return errors.New("no such log entry")
}

func (m *memLogs) List(executionID string) ([]*model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LogEntry
	for _, e := range m.entries {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type queuedMessage struct {
	queue   string
	delay   time.Duration
	message string
}

type memQueue struct {
	mu     sync.Mutex
	pushed []queuedMessage
}

func (m *memQueue) Push(queue string, message []byte) error {
	return m.PushWithDelay(queue, 0, message)
}

func (m *memQueue) PushWithDelay(queue string, delay time.Duration, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, queuedMessage{queue: queue, delay: delay, message: string(message)})
	return nil
}

func (m *memQueue) Pop(queue string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	var rest []queuedMessage
	for _, qm := range m.pushed {
		if qm.queue == queue {
			out = append(out, qm.message)
		} else {
			rest = append(rest, qm)
		}
	}
	m.pushed = rest
	return out, nil
}

type memCounters struct {
	mu         sync.Mutex
	concurrent map[string]int
}

func (m *memCounters) Admit(principal string, limits persistence.Limits) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.concurrent == nil {
		m.concurrent = map[string]int{}
	}
	if m.concurrent[principal] >= limits.MaxConcurrent {
		return false, "concurrent", nil
	}
	m.concurrent[principal]++
	return true, "", nil
}

func (m *memCounters) Release(principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.concurrent[principal] > 0 {
		m.concurrent[principal]--
	}
	return nil
}

func (m *memCounters) Concurrent(principal string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.concurrent[principal], nil
}

// scriptedClient pops one scripted response per call to an operation and
// records the call order across forward and compensation calls. An
// optional onCall hook observes every forward call.
type scriptedClient struct {
	mu        sync.Mutex
	responses map[string][]error
	calls     []string
	onCall    func(operation string)
}

func (c *scriptedClient) Call(ctx context.Context, operation string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	c.calls = append(c.calls, operation)
	var err error
	if queue := c.responses[operation]; len(queue) > 0 {
		err = queue[0]
		c.responses[operation] = queue[1:]
	}
	hook := c.onCall
	c.mu.Unlock()
	if hook != nil {
		hook(operation)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "operation": operation}, nil
}

func (c *scriptedClient) script(operation string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responses == nil {
		c.responses = map[string][]error{}
	}
	c.responses[operation] = errs
}

func (c *scriptedClient) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *capturePublisher) Publish(event model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) ofType(t model.EventType) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ---- harness ----

type harness struct {
	metadata   *memMetadata
	executions *memExecutions
	logs       *memLogs
	queue      *memQueue
	counters   *memCounters
	client     *scriptedClient
	publisher  *capturePublisher
	governor   *governor.Governor
	manager    *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		metadata:   newMemMetadata(),
		executions: newMemExecutions(),
		logs:       &memLogs{},
		queue:      &memQueue{},
		counters:   &memCounters{},
		client:     &scriptedClient{},
		publisher:  &capturePublisher{},
	}
	clients := node.NewClientRegistry()
	clients.Register("crm", h.client)

	registry := node.NewRegistry()
	registry.Register(node.NewTriggerExecutor())
	registry.Register(node.NewActionExecutor(clients))
	registry.Register(node.NewDelayExecutor())

	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	orchestrator := engine.NewOrchestrator(registry, breakers, h.logs, h.publisher)

	h.governor = governor.New(h.counters, governor.StaticLimitsProvider{Limits: persistence.Limits{
		MaxConcurrent: 10, MaxHourly: 1000, MaxDaily: 10000,
	}})

	h.manager = NewManager(orchestrator, h.metadata, h.executions, h.logs, h.queue, clients, h.governor, h.publisher)
	return h
}

func (h *harness) saveWorkflow(t *testing.T, wf *model.Workflow) {
	t.Helper()
	require.NoError(t, h.metadata.SaveWorkflow(wf))
}

func actionStep(id, operation string, compensation string) model.Node {
	config := map[string]any{"operation": operation}
	if compensation != "" {
		config["compensation"] = map[string]any{"operation": compensation}
	}
	return model.Node{
		ID:      id,
		Type:    model.NodeTypeAction,
		Service: "crm",
		Config:  config,
	}
}

// chainWorkflow links the given nodes head to tail behind a trigger.
func chainWorkflow(nodes ...model.Node) *model.Workflow {
	all := append([]model.Node{{ID: "start", Type: model.NodeTypeTrigger}}, nodes...)
	for i := range all[:len(all)-1] {
		all[i].Connections = []model.Connection{{Label: model.BranchDefault, TargetID: all[i+1].ID}}
	}
	return &model.Workflow{
		ID:         "wf-1",
		Name:       "test workflow",
		Principal:  "tenant-1",
		Status:     model.StatusActive,
		Priority:   model.PriorityMedium,
		Type:       model.TypeStandard,
		Definition: model.Definition{Nodes: all},
	}
}

// ---- scenarios ----

func TestSagaHappyPath(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a", "createDeal", "deleteDeal"),
		actionStep("b", "sendMail", ""),
	)
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Start(context.Background(), wf, map[string]any{"leadId": "l-1"})
	require.NoError(t, err)

	stored, err := h.executions.GetExecution(execution.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionCompleted, stored.Status)
	require.Len(t, stored.Steps, 3)
	require.Equal(t, []string{"createDeal", "sendMail"}, h.client.recorded())

	// slot returned, metrics settled
	n, _ := h.counters.Concurrent("tenant-1")
	require.Equal(t, 0, n)
	saved, _ := h.metadata.GetWorkflow("wf-1")
	require.Equal(t, int64(1), saved.Metrics.Succeeded)
	require.Equal(t, int64(0), saved.Metrics.Pending)

	require.Len(t, h.publisher.ofType(model.EventWorkflowStarted), 1)
	require.Len(t, h.publisher.ofType(model.EventWorkflowCompleted), 1)
	require.Len(t, h.publisher.ofType(model.EventNodeProcessed), 3)
}

func TestSagaCompensatesOnFailure(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a", "createDeal", "deleteDeal"),
		actionStep("b", "chargeCard", ""),
	)
	h.saveWorkflow(t, wf)
	h.client.script("chargeCard",
		node.Permanent(errors.New("card declined")),
	)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionFailed, stored.Status)
	require.Contains(t, stored.Error, "card declined")

	// forward calls then exactly one compensation
	require.Equal(t, []string{"createDeal", "chargeCard", "deleteDeal"}, h.client.recorded())

	entries, _ := h.logs.List(execution.ID)
	require.Len(t, entries, 4) // start, a, b, compensation of a
	require.Equal(t, model.LogSucceeded, entries[0].Status)
	require.Equal(t, model.LogSucceeded, entries[1].Status)
	require.Equal(t, model.LogFailed, entries[2].Status)
	require.Equal(t, model.LogCompensated, entries[3].Status)

	saved, _ := h.metadata.GetWorkflow("wf-1")
	require.Equal(t, int64(1), saved.Metrics.Failed)
	require.Len(t, h.publisher.ofType(model.EventWorkflowFailed), 1)
}

func TestSagaCompensationIsReverseOrder(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a1", "op1", "undo1"),
		actionStep("a2", "op2", ""), // no compensation, skipped in rollback
		actionStep("a3", "op3", "undo3"),
		actionStep("a4", "op4", "undo4"),
	)
	h.saveWorkflow(t, wf)
	h.client.script("op4", node.Permanent(errors.New("boom")))

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionFailed, stored.Status)
	require.Equal(t, []string{"op1", "op2", "op3", "op4", "undo3", "undo1"}, h.client.recorded())
}

func TestSagaCompensationFailureContinuesRollback(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a1", "op1", "undo1"),
		actionStep("a2", "op2", "undo2"),
		actionStep("a3", "op3", ""),
	)
	h.saveWorkflow(t, wf)
	h.client.script("op3", node.Permanent(errors.New("boom")))
	h.client.script("undo2", errors.New("undo2 broken"))

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionFailed, stored.Status)
	// undo2 fails but undo1 still runs
	require.Equal(t, []string{"op1", "op2", "op3", "undo2", "undo1"}, h.client.recorded())

	entries, _ := h.logs.List(execution.ID)
	last := entries[len(entries)-1]
	secondLast := entries[len(entries)-2]
	require.Equal(t, model.LogFailed, secondLast.Status)
	require.Contains(t, secondLast.Error, "undo2 broken")
	require.Equal(t, model.LogCompensated, last.Status)
}

func TestSagaRetriesRetryableFailures(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(actionStep("a", "createDeal", ""))
	wf.Priority = model.PriorityHigh // 3 attempts
	h.saveWorkflow(t, wf)
	h.client.script("createDeal",
		errors.New("timeout"),
		errors.New("timeout"),
		nil,
	)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionCompleted, stored.Status)
	require.Equal(t, []string{"createDeal", "createDeal", "createDeal"}, h.client.recorded())
}

func TestSagaRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(actionStep("a", "createDeal", ""))
	wf.Priority = model.PriorityLow // 1 attempt
	h.saveWorkflow(t, wf)
	h.client.script("createDeal", errors.New("timeout"), nil)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionFailed, stored.Status)
	require.Equal(t, []string{"createDeal"}, h.client.recorded())
}

func TestSagaDelayParksAndContinues(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a", "createDeal", "deleteDeal"),
		model.Node{ID: "wait", Type: model.NodeTypeDelay, Config: map[string]any{"delaySeconds": 60}},
		actionStep("b", "sendMail", ""),
	)
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionPaused, stored.Status)
	require.Equal(t, []string{"b"}, stored.PendingNodeIDs)
	require.Equal(t, []string{"createDeal"}, h.client.recorded())

	// slot released while parked, resume message on the resume queue
	n, _ := h.counters.Concurrent("tenant-1")
	require.Equal(t, 0, n)
	msgs, _ := h.queue.Pop(ResumeQueue)
	require.Len(t, msgs, 1)

	require.NoError(t, h.manager.Continue(context.Background(), execution.ID))

	stored, _ = h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionCompleted, stored.Status)
	require.Equal(t, []string{"createDeal", "sendMail"}, h.client.recorded())

	// steps from before the park survive re-hydration
	require.Equal(t, "start", stored.Steps[0].NodeID)
	require.Equal(t, "a", stored.Steps[1].NodeID)
}

func TestSagaCancelPausedCompensates(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a", "createDeal", "deleteDeal"),
		model.Node{ID: "wait", Type: model.NodeTypeDelay, Config: map[string]any{"delaySeconds": 3600}},
		actionStep("b", "sendMail", ""),
	)
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	require.NoError(t, h.manager.Cancel(context.Background(), execution.ID))

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionCancelled, stored.Status)
	require.Equal(t, []string{"createDeal", "deleteDeal"}, h.client.recorded())
	require.Len(t, h.publisher.ofType(model.EventWorkflowCancelled), 1)
}

func TestSagaCancelTerminalExecutionFails(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(actionStep("a", "createDeal", ""))
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	err = h.manager.Cancel(context.Background(), execution.ID)
	require.Error(t, err)
	require.IsType(t, model.ValidationError{}, err)
}

func TestSagaCancelPausedReleasesSlotOnce(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a", "createDeal", "deleteDeal"),
		model.Node{ID: "wait", Type: model.NodeTypeDelay, Config: map[string]any{"delaySeconds": 3600}},
		actionStep("b", "sendMail", ""),
	)
	h.saveWorkflow(t, wf)

	// two other executions of the same principal hold slots throughout
	require.NoError(t, h.governor.Admit("tenant-1", model.PriorityMedium))
	require.NoError(t, h.governor.Admit("tenant-1", model.PriorityMedium))
	require.NoError(t, h.governor.Admit("tenant-1", model.PriorityMedium))

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	// parking gave this execution's slot back, the other two remain
	n, _ := h.counters.Concurrent("tenant-1")
	require.Equal(t, 2, n)

	require.NoError(t, h.manager.Cancel(context.Background(), execution.ID))

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionCancelled, stored.Status)
	n, _ = h.counters.Concurrent("tenant-1")
	require.Equal(t, 2, n)
}

func TestSagaParallelBranchesObserveCancel(t *testing.T) {
	h := newHarness(t)
	wf := &model.Workflow{
		ID:        "wf-1",
		Name:      "nightly sync",
		Principal: "tenant-1",
		Status:    model.StatusActive,
		Priority:  model.PriorityMedium,
		Type:      model.TypeScheduled,
		Definition: model.Definition{Nodes: []model.Node{
			func() model.Node {
				n := actionStep("a1", "op1", "undo1")
				n.Connections = []model.Connection{{Label: model.BranchDefault, TargetID: "a2"}}
				return n
			}(),
			actionStep("a2", "op2", ""),
			func() model.Node {
				n := actionStep("c1", "op3", "")
				n.Connections = []model.Connection{{Label: model.BranchDefault, TargetID: "c2"}}
				return n
			}(),
			actionStep("c2", "op4", ""),
		}},
	}
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Begin(wf, nil)
	require.NoError(t, err)

	// the first forward call flips the stored cancel flag, as an operator
	// cancelling while branches run would
	h.client.onCall = func(string) {
		stored, err := h.executions.GetExecution(execution.ID)
		if err != nil || stored.CancelRequested {
			return
		}
		stored.CancelRequested = true
		_ = h.executions.SaveExecution(stored)
	}

	require.NoError(t, h.manager.Run(context.Background(), wf, execution))

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionCancelled, stored.Status)
	calls := h.client.recorded()
	require.NotContains(t, calls, "op2")
	require.NotContains(t, calls, "op4")
	require.Len(t, h.publisher.ofType(model.EventWorkflowCancelled), 1)
}

func TestSagaResumeFailsWhenPendingNodeRemoved(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(
		actionStep("a", "createDeal", "deleteDeal"),
		model.Node{ID: "wait", Type: model.NodeTypeDelay, Config: map[string]any{"delaySeconds": 60}},
		actionStep("b", "sendMail", ""),
	)
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, []string{"b"}, stored.PendingNodeIDs)

	// the definition lost node b while the execution was parked
	h.saveWorkflow(t, chainWorkflow(actionStep("a", "createDeal", "deleteDeal")))

	require.NoError(t, h.manager.Continue(context.Background(), execution.ID))

	stored, _ = h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionFailed, stored.Status)
	require.Contains(t, stored.Error, "unknown node b")

	// recorded steps still compensate, the resume slot is returned
	require.Equal(t, []string{"createDeal", "deleteDeal"}, h.client.recorded())
	n, _ := h.counters.Concurrent("tenant-1")
	require.Equal(t, 0, n)
}

func TestSagaUnknownNodeTypeFails(t *testing.T) {
	h := newHarness(t)
	wf := chainWorkflow(model.Node{ID: "x", Type: "mystery"})
	h.saveWorkflow(t, wf)

	execution, err := h.manager.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	stored, _ := h.executions.GetExecution(execution.ID)
	require.Equal(t, model.ExecutionFailed, stored.Status)
	require.Contains(t, stored.Error, "mystery")
}
