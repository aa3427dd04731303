package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conveyorhq/conveyor/cache"
	"github.com/conveyorhq/conveyor/governor"
	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/saga"
	"github.com/conveyorhq/conveyor/util"
	"go.uber.org/zap"
)

type runTask struct {
	workflow  *model.Workflow
	execution *model.Execution
}

// ExecutionService is the trigger ingestion path: it checks the workflow
// is executable, passes the governor and hands the admitted execution to
// a worker so the caller gets the execution id without waiting for the
// run.
type ExecutionService struct {
	saga       *saga.Manager
	cache      *cache.WorkflowCache
	executions persistence.ExecutionStorage
	logs       persistence.LogStorage
	governor   *governor.Governor
	workers    []*util.Worker
	next       atomic.Uint64
}

func NewExecutionService(
	sagaManager *saga.Manager,
	workflowCache *cache.WorkflowCache,
	executions persistence.ExecutionStorage,
	logs persistence.LogStorage,
	gov *governor.Governor,
	workerCount int,
	wg *sync.WaitGroup,
) *ExecutionService {
	s := &ExecutionService{
		saga:       sagaManager,
		cache:      workflowCache,
		executions: executions,
		logs:       logs,
		governor:   gov,
	}
	if workerCount < 1 {
		workerCount = 1
	}
	s.workers = make([]*util.Worker, workerCount)
	for i := range s.workers {
		s.workers[i] = util.NewWorker(fmt.Sprintf("execution-worker-%d", i), wg, s.handleTask, 100)
	}
	return s
}

func (s *ExecutionService) Start() {
	for _, w := range s.workers {
		w.Start()
	}
}

func (s *ExecutionService) Stop() {
	for _, w := range s.workers {
		w.Stop()
	}
}

// Execute admits one trigger of the workflow and starts it in the
// background. Returns the created execution with status pending.
func (s *ExecutionService) Execute(workflowID string, triggerPayload map[string]any) (*model.Execution, error) {
	wf, err := s.cache.Get(workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Status.CanBeExecuted() {
		return nil, model.ValidationError{
			Message: fmt.Sprintf("workflow %s is %s and cannot be executed", workflowID, wf.Status),
		}
	}
	if err := s.governor.Admit(wf.Principal, wf.Priority); err != nil {
		return nil, err
	}
	execution, err := s.saga.Begin(wf, triggerPayload)
	if err != nil {
		return nil, err
	}
	s.dispatch(runTask{workflow: wf, execution: execution})
	return execution, nil
}

// Cancel flags the execution for cooperative cancellation.
func (s *ExecutionService) Cancel(executionID string) error {
	return s.saga.Cancel(context.Background(), executionID)
}

// Resume continues a parked execution; the delay poller routes due
// resume messages here.
func (s *ExecutionService) Resume(executionID string) error {
	return s.saga.Continue(context.Background(), executionID)
}

func (s *ExecutionService) GetExecution(executionID string) (*model.Execution, error) {
	return s.executions.GetExecution(executionID)
}

func (s *ExecutionService) GetLogs(executionID string) ([]*model.LogEntry, error) {
	return s.logs.List(executionID)
}

func (s *ExecutionService) dispatch(task runTask) {
	idx := s.next.Add(1) % uint64(len(s.workers))
	s.workers[idx].Sender() <- task
}

func (s *ExecutionService) handleTask(task util.Task) error {
	t, ok := task.(runTask)
	if !ok {
		return fmt.Errorf("unexpected task type %T", task)
	}
	if err := s.saga.Run(context.Background(), t.workflow, t.execution); err != nil {
		logger.Error("error running execution",
			zap.String("workflow", t.workflow.ID),
			zap.String("execution", t.execution.ID), zap.Error(err))
		return err
	}
	return nil
}
