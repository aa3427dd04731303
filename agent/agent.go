package agent

import (
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/config"
	"github.com/conveyorhq/conveyor/container"
	"github.com/conveyorhq/conveyor/executor"
	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/node"
	"github.com/conveyorhq/conveyor/rest"
	"github.com/conveyorhq/conveyor/saga"
	"github.com/conveyorhq/conveyor/service"
)

// Agent is the composition root: one process running the REST surface,
// the execution workers and the delay/retry pollers over shared Redis.
type Agent struct {
	Config           config.Config
	container        *container.DIContainer
	sagaManager      *saga.Manager
	workflowService  *service.WorkflowService
	executionService *service.ExecutionService
	httpServer       *rest.Server
	executors        []executor.Executor
	shutdown         bool
	shutdowns        chan struct{}
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config:    conf,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupContainer,
		a.setupServices,
		a.setupExecutors,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupContainer() error {
	a.container = container.NewDiContainer()
	a.container.Init(a.Config)
	return nil
}

func (a *Agent) setupServices() error {
	a.sagaManager = saga.NewManager(
		a.container.GetOrchestrator(),
		a.container.GetMetadataStorage(),
		a.container.GetExecutionStorage(),
		a.container.GetLogStorage(),
		a.container.GetDelayQueue(),
		a.container.GetClientRegistry(),
		a.container.GetGovernor(),
		a.container.GetPublisher(),
	)
	a.workflowService = service.NewWorkflowService(
		a.container.GetMetadataStorage(),
		a.container.GetWorkflowCache(),
		a.container.GetNodeRegistry(),
	)
	a.executionService = service.NewExecutionService(
		a.sagaManager,
		a.container.GetWorkflowCache(),
		a.container.GetExecutionStorage(),
		a.container.GetLogStorage(),
		a.container.GetGovernor(),
		a.Config.WorkerCount,
		&a.wg,
	)
	a.executionService.Start()
	return nil
}

func (a *Agent) setupExecutors() error {
	interval := time.Duration(a.Config.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	a.executors = []executor.Executor{
		executor.NewDelayExecutor(a.container.GetDelayQueue(), a.executionService, interval, &a.wg),
		executor.NewRetryExecutor(a.container.GetDelayQueue(), a.executionService, interval, &a.wg),
	}
	for _, ex := range a.executors {
		if err := ex.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.workflowService, a.executionService)
	return err
}

// ClientRegistry exposes the integration-client registry so embedders
// can plug clients in before Start; action nodes route calls by
// service id.
func (a *Agent) ClientRegistry() *node.ClientRegistry {
	return a.container.GetClientRegistry()
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server stopped")
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			for _, ex := range a.executors {
				if err := ex.Stop(); err != nil {
					return err
				}
			}
			return nil
		},
		func() error {
			a.executionService.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
