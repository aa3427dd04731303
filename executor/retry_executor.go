package executor

import (
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/saga"
	"github.com/conveyorhq/conveyor/service"
	"github.com/conveyorhq/conveyor/util"
)

var _ Executor = new(RetryExecutor)

// RetryExecutor drains the retry queue: executions parked for a breaker
// cooldown or requeued after a denied re-admission.
type RetryExecutor struct {
	delayQueue persistence.DelayQueue
	executions *service.ExecutionService
	encDec     util.EncoderDecoder[saga.ResumeMessage]
	interval   time.Duration
	wg         *sync.WaitGroup
	tw         *util.TickWorker
}

func NewRetryExecutor(delayQueue persistence.DelayQueue, executions *service.ExecutionService, interval time.Duration, wg *sync.WaitGroup) *RetryExecutor {
	return &RetryExecutor{
		delayQueue: delayQueue,
		executions: executions,
		encDec:     util.NewJsonEncoderDecoder[saga.ResumeMessage](),
		interval:   interval,
		wg:         wg,
	}
}

func (ex *RetryExecutor) Name() string {
	return "retry-executor"
}

func (ex *RetryExecutor) Start() error {
	fn := func() {
		drainQueue(ex.delayQueue, saga.RetryQueue, ex.encDec, ex.executions)
	}
	ex.tw = util.NewTickWorker(ex.Name(), ex.interval, fn, ex.wg)
	ex.tw.Start()
	return nil
}

func (ex *RetryExecutor) Stop() error {
	ex.tw.Stop()
	return nil
}
