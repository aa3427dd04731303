package executor

import (
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/saga"
	"github.com/conveyorhq/conveyor/service"
	"github.com/conveyorhq/conveyor/util"
	"go.uber.org/zap"
)

var _ Executor = new(DelayExecutor)

// DelayExecutor drains the resume queue and continues executions whose
// delay suspension has passed.
type DelayExecutor struct {
	delayQueue persistence.DelayQueue
	executions *service.ExecutionService
	encDec     util.EncoderDecoder[saga.ResumeMessage]
	interval   time.Duration
	wg         *sync.WaitGroup
	tw         *util.TickWorker
}

func NewDelayExecutor(delayQueue persistence.DelayQueue, executions *service.ExecutionService, interval time.Duration, wg *sync.WaitGroup) *DelayExecutor {
	return &DelayExecutor{
		delayQueue: delayQueue,
		executions: executions,
		encDec:     util.NewJsonEncoderDecoder[saga.ResumeMessage](),
		interval:   interval,
		wg:         wg,
	}
}

func (ex *DelayExecutor) Name() string {
	return "delay-executor"
}

func (ex *DelayExecutor) Start() error {
	fn := func() {
		drainQueue(ex.delayQueue, saga.ResumeQueue, ex.encDec, ex.executions)
	}
	ex.tw = util.NewTickWorker(ex.Name(), ex.interval, fn, ex.wg)
	ex.tw.Start()
	return nil
}

func (ex *DelayExecutor) Stop() error {
	ex.tw.Stop()
	return nil
}

func drainQueue(dq persistence.DelayQueue, queue string, encDec util.EncoderDecoder[saga.ResumeMessage], executions *service.ExecutionService) {
	msgs, err := dq.Pop(queue)
	if err != nil {
		logger.Error("error polling delay queue", zap.String("queue", queue), zap.Error(err))
		return
	}
	for _, raw := range msgs {
		msg, err := encDec.Decode([]byte(raw))
		if err != nil {
			logger.Error("can not decode resume message", zap.String("queue", queue), zap.Error(err))
			continue
		}
		if err := executions.Resume(msg.ExecutionID); err != nil {
			logger.Error("error resuming execution",
				zap.String("queue", queue), zap.String("execution", msg.ExecutionID), zap.Error(err))
		}
	}
}
