package events

import (
	"context"
	"encoding/json"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the fire-and-forget outbound event capability the engine
// needs. Failures are logged, never surfaced to the execution path.
type Publisher interface {
	Publish(event model.Event)
}

// LogPublisher writes events to the process log. Default when no broker
// is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(event model.Event) {
	logger.Info("domain event",
		zap.String("type", string(event.Type)),
		zap.String("workflow", event.WorkflowID),
		zap.String("execution", event.ExecutionID),
		zap.String("node", event.NodeID))
}

// RedisPublisher pushes events onto a pub/sub channel for notification
// and analytics consumers.
type RedisPublisher struct {
	redisClient rd.UniversalClient
	channel     string
}

func NewRedisPublisher(addrs []string, namespace string) *RedisPublisher {
	return &RedisPublisher{
		redisClient: rd.NewUniversalClient(&rd.UniversalOptions{Addrs: addrs}),
		channel:     namespace + ":events",
	}
}

func (p *RedisPublisher) Publish(event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("error encoding domain event", zap.Error(err))
		return
	}
	if err := p.redisClient.Publish(context.Background(), p.channel, string(data)).Err(); err != nil {
		logger.Error("error publishing domain event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
