package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ persistence.DelayQueue = new(redisDelayQueue)

// redisDelayQueue parks messages in a sorted set scored by due time.
// Pop atomically reads and removes every due entry with one pipeline.
type redisDelayQueue struct {
	baseDao
}

func NewRedisDelayQueue(conf Config) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisDelayQueue) Push(queueName string, message []byte) error {
	return rq.push(queueName, time.Now(), message)
}

func (rq *redisDelayQueue) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	return rq.push(queueName, time.Now().Add(delay), message)
}

func (rq *redisDelayQueue) push(queueName string, due time.Time, message []byte) error {
	key := rq.getNamespaceKey(queueName)
	member := rd.Z{
		Score:  float64(due.UnixMilli()),
		Member: message,
	}
	if err := rq.redisClient.ZAdd(context.Background(), key, member).Err(); err != nil {
		logger.Error("error pushing to delay queue", zap.String("queue", queueName), zap.Error(err))
		return model.StorageError{Op: "delay queue push", Cause: err}
	}
	return nil
}

func (rq *redisDelayQueue) Pop(queueName string) ([]string, error) {
	key := rq.getNamespaceKey(queueName)
	ctx := context.Background()
	currentTime := time.Now().UnixMilli()
	pipe := rq.redisClient.Pipeline()

	opt := &rd.ZRangeBy{
		Min: strconv.Itoa(0),
		Max: strconv.FormatInt(currentTime, 10),
	}
	zr := pipe.ZRangeByScore(ctx, key, opt)
	pipe.ZRemRangeByScore(ctx, key, strconv.Itoa(0), strconv.FormatInt(currentTime, 10))

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error popping from delay queue", zap.String("queue", queueName), zap.Error(err))
		return nil, model.StorageError{Op: "delay queue pop", Cause: err}
	}

	res, err := zr.Result()
	if err != nil {
		if err == rd.Nil {
			return []string{}, nil
		}
		logger.Error("error popping from delay queue", zap.String("queue", queueName), zap.Error(err))
		return nil, model.StorageError{Op: "delay queue pop", Cause: err}
	}
	return res, nil
}
