package redis

import (
	"context"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const executionKey = "EXECUTIONS"

var _ persistence.ExecutionStorage = new(redisExecutionStorage)

type redisExecutionStorage struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Execution]
}

func NewRedisExecutionStorage(conf Config) *redisExecutionStorage {
	return &redisExecutionStorage{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Execution](),
	}
}

func (s *redisExecutionStorage) SaveExecution(ex *model.Execution) error {
	key := s.getNamespaceKey(executionKey)
	data, err := s.encoderDecoder.Encode(*ex)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(context.Background(), key, ex.ID, string(data)).Err(); err != nil {
		logger.Error("error saving execution", zap.String("execution", ex.ID), zap.Error(err))
		return model.StorageError{Op: "save execution", Cause: err}
	}
	return nil
}

func (s *redisExecutionStorage) GetExecution(id string) (*model.Execution, error) {
	key := s.getNamespaceKey(executionKey)
	data, err := s.redisClient.HGet(context.Background(), key, id).Result()
	if err != nil {
		if err == rd.Nil {
			return nil, model.ValidationError{Message: "execution " + id + " not found"}
		}
		logger.Error("error loading execution", zap.String("execution", id), zap.Error(err))
		return nil, model.StorageError{Op: "get execution", Cause: err}
	}
	return s.encoderDecoder.Decode([]byte(data))
}
