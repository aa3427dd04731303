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

const workflowKey = "WORKFLOWS"

var _ persistence.MetadataStorage = new(redisMetadataStorage)

type redisMetadataStorage struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Workflow]
}

func NewRedisMetadataStorage(conf Config) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (s *redisMetadataStorage) SaveWorkflow(wf *model.Workflow) error {
	key := s.getNamespaceKey(workflowKey)
	data, err := s.encoderDecoder.Encode(*wf)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(context.Background(), key, wf.ID, string(data)).Err(); err != nil {
		logger.Error("error saving workflow definition", zap.String("workflow", wf.ID), zap.Error(err))
		return model.StorageError{Op: "save workflow", Cause: err}
	}
	return nil
}

func (s *redisMetadataStorage) GetWorkflow(id string) (*model.Workflow, error) {
	key := s.getNamespaceKey(workflowKey)
	data, err := s.redisClient.HGet(context.Background(), key, id).Result()
	if err != nil {
		if err == rd.Nil {
			return nil, model.ValidationError{Message: "workflow " + id + " not found"}
		}
		logger.Error("error loading workflow definition", zap.String("workflow", id), zap.Error(err))
		return nil, model.StorageError{Op: "get workflow", Cause: err}
	}
	return s.encoderDecoder.Decode([]byte(data))
}

func (s *redisMetadataStorage) DeleteWorkflow(id string) error {
	key := s.getNamespaceKey(workflowKey)
	if err := s.redisClient.HDel(context.Background(), key, id).Err(); err != nil {
		return model.StorageError{Op: "delete workflow", Cause: err}
	}
	return nil
}

func (s *redisMetadataStorage) ListWorkflows() ([]*model.Workflow, error) {
	key := s.getNamespaceKey(workflowKey)
	values, err := s.redisClient.HVals(context.Background(), key).Result()
	if err != nil {
		return nil, model.StorageError{Op: "list workflows", Cause: err}
	}
	workflows := make([]*model.Workflow, 0, len(values))
	for _, v := range values {
		wf, err := s.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}
