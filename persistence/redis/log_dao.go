package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/conveyorhq/conveyor/util"
	"go.uber.org/zap"
)

const logKey = "LOGS"

var _ persistence.LogStorage = new(redisLogStorage)

// redisLogStorage keeps one list per execution, ordered by sequence.
// Appends go to the tail; the only in-place write is the terminal status
// update of an existing entry.
type redisLogStorage struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.LogEntry]
}

func NewRedisLogStorage(conf Config) *redisLogStorage {
	return &redisLogStorage{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.LogEntry](),
	}
}

func (s *redisLogStorage) Append(entry *model.LogEntry) error {
	key := s.getNamespaceKey(logKey, entry.ExecutionID)
	data, err := s.encoderDecoder.Encode(*entry)
	if err != nil {
		return err
	}
	if err := s.redisClient.RPush(context.Background(), key, string(data)).Err(); err != nil {
		logger.Error("error appending execution log", zap.String("execution", entry.ExecutionID), zap.Error(err))
		return model.StorageError{Op: "append log", Cause: err}
	}
	return nil
}

func (s *redisLogStorage) UpdateOutcome(executionID string, sequence int, status model.LogStatus, output map[string]any, errMsg string, finishedAt time.Time) error {
	entries, err := s.List(executionID)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		if entry.Sequence != sequence {
			continue
		}
		entry.Status = status
		entry.Output = output
		entry.Error = errMsg
		entry.FinishedAt = finishedAt
		data, err := s.encoderDecoder.Encode(*entry)
		if err != nil {
			return err
		}
		key := s.getNamespaceKey(logKey, executionID)
		if err := s.redisClient.LSet(context.Background(), key, int64(i), string(data)).Err(); err != nil {
			return model.StorageError{Op: "update log status", Cause: err}
		}
		return nil
	}
	return model.StorageError{Op: "update log status", Cause: fmt.Errorf("no log entry with sequence %d for execution %s", sequence, executionID)}
}

func (s *redisLogStorage) List(executionID string) ([]*model.LogEntry, error) {
	key := s.getNamespaceKey(logKey, executionID)
	values, err := s.redisClient.LRange(context.Background(), key, 0, -1).Result()
	if err != nil {
		return nil, model.StorageError{Op: "list logs", Cause: err}
	}
	entries := make([]*model.LogEntry, 0, len(values))
	for _, v := range values {
		entry, err := s.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
