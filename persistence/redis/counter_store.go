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

const counterKey = "COUNTERS"

// admitScript reads all three counters, compares them against the caps
// and increments them in one atomic step. The check and the increment
// must not be separable: two concurrent admissions racing for the last
// free slot would otherwise both pass.
var admitScript = rd.NewScript(`
local concurrent = tonumber(redis.call('GET', KEYS[1]) or '0')
local hourly = tonumber(redis.call('GET', KEYS[2]) or '0')
local daily = tonumber(redis.call('GET', KEYS[3]) or '0')
if concurrent >= tonumber(ARGV[1]) then return 'concurrent' end
if hourly >= tonumber(ARGV[2]) then return 'hourly' end
if daily >= tonumber(ARGV[3]) then return 'daily' end
redis.call('INCR', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[4]))
redis.call('INCR', KEYS[3])
redis.call('EXPIRE', KEYS[3], tonumber(ARGV[5]))
return 'ok'
`)

var releaseScript = rd.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
  redis.call('SET', KEYS[1], '0')
  v = 0
end
return v
`)

var _ persistence.CounterStore = new(redisCounterStore)

type redisCounterStore struct {
	baseDao
	now func() time.Time
}

func NewRedisCounterStore(conf Config) *redisCounterStore {
	return &redisCounterStore{
		baseDao: *newBaseDao(conf),
		now:     time.Now,
	}
}

func (s *redisCounterStore) keys(principal string) (concurrent, hourly, daily string) {
	now := s.now().UTC()
	concurrent = s.getNamespaceKey(counterKey, principal, "concurrent")
	hourly = s.getNamespaceKey(counterKey, principal, "hour", now.Format("2006010215"))
	daily = s.getNamespaceKey(counterKey, principal, "day", now.Format("20060102"))
	return
}

func (s *redisCounterStore) Admit(principal string, limits persistence.Limits) (bool, string, error) {
	concurrent, hourly, daily := s.keys(principal)
	result, err := admitScript.Run(context.Background(), s.redisClient,
		[]string{concurrent, hourly, daily},
		limits.MaxConcurrent, limits.MaxHourly, limits.MaxDaily,
		int((2 * time.Hour).Seconds()), int((48 * time.Hour).Seconds()),
	).Text()
	if err != nil {
		logger.Error("error running admission script", zap.String("principal", principal), zap.Error(err))
		return false, "", model.StorageError{Op: "admit execution", Cause: err}
	}
	if result != "ok" {
		return false, result, nil
	}
	return true, "", nil
}

func (s *redisCounterStore) Release(principal string) error {
	concurrent, _, _ := s.keys(principal)
	if err := releaseScript.Run(context.Background(), s.redisClient, []string{concurrent}).Err(); err != nil {
		logger.Error("error releasing execution slot", zap.String("principal", principal), zap.Error(err))
		return model.StorageError{Op: "release execution", Cause: err}
	}
	return nil
}

func (s *redisCounterStore) Concurrent(principal string) (int, error) {
	concurrent, _, _ := s.keys(principal)
	value, err := s.redisClient.Get(context.Background(), concurrent).Result()
	if err != nil {
		if err == rd.Nil {
			return 0, nil
		}
		return 0, model.StorageError{Op: "read concurrent counter", Cause: err}
	}
	return strconv.Atoi(value)
}
