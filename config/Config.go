package config

type PublisherType string

const PUBLISHER_TYPE_REDIS PublisherType = "redis"
const PUBLISHER_TYPE_LOG PublisherType = "log"

type Config struct {
	RedisConfig         RedisStorageConfig
	HttpPort            int
	PublisherType       PublisherType
	WorkerCount         int
	PollIntervalSeconds int
	BreakerConfig       BreakerConfig
	LimitsConfig        LimitsConfig
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}

type BreakerConfig struct {
	FailureThreshold       int
	RecoveryTimeoutSeconds int
}

// LimitsConfig is the static per-principal quota used when no external
// limits provider is plugged in.
type LimitsConfig struct {
	MaxConcurrent int
	MaxHourly     int
	MaxDaily      int
}
