package container

import (
	"time"

	"github.com/conveyorhq/conveyor/breaker"
	"github.com/conveyorhq/conveyor/cache"
	"github.com/conveyorhq/conveyor/config"
	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/events"
	"github.com/conveyorhq/conveyor/governor"
	"github.com/conveyorhq/conveyor/node"
	"github.com/conveyorhq/conveyor/persistence"
	rd "github.com/conveyorhq/conveyor/persistence/redis"
)

// DIContainer wires the storage, execution and node layers once at
// startup; everything downstream takes its collaborators from here.
type DIContainer struct {
	initialized      bool
	metadataStorage  persistence.MetadataStorage
	executionStorage persistence.ExecutionStorage
	logStorage       persistence.LogStorage
	counterStore     persistence.CounterStore
	delayQueue       persistence.DelayQueue
	workflowCache    *cache.WorkflowCache
	publisher        events.Publisher
	breakers         *breaker.Registry
	governor         *governor.Governor
	nodeRegistry     *node.Registry
	clientRegistry   *node.ClientRegistry
	orchestrator     *engine.Orchestrator
}

func NewDiContainer() *DIContainer {
	return &DIContainer{initialized: false}
}

func (d *DIContainer) setInitialized() {
	d.initialized = true
}

func (d *DIContainer) Init(conf config.Config) {
	defer d.setInitialized()

	rdConf := rd.Config{
		Addrs:     conf.RedisConfig.Addrs,
		Namespace: conf.RedisConfig.Namespace,
	}
	d.metadataStorage = rd.NewRedisMetadataStorage(rdConf)
	d.executionStorage = rd.NewRedisExecutionStorage(rdConf)
	d.logStorage = rd.NewRedisLogStorage(rdConf)
	d.counterStore = rd.NewRedisCounterStore(rdConf)
	d.delayQueue = rd.NewRedisDelayQueue(rdConf)
	d.workflowCache = cache.NewWorkflowCache(d.metadataStorage)

	switch conf.PublisherType {
	case config.PUBLISHER_TYPE_REDIS:
		d.publisher = events.NewRedisPublisher(conf.RedisConfig.Addrs, conf.RedisConfig.Namespace)
	default:
		d.publisher = events.NewLogPublisher()
	}

	breakerConf := breaker.DefaultConfig()
	if conf.BreakerConfig.FailureThreshold > 0 {
		breakerConf.FailureThreshold = conf.BreakerConfig.FailureThreshold
	}
	if conf.BreakerConfig.RecoveryTimeoutSeconds > 0 {
		breakerConf.RecoveryTimeout = time.Duration(conf.BreakerConfig.RecoveryTimeoutSeconds) * time.Second
	}
	d.breakers = breaker.NewRegistry(breakerConf, nil)

	limits := governor.StaticLimitsProvider{
		Limits: persistence.Limits{
			MaxConcurrent: conf.LimitsConfig.MaxConcurrent,
			MaxHourly:     conf.LimitsConfig.MaxHourly,
			MaxDaily:      conf.LimitsConfig.MaxDaily,
		},
	}
	d.governor = governor.New(d.counterStore, limits)

	d.clientRegistry = node.NewClientRegistry()
	d.nodeRegistry = node.NewRegistry()
	d.nodeRegistry.Register(node.NewTriggerExecutor())
	d.nodeRegistry.Register(node.NewActionExecutor(d.clientRegistry))
	d.nodeRegistry.Register(node.NewConditionExecutor())
	d.nodeRegistry.Register(node.NewSwitchExecutor())
	d.nodeRegistry.Register(node.NewScriptExecutor())
	d.nodeRegistry.Register(node.NewDelayExecutor())
	loopExecutor := node.NewLoopExecutor()
	d.nodeRegistry.Register(loopExecutor)

	d.orchestrator = engine.NewOrchestrator(d.nodeRegistry, d.breakers, d.logStorage, d.publisher)
	d.orchestrator.BindLoopExecutor(loopExecutor)
}

func (d *DIContainer) GetMetadataStorage() persistence.MetadataStorage {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.metadataStorage
}

func (d *DIContainer) GetExecutionStorage() persistence.ExecutionStorage {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.executionStorage
}

func (d *DIContainer) GetLogStorage() persistence.LogStorage {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.logStorage
}

func (d *DIContainer) GetDelayQueue() persistence.DelayQueue {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.delayQueue
}

func (d *DIContainer) GetWorkflowCache() *cache.WorkflowCache {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.workflowCache
}

func (d *DIContainer) GetPublisher() events.Publisher {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.publisher
}

func (d *DIContainer) GetGovernor() *governor.Governor {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.governor
}

func (d *DIContainer) GetNodeRegistry() *node.Registry {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.nodeRegistry
}

func (d *DIContainer) GetClientRegistry() *node.ClientRegistry {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.clientRegistry
}

func (d *DIContainer) GetOrchestrator() *engine.Orchestrator {
	if !d.initialized {
		panic("container not initialized")
	}
	return d.orchestrator
}
