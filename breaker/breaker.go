package breaker

import (
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold is the consecutive failure count that trips
	// closed -> open.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker waits before allowing
	// a single half-open probe.
	RecoveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// StateChange is emitted on every transition so observers can alert on
// flapping integrations.
type StateChange struct {
	Service  string
	From     State
	To       State
	Failures int
	At       time.Time
}

type StateChangeHandler func(StateChange)

// Breaker guards outbound calls to one external service.
type Breaker struct {
	service string
	config  Config
	onState StateChangeHandler
	now     func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

func New(service string, config Config, onState StateChangeHandler) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Breaker{
		service: service,
		config:  config,
		onState: onState,
		now:     time.Now,
		state:   StateClosed,
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker. When the breaker is open it returns
// CircuitOpenError without invoking fn. In half-open state exactly one
// probe call is admitted; concurrent callers fail fast until the probe
// settles.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn()
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.RecoveryTimeout {
			return b.openErrorLocked()
		}
		b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		return nil
	default: // StateHalfOpen
		if b.probeInFlight {
			return b.openErrorLocked()
		}
		b.probeInFlight = true
		return nil
	}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
		if err != nil {
			b.openedAt = b.now()
			b.transitionLocked(StateOpen)
		} else {
			b.failures = 0
			b.transitionLocked(StateClosed)
		}
		return
	}
	if err != nil {
		b.failures++
		if b.state == StateClosed && b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.transitionLocked(StateOpen)
		}
		return
	}
	b.failures = 0
}

func (b *Breaker) openErrorLocked() error {
	return model.CircuitOpenError{
		Service:  b.service,
		OpenedAt: b.openedAt,
		RetryAt:  b.openedAt.Add(b.config.RecoveryTimeout),
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	logger.Info("circuit breaker state change",
		zap.String("service", b.service),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures))
	if b.onState != nil {
		change := StateChange{
			Service:  b.service,
			From:     from,
			To:       to,
			Failures: b.failures,
			At:       b.now(),
		}
		// observers must not run under the breaker lock
		go b.onState(change)
	}
}
