// Package governor is the admission-control layer: every execution asks
// it for a slot before the saga starts, and returns the slot when the
// execution reaches a terminal state or parks on a delay.
package governor

import (
	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	"go.uber.org/zap"
)

// LimitsProvider resolves per-principal quota caps; plan tiers live
// behind it.
type LimitsProvider interface {
	MaxConcurrentExecutions(principal string) int
	MaxHourlyExecutions(principal string) int
	MaxDailyExecutions(principal string) int
}

// StaticLimitsProvider serves one set of caps for every principal.
type StaticLimitsProvider struct {
	Limits persistence.Limits
}

func (p StaticLimitsProvider) MaxConcurrentExecutions(string) int { return p.Limits.MaxConcurrent }
func (p StaticLimitsProvider) MaxHourlyExecutions(string) int     { return p.Limits.MaxHourly }
func (p StaticLimitsProvider) MaxDailyExecutions(string) int      { return p.Limits.MaxDaily }

type Governor struct {
	counters persistence.CounterStore
	limits   LimitsProvider
}

func New(counters persistence.CounterStore, limits LimitsProvider) *Governor {
	return &Governor{counters: counters, limits: limits}
}

// Admit evaluates all three quotas as one atomic decision and claims the
// slot when allowed. Priority scales the concurrent cap. Returns
// ResourceLimitError on deny.
func (g *Governor) Admit(principal string, priority model.Priority) error {
	limits := persistence.Limits{
		MaxConcurrent: g.limits.MaxConcurrentExecutions(principal) * priority.ConcurrencyMultiplier(),
		MaxHourly:     g.limits.MaxHourlyExecutions(principal),
		MaxDaily:      g.limits.MaxDailyExecutions(principal),
	}
	allowed, reason, err := g.counters.Admit(principal, limits)
	if err != nil {
		return err
	}
	if !allowed {
		logger.Info("execution denied by resource governor",
			zap.String("principal", principal), zap.String("reason", reason))
		return model.ResourceLimitError{Principal: principal, Reason: reason + " execution limit reached"}
	}
	return nil
}

// Release frees the concurrent slot. Hourly and daily counts are
// consumed quota and stay.
func (g *Governor) Release(principal string) {
	if err := g.counters.Release(principal); err != nil {
		logger.Error("error releasing governor slot", zap.String("principal", principal), zap.Error(err))
	}
}
