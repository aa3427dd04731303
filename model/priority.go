package model

import "strings"

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func ToPriority(s string) Priority {
	switch Priority(strings.ToLower(s)) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(strings.ToLower(s))
	}
	return PriorityMedium
}

// Weight orders executions when workers drain a backlog.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 2
	}
}

// ConcurrencyMultiplier scales the principal's base concurrent slot count.
func (p Priority) ConcurrencyMultiplier() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// RetryAttempts is the in-place retry budget for retryable node failures.
func (p Priority) RetryAttempts() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 5
	default:
		return 2
	}
}

// TimeoutMultiplier scales the workflow type's execution time budget.
func (p Priority) TimeoutMultiplier() float64 {
	switch p {
	case PriorityHigh:
		return 1.5
	case PriorityCritical:
		return 2.0
	default:
		return 1.0
	}
}
