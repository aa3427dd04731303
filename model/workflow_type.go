package model

import (
	"strings"
	"time"
)

type WorkflowType string

const (
	TypeStandard  WorkflowType = "standard"
	TypeScheduled WorkflowType = "scheduled"
	TypeWebhook   WorkflowType = "webhook"
	TypeApproval  WorkflowType = "approval"
)

func ToWorkflowType(s string) WorkflowType {
	switch WorkflowType(strings.ToLower(s)) {
	case TypeStandard, TypeScheduled, TypeWebhook, TypeApproval:
		return WorkflowType(strings.ToLower(s))
	}
	return TypeStandard
}

func (t WorkflowType) SupportsTriggers() bool {
	return t == TypeStandard || t == TypeWebhook
}

func (t WorkflowType) SupportsScheduling() bool {
	return t == TypeScheduled
}

func (t WorkflowType) RequiresApproval() bool {
	return t == TypeApproval
}

// SupportsParallelExecution allows independent start-node branches to run
// concurrently. Only scheduled workflows opt in; everything else runs
// branches sequentially to keep log ordering deterministic.
func (t WorkflowType) SupportsParallelExecution() bool {
	return t == TypeScheduled
}

// MaxExecutionTime is the base wall-clock budget for one execution, before
// the priority multiplier is applied.
func (t WorkflowType) MaxExecutionTime() time.Duration {
	switch t {
	case TypeScheduled:
		return 15 * time.Minute
	case TypeWebhook:
		return 2 * time.Minute
	case TypeApproval:
		return 30 * time.Minute
	default:
		return 5 * time.Minute
	}
}
