package model

import (
	"fmt"
	"time"
)

// ValidationError marks a workflow definition that must not be executed.
// It is raised before an execution is created and is never retried.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", e.Message)
}

// ResourceLimitError is returned at admission when a principal is over one
// of its execution quotas. The caller may retry later.
type ResourceLimitError struct {
	Principal string
	Reason    string
}

func (e ResourceLimitError) Error() string {
	return fmt.Sprintf("resource limit exceeded for %s: %s", e.Principal, e.Reason)
}

// NodeExecutionError wraps a failure inside a node executor. Retryable
// failures are retried under the priority's attempt budget before the saga
// compensates; non-retryable failures compensate immediately.
type NodeExecutionError struct {
	NodeID    string
	Retryable bool
	Cause     error
}

func (e NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s execution failed (retryable=%t): %v", e.NodeID, e.Retryable, e.Cause)
}

func (e NodeExecutionError) Unwrap() error {
	return e.Cause
}

// CircuitOpenError is returned without invoking the underlying client when
// the breaker guarding an external service is open.
type CircuitOpenError struct {
	Service  string
	OpenedAt time.Time
	RetryAt  time.Time
}

func (e CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for service %s, retry after %s", e.Service, e.RetryAt.Format(time.RFC3339))
}

// DanglingConnectionError is a structural integrity failure: a node result
// referenced a connection target that does not exist in the definition.
type DanglingConnectionError struct {
	NodeID   string
	TargetID string
}

func (e DanglingConnectionError) Error() string {
	return fmt.Sprintf("node %s references unknown node %s", e.NodeID, e.TargetID)
}

// UnknownNodeTypeError is raised when the registry has no executor for a
// node's type tag.
type UnknownNodeTypeError struct {
	NodeID string
	Type   string
}

func (e UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q (node %s)", e.Type, e.NodeID)
}

// InvalidTransitionError is raised by the status state machine.
type InvalidTransitionError struct {
	From WorkflowStatus
	To   WorkflowStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid workflow status transition %s -> %s", e.From, e.To)
}

// TimeoutError marks an execution or node that exceeded its time budget.
// Fatal for the attempt, always compensated.
type TimeoutError struct {
	ExecutionID string
	Budget      time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("execution %s exceeded time budget %s", e.ExecutionID, e.Budget)
}

// StorageError wraps a persistence layer failure.
type StorageError struct {
	Op    string
	Cause error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Cause)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}
