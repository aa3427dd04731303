package model

import "time"

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution reached an end state. Status is
// monotonic apart from the explicit pause/resume pair.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// SagaStep records one forward node invocation inside an execution.
// Compensation, when declared by the executor, describes the reverse
// action invoked during rollback.
type SagaStep struct {
	Sequence     int              `json:"sequence"`
	NodeID       string           `json:"nodeId"`
	Output       map[string]any   `json:"output,omitempty"`
	Compensation *CompensationRef `json:"compensation,omitempty"`
}

// CompensationRef names the reverse action for a step: an integration
// operation with already-resolved parameters, replayable after a restart.
type CompensationRef struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// Execution is one run attempt of a workflow against a trigger payload.
// ContextSnapshot and Steps are persisted on every node boundary so a
// suspended execution can be re-hydrated after a process restart.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflowId"`
	Status          ExecutionStatus `json:"status"`
	TriggerPayload  map[string]any  `json:"triggerPayload,omitempty"`
	ContextSnapshot map[string]any  `json:"contextSnapshot,omitempty"`
	Steps           []SagaStep      `json:"steps,omitempty"`
	PendingNodeIDs  []string        `json:"pendingNodeIds,omitempty"`
	NextSequence    int             `json:"nextSequence"`
	CancelRequested bool            `json:"cancelRequested"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt,omitempty"`
	Error           string          `json:"error,omitempty"`
}
