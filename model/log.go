package model

import "time"

type LogStatus string

const (
	LogRunning     LogStatus = "running"
	LogSucceeded   LogStatus = "succeeded"
	LogFailed      LogStatus = "failed"
	LogCompensated LogStatus = "compensated"
	LogSkipped     LogStatus = "skipped"
)

// LogEntry is the append-only per-node record keyed by
// (execution id, node id, sequence). After creation only the terminal
// status fields are updated, never the captured input/output.
type LogEntry struct {
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId"`
	Sequence    int            `json:"sequence"`
	Status      LogStatus      `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	FinishedAt  time.Time      `json:"finishedAt,omitempty"`
}
