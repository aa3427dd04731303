package model

import "time"

type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowCancelled EventType = "workflow.cancelled"
	EventNodeProcessed     EventType = "node.processed"
)

// Event is the outward fire-and-forget notification consumed by
// analytics and notification collaborators.
type Event struct {
	Type        EventType      `json:"type"`
	WorkflowID  string         `json:"workflowId"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}
