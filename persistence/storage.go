package persistence

import (
	"time"

	"github.com/conveyorhq/conveyor/model"
)

// MetadataStorage persists workflow definitions.
type MetadataStorage interface {
	SaveWorkflow(wf *model.Workflow) error
	GetWorkflow(id string) (*model.Workflow, error)
	DeleteWorkflow(id string) error
	ListWorkflows() ([]*model.Workflow, error)
}

// ExecutionStorage persists execution state. The stored record carries the
// context snapshot and saga step list, so an execution is re-hydratable
// after a process restart.
type ExecutionStorage interface {
	SaveExecution(ex *model.Execution) error
	GetExecution(id string) (*model.Execution, error)
}

// LogStorage is the append-only per-node execution log. Entries are
// never rewritten except for the terminal status update.
type LogStorage interface {
	Append(entry *model.LogEntry) error
	UpdateOutcome(executionID string, sequence int, status model.LogStatus, output map[string]any, errMsg string, finishedAt time.Time) error
	List(executionID string) ([]*model.LogEntry, error)
}

// Limits are the per-principal quota caps resolved at admission time.
type Limits struct {
	MaxConcurrent int
	MaxHourly     int
	MaxDaily      int
}

// CounterStore tracks per-principal execution counters. Admit combines
// the limit check and the increments into one atomic operation; two
// concurrent admissions can never both pass on the last free slot.
type CounterStore interface {
	Admit(principal string, limits Limits) (allowed bool, reason string, err error)
	Release(principal string) error
	Concurrent(principal string) (int, error)
}

// DelayQueue parks opaque messages until they become due. Delay-node
// suspensions and breaker-cooldown retries ride on it.
type DelayQueue interface {
	Push(queue string, message []byte) error
	PushWithDelay(queue string, delay time.Duration, message []byte) error
	Pop(queue string) ([]string, error)
}
