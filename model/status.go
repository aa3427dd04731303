package model

import "strings"

type WorkflowStatus string

const (
	StatusDraft       WorkflowStatus = "draft"
	StatusActive      WorkflowStatus = "active"
	StatusInactive    WorkflowStatus = "inactive"
	StatusArchived    WorkflowStatus = "archived"
	StatusMaintenance WorkflowStatus = "maintenance"
)

// allowedTransitions is the full transition matrix. Archived is terminal
// and deliberately has no entry.
var allowedTransitions = map[WorkflowStatus][]WorkflowStatus{
	StatusDraft:       {StatusActive},
	StatusActive:      {StatusInactive, StatusMaintenance, StatusArchived},
	StatusInactive:    {StatusActive, StatusArchived},
	StatusMaintenance: {StatusActive, StatusInactive},
	StatusArchived:    {},
}

func ToWorkflowStatus(s string) (WorkflowStatus, bool) {
	switch WorkflowStatus(strings.ToLower(s)) {
	case StatusDraft, StatusActive, StatusInactive, StatusArchived, StatusMaintenance:
		return WorkflowStatus(strings.ToLower(s)), true
	}
	return "", false
}

// CanTransitionTo is pure and total over the status set.
func (s WorkflowStatus) CanTransitionTo(target WorkflowStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo returns the target status or InvalidTransitionError when
// the transition is not in the matrix.
func (s WorkflowStatus) TransitionTo(target WorkflowStatus) (WorkflowStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, InvalidTransitionError{From: s, To: target}
	}
	return target, nil
}

// CanBeExecuted reports whether new executions may start.
func (s WorkflowStatus) CanBeExecuted() bool {
	return s == StatusActive
}

// CanBeEdited reports whether the definition may be modified.
func (s WorkflowStatus) CanBeEdited() bool {
	return s == StatusDraft || s == StatusInactive
}
