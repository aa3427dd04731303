package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	all := []WorkflowStatus{StatusDraft, StatusActive, StatusInactive, StatusArchived, StatusMaintenance}

	allowed := map[WorkflowStatus][]WorkflowStatus{
		StatusDraft:       {StatusActive},
		StatusActive:      {StatusInactive, StatusMaintenance, StatusArchived},
		StatusInactive:    {StatusActive, StatusArchived},
		StatusMaintenance: {StatusActive, StatusInactive},
		StatusArchived:    {},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			require.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)

			next, err := from.TransitionTo(to)
			if want {
				require.NoError(t, err)
				require.Equal(t, to, next)
			} else {
				require.Error(t, err)
				require.IsType(t, InvalidTransitionError{}, err)
				require.Equal(t, from, next)
			}
		}
	}
}

func TestStatusArchivedIsTerminal(t *testing.T) {
	for _, to := range []WorkflowStatus{StatusDraft, StatusActive, StatusInactive, StatusMaintenance} {
		require.False(t, StatusArchived.CanTransitionTo(to))
	}
}

func TestStatusCapabilities(t *testing.T) {
	require.True(t, StatusActive.CanBeExecuted())
	for _, s := range []WorkflowStatus{StatusDraft, StatusInactive, StatusArchived, StatusMaintenance} {
		require.False(t, s.CanBeExecuted())
	}

	require.True(t, StatusDraft.CanBeEdited())
	require.True(t, StatusInactive.CanBeEdited())
	for _, s := range []WorkflowStatus{StatusActive, StatusArchived, StatusMaintenance} {
		require.False(t, s.CanBeEdited())
	}
}

func TestToWorkflowStatus(t *testing.T) {
	s, ok := ToWorkflowStatus("Active")
	require.True(t, ok)
	require.Equal(t, StatusActive, s)

	_, ok = ToWorkflowStatus("deleted")
	require.False(t, ok)
}
