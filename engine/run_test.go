package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/model"
	"github.com/stretchr/testify/require"
)

func testRun(wfType model.WorkflowType, priority model.Priority, startedAt time.Time) *Run {
	wf := &model.Workflow{ID: "wf-1", Type: wfType, Priority: priority}
	execution := &model.Execution{ID: "ex-1", WorkflowID: "wf-1", StartedAt: startedAt}
	return NewRun(wf, execution, model.NewExecutionContext())
}

func TestRunBudget(t *testing.T) {
	scenarios := map[string]struct {
		wfType   model.WorkflowType
		priority model.Priority
		want     time.Duration
	}{
		"standard medium": {model.TypeStandard, model.PriorityMedium, 5 * time.Minute},
		"webhook low":     {model.TypeWebhook, model.PriorityLow, 2 * time.Minute},
		"standard high":   {model.TypeStandard, model.PriorityHigh, 450 * time.Second},
		"approval critical": {
			model.TypeApproval, model.PriorityCritical, 60 * time.Minute,
		},
	}
	for name, scenario := range scenarios {
		t.Run(name, func(t *testing.T) {
			run := testRun(scenario.wfType, scenario.priority, time.Now())
			require.Equal(t, scenario.want, run.Budget())
		})
	}
}

func TestRunNextSeqIsStrictlyIncreasing(t *testing.T) {
	run := testRun(model.TypeStandard, model.PriorityMedium, time.Now())

	require.Equal(t, 1, run.NextSeq())
	require.Equal(t, 2, run.NextSeq())
	require.Equal(t, 2, run.Execution.NextSequence)
}

func TestRunSeqSharedAcrossForks(t *testing.T) {
	run := testRun(model.TypeScheduled, model.PriorityMedium, time.Now())

	results := make(chan int, 100)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		fork := run.ForkContext(run.Context.Child())
		wg.Add(1)
		go func(f *Run) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				results <- f.NextSeq()
			}
		}(fork)
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for seq := range results {
		require.False(t, seen[seq])
		seen[seq] = true
	}
	require.Len(t, seen, 100)
	require.Equal(t, 100, run.Execution.NextSequence)
}

func TestRunCheckDeadline(t *testing.T) {
	run := testRun(model.TypeStandard, model.PriorityMedium, time.Now())
	require.NoError(t, run.CheckDeadline())

	expired := testRun(model.TypeStandard, model.PriorityMedium, time.Now().Add(-10*time.Minute))
	err := expired.CheckDeadline()
	var timeoutErr model.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "ex-1", timeoutErr.ExecutionID)
}

func TestResumedRunCountsBudgetFromResume(t *testing.T) {
	wf := &model.Workflow{ID: "wf-1", Type: model.TypeStandard, Priority: model.PriorityMedium}
	execution := &model.Execution{ID: "ex-1", WorkflowID: "wf-1", StartedAt: time.Now().Add(-time.Hour)}

	run := NewResumedRun(wf, execution, model.NewExecutionContext())
	require.NoError(t, run.CheckDeadline())
}
