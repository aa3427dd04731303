package engine

import (
	"context"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/model"
)

// Run is the in-flight state of one execution attempt: the workflow, the
// persisted execution record, the live context, the log sequence counter
// and the wall-clock deadline. Loop sub-chains and parallel start
// branches share it through forked contexts; sequence handout is the one
// spot they contend on.
type Run struct {
	Workflow  *model.Workflow
	Execution *model.Execution
	Context   *model.ExecutionContext
	deadline  time.Time
	budget    time.Duration
	seqMu     *sync.Mutex
	slotHeld  bool
}

// NewRun builds the run for a fresh execution; the time budget counts
// from the execution start.
func NewRun(wf *model.Workflow, execution *model.Execution, ec *model.ExecutionContext) *Run {
	return newRun(wf, execution, ec, execution.StartedAt)
}

// NewResumedRun builds the run for an execution coming back from a delay
// suspension. The budget counts from the resume, not the original start:
// time spent parked is not execution time.
func NewResumedRun(wf *model.Workflow, execution *model.Execution, ec *model.ExecutionContext) *Run {
	return newRun(wf, execution, ec, time.Now())
}

func newRun(wf *model.Workflow, execution *model.Execution, ec *model.ExecutionContext, base time.Time) *Run {
	budget := time.Duration(float64(wf.Type.MaxExecutionTime()) * wf.Priority.TimeoutMultiplier())
	return &Run{
		Workflow:  wf,
		Execution: execution,
		Context:   ec,
		deadline:  base.Add(budget),
		budget:    budget,
		seqMu:     &sync.Mutex{},
		slotHeld:  true,
	}
}

// Budget is the execution-time allowance for this run segment.
func (r *Run) Budget() time.Duration {
	return r.budget
}

// NextSeq hands out the next log sequence. Sequences are persisted on
// the execution so a resumed run continues the same log stream.
func (r *Run) NextSeq() int {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.Execution.NextSequence++
	return r.Execution.NextSequence
}

// AppendStep records a completed forward step on the execution. Parallel
// start branches append through the shared mutex.
func (r *Run) AppendStep(step model.SagaStep) {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.Execution.Steps = append(r.Execution.Steps, step)
}

// HoldsSlot reports whether this run still owns a concurrency slot with
// the governor. A fresh or resumed run holds one; parking gives it back.
func (r *Run) HoldsSlot() bool {
	return r.slotHeld
}

// MarkSlotReleased records that the slot was given back, so settlement
// releases at most once per admission.
func (r *Run) MarkSlotReleased() {
	r.slotHeld = false
}

// CheckDeadline returns TimeoutError once the execution-time budget is
// exhausted. Observed between node steps, never mid-node.
func (r *Run) CheckDeadline() error {
	if time.Now().After(r.deadline) {
		return model.TimeoutError{ExecutionID: r.Execution.ID, Budget: r.Budget()}
	}
	return nil
}

// ForkContext derives a run sharing identity, sequencing and deadline
// but bound to another context. Loop iterations and parallel start
// branches run on forks.
func (r *Run) ForkContext(ec *model.ExecutionContext) *Run {
	return &Run{
		Workflow:  r.Workflow,
		Execution: r.Execution,
		Context:   ec,
		deadline:  r.deadline,
		budget:    r.budget,
		seqMu:     r.seqMu,
	}
}

type runCtxKey struct{}

func withRun(ctx context.Context, run *Run) context.Context {
	return context.WithValue(ctx, runCtxKey{}, run)
}

func runFrom(ctx context.Context) (*Run, bool) {
	run, ok := ctx.Value(runCtxKey{}).(*Run)
	return run, ok
}
