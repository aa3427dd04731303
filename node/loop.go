package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/util"
	"go.uber.org/zap"
)

// DefaultMaxIterations bounds a loop when the node does not configure its
// own cap.
const DefaultMaxIterations = 100

// ChainRunner executes a child sub-chain starting at a node id against a
// scoped context and returns the aggregated chain output. The
// orchestrator binds itself here when the registry is assembled.
type ChainRunner func(ctx context.Context, startNodeID string, ec *model.ExecutionContext) (map[string]any, error)

var _ Executor = new(LoopExecutor)

// LoopExecutor iterates a bound collection, invoking the child sub-chain
// once per item with a scoped child context. Config:
//
//	source:          dotted path to the collection (required)
//	childNodeId:     first node of the child sub-chain (required)
//	maxIterations:   hard cap, applied even when the collection is larger
//	continueOnError: keep iterating past a failed item (default stop)
//	parallelism:     bounded fan-out, default 1 (sequential)
type LoopExecutor struct {
	runChain ChainRunner
}

func NewLoopExecutor() *LoopExecutor {
	return &LoopExecutor{}
}

// BindChainRunner wires the orchestrator's sub-chain entry point. Must be
// called before the first Execute.
func (e *LoopExecutor) BindChainRunner(run ChainRunner) {
	e.runChain = run
}

func (e *LoopExecutor) Type() string {
	return model.NodeTypeLoop
}

func (e *LoopExecutor) Validate(n *model.Node) error {
	if _, ok := configString(n, "source"); !ok {
		return validationError(n, "loop node needs a source path")
	}
	if _, ok := configString(n, "childNodeId"); !ok {
		return validationError(n, "loop node needs a childNodeId")
	}
	if limit, ok := configInt(n, "maxIterations"); ok && limit <= 0 {
		return validationError(n, "maxIterations must be > 0")
	}
	if par, ok := configInt(n, "parallelism"); ok && par <= 0 {
		return validationError(n, "parallelism must be > 0")
	}
	return nil
}

func (e *LoopExecutor) Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error) {
	if e.runChain == nil {
		return nil, execErr(n.ID, Permanent(fmt.Errorf("loop executor has no chain runner bound")))
	}
	source, _ := configString(n, "source")
	childNodeID, _ := configString(n, "childNodeId")
	maxIterations := DefaultMaxIterations
	if limit, ok := configInt(n, "maxIterations"); ok {
		if limit <= 0 {
			return nil, execErr(n.ID, Permanent(fmt.Errorf("maxIterations must be > 0")))
		}
		maxIterations = limit
	}
	parallelism := 1
	if par, ok := configInt(n, "parallelism"); ok {
		parallelism = par
	}
	continueOnError := configBool(n, "continueOnError")

	items := boundCollection(ec, source)
	if len(items) > maxIterations {
		logger.Info("loop capped at max iterations",
			zap.String("node", n.ID), zap.Int("collection", len(items)), zap.Int("cap", maxIterations))
		items = items[:maxIterations]
	}

	outputs, firstErr := e.iterate(ctx, items, childNodeID, ec, parallelism, continueOnError)
	output := map[string]any{
		"iterations": len(outputs),
		"results":    outputs,
	}
	if firstErr != nil && !continueOnError {
		return nil, execErr(n.ID, firstErr)
	}
	return &Result{
		Output:      output,
		NextNodeIDs: defaultNext(n),
	}, nil
}

func (e *LoopExecutor) iterate(ctx context.Context, items []any, childNodeID string, ec *model.ExecutionContext, parallelism int, continueOnError bool) ([]any, error) {
	if parallelism <= 1 {
		var outputs []any
		for i, item := range items {
			out, err := e.runIteration(ctx, childNodeID, ec, item, i)
			if err != nil {
				if continueOnError {
					outputs = append(outputs, map[string]any{"index": i, "error": err.Error()})
					continue
				}
				return outputs, err
			}
			outputs = append(outputs, out)
		}
		return outputs, nil
	}

	// bounded fan-out; outputs keep iteration order so downstream nodes
	// and logs stay deterministic
	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make([]any, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if iterCtx.Err() != nil {
				errs[i] = iterCtx.Err()
				return
			}
			out, err := e.runIteration(iterCtx, childNodeID, ec, item, i)
			if err != nil {
				errs[i] = err
				if !continueOnError {
					cancel()
				}
				return
			}
			results[i] = out
		}(i, item)
	}
	wg.Wait()

	var outputs []any
	var firstErr error
	for i := range items {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			if continueOnError {
				outputs = append(outputs, map[string]any{"index": i, "error": errs[i].Error()})
			}
			continue
		}
		outputs = append(outputs, results[i])
	}
	return outputs, firstErr
}

func (e *LoopExecutor) runIteration(ctx context.Context, childNodeID string, ec *model.ExecutionContext, item any, index int) (map[string]any, error) {
	child := ec.Child()
	child.Set("item", item)
	child.Set("index", index)
	return e.runChain(ctx, childNodeID, child)
}

func boundCollection(ec *model.ExecutionContext, source string) []any {
	value, ok := util.Lookup(ec.Snapshot(), source)
	if !ok {
		return nil
	}
	switch items := value.(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, len(items))
		for i, v := range items {
			out[i] = v
		}
		return out
	default:
		return nil
	}
}
