// Package node holds the executor framework: one executor per node type
// tag, resolved through a flat registry at dispatch time. Adding a node
// type means registering one implementation; the orchestrator never
// changes.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conveyorhq/conveyor/model"
)

// Result is what an executor hands back to the orchestrator: the node's
// output, the connection targets it selected, an optional suspension
// deadline (delay nodes) and an optional compensation for rollback.
type Result struct {
	Output       map[string]any
	NextNodeIDs  []string
	SuspendUntil *time.Time
	Compensation *model.CompensationRef
}

type Executor interface {
	Type() string
	// Validate checks a node's configuration before the workflow may be
	// activated.
	Validate(n *model.Node) error
	Execute(ctx context.Context, n *model.Node, ec *model.ExecutionContext) (*Result, error)
}

// Registry maps a node-type tag to its executor.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(e Executor) {
	r.executors[e.Type()] = e
}

func (r *Registry) Resolve(n *model.Node) (Executor, error) {
	e, ok := r.executors[n.Type]
	if !ok {
		return nil, model.UnknownNodeTypeError{NodeID: n.ID, Type: n.Type}
	}
	return e, nil
}

// nextByLabel collects the targets of every outgoing connection carrying
// the label.
func nextByLabel(n *model.Node, label string) []string {
	var out []string
	for _, c := range n.Connections {
		if c.Label == label {
			out = append(out, c.TargetID)
		}
	}
	return out
}

// defaultNext resolves a node's forward edge: connections labeled
// "default", or, for nodes with a single unlabeled connection, that one.
func defaultNext(n *model.Node) []string {
	if next := nextByLabel(n, model.BranchDefault); len(next) > 0 {
		return next
	}
	if len(n.Connections) == 1 && n.Connections[0].Label == "" {
		return []string{n.Connections[0].TargetID}
	}
	return nil
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an integration failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// retryable reports whether a node failure may be retried. Plain errors
// are treated as transient; Permanent-wrapped ones are not.
func retryable(err error) bool {
	var p permanentError
	return !errors.As(err, &p)
}

func execErr(nodeID string, err error) error {
	return model.NodeExecutionError{NodeID: nodeID, Retryable: retryable(err), Cause: err}
}

func configString(n *model.Node, key string) (string, bool) {
	v, ok := n.Config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func configInt(n *model.Node, key string) (int, bool) {
	v, ok := n.Config[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

func configBool(n *model.Node, key string) bool {
	v, ok := n.Config[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func configMap(n *model.Node, key string) (map[string]any, bool) {
	v, ok := n.Config[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func validationError(n *model.Node, format string, args ...any) error {
	return model.ValidationError{Message: fmt.Sprintf("node %s: %s", n.ID, fmt.Sprintf(format, args...))}
}
