// Package executor holds the background pollers that feed parked
// executions back into the saga manager.
package executor

type Executor interface {
	Start() error
	Stop() error
	Name() string
}
