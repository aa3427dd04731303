package model

import "sort"

// ExecutionContext is the mutable key/value store carried through one
// execution attempt. Writes are merge-only: a new value overwrites the
// same key, nothing is deleted except through Remove. Key order is
// insertion order so snapshots and logs stay deterministic.
type ExecutionContext struct {
	keys   []string
	values map[string]any
}

func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]any)}
}

// NewExecutionContextFrom builds a context from a persisted snapshot.
func NewExecutionContextFrom(snapshot map[string]any) *ExecutionContext {
	ec := NewExecutionContext()
	for k, v := range snapshot {
		ec.Set(k, v)
	}
	return ec
}

func (ec *ExecutionContext) Set(key string, value any) {
	if _, ok := ec.values[key]; !ok {
		ec.keys = append(ec.keys, key)
	}
	ec.values[key] = value
}

func (ec *ExecutionContext) Get(key string) (any, bool) {
	v, ok := ec.values[key]
	return v, ok
}

func (ec *ExecutionContext) Remove(key string) {
	if _, ok := ec.values[key]; !ok {
		return
	}
	delete(ec.values, key)
	for i, k := range ec.keys {
		if k == key {
			ec.keys = append(ec.keys[:i], ec.keys[i+1:]...)
			break
		}
	}
}

// Merge applies every entry of data onto the context.
func (ec *ExecutionContext) Merge(data map[string]any) {
	for _, k := range sortedKeys(data) {
		ec.Set(k, data[k])
	}
}

func (ec *ExecutionContext) Keys() []string {
	out := make([]string, len(ec.keys))
	copy(out, ec.keys)
	return out
}

func (ec *ExecutionContext) Len() int {
	return len(ec.keys)
}

// Snapshot flattens the context to a plain map for persistence and for
// template/jsonpath lookups.
func (ec *ExecutionContext) Snapshot() map[string]any {
	out := make(map[string]any, len(ec.values))
	for k, v := range ec.values {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child returns an independent copy seeded with the parent's entries.
// Loop iterations run against a child so sibling iterations do not see
// each other's writes.
func (ec *ExecutionContext) Child() *ExecutionContext {
	child := NewExecutionContext()
	for _, k := range ec.keys {
		child.Set(k, ec.values[k])
	}
	return child
}
