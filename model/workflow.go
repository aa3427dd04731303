package model

import "fmt"

// Node type tags resolved by the executor registry.
const (
	NodeTypeTrigger   = "trigger"
	NodeTypeAction    = "action"
	NodeTypeCondition = "condition"
	NodeTypeSwitch    = "switch"
	NodeTypeScript    = "script"
	NodeTypeLoop      = "loop"
	NodeTypeDelay     = "delay"
)

// Connection labels with reserved meaning.
const (
	BranchDefault = "default"
	BranchTrue    = "true"
	BranchFalse   = "false"
)

// Connection is one directed edge out of a node. Label selects the edge
// when an executor branches ("true"/"false" for conditions, case values
// for switches, "default" otherwise).
type Connection struct {
	Label    string `json:"label"`
	TargetID string `json:"targetId"`
}

// Node is one step of a workflow graph. Service, when set, names the
// external integration the node calls; such calls are routed through the
// circuit breaker for that service.
type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Service     string         `json:"service,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Connections []Connection   `json:"connections,omitempty"`
}

// Connection returns the outgoing edge with the given label.
func (n *Node) Connection(label string) (Connection, bool) {
	for _, c := range n.Connections {
		if c.Label == label {
			return c, true
		}
	}
	return Connection{}, false
}

// Definition is the executable graph: nodes in declaration order.
type Definition struct {
	Nodes []Node `json:"nodes"`
}

// Node returns the node with the given id.
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// StartNodes are the entry points: trigger-typed nodes plus nodes with no
// inbound connection, in declaration order.
func (d *Definition) StartNodes() []*Node {
	inbound := make(map[string]bool)
	for _, n := range d.Nodes {
		for _, c := range n.Connections {
			inbound[c.TargetID] = true
		}
	}
	var starts []*Node
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Type == NodeTypeTrigger || !inbound[n.ID] {
			starts = append(starts, n)
		}
	}
	return starts
}

// Workflow is a user-authored automation definition plus lifecycle
// metadata. Principal identifies the quota owner (user or project).
type Workflow struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Principal  string         `json:"principal"`
	Definition Definition     `json:"definition"`
	Status     WorkflowStatus `json:"status"`
	Priority   Priority       `json:"priority"`
	Type       WorkflowType   `json:"type"`
	Metrics    Metrics        `json:"metrics"`
}

// Validate checks structural integrity before any execution is allowed to
// start: unique node ids, known type tags, every connection target
// resolvable, and at least one start node.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return ValidationError{Message: "definition has no nodes"}
	}
	ids := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return ValidationError{Message: "node with empty id"}
		}
		if ids[n.ID] {
			return ValidationError{Message: fmt.Sprintf("duplicate node id %s", n.ID)}
		}
		ids[n.ID] = true
	}
	for _, n := range d.Nodes {
		for _, c := range n.Connections {
			if !ids[c.TargetID] {
				return ValidationError{Message: fmt.Sprintf("node %s connects to unknown node %s", n.ID, c.TargetID)}
			}
		}
	}
	if len(d.StartNodes()) == 0 {
		return ValidationError{Message: "definition has no start node"}
	}
	return nil
}
