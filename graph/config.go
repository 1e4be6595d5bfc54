package graph

import (
	"fmt"
	"sort"
)

const (
	// StartNodeID is the sender of the initial message of every run.
	StartNodeID = "start"

	// EndNodeID is the terminal sink. Messages addressed to it are consumed
	// without invoking anything.
	EndNodeID = "end"
)

// CoordinationMode selects how strictly node-to-node traffic is checked.
type CoordinationMode string

const (
	// ModeSequential allows any node to message any other node.
	ModeSequential CoordinationMode = "sequential"

	// ModeHierarchical makes the entry node the orchestrator. Workers may
	// only message the orchestrator or end, and only the orchestrator may
	// delegate.
	ModeHierarchical CoordinationMode = "hierarchical"
)

// HandOffType controls how a node with several handoffs routes its output.
type HandOffType string

const (
	// HandOffSequential routes to the first handoff.
	HandOffSequential HandOffType = "sequential"

	// HandOffParallel routes to every handoff.
	HandOffParallel HandOffType = "parallel"

	// HandOffConditional asks the model to pick one handoff.
	HandOffConditional HandOffType = "conditional"
)

// Role is a node's place in a hierarchical workflow.
type Role string

// Hierarchical roles.
const (
	RoleOrchestrator Role = "orchestrator"
	RoleWorker       Role = "worker"
	// RoleNone is reported for start, end and unknown ids.
	RoleNone Role = ""
)

// NodeConfig describes one node of a workflow.
//
// Fields:
//   - ID: unique within the workflow; "start" and "end" are reserved
//   - Description: what the node does; shown to a node choosing among
//     conditional handoffs
//   - SystemPrompt: the node's instructions
//   - ModelName: a tier ("fast", "balanced", "strategic") or a catalog id
//     ("openai/gpt-4o-mini"); empty uses the agent's default
//   - Tools: names of registered tools the node may call
//   - HandOffs: node ids (or "end") that receive the node's output
//   - HandOffType: how several handoffs are used; empty means sequential
//   - WaitFor: senders that must all report before the node runs (a join)
//   - Memory: key/value notes the node can update through its memory tool
//
// Example (YAML):
//
//	nodeId: researcher
//	description: collects facts from the web
//	systemPrompt: You research topics and cite sources.
//	modelName: balanced
//	tools: [http_request]
//	handOffs: [writer]
type NodeConfig struct {
	ID           string            `json:"nodeId" yaml:"nodeId"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt string            `json:"systemPrompt" yaml:"systemPrompt"`
	ModelName    string            `json:"modelName" yaml:"modelName"`
	Tools        []string          `json:"tools,omitempty" yaml:"tools,omitempty"`
	HandOffs     []string          `json:"handOffs,omitempty" yaml:"handOffs,omitempty"`
	HandOffType  HandOffType       `json:"handOffType,omitempty" yaml:"handOffType,omitempty"`
	WaitFor      []string          `json:"waitFor,omitempty" yaml:"waitFor,omitempty"`
	Memory       map[string]string `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// WorkflowConfig is a graph of nodes referenced by id.
//
// Handoffs and waitFor lists name other nodes by id or the sentinel "end".
// The runner works on a private clone, so memory updates during a run never
// leak into the caller's value.
type WorkflowConfig struct {
	Nodes       []NodeConfig     `json:"nodes" yaml:"nodes"`
	EntryNodeID string           `json:"entryNodeId" yaml:"entryNodeId"`
	Mode        CoordinationMode `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Validate checks the structural invariants of the graph. Failures are
// *EngineError values with code INVALID_WORKFLOW or HIERARCHY_VIOLATION.
func (w *WorkflowConfig) Validate() error {
	if len(w.Nodes) == 0 {
		return invalidWorkflow("workflow has no nodes")
	}
	switch w.Mode {
	case "", ModeSequential, ModeHierarchical:
	default:
		return invalidWorkflow(fmt.Sprintf("unknown coordination mode %q", w.Mode))
	}

	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		switch {
		case n.ID == "":
			return invalidWorkflow("node id cannot be empty")
		case n.ID == StartNodeID || n.ID == EndNodeID:
			return invalidWorkflow(fmt.Sprintf("node id %q is reserved", n.ID))
		case seen[n.ID]:
			return invalidWorkflow(fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true

		switch n.HandOffType {
		case "", HandOffSequential, HandOffParallel, HandOffConditional:
		default:
			return invalidWorkflow(fmt.Sprintf("node %q: unknown handoff type %q", n.ID, n.HandOffType))
		}
	}

	if !seen[w.EntryNodeID] {
		return invalidWorkflow(fmt.Sprintf("entry node %q does not exist", w.EntryNodeID))
	}

	for _, n := range w.Nodes {
		for _, target := range n.HandOffs {
			if target != EndNodeID && !seen[target] {
				return invalidWorkflow(fmt.Sprintf("node %q hands off to unknown node %q", n.ID, target))
			}
			if w.Mode == ModeHierarchical && w.Role(n.ID) == RoleWorker && w.Role(target) == RoleWorker {
				return &EngineError{
					Code:    CodeHierarchyViolation,
					NodeID:  n.ID,
					Message: fmt.Sprintf("worker %q cannot hand off to worker %q", n.ID, target),
				}
			}
		}
		for _, dep := range n.WaitFor {
			if dep != EndNodeID && !seen[dep] {
				return invalidWorkflow(fmt.Sprintf("node %q waits for unknown node %q", n.ID, dep))
			}
		}
	}
	return nil
}

// Node returns the node with the given id. The pointer aliases the config,
// so writes through it are visible to later lookups.
func (w *WorkflowConfig) Node(id string) (*NodeConfig, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Role reports a node's hierarchical role. The entry node is the
// orchestrator and every other node is a worker.
func (w *WorkflowConfig) Role(id string) Role {
	if id == StartNodeID || id == EndNodeID {
		return RoleNone
	}
	if id == w.EntryNodeID {
		return RoleOrchestrator
	}
	if _, ok := w.Node(id); ok {
		return RoleWorker
	}
	return RoleNone
}

// Workers returns the ids of every worker node in declaration order.
func (w *WorkflowConfig) Workers() []string {
	var out []string
	for _, n := range w.Nodes {
		if n.ID != w.EntryNodeID {
			out = append(out, n.ID)
		}
	}
	return out
}

// ModelRefs returns the distinct model references used by the nodes,
// sorted.
func (w *WorkflowConfig) ModelRefs() []string {
	set := make(map[string]bool)
	for _, n := range w.Nodes {
		if n.ModelName != "" {
			set[n.ModelName] = true
		}
	}
	refs := make([]string, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Clone returns a deep copy.
func (w WorkflowConfig) Clone() WorkflowConfig {
	out := w
	out.Nodes = make([]NodeConfig, len(w.Nodes))
	for i, n := range w.Nodes {
		out.Nodes[i] = n.clone()
	}
	return out
}

func (n NodeConfig) clone() NodeConfig {
	out := n
	out.Tools = append([]string(nil), n.Tools...)
	out.HandOffs = append([]string(nil), n.HandOffs...)
	out.WaitFor = append([]string(nil), n.WaitFor...)
	out.Memory = copyMemory(n.Memory)
	return out
}

func copyMemory(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func invalidWorkflow(msg string) error {
	return &EngineError{Code: CodeInvalidWorkflow, Message: msg}
}
