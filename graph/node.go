package graph

import "context"

// NodeInvoker performs one node invocation. The runner calls it once per
// dispatched message; graph/agent provides the model-backed implementation.
//
// InvokeNode must not return a Go error for node or model failures. It
// reports them in NodeInvocationResult.Err together with whatever cost was
// incurred, and still names the node ids to route to.
//
// Implementations must be safe for concurrent use when one Engine serves
// concurrent runs. A panic is recovered by the runner and treated as a node
// failure routed to the node's first handoff.
type NodeInvoker interface {
	// InvokeNode runs the node for req.Message.
	//
	// Returns the node's output, cost, routing decision and logs. Err is
	// set for failures; Output should then be empty.
	InvokeNode(ctx context.Context, req NodeRequest) NodeInvocationResult
}

// NodeInvokerFunc adapts a function to NodeInvoker.
//
// Example:
//
//	echo := graph.NodeInvokerFunc(func(ctx context.Context, req graph.NodeRequest) graph.NodeInvocationResult {
//	    text := graph.PayloadText(req.Message.Payload)
//	    return graph.NodeInvocationResult{
//	        Output:  text,
//	        Reply:   graph.SequentialPayload{Prompt: text},
//	        NextIDs: []string{graph.EndNodeID},
//	    }
//	})
type NodeInvokerFunc func(ctx context.Context, req NodeRequest) NodeInvocationResult

// InvokeNode calls f(ctx, req).
func (f NodeInvokerFunc) InvokeNode(ctx context.Context, req NodeRequest) NodeInvocationResult {
	return f(ctx, req)
}

// NodeRequest is everything a node sees when it is invoked.
type NodeRequest struct {
	// WorkflowInvocationID identifies the run, for attribution of spend
	// and saved outputs.
	WorkflowInvocationID string

	// Node is a copy of the node's current config, including memory
	// written by earlier invocations in this run.
	Node NodeConfig

	// Message is the dispatched message, aggregated when the node joins.
	Message WorkflowMessage

	// Workflow is the run's live config. Treat it as read-only.
	Workflow *WorkflowConfig

	// Input is the run's original input text.
	Input string
}

// NodeInvocationResult is produced by a node and consumed by the runner.
//
// The runner:
//   - adds UsdCost to the run total, failed invocations included
//   - appends Logs to the transcript and Summary to the summaries
//   - records Output as the run's final output
//   - sends Reply (or an ErrorPayload when Err is set) to every NextIDs
//     entry, labelled per target on a fan-out
//   - replaces the node's memory with UpdatedMemory when it is non-nil
type NodeInvocationResult struct {
	// InvocationID is generated by the runner when left empty.
	InvocationID string

	// Output is the node's text output. Empty on failure.
	Output string

	// UsdCost is what the invocation spent, including failed attempts.
	UsdCost float64

	// Reply is forwarded to NextIDs. A nil reply forwards Output as a
	// SequentialPayload.
	Reply Payload

	// NextIDs are the node ids (or EndNodeID) that receive Reply. An empty
	// list ends this branch of the run.
	NextIDs []string

	// Err is a node failure. Targets receive an ErrorPayload instead of
	// Reply.
	Err error

	// Summary describes the invocation. NodeID and InvocationID are
	// filled in by the runner when empty.
	Summary AgentSummary

	// UpdatedMemory replaces the node's memory for the rest of the run
	// when non-nil.
	UpdatedMemory map[string]string

	// Logs are the invocation's transcript entries, in order.
	Logs []NodeLog
}

// AgentSummary is a short record of what one invocation did. A run that
// produced no summaries fails with CodeNoSummaries.
type AgentSummary struct {
	NodeID       string `json:"nodeId"`
	InvocationID string `json:"invocationId"`
	Summary      string `json:"summary"`
}

// LogType classifies transcript entries.
type LogType string

const (
	// LogText is a model text answer.
	LogText LogType = "text"

	// LogTool is one tool call with its arguments and result.
	LogTool LogType = "tool"

	// LogError is a failed invocation.
	LogError LogType = "error"
)

// NodeLog is one entry of the run transcript.
//
// Example (tool step):
//
//	graph.NodeLog{
//	    Type:       graph.LogTool,
//	    NodeID:     "researcher",
//	    ToolName:   "http_request",
//	    ToolArgs:   `{"url":"https://example.com"}`,
//	    ToolResult: `{"status":200}`,
//	    UsdCost:    0.0004,
//	}
type NodeLog struct {
	Type         LogType `json:"type"`
	NodeID       string  `json:"nodeId"`
	InvocationID string  `json:"invocationId,omitempty"`
	Text         string  `json:"text,omitempty"`
	ToolName     string  `json:"toolName,omitempty"`
	ToolArgs     string  `json:"toolArgs,omitempty"`
	ToolResult   string  `json:"toolResult,omitempty"`
	UsdCost      float64 `json:"usdCost"`
}
