package graph

import "errors"

// Engine error codes, carried in EngineError.Code.
//
// Codes:
//   - NODE_NOT_FOUND: a message was addressed to a node that does not exist
//   - HIERARCHY_VIOLATION: worker-to-worker traffic or a delegation not
//     sent by the orchestrator
//   - INVALID_WORKFLOW: the workflow failed Validate
//   - NO_SUMMARIES: the run finished without invoking any node
//   - CANCELLED: the run's context was cancelled
const (
	CodeNodeNotFound       = "NODE_NOT_FOUND"
	CodeHierarchyViolation = "HIERARCHY_VIOLATION"
	CodeInvalidWorkflow    = "INVALID_WORKFLOW"
	CodeNoSummaries        = "NO_SUMMARIES"
	CodeCancelled          = "CANCELLED"

	// CodeInvalidEngine is returned by QueueRun on a nil or zero Engine.
	CodeInvalidEngine = "INVALID_ENGINE"
)

// EngineError is a configuration-class failure that aborts a run. Node
// and model failures never produce one; they travel through the graph as
// error payloads instead.
//
// Match it with errors.As or IsCode:
//
//	res, err := engine.QueueRun(ctx, req)
//	if graph.IsCode(err, graph.CodeHierarchyViolation) {
//	    // fix the workflow definition
//	}
//	fmt.Println(res.TotalCost) // res is never nil
type EngineError struct {
	Code    string
	Message string

	// NodeID is the node involved, when there is one.
	NodeID string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns "CODE: message", or the message alone when Code is empty.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause, for errors.Is on context errors.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is an *EngineError with the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}

// NodeError describes a failed node invocation. Its message and stack are
// forwarded to the next nodes as an ErrorPayload.
type NodeError struct {
	NodeID  string
	Message string

	// Stack is an optional trace of where the failure happened, for
	// example the sequence of tool calls that preceded it.
	Stack string

	Cause error
}

// Error returns "node <id>: <message>".
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the cause, typically a *model.ProviderError.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// errorPayload converts a node failure into the payload forwarded to the
// node's targets.
func errorPayload(err error) ErrorPayload {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ErrorPayload{Message: ne.Message, Stack: ne.Stack}
	}
	return ErrorPayload{Message: err.Error()}
}
