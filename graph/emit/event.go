// Package emit delivers workflow progress events to observers.
//
// The runner emits one event before and one after every node invocation,
// one when a terminal node's memory is ready to persist, and one when the
// run finishes. Observers implement Emitter:
//
//   - NullEmitter: discards events (the default)
//   - LogEmitter: structured zap logging
//   - BufferedEmitter: in-memory history, queryable per run
//   - OTelEmitter: OpenTelemetry spans
//   - AsyncEmitter: bounded, non-blocking delivery to a slow consumer
//   - Multi and Func: composition and plain callbacks
//
// Event order within a run matches the order of message processing.
package emit

import "time"

// EventType names a progress event.
type EventType string

const (
	// NodeStarted is emitted before a node is invoked.
	NodeStarted EventType = "node_started"

	// NodeCompleted is emitted after a node invocation without error.
	NodeCompleted EventType = "node_completed"

	// NodeFailed is emitted after a node invocation that returned an error.
	// The run continues; the error travels on as an error payload.
	NodeFailed EventType = "node_failed"

	// MemoryReady is emitted when a terminal node produced updated memory
	// that is ready to persist.
	MemoryReady EventType = "memory_ready"

	// RunCompleted is emitted once when the run loop finishes.
	RunCompleted EventType = "run_completed"
)

// Event is a single progress observation from a workflow run.
//
// Events are values; emitters may keep them. Meta maps are created per
// event and are not shared between events, but emitters must not modify
// them.
//
// Example:
//
//	emit.Event{
//	    Type:         emit.NodeCompleted,
//	    RunID:        "3b1c9e4a-...",
//	    Seq:          2,
//	    NodeID:       "writer",
//	    InvocationID: "f07d...",
//	    Meta:         map[string]interface{}{"usd_cost": 0.0021, "duration_ms": int64(840), "next": []string{"end"}},
//	}
type Event struct {
	// Type identifies the event.
	Type EventType

	// RunID is the workflow invocation id.
	RunID string

	// Seq is the seq of the message being processed. Zero for run-level
	// events.
	Seq int

	// NodeID is empty for run-level events.
	NodeID string

	// InvocationID is set on node_completed, node_failed and memory_ready.
	InvocationID string

	Time time.Time

	// Meta carries event specific data. Common keys:
	//   - "usd_cost": float64
	//   - "duration_ms": int64
	//   - "error": string
	//   - "next": []string
	Meta map[string]interface{}
}
