package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are grouped by run id and kept in emission order.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by run id with optional filtering by type and node
//   - Clear one run or every run
//
// Use cases:
//   - Tests that assert on the event stream
//   - Short-lived dashboards
//   - Post-run analysis of node order and cost
//
// Warning: events are never evicted. Call Clear when a run is no longer
// needed, or use a LogEmitter/OTelEmitter for long-lived processes.
//
// Example usage:
//
//	history := emit.NewBufferedEmitter()
//	engine, _ := graph.New(invoker, graph.WithEmitter(history))
//	res, _ := engine.QueueRun(ctx, req)
//
//	all := history.History(res.WorkflowInvocationID)
//	failed := history.Filter(res.WorkflowInvocationID, emit.HistoryFilter{Type: emit.NodeFailed})
//	history.Clear(res.WorkflowInvocationID)
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // run id -> events
}

// HistoryFilter selects events.
//
// All fields are optional. Empty fields match everything; set fields are
// combined with AND.
//
// Fields:
//   - Type: only events of this type (e.g. emit.NodeFailed)
//   - NodeID: only events about this node
//
// Example usage:
//
//	// Every invocation of the writer node
//	started := history.Filter(runID, emit.HistoryFilter{Type: emit.NodeStarted, NodeID: "writer"})
type HistoryFilter struct {
	Type   EventType
	NodeID string
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of the run's events in emission order.
func (b *BufferedEmitter) History(runID string) []Event {
	return b.Filter(runID, HistoryFilter{})
}

// Filter returns the run's events that match f, in emission order.
//
// Returns an empty (non-nil) slice for unknown runs. The slice is a copy and
// may be modified by the caller.
func (b *BufferedEmitter) Filter(runID string, f HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Event{}
	for _, ev := range b.events[runID] {
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		if f.NodeID != "" && ev.NodeID != f.NodeID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops the events of one run, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
