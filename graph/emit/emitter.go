package emit

// Emitter receives progress events from a workflow run.
//
// Emitters make observability pluggable:
//   - Logging: zap (see LogEmitter)
//   - Distributed tracing: OpenTelemetry (see OTelEmitter)
//   - In-process history: tests and dashboards (see BufferedEmitter)
//   - Streaming callbacks: a UI or SSE handler behind an AsyncEmitter
//
// Implementations should be:
//   - Non-blocking: Emit is called from the run loop, between node
//     invocations, and a slow emitter delays the whole run
//   - Thread-safe: one emitter is usually shared by many concurrent runs
//   - Resilient: a failing backend must not fail or crash the run
//
// Wrap a consumer that may block in an AsyncEmitter.
type Emitter interface {
	// Emit delivers one event.
	//
	// Emit should not panic and has no error return. Backend failures
	// should be logged or counted by the implementation.
	Emit(event Event)
}

// Func adapts a plain callback to Emitter.
//
// The callback runs on the run loop's goroutine. Wrap it in an AsyncEmitter
// when it may block.
//
// Example usage:
//
//	progress := emit.Func(func(ev emit.Event) {
//	    fmt.Printf("%s %s\n", ev.Type, ev.NodeID)
//	})
//	engine, _ := graph.New(invoker, graph.WithEmitter(progress))
type Func func(Event)

// Emit calls f(event).
func (f Func) Emit(event Event) { f(event) }

// Multi fans events out to several emitters, in slice order. Nil entries
// are skipped.
//
// Example usage:
//
//	events := emit.Multi{
//	    emit.NewLogEmitter(logger),
//	    emit.NewOTelEmitter(tp.Tracer("agentgraph")),
//	}
type Multi []Emitter

// Emit forwards event to every emitter in order. A slow emitter delays the
// ones after it.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
