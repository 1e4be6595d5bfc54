package emit

// NullEmitter implements Emitter by discarding all events.
//
// It is the runner's default when no emitter is configured.
//
// Use cases:
//   - Deployments where event overhead is unwanted
//   - Tests that do not inspect events
//
// Example usage:
//
//	engine, err := graph.New(invoker, graph.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. It is safe for concurrent use and
// has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (*NullEmitter) Emit(Event) {}
