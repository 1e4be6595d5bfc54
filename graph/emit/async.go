package emit

import (
	"sync"
	"sync/atomic"
)

// DefaultAsyncBuffer is the queue size used when NewAsyncEmitter gets a
// non-positive size.
const DefaultAsyncBuffer = 256

// AsyncEmitter decouples a possibly slow emitter from the run loop.
//
// Behavior:
//   - Emit never blocks: events go into a bounded queue drained by one
//     goroutine
//   - Overflow: events are dropped when the queue is full; Dropped reports
//     how many were lost
//   - Order: delivery order is preserved for events that are kept
//   - Panics: a panicking consumer loses that event only; delivery goes on
//
// Example usage:
//
//	events := emit.NewAsyncEmitter(emit.Func(streamToClient), 128)
//	defer events.Close()
//	engine, _ := graph.New(invoker, graph.WithEmitter(events))
type AsyncEmitter struct {
	next    Emitter
	events  chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncEmitter starts the delivery goroutine. Call Close to stop it.
//
// Parameters:
//   - next: the emitter that receives events on the delivery goroutine
//   - size: queue capacity; non-positive uses DefaultAsyncBuffer
func NewAsyncEmitter(next Emitter, size int) *AsyncEmitter {
	if size <= 0 {
		size = DefaultAsyncBuffer
	}
	a := &AsyncEmitter{
		next:   next,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncEmitter) loop() {
	defer close(a.done)
	for ev := range a.events {
		a.deliver(ev)
	}
}

func (a *AsyncEmitter) deliver(ev Event) {
	// A panicking consumer must not take the delivery goroutine down.
	defer func() { _ = recover() }()
	a.next.Emit(ev)
}

// Emit queues event for delivery and returns immediately.
//
// The event is dropped, and counted in Dropped, when the queue is full or
// the emitter is closed.
func (a *AsyncEmitter) Emit(event Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.events <- event:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded so far.
func (a *AsyncEmitter) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until queued events are delivered.
// It is safe to call more than once.
func (a *AsyncEmitter) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	<-a.done
}
