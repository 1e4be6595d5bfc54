package emit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFuncAndMulti(t *testing.T) {
	var got []EventType
	record := Func(func(ev Event) { got = append(got, ev.Type) })

	m := Multi{record, nil, record}
	m.Emit(Event{Type: NodeStarted})

	assert.Equal(t, []EventType{NodeStarted, NodeStarted}, got)
}

func TestNullEmitter(t *testing.T) {
	assert.NotPanics(t, func() { NewNullEmitter().Emit(Event{Type: RunCompleted}) })
}

func TestLogEmitter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := NewLogEmitter(zap.New(core))

	e.Emit(Event{Type: NodeCompleted, RunID: "run-1", Seq: 2, NodeID: "writer", InvocationID: "inv-1",
		Meta: map[string]interface{}{"usd_cost": 0.5, "next": []string{"critic"}}})
	e.Emit(Event{Type: NodeFailed, RunID: "run-1", Seq: 3, NodeID: "critic",
		Meta: map[string]interface{}{"error": "Rate limit exceeded"}})

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "node_completed", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, int64(2), fields["seq"])
	assert.Equal(t, "writer", fields["node_id"])
	assert.Equal(t, "inv-1", fields["invocation_id"])
	assert.Equal(t, 0.5, fields["usd_cost"])

	assert.Equal(t, "node_failed", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "Rate limit exceeded", entries[1].ContextMap()["error"])
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: NodeStarted, RunID: "r1", NodeID: "a"})
	b.Emit(Event{Type: NodeCompleted, RunID: "r1", NodeID: "a"})
	b.Emit(Event{Type: NodeStarted, RunID: "r1", NodeID: "b"})
	b.Emit(Event{Type: NodeStarted, RunID: "r2", NodeID: "a"})

	assert.Len(t, b.History("r1"), 3)
	assert.Len(t, b.Filter("r1", HistoryFilter{Type: NodeStarted}), 2)
	assert.Len(t, b.Filter("r1", HistoryFilter{Type: NodeStarted, NodeID: "b"}), 1)
	assert.Empty(t, b.History("unknown"))

	b.Clear("r1")
	assert.Empty(t, b.History("r1"))
	assert.Len(t, b.History("r2"), 1)

	b.Clear("")
	assert.Empty(t, b.History("r2"))
}

func TestBufferedEmitter_Concurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Emit(Event{Type: NodeStarted, RunID: "r"})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, b.History("r"), 400)
}

func TestOTelEmitter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := NewOTelEmitter(tp.Tracer("test"))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	e.Emit(Event{Type: NodeCompleted, RunID: "run-1", Seq: 4, NodeID: "writer", InvocationID: "inv-9", Time: at,
		Meta: map[string]interface{}{"usd_cost": 0.25, "duration_ms": int64(120), "next": []string{"end"}}})
	e.Emit(Event{Type: NodeFailed, RunID: "run-1", NodeID: "critic",
		Meta: map[string]interface{}{"error": "request cancelled"}})

	require.NoError(t, e.Flush(context.Background(), tp))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "node_completed", ok.Name)
	assert.True(t, ok.StartTime.Equal(at))
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ok.Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "run-1", attrs["agentgraph.run_id"].AsString())
	assert.Equal(t, int64(4), attrs["agentgraph.seq"].AsInt64())
	assert.Equal(t, "writer", attrs["agentgraph.node_id"].AsString())
	assert.Equal(t, "inv-9", attrs["agentgraph.invocation_id"].AsString())
	assert.Equal(t, 0.25, attrs["agentgraph.node.usd_cost"].AsFloat64())
	assert.Equal(t, int64(120), attrs["agentgraph.node.duration_ms"].AsInt64())
	assert.Equal(t, []string{"end"}, attrs["next"].AsStringSlice())
	assert.Equal(t, codes.Unset, ok.Status.Code)

	failed := spans[1]
	assert.Equal(t, "node_failed", failed.Name)
	assert.Equal(t, codes.Error, failed.Status.Code)
	assert.Equal(t, "request cancelled", failed.Status.Description)
	assert.Len(t, failed.Events, 1)
}

type blockingEmitter struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (b *blockingEmitter) Emit(ev Event) {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, ev)
	b.mu.Unlock()
}

func TestAsyncEmitter_NeverBlocks(t *testing.T) {
	slow := &blockingEmitter{release: make(chan struct{})}
	a := NewAsyncEmitter(slow, 2)

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 10; i++ {
			a.Emit(Event{Type: NodeStarted, Seq: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow consumer")
	}

	close(slow.release)
	a.Close()

	slow.mu.Lock()
	delivered := len(slow.got)
	for i := 1; i < delivered; i++ {
		assert.Less(t, slow.got[i-1].Seq, slow.got[i].Seq)
	}
	slow.mu.Unlock()

	assert.Equal(t, int64(10), int64(delivered)+a.Dropped())
	assert.Positive(t, a.Dropped())
}

func TestAsyncEmitter_CloseDrains(t *testing.T) {
	b := NewBufferedEmitter()
	a := NewAsyncEmitter(b, 0)
	for i := 0; i < 20; i++ {
		a.Emit(Event{Type: NodeStarted, RunID: "r"})
	}
	a.Close()
	a.Close()

	assert.Len(t, b.History("r"), 20)
	assert.Zero(t, a.Dropped())

	a.Emit(Event{Type: RunCompleted, RunID: "r"})
	assert.Equal(t, int64(1), a.Dropped())
}

func TestAsyncEmitter_ConsumerPanic(t *testing.T) {
	calls := 0
	a := NewAsyncEmitter(Func(func(Event) {
		calls++
		panic("boom")
	}), 4)
	a.Emit(Event{})
	a.Emit(Event{})
	a.Close()
	assert.Equal(t, 2, calls)
}
