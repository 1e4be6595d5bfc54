package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes one span:
//   - Span name: the event type (node_started, node_completed, ...)
//   - Attributes: agentgraph.run_id, agentgraph.seq, agentgraph.node_id,
//     agentgraph.invocation_id and every Meta entry
//   - Cost and latency: usd_cost and duration_ms are renamed to
//     agentgraph.node.usd_cost and agentgraph.node.duration_ms
//   - Timestamps: the span starts and ends at event.Time when set
//   - Status: a non-empty Meta "error" string sets codes.Error and records
//     the error on the span
//
// Spans are started from context.Background(), so each event is a root
// span grouped by the run_id attribute.
//
// Usage:
//
//	// exporter is any sdktrace.SpanExporter (OTLP, Jaeger, stdout).
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
//	emitter := emit.NewOTelEmitter(otel.Tracer("agentgraph"))
//	engine, err := graph.New(invoker, graph.WithEmitter(emitter))
//
//	// Before exit:
//	_ = emitter.Flush(ctx, tp)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that records spans with tracer.
//
// Parameters:
//   - tracer: usually otel.Tracer("agentgraph") or tp.Tracer(...) from an
//     SDK provider
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records event as a single ended span.
func (o *OTelEmitter) Emit(event Event) {
	opts := []trace.SpanStartOption{trace.WithAttributes(standardAttributes(event)...)}
	if !event.Time.IsZero() {
		opts = append(opts, trace.WithTimestamp(event.Time))
	}
	_, span := o.tracer.Start(context.Background(), string(event.Type), opts...)

	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute(key, value))
	}
	if msg, ok := event.Meta["error"].(string); ok && msg != "" {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}

	if !event.Time.IsZero() {
		span.End(trace.WithTimestamp(event.Time))
		return
	}
	span.End()
}

// Flush forces export of buffered spans.
//
// Parameters:
//   - ctx: bounds the export
//   - provider: the provider the emitter's tracer came from; providers
//     without ForceFlush (the global no-op one) are ignored
//
// Returns the exporter's error, if any.
func (o *OTelEmitter) Flush(ctx context.Context, provider trace.TracerProvider) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := provider.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func standardAttributes(event Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("agentgraph.run_id", event.RunID)}
	if event.Seq > 0 {
		attrs = append(attrs, attribute.Int("agentgraph.seq", event.Seq))
	}
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("agentgraph.node_id", event.NodeID))
	}
	if event.InvocationID != "" {
		attrs = append(attrs, attribute.String("agentgraph.invocation_id", event.InvocationID))
	}
	return attrs
}

func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch key {
	case "usd_cost":
		key = "agentgraph.node.usd_cost"
	case "duration_ms":
		key = "agentgraph.node.duration_ms"
	}

	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
