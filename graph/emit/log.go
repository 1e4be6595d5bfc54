package emit

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LogEmitter implements Emitter by writing events to a zap logger.
//
// Levels:
//   - node_failed: Warn
//   - everything else: Info
//
// The event type is the log message. RunID, Seq, NodeID and InvocationID
// become the fields run_id, seq, node_id and invocation_id; Meta entries are
// added as typed fields (strings, numbers, durations, string slices and
// errors keep their type, anything else is formatted with %v).
//
// Example output (production encoder):
//
//	{"level":"info","msg":"node_completed","run_id":"3b1c...","seq":2,"node_id":"writer","usd_cost":0.0021}
//
// Usage:
//
//	logger, _ := zap.NewProduction()
//	emitter := emit.NewLogEmitter(logger.Named("events"))
//	engine, err := graph.New(invoker, graph.WithEmitter(emitter))
//
// LogEmitter is safe for concurrent use; zap loggers are.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger discards events.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

// Emit writes one log entry for event.
func (l *LogEmitter) Emit(event Event) {
	fields := make([]zap.Field, 0, 4+len(event.Meta))
	fields = append(fields, zap.String("run_id", event.RunID))
	if event.Seq > 0 {
		fields = append(fields, zap.Int("seq", event.Seq))
	}
	if event.NodeID != "" {
		fields = append(fields, zap.String("node_id", event.NodeID))
	}
	if event.InvocationID != "" {
		fields = append(fields, zap.String("invocation_id", event.InvocationID))
	}
	for key, value := range event.Meta {
		fields = append(fields, metaField(key, value))
	}

	if event.Type == NodeFailed {
		l.logger.Warn(string(event.Type), fields...)
		return
	}
	l.logger.Info(string(event.Type), fields...)
}

// metaField keeps the Go type of common Meta values.
func metaField(key string, value interface{}) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, v)
	case int:
		return zap.Int(key, v)
	case int64:
		return zap.Int64(key, v)
	case float64:
		return zap.Float64(key, v)
	case bool:
		return zap.Bool(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case []string:
		return zap.Strings(key, v)
	case error:
		return zap.NamedError(key, v)
	default:
		return zap.String(key, fmt.Sprintf("%v", v))
	}
}
