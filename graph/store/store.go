// Package store persists workflow run records.
//
// Persistence is best-effort from the runner's point of view: a failed write
// is logged and never fails a run. The records form an audit trail linking
// every message to the node invocation it produced.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dshills/agentgraph/graph/invoke"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store persists the records of workflow runs.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single runs
//   - SQLiteStore: single-file database
//   - MySQLStore: shared database for many workers
//
// All implementations are safe for concurrent use. Every method returns
// ErrClosed after Close.
//
// Example usage:
//
//	st, err := store.NewSQLiteStore("runs.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	engine, _ := graph.New(invoker, graph.WithStore(st))
//	res, _ := engine.QueueRun(ctx, req)
//
//	msgs, _ := st.LoadMessages(ctx, res.WorkflowInvocationID)
//	for _, m := range msgs {
//	    fmt.Println(m.Seq, m.FromNodeID, "->", m.ToNodeID, m.TargetInvocationID)
//	}
type Store interface {
	// SaveMessage records a queued message.
	//
	// Parameters:
	//   - rec.ID: unique message id; saving the same id twice is an error
	//     for the SQL stores
	//   - rec.TargetInvocationID: normally empty; filled by StampMessage
	SaveMessage(ctx context.Context, rec MessageRecord) error

	// StampMessage links a consumed message to the node invocation it
	// produced. A message is stamped at most once; later stamps are ignored.
	//
	// Returns ErrNotFound when messageID was never saved.
	StampMessage(ctx context.Context, messageID, targetInvocationID string) error

	// SaveInvocation records one node invocation.
	SaveInvocation(ctx context.Context, rec InvocationRecord) error

	// SaveModelOutput records a raw model output. It satisfies
	// invoke.OutputSaver.
	SaveModelOutput(ctx context.Context, rec invoke.OutputRecord) error

	// SaveMemory upserts the final memory of a node for a run.
	SaveMemory(ctx context.Context, rec MemoryRecord) error

	// SaveEvaluation records the evaluation of a run.
	SaveEvaluation(ctx context.Context, rec EvaluationRecord) error

	// LoadMessages returns the run's messages ordered by seq.
	//
	// An unknown run yields no records and a nil error, not ErrNotFound.
	LoadMessages(ctx context.Context, workflowInvocationID string) ([]MessageRecord, error)

	// LoadInvocations returns the run's invocations in the order they started.
	LoadInvocations(ctx context.Context, workflowInvocationID string) ([]InvocationRecord, error)

	// LoadModelOutputs returns the run's saved model outputs.
	LoadModelOutputs(ctx context.Context, workflowInvocationID string) ([]invoke.OutputRecord, error)

	// LoadMemory returns ErrNotFound when no memory was saved.
	LoadMemory(ctx context.Context, workflowInvocationID, nodeID string) (MemoryRecord, error)

	// LoadEvaluations returns the run's evaluations, oldest first.
	LoadEvaluations(ctx context.Context, workflowInvocationID string) ([]EvaluationRecord, error)

	// Close releases the store. Closing twice is a no-op.
	Close() error
}

// MessageRecord is a persisted workflow message.
type MessageRecord struct {
	ID                   string          `json:"id"`
	WorkflowInvocationID string          `json:"workflowInvocationId"`
	Seq                  int             `json:"seq"`
	FromNodeID           string          `json:"fromNodeId"`
	ToNodeID             string          `json:"toNodeId"`
	OriginInvocationID   string          `json:"originInvocationId,omitempty"`
	TargetInvocationID   string          `json:"targetInvocationId,omitempty"`
	Kind                 string          `json:"kind"`
	Payload              json.RawMessage `json:"payload"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// InvocationRecord is a persisted node invocation.
type InvocationRecord struct {
	ID                   string    `json:"id"`
	WorkflowInvocationID string    `json:"workflowInvocationId"`
	NodeID               string    `json:"nodeId"`
	Output               string    `json:"output"`
	UsdCost              float64   `json:"usdCost"`
	Error                string    `json:"error,omitempty"`
	Summary              string    `json:"summary,omitempty"`
	StartedAt            time.Time `json:"startedAt"`
	FinishedAt           time.Time `json:"finishedAt"`
}

// MemoryRecord is the memory of one node at the end of a run.
type MemoryRecord struct {
	WorkflowInvocationID string            `json:"workflowInvocationId"`
	NodeID               string            `json:"nodeId"`
	Memory               map[string]string `json:"memory"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// EvaluationRecord is the fitness and feedback of a run.
type EvaluationRecord struct {
	ID                   string    `json:"id"`
	WorkflowInvocationID string    `json:"workflowInvocationId"`
	Score                float64   `json:"score"`
	Accuracy             float64   `json:"accuracy"`
	Novelty              float64   `json:"novelty"`
	TotalCostUsd         float64   `json:"totalCostUsd"`
	TotalTimeSeconds     float64   `json:"totalTimeSeconds"`
	EvaluationCostUsd    float64   `json:"evaluationCostUsd"`
	Feedback             string    `json:"feedback,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}
