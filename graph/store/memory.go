package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/agentgraph/graph/invoke"
)

// MemStore is an in-memory Store.
//
// Designed for:
//   - Testing and development
//   - Single-process runs where records need not outlive the process
//
// Returned slices and maps are copies; callers may modify them freely.
type MemStore struct {
	mu          sync.RWMutex
	closed      bool
	messages    map[string]MessageRecord // message id -> record
	invocations map[string][]InvocationRecord
	outputs     map[string][]invoke.OutputRecord
	memory      map[memoryKey]MemoryRecord
	evaluations map[string][]EvaluationRecord
}

type memoryKey struct{ run, node string }

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		messages:    make(map[string]MessageRecord),
		invocations: make(map[string][]InvocationRecord),
		outputs:     make(map[string][]invoke.OutputRecord),
		memory:      make(map[memoryKey]MemoryRecord),
		evaluations: make(map[string][]EvaluationRecord),
	}
}

// SaveMessage implements Store.
func (m *MemStore) SaveMessage(_ context.Context, rec MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	m.messages[rec.ID] = rec
	return nil
}

// StampMessage implements Store.
func (m *MemStore) StampMessage(_ context.Context, messageID, targetInvocationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if rec.TargetInvocationID == "" {
		rec.TargetInvocationID = targetInvocationID
		m.messages[messageID] = rec
	}
	return nil
}

// SaveInvocation implements Store.
func (m *MemStore) SaveInvocation(_ context.Context, rec InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.invocations[rec.WorkflowInvocationID] = append(m.invocations[rec.WorkflowInvocationID], rec)
	return nil
}

// SaveModelOutput implements Store.
func (m *MemStore) SaveModelOutput(_ context.Context, rec invoke.OutputRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.outputs[rec.WorkflowInvocationID] = append(m.outputs[rec.WorkflowInvocationID], rec)
	return nil
}

// SaveMemory implements Store.
func (m *MemStore) SaveMemory(_ context.Context, rec MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec.Memory = copyMemory(rec.Memory)
	m.memory[memoryKey{rec.WorkflowInvocationID, rec.NodeID}] = rec
	return nil
}

// SaveEvaluation implements Store.
func (m *MemStore) SaveEvaluation(_ context.Context, rec EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.evaluations[rec.WorkflowInvocationID] = append(m.evaluations[rec.WorkflowInvocationID], rec)
	return nil
}

// LoadMessages implements Store.
func (m *MemStore) LoadMessages(_ context.Context, workflowInvocationID string) ([]MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []MessageRecord
	for _, rec := range m.messages {
		if rec.WorkflowInvocationID == workflowInvocationID {
			rec.Payload = append([]byte(nil), rec.Payload...)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LoadInvocations implements Store.
func (m *MemStore) LoadInvocations(_ context.Context, workflowInvocationID string) ([]InvocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]InvocationRecord(nil), m.invocations[workflowInvocationID]...), nil
}

// LoadModelOutputs implements Store.
func (m *MemStore) LoadModelOutputs(_ context.Context, workflowInvocationID string) ([]invoke.OutputRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]invoke.OutputRecord(nil), m.outputs[workflowInvocationID]...), nil
}

// LoadMemory implements Store.
func (m *MemStore) LoadMemory(_ context.Context, workflowInvocationID, nodeID string) (MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return MemoryRecord{}, ErrClosed
	}
	rec, ok := m.memory[memoryKey{workflowInvocationID, nodeID}]
	if !ok {
		return MemoryRecord{}, ErrNotFound
	}
	rec.Memory = copyMemory(rec.Memory)
	return rec, nil
}

// LoadEvaluations implements Store.
func (m *MemStore) LoadEvaluations(_ context.Context, workflowInvocationID string) ([]EvaluationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]EvaluationRecord(nil), m.evaluations[workflowInvocationID]...), nil
}

// Close marks the store closed. Double close is a no-op.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyMemory(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
