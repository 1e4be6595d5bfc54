package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/model"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	name         string
	schema       []string
	upsertMemory string
}

// sqlStore implements Store over database/sql. SQLiteStore and MySQLStore
// wrap it with their dialect. Timestamps are stored as Unix nanoseconds.
type sqlStore struct {
	db      *sql.DB
	dialect dialect

	mu     sync.RWMutex
	closed bool
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return s, nil
}

func (s *sqlStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveMessage implements Store.
func (s *sqlStore) SaveMessage(ctx context.Context, rec MessageRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, workflow_invocation_id, seq, from_node_id, to_node_id,
			origin_invocation_id, target_invocation_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowInvocationID, rec.Seq, rec.FromNodeID, rec.ToNodeID,
		rec.OriginInvocationID, rec.TargetInvocationID, rec.Kind, string(rec.Payload), unixNano(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// StampMessage implements Store.
func (s *sqlStore) StampMessage(ctx context.Context, messageID, targetInvocationID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET target_invocation_id = ? WHERE id = ? AND target_invocation_id = ''`,
		targetInvocationID, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to stamp message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, messageID).Scan(&count); err != nil {
		return fmt.Errorf("failed to stamp message: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveInvocation implements Store.
func (s *sqlStore) SaveInvocation(ctx context.Context, rec InvocationRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_invocations (id, workflow_invocation_id, node_id, output, usd_cost,
			error, summary, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowInvocationID, rec.NodeID, rec.Output, rec.UsdCost,
		rec.Error, rec.Summary, unixNano(rec.StartedAt), unixNano(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save invocation: %w", err)
	}
	return nil
}

// SaveModelOutput implements Store.
func (s *sqlStore) SaveModelOutput(ctx context.Context, rec invoke.OutputRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_outputs (id, workflow_invocation_id, node_id, provider, model, attempt,
			text, reasoning, input_tokens, output_tokens, usd_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowInvocationID, rec.NodeID, rec.Provider, rec.Model, rec.Attempt,
		rec.Text, rec.Reasoning, rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.CostUSD, unixNano(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save model output: %w", err)
	}
	return nil
}

// SaveMemory implements Store.
func (s *sqlStore) SaveMemory(ctx context.Context, rec MemoryRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	memJSON, err := json.Marshal(rec.Memory)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertMemory,
		rec.WorkflowInvocationID, rec.NodeID, string(memJSON), unixNano(rec.UpdatedAt),
	); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

// SaveEvaluation implements Store.
func (s *sqlStore) SaveEvaluation(ctx context.Context, rec EvaluationRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, workflow_invocation_id, score, accuracy, novelty,
			total_cost_usd, total_time_seconds, evaluation_cost_usd, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowInvocationID, rec.Score, rec.Accuracy, rec.Novelty,
		rec.TotalCostUsd, rec.TotalTimeSeconds, rec.EvaluationCostUsd, rec.Feedback, unixNano(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	return nil
}

// LoadMessages implements Store.
func (s *sqlStore) LoadMessages(ctx context.Context, workflowInvocationID string) ([]MessageRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_invocation_id, seq, from_node_id, to_node_id,
			origin_invocation_id, target_invocation_id, kind, payload, created_at
		FROM messages WHERE workflow_invocation_id = ? ORDER BY seq`, workflowInvocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var (
			rec     MessageRecord
			payload string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowInvocationID, &rec.Seq, &rec.FromNodeID, &rec.ToNodeID,
			&rec.OriginInvocationID, &rec.TargetInvocationID, &rec.Kind, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		rec.CreatedAt = fromUnixNano(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadInvocations implements Store.
func (s *sqlStore) LoadInvocations(ctx context.Context, workflowInvocationID string) ([]InvocationRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_invocation_id, node_id, output, usd_cost, error, summary, started_at, finished_at
		FROM node_invocations WHERE workflow_invocation_id = ? ORDER BY started_at, id`, workflowInvocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var (
			rec               InvocationRecord
			started, finished int64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowInvocationID, &rec.NodeID, &rec.Output, &rec.UsdCost,
			&rec.Error, &rec.Summary, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		rec.StartedAt = fromUnixNano(started)
		rec.FinishedAt = fromUnixNano(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadModelOutputs implements Store.
func (s *sqlStore) LoadModelOutputs(ctx context.Context, workflowInvocationID string) ([]invoke.OutputRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_invocation_id, node_id, provider, model, attempt, text, reasoning,
			input_tokens, output_tokens, usd_cost, created_at
		FROM model_outputs WHERE workflow_invocation_id = ? ORDER BY created_at, id`, workflowInvocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load model outputs: %w", err)
	}
	defer rows.Close()

	var out []invoke.OutputRecord
	for rows.Next() {
		var (
			rec     invoke.OutputRecord
			usage   model.Usage
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowInvocationID, &rec.NodeID, &rec.Provider, &rec.Model, &rec.Attempt,
			&rec.Text, &rec.Reasoning, &usage.InputTokens, &usage.OutputTokens, &rec.CostUSD, &created); err != nil {
			return nil, fmt.Errorf("failed to scan model output: %w", err)
		}
		rec.Usage = usage
		rec.CreatedAt = fromUnixNano(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadMemory implements Store.
func (s *sqlStore) LoadMemory(ctx context.Context, workflowInvocationID, nodeID string) (MemoryRecord, error) {
	if err := s.checkOpen(); err != nil {
		return MemoryRecord{}, err
	}
	var (
		memJSON string
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT memory, updated_at FROM node_memory WHERE workflow_invocation_id = ? AND node_id = ?`,
		workflowInvocationID, nodeID,
	).Scan(&memJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryRecord{}, ErrNotFound
	}
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("failed to load memory: %w", err)
	}

	rec := MemoryRecord{WorkflowInvocationID: workflowInvocationID, NodeID: nodeID, UpdatedAt: fromUnixNano(updated)}
	if err := json.Unmarshal([]byte(memJSON), &rec.Memory); err != nil {
		return MemoryRecord{}, fmt.Errorf("failed to unmarshal memory: %w", err)
	}
	return rec, nil
}

// LoadEvaluations implements Store.
func (s *sqlStore) LoadEvaluations(ctx context.Context, workflowInvocationID string) ([]EvaluationRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_invocation_id, score, accuracy, novelty, total_cost_usd,
			total_time_seconds, evaluation_cost_usd, feedback, created_at
		FROM evaluations WHERE workflow_invocation_id = ? ORDER BY created_at, id`, workflowInvocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}
	defer rows.Close()

	var out []EvaluationRecord
	for rows.Next() {
		var (
			rec     EvaluationRecord
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowInvocationID, &rec.Score, &rec.Accuracy, &rec.Novelty,
			&rec.TotalCostUsd, &rec.TotalTimeSeconds, &rec.EvaluationCostUsd, &rec.Feedback, &created); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		rec.CreatedAt = fromUnixNano(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database connection. Double close is a no-op.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
