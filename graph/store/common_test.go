package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/model"
	"github.com/dshills/agentgraph/graph/store"
)

// storeFactories lists every implementation that must satisfy the Store
// contract without external services.
func storeFactories() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			return store.NewMemStore()
		},
		"sqlite": func(t *testing.T) store.Store {
			st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			return st
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Helper()
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

func ts(sec int) time.Time {
	return time.Unix(1_700_000_000+int64(sec), 0)
}

func TestStore_MessagesOrderedBySeq(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		for _, seq := range []int{2, 0, 1} {
			require.NoError(t, st.SaveMessage(ctx, store.MessageRecord{
				ID:                   "m" + string(rune('a'+seq)),
				WorkflowInvocationID: "run-1",
				Seq:                  seq,
				FromNodeID:           "start",
				ToNodeID:             "writer",
				Kind:                 "sequential",
				Payload:              json.RawMessage(`{"kind":"sequential","prompt":"hi"}`),
				CreatedAt:            ts(seq),
			}))
		}
		require.NoError(t, st.SaveMessage(ctx, store.MessageRecord{
			ID: "other", WorkflowInvocationID: "run-2", Kind: "sequential", Payload: json.RawMessage(`{}`),
		}))

		msgs, err := st.LoadMessages(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, m := range msgs {
			assert.Equal(t, i, m.Seq)
			assert.Equal(t, ts(i).UnixNano(), m.CreatedAt.UnixNano())
		}
		assert.JSONEq(t, `{"kind":"sequential","prompt":"hi"}`, string(msgs[0].Payload))
	})
}

func TestStore_StampMessageOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		require.NoError(t, st.SaveMessage(ctx, store.MessageRecord{
			ID: "m1", WorkflowInvocationID: "run-1", Kind: "delegation", Payload: json.RawMessage(`{}`),
		}))

		require.NoError(t, st.StampMessage(ctx, "m1", "inv-1"))
		require.NoError(t, st.StampMessage(ctx, "m1", "inv-2"))

		msgs, err := st.LoadMessages(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "inv-1", msgs[0].TargetInvocationID)

		assert.ErrorIs(t, st.StampMessage(ctx, "missing", "inv-3"), store.ErrNotFound)
	})
}

func TestStore_Invocations(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		require.NoError(t, st.SaveInvocation(ctx, store.InvocationRecord{
			ID: "inv-2", WorkflowInvocationID: "run-1", NodeID: "writer",
			Output: "draft", UsdCost: 0.25, Summary: "wrote a draft",
			StartedAt: ts(2), FinishedAt: ts(3),
		}))
		require.NoError(t, st.SaveInvocation(ctx, store.InvocationRecord{
			ID: "inv-1", WorkflowInvocationID: "run-1", NodeID: "planner",
			Error: "Rate limit exceeded", StartedAt: ts(1), FinishedAt: ts(2),
		}))

		invs, err := st.LoadInvocations(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, invs, 2)
		assert.Equal(t, "inv-1", invs[0].ID)
		assert.Equal(t, "Rate limit exceeded", invs[0].Error)
		assert.Equal(t, "inv-2", invs[1].ID)
		assert.InDelta(t, 0.25, invs[1].UsdCost, 1e-9)
		assert.Equal(t, "wrote a draft", invs[1].Summary)

		none, err := st.LoadInvocations(ctx, "run-unknown")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_ModelOutputs(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		rec := invoke.OutputRecord{
			ID: "out-1", WorkflowInvocationID: "run-1", NodeID: "writer",
			Provider: "openai", Model: "gpt-4o-mini", Attempt: 2,
			Text: "hello", Reasoning: "thinking",
			Usage:   model.Usage{InputTokens: 10, OutputTokens: 4},
			CostUSD: 0.001, CreatedAt: ts(5),
		}
		require.NoError(t, st.SaveModelOutput(ctx, rec))

		outs, err := st.LoadModelOutputs(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, outs, 1)
		got := outs[0]
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Provider, got.Provider)
		assert.Equal(t, rec.Model, got.Model)
		assert.Equal(t, 2, got.Attempt)
		assert.Equal(t, "hello", got.Text)
		assert.Equal(t, "thinking", got.Reasoning)
		assert.Equal(t, rec.Usage, got.Usage)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})
}

func TestStore_MemoryUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()

		_, err := st.LoadMemory(ctx, "run-1", "writer")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, st.SaveMemory(ctx, store.MemoryRecord{
			WorkflowInvocationID: "run-1", NodeID: "writer",
			Memory: map[string]string{"tone": "formal"}, UpdatedAt: ts(1),
		}))
		require.NoError(t, st.SaveMemory(ctx, store.MemoryRecord{
			WorkflowInvocationID: "run-1", NodeID: "writer",
			Memory: map[string]string{"tone": "casual", "audience": "kids"}, UpdatedAt: ts(2),
		}))

		rec, err := st.LoadMemory(ctx, "run-1", "writer")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"tone": "casual", "audience": "kids"}, rec.Memory)
		assert.True(t, ts(2).Equal(rec.UpdatedAt))
	})
}

func TestStore_Evaluations(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		require.NoError(t, st.SaveEvaluation(ctx, store.EvaluationRecord{
			ID: "ev-1", WorkflowInvocationID: "run-1",
			Score: 72, Accuracy: 80, Novelty: 40,
			TotalCostUsd: 0.5, TotalTimeSeconds: 12.5, EvaluationCostUsd: 0.01,
			Feedback: "cite sources", CreatedAt: ts(9),
		}))

		evs, err := st.LoadEvaluations(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.InDelta(t, 72, evs[0].Score, 1e-9)
		assert.InDelta(t, 12.5, evs[0].TotalTimeSeconds, 1e-9)
		assert.Equal(t, "cite sources", evs[0].Feedback)
	})
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			require.NoError(t, st.Close())
			require.NoError(t, st.Close())

			ctx := context.Background()
			assert.ErrorIs(t, st.SaveMessage(ctx, store.MessageRecord{ID: "m"}), store.ErrClosed)
			_, err := st.LoadInvocations(ctx, "run-1")
			assert.ErrorIs(t, err, store.ErrClosed)
			_, err = st.LoadMemory(ctx, "run-1", "n")
			assert.ErrorIs(t, err, store.ErrClosed)
		})
	}
}

func TestOpen(t *testing.T) {
	st, err := store.Open(store.Config{})
	require.NoError(t, err)
	assert.IsType(t, &store.MemStore{}, st)

	st, err = store.Open(store.Config{Driver: "sqlite"})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = store.Open(store.Config{Driver: "mysql"})
	assert.ErrorContains(t, err, "requires a dsn")

	_, err = store.Open(store.Config{Driver: "postgres"})
	assert.ErrorContains(t, err, `unknown store driver "postgres"`)
}
