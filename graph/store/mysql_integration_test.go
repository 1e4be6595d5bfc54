package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMySQLIntegration runs the store against a real MySQL server.
//
// To run it:
//
//	export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/test_db"
//	go test -v -run TestMySQLIntegration ./graph/store
func TestMySQLIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL integration test: Set TEST_MYSQL_DSN environment variable to run")
	}

	st, err := NewMySQLStore(dsn)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Ping(ctx))

	run := fmt.Sprintf("it-%d", time.Now().UnixNano())
	msgID := run + "-m1"

	require.NoError(t, st.SaveMessage(ctx, MessageRecord{
		ID: msgID, WorkflowInvocationID: run, FromNodeID: "start", ToNodeID: "writer",
		Kind: "sequential", Payload: json.RawMessage(`{"kind":"sequential","prompt":"go"}`), CreatedAt: time.Now(),
	}))
	require.NoError(t, st.StampMessage(ctx, msgID, run+"-inv1"))
	require.NoError(t, st.StampMessage(ctx, msgID, run+"-inv2"))

	msgs, err := st.LoadMessages(ctx, run)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, run+"-inv1", msgs[0].TargetInvocationID)

	require.NoError(t, st.SaveMemory(ctx, MemoryRecord{WorkflowInvocationID: run, NodeID: "writer", Memory: map[string]string{"k": "v1"}}))
	require.NoError(t, st.SaveMemory(ctx, MemoryRecord{WorkflowInvocationID: run, NodeID: "writer", Memory: map[string]string{"k": "v2"}}))
	mem, err := st.LoadMemory(ctx, run, "writer")
	require.NoError(t, err)
	assert.Equal(t, "v2", mem.Memory["k"])
}
