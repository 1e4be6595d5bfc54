package tool

import (
	"context"
	"sync"
)

// MockTool is a test implementation of Tool.
//
// Use MockTool to drive a node's tool-use loop without side effects. It
// provides:
//   - A configurable tool name
//   - Scripted responses; the last one repeats once they are consumed
//   - Call history for asserting on the arguments the model chose
//   - Error injection
//   - Thread-safe operation
//
// Example usage:
//
//	search := &tool.MockTool{
//	    ToolName:  "search",
//	    Responses: []map[string]interface{}{{"hits": 3}},
//	}
//	a := agent.New(exec, agent.WithTools(tool.NewRegistry(search)))
//	// ... run a workflow whose node lists tools: [search] ...
//	require.Equal(t, 1, search.CallCount())
//	assert.Equal(t, "golang", search.Calls[0].Input["q"])
//
// Example with error injection:
//
//	fetch := &tool.MockTool{ToolName: "fetch", Err: errors.New("connection refused")}
type MockTool struct {
	// ToolName is returned by Name.
	ToolName string

	// Responses is the sequence of outputs returned by Call.
	Responses []map[string]interface{}

	// Err, if set, is returned by every call instead of a response.
	Err error

	// Calls is the history of every Call, failed ones included.
	Calls []MockToolCall

	mu        sync.Mutex // guards Calls and callIndex
	callIndex int
}

// MockToolCall records a single invocation of Call.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements Tool.
//
// Returns:
//   - ctx.Err() when the context is already done (the call is not recorded)
//   - Err when set
//   - the next response, or an empty map when Responses is empty
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of times Call has been invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
