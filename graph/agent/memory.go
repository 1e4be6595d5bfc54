package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/agentgraph/graph/tool"
)

const memoryToolName = "update_memory"

// memoryTool collects update_memory calls for a single invocation.
type memoryTool struct {
	mu      sync.Mutex
	mem     map[string]string
	touched bool
}

func newMemoryTool(initial map[string]string) *memoryTool {
	mem := make(map[string]string, len(initial))
	for k, v := range initial {
		mem[k] = v
	}
	return &memoryTool{mem: mem}
}

func (m *memoryTool) tool() tool.Tool {
	return &tool.Func{
		ToolName: memoryToolName,
		Desc:     "Store a fact in your memory for later steps. An empty value deletes the key.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"key":   map[string]interface{}{"type": "string"},
				"value": map[string]interface{}{"type": "string"},
			},
			"required": []string{"key"},
		},
		Fn: m.call,
	}
}

func (m *memoryTool) call(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	key, _ := input["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	var value string
	switch v := input["value"].(type) {
	case nil:
	case string:
		value = v
	default:
		value = fmt.Sprint(v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if value == "" {
		delete(m.mem, key)
	} else {
		m.mem[key] = value
	}
	m.touched = true
	return map[string]interface{}{"ok": true, "keys": len(m.mem)}, nil
}

// updated returns the new memory, or nil when the tool was never called.
func (m *memoryTool) updated() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.touched {
		return nil
	}
	out := make(map[string]string, len(m.mem))
	for k, v := range m.mem {
		out[k] = v
	}
	return out
}
