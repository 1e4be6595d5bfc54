// Package tool defines the tools a workflow node may call during a tool-use
// loop, and a registry that resolves a node's allowed tool names.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/agentgraph/graph/model"
)

// Tool is an external capability a model can invoke by name.
//
// Implementations must be safe for concurrent use: the same tool instance is
// shared by every node of every run that allows it.
type Tool interface {
	// Name is the unique identifier the model uses to call the tool.
	Name() string

	// Call executes the tool. Input is the decoded JSON arguments chosen by
	// the model; the returned map is serialized back into the conversation.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Describer is implemented by tools that can describe themselves to a model.
//
// Tools without it are offered to the model by name only, which works for
// self-explanatory tools but gives the model no argument schema.
type Describer interface {
	// Description tells the model when to use the tool.
	Description() string

	// Schema is a JSON schema object for the tool's input.
	Schema() map[string]interface{}
}

// SpecOf builds the model-facing spec for a tool.
func SpecOf(t Tool) model.ToolSpec {
	spec := model.ToolSpec{Name: t.Name()}
	if d, ok := t.(Describer); ok {
		spec.Description = d.Description()
		spec.Schema = d.Schema()
	}
	return spec
}

// Specs builds model-facing specs for a tool list, preserving order.
func Specs(tools []Tool) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, SpecOf(t))
	}
	return specs
}

// Registry holds the tools available to workflows, keyed by name.
//
// Nodes list tool names in NodeConfig.Tools; the agent resolves them with
// Select at invocation time. Registry is safe for concurrent use.
//
// Example usage:
//
//	tools := tool.NewRegistry(tool.NewHTTPTool())
//	tools.Register(&tool.Func{
//	    ToolName: "clock",
//	    Desc:     "Current UTC time",
//	    Fn: func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
//	        return map[string]interface{}{"now": time.Now().UTC().Format(time.RFC3339)}, nil
//	    },
//	})
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns a registry containing tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Select resolves a list of tool names. Unknown names are an error.
func (r *Registry) Select(names []string) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a function into a Tool that also implements Describer.
type Func struct {
	ToolName    string
	Desc        string
	InputSchema map[string]interface{}
	Fn          func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Name implements Tool.
func (f *Func) Name() string { return f.ToolName }

// Description implements Describer.
func (f *Func) Description() string { return f.Desc }

// Schema implements Describer.
func (f *Func) Schema() map[string]interface{} { return f.InputSchema }

// Call implements Tool by calling Fn.
func (f *Func) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.Fn(ctx, input)
}
