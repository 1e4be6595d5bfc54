// Package agent provides the model-backed graph.NodeInvoker.
//
// An Agent turns a dispatched workflow message into a model call: it
// assembles the node's prompt, runs either a direct text completion or a
// tool-use loop through an invoke.Executor, decides where the reply goes
// next, and reports cost, memory writes, a summary and a transcript back to
// the runner.
package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/tool"
)

const (
	// DefaultModel is used for nodes that name no model.
	DefaultModel = "balanced"

	// DefaultSummaryChars bounds the excerpt kept as an invocation summary.
	DefaultSummaryChars = 280
)

// Agent invokes workflow nodes against language models.
//
// Per invocation the agent:
//   - builds the prompt from the node's system prompt, role, memory and the
//     dispatched payload
//   - runs a text call, or a tool-use loop when the node has tools or memory
//   - picks the next nodes according to the node's handoff type
//   - reports an ErrorPayload to the first handoff when the call fails
//
// Thread-safety: an Agent is safe for concurrent use; the runner invokes it
// from several goroutines for parallel handoffs.
//
// Example usage:
//
//	exec := invoke.NewExecutor(bound, invoke.WithLogger(logger))
//	a := agent.New(exec,
//	    agent.WithTools(tool.NewRegistry(tool.NewHTTPTool())),
//	    agent.WithDefaultModel("fast"),
//	)
//	engine, err := graph.New(a, graph.WithLogger(logger))
type Agent struct {
	exec   *invoke.Executor
	tools  *tool.Registry
	logger *zap.Logger

	defaultModel string
	maxSteps     int
	reasoning    bool
	saveOutputs  bool
	summaryChars int
	newID        func() string
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools sets the registry node tool names are resolved against.
func WithTools(r *tool.Registry) Option {
	return func(a *Agent) { a.tools = r }
}

// WithLogger sets the agent's logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDefaultModel sets the model reference used when a node names none.
func WithDefaultModel(ref string) Option {
	return func(a *Agent) {
		if ref != "" {
			a.defaultModel = ref
		}
	}
}

// WithMaxSteps bounds the tool-use loop. Zero uses the executor's default
// of 5 rounds.
func WithMaxSteps(n int) Option {
	return func(a *Agent) { a.maxSteps = n }
}

// WithReasoning runs node calls with the reasoning budget.
func WithReasoning(on bool) Option {
	return func(a *Agent) { a.reasoning = on }
}

// WithSaveOutputs persists every raw model output through the executor's
// output saver.
func WithSaveOutputs(on bool) Option {
	return func(a *Agent) { a.saveOutputs = on }
}

// WithSummaryChars sets the summary excerpt length.
func WithSummaryChars(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.summaryChars = n
		}
	}
}

// New returns an Agent that calls models through exec.
//
// Defaults: DefaultModel for nodes without a model, an empty tool registry,
// no reasoning budget and no saved outputs.
func New(exec *invoke.Executor, opts ...Option) *Agent {
	a := &Agent{
		exec:         exec,
		tools:        tool.NewRegistry(),
		logger:       zap.NewNop(),
		defaultModel: DefaultModel,
		summaryChars: DefaultSummaryChars,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InvokeNode implements graph.NodeInvoker.
func (a *Agent) InvokeNode(ctx context.Context, req graph.NodeRequest) graph.NodeInvocationResult {
	node := req.Node
	res := graph.NodeInvocationResult{
		InvocationID: a.newID(),
		Summary:      graph.AgentSummary{NodeID: node.ID},
	}
	res.Summary.InvocationID = res.InvocationID
	logger := a.logger.With(
		zap.String("run_id", req.WorkflowInvocationID),
		zap.String("node_id", node.ID),
		zap.String("invocation_id", res.InvocationID),
	)

	callReq := invoke.Request{
		Messages:             buildMessages(req),
		Model:                a.modelFor(node),
		Options:              invoke.Options{Reasoning: a.reasoning, MaxSteps: a.maxSteps, SaveOutputs: a.saveOutputs},
		WorkflowInvocationID: req.WorkflowInvocationID,
		NodeID:               node.ID,
	}

	tools, err := a.tools.Select(node.Tools)
	if err != nil {
		logger.Warn("node tool selection failed", zap.Error(err))
		return a.fail(res, node, err.Error(), "")
	}
	var mem *memoryTool
	if node.Memory != nil {
		mem = newMemoryTool(node.Memory)
		tools = append(tools, mem.tool())
	}

	var output string
	if len(tools) == 0 {
		resp := a.exec.Text(ctx, callReq)
		res.UsdCost += resp.UsdCost
		if !resp.Success {
			res.Logs = append(res.Logs, a.logEntry(res, graph.LogError, resp.Error, resp.UsdCost))
			return a.fail(res, node, resp.Error, "")
		}
		output = resp.Data.Text
		res.Logs = append(res.Logs, a.logEntry(res, graph.LogText, output, resp.UsdCost))
	} else {
		resp := a.exec.Tool(ctx, callReq, tools)
		res.UsdCost += resp.UsdCost
		res.Logs = append(res.Logs, stepLogs(node.ID, res.InvocationID, resp.Data.Steps)...)
		if mem != nil {
			res.UpdatedMemory = mem.updated()
		}
		if !resp.Success {
			return a.fail(res, node, resp.Error, toolStack(resp.Data.Steps))
		}
		output = resp.Data.Text
	}

	res.Output = output
	res.Summary.Summary = excerpt(output, a.summaryChars)

	next, cost, reason := a.chooseNext(ctx, req, output)
	res.NextIDs = next
	if cost > 0 || reason != "" {
		res.UsdCost += cost
		res.Logs = append(res.Logs, a.logEntry(res, graph.LogText, "handoff: "+strings.Join(next, ", ")+reasonSuffix(reason), cost))
	}
	res.Reply = replyFor(req, output, next)

	logger.Debug("node invocation complete",
		zap.Strings("next", next),
		zap.Float64("usd_cost", res.UsdCost),
	)
	return res
}

func (a *Agent) modelFor(node graph.NodeConfig) string {
	if node.ModelName != "" {
		return node.ModelName
	}
	return a.defaultModel
}

// fail fills in a failed invocation. Failures still route onward so
// downstream joins are not left waiting.
func (a *Agent) fail(res graph.NodeInvocationResult, node graph.NodeConfig, msg, stack string) graph.NodeInvocationResult {
	if msg == "" {
		msg = "node invocation failed"
	}
	res.Err = &graph.NodeError{NodeID: node.ID, Message: msg, Stack: stack}
	res.Summary.Summary = excerpt("Error: "+msg, a.summaryChars)
	res.NextIDs = errorTargets(node)
	return res
}

func (a *Agent) logEntry(res graph.NodeInvocationResult, typ graph.LogType, text string, cost float64) graph.NodeLog {
	return graph.NodeLog{
		Type:         typ,
		NodeID:       res.Summary.NodeID,
		InvocationID: res.InvocationID,
		Text:         text,
		UsdCost:      cost,
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

// excerpt trims s to at most n runes, marking truncation.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
