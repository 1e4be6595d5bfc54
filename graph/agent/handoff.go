package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/model"
)

// handoffChoice is the structured answer to a conditional routing question.
type handoffChoice struct {
	Next   string `json:"next"`
	Reason string `json:"reason"`
}

// chooseNext decides the targets of a successful invocation. It returns
// the cost of any routing call and the model's stated reason.
func (a *Agent) chooseNext(ctx context.Context, req graph.NodeRequest, output string) ([]string, float64, string) {
	handoffs := req.Node.HandOffs
	switch {
	case len(handoffs) == 0:
		return []string{graph.EndNodeID}, 0, ""
	case len(handoffs) == 1:
		return []string{handoffs[0]}, 0, ""
	}

	switch req.Node.HandOffType {
	case graph.HandOffParallel:
		return append([]string(nil), handoffs...), 0, ""
	case graph.HandOffConditional:
		return a.pickHandoff(ctx, req, output)
	default:
		return []string{handoffs[0]}, 0, ""
	}
}

func (a *Agent) pickHandoff(ctx context.Context, req graph.NodeRequest, output string) ([]string, float64, string) {
	node := req.Node

	var opts strings.Builder
	for _, id := range node.HandOffs {
		desc := ""
		if id == graph.EndNodeID {
			desc = "finish the workflow with the current answer"
		} else if req.Workflow != nil {
			if n, ok := req.Workflow.Node(id); ok {
				desc = n.Description
			}
		}
		if desc == "" {
			fmt.Fprintf(&opts, "\n- %s", id)
		} else {
			fmt.Fprintf(&opts, "\n- %s: %s", id, desc)
		}
	}

	resp := invoke.Structured[handoffChoice](ctx, a.exec, invoke.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Decide which workflow step should receive the output below. Options:" + opts.String() +
				"\nAnswer with {\"next\": \"<option>\", \"reason\": \"<short reason>\"}."},
			{Role: model.RoleUser, Content: output},
		},
		Model:                a.modelFor(node),
		WorkflowInvocationID: req.WorkflowInvocationID,
		NodeID:               node.ID,
	})

	first := []string{node.HandOffs[0]}
	if !resp.Success {
		a.logger.Warn("handoff decision failed, using first handoff",
			zap.String("node_id", node.ID), zap.String("error", resp.Error))
		return first, resp.UsdCost, ""
	}
	choice := strings.TrimSpace(resp.Data.Next)
	for _, id := range node.HandOffs {
		if id == choice {
			return []string{id}, resp.UsdCost, resp.Data.Reason
		}
	}
	a.logger.Warn("model chose an unknown handoff, using first handoff",
		zap.String("node_id", node.ID), zap.String("choice", choice))
	return first, resp.UsdCost, ""
}

// errorTargets routes a failure to the first handoff, or ends the run.
func errorTargets(node graph.NodeConfig) []string {
	if len(node.HandOffs) == 0 {
		return []string{graph.EndNodeID}
	}
	return []string{node.HandOffs[0]}
}

// replyFor wraps output for its targets. An orchestrator's instructions to
// workers travel as delegations carrying the run's original input.
func replyFor(req graph.NodeRequest, output string, next []string) graph.Payload {
	wf := req.Workflow
	if wf != nil && wf.Mode == graph.ModeHierarchical && wf.Role(req.Node.ID) == graph.RoleOrchestrator {
		for _, id := range next {
			if wf.Role(id) == graph.RoleWorker {
				return graph.DelegationPayload{Prompt: output, Context: req.Input}
			}
		}
	}
	return graph.SequentialPayload{Prompt: output}
}

func stepLogs(nodeID, invocationID string, steps []invoke.ToolStep) []graph.NodeLog {
	logs := make([]graph.NodeLog, 0, len(steps))
	for _, s := range steps {
		entry := graph.NodeLog{NodeID: nodeID, InvocationID: invocationID, UsdCost: s.UsdCost}
		switch s.Type {
		case invoke.StepTool:
			entry.Type = graph.LogTool
			entry.ToolName = s.ToolName
			if len(s.Args) > 0 {
				args, _ := json.Marshal(s.Args)
				entry.ToolArgs = string(args)
			}
			if s.Error != "" {
				entry.ToolResult = "error: " + s.Error
			} else {
				entry.ToolResult = s.Result
			}
		case invoke.StepError:
			entry.Type = graph.LogError
			entry.Text = s.Error
		default:
			entry.Type = graph.LogText
			entry.Text = s.Text
		}
		logs = append(logs, entry)
	}
	return logs
}

// toolStack renders the tool calls made before a failure, oldest first.
func toolStack(steps []invoke.ToolStep) string {
	var calls []string
	for _, s := range steps {
		if s.Type == invoke.StepTool {
			calls = append(calls, "at tool "+s.ToolName)
		}
	}
	return strings.Join(calls, "\n")
}
