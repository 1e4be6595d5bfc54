package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/model"
)

// buildMessages assembles the conversation for one node invocation: the
// node's system prompt with its role and memory, then the dispatched
// payload as the user turn.
func buildMessages(req graph.NodeRequest) []model.Message {
	node := req.Node

	var sys strings.Builder
	if strings.TrimSpace(node.SystemPrompt) != "" {
		sys.WriteString(strings.TrimSpace(node.SystemPrompt))
	} else {
		fmt.Fprintf(&sys, "You are %q, one step of a larger workflow.", node.ID)
		if node.Description != "" {
			fmt.Fprintf(&sys, " Your job: %s", node.Description)
		}
	}

	if req.Workflow != nil && req.Workflow.Mode == graph.ModeHierarchical {
		switch req.Workflow.Role(node.ID) {
		case graph.RoleOrchestrator:
			fmt.Fprintf(&sys, "\n\nYou coordinate the workers %s. Break the task down and write clear instructions for them.",
				strings.Join(req.Workflow.Workers(), ", "))
		case graph.RoleWorker:
			sys.WriteString("\n\nYou are a worker. Complete the task you were given and report the result.")
		}
	}

	if node.Memory != nil {
		sys.WriteString("\n\n")
		sys.WriteString(renderMemory(node.Memory))
	}

	user := graph.PayloadText(req.Message.Payload)
	if _, failed := req.Message.Payload.(graph.ErrorPayload); failed {
		user = fmt.Sprintf("The previous step %q failed.\n%s\n\nOriginal task:\n%s", req.Message.FromNodeID, user, req.Input)
	}
	if strings.TrimSpace(user) == "" {
		user = req.Input
	}

	return []model.Message{
		{Role: model.RoleSystem, Content: sys.String()},
		{Role: model.RoleUser, Content: user},
	}
}

func renderMemory(mem map[string]string) string {
	if len(mem) == 0 {
		return "Your memory is empty. Use the " + memoryToolName + " tool to remember facts for later steps."
	}
	keys := make([]string, 0, len(mem))
	for k := range mem {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Your memory (update it with the " + memoryToolName + " tool):")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, mem[k])
	}
	return b.String()
}
