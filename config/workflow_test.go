package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentgraph/graph"
)

const workflowJSON = `{
  "entryNodeId": "plan",
  "mode": "hierarchical",
  "nodes": [
    {"nodeId": "plan", "systemPrompt": "Plan.", "modelName": "strategic", "handOffs": ["research", "end"], "handOffType": "conditional"},
    {"nodeId": "research", "systemPrompt": "Research.", "modelName": "fast", "tools": ["http_request"], "handOffs": ["plan"], "memory": {"notes": ""}}
  ]
}`

const workflowYAML = `
entryNodeId: plan
mode: hierarchical
nodes:
  - nodeId: plan
    systemPrompt: Plan.
    modelName: strategic
    handOffs: [research, end]
    handOffType: conditional
  - nodeId: research
    systemPrompt: Research.
    modelName: fast
    tools: [http_request]
    handOffs: [plan]
    memory:
      notes: ""
`

func TestParseWorkflow_FormatsAgree(t *testing.T) {
	fromJSON, err := ParseWorkflow([]byte(workflowJSON), FormatJSON)
	require.NoError(t, err)
	fromYAML, err := ParseWorkflow([]byte(workflowYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
	assert.Equal(t, graph.ModeHierarchical, fromJSON.Mode)
	assert.Equal(t, graph.HandOffConditional, fromJSON.Nodes[0].HandOffType)
	assert.Equal(t, map[string]string{"notes": ""}, fromJSON.Nodes[1].Memory)
}

func TestParseWorkflow_Rejects(t *testing.T) {
	_, err := ParseWorkflow([]byte(`{"entryNodeId":"a","nodes":[{"nodeId":"a","bogus":1}]}`), FormatJSON)
	assert.ErrorContains(t, err, "decode json")

	_, err = ParseWorkflow([]byte("entryNodeId: a\nnodes:\n  - nodeId: a\n    bogus: 1\n"), FormatYAML)
	assert.ErrorContains(t, err, "decode yaml")

	_, err = ParseWorkflow([]byte(`{"entryNodeId":"z","nodes":[{"nodeId":"a"}]}`), FormatJSON)
	assert.True(t, graph.IsCode(err, graph.CodeInvalidWorkflow))

	_, err = ParseWorkflow(nil, "toml")
	assert.ErrorContains(t, err, "unknown workflow format")
}

func TestLoadWorkflow(t *testing.T) {
	wf, err := LoadWorkflow(writeFile(t, "wf.yml", workflowYAML))
	require.NoError(t, err)
	assert.Equal(t, "plan", wf.EntryNodeID)

	wf, err = LoadWorkflow(writeFile(t, "wf.json", workflowJSON))
	require.NoError(t, err)
	assert.Len(t, wf.Nodes, 2)

	_, err = LoadWorkflow(writeFile(t, "broken.json", "{"))
	assert.ErrorContains(t, err, "broken.json")
}
