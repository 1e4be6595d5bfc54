package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentgraph/graph/model"
	"github.com/dshills/agentgraph/graph/store"
)

type fixture struct {
	dir    string
	config string
	mock   *model.MockChatModel

	mu   sync.Mutex
	keys map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, mock: &model.MockChatModel{}, keys: map[string]string{}}

	f.write(t, "secrets.yaml", "tenants:\n  acme:\n    OPENAI_API_KEY: sk-acme\n  other:\n    OPENAI_API_KEY: sk-other\n")
	f.config = f.write(t, "agentgraph.yaml", fmt.Sprintf(`
log:
  level: warn
  output: %s
store:
  driver: sqlite
  dsn: %s
secrets:
  backend: static
  file: %s
executor:
  backoff: 1ms
`, filepath.Join(dir, "agentgraph.log"), filepath.Join(dir, "runs.db"), filepath.Join(dir, "secrets.yaml")))
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *fixture) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	a.factory = func(provider, modelName, apiKey string) (model.ChatModel, error) {
		f.mu.Lock()
		f.keys[provider+"/"+modelName] = apiKey
		f.mu.Unlock()
		return f.mock, nil
	}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", f.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const twoStepWorkflow = `{
  "entryNodeId": "draft",
  "nodes": [
    {"nodeId": "draft", "systemPrompt": "Draft it.", "modelName": "fast", "handOffs": ["polish"]},
    {"nodeId": "polish", "systemPrompt": "Polish it.", "modelName": "fast", "handOffs": ["end"]}
  ]
}`

func TestRun_JSONWithEvaluation(t *testing.T) {
	f := newFixture(t)
	wf := f.write(t, "wf.json", twoStepWorkflow)
	f.mock.Responses = []model.ChatOut{
		{Text: "rough haiku"},
		{Text: "polished haiku"},
		{Text: `{"score": 0.9, "accuracy": 0.8, "novelty": 0.5, "feedback": "vivid"}`},
	}

	out, err := f.execute(t, "run", "--workflow", wf, "--input", "write a haiku", "--tenant", "acme",
		"--evaluate", "a haiku about rain", "--json")
	require.NoError(t, err, out)

	var got struct {
		Run struct {
			ID                  string `json:"workflowInvocationId"`
			Success             bool   `json:"success"`
			FinalWorkflowOutput string `json:"finalWorkflowOutput"`
			Invocations         int    `json:"invocations"`
		} `json:"run"`
		Evaluation struct {
			Fitness struct {
				Score float64 `json:"score"`
			} `json:"fitness"`
			Feedback string `json:"feedback"`
		} `json:"evaluation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.True(t, got.Run.Success)
	assert.Equal(t, "polished haiku", got.Run.FinalWorkflowOutput)
	assert.Equal(t, 2, got.Run.Invocations)
	assert.InDelta(t, 0.9, got.Evaluation.Fitness.Score, 1e-9)
	assert.Equal(t, "vivid", got.Evaluation.Feedback)

	assert.Equal(t, map[string]string{"openai/gpt-4o-mini": "sk-acme"}, f.keys)

	st, err := store.NewSQLiteStore(filepath.Join(f.dir, "runs.db"))
	require.NoError(t, err)
	defer st.Close()
	invs, err := st.LoadInvocations(context.Background(), got.Run.ID)
	require.NoError(t, err)
	assert.Len(t, invs, 2)
	evals, err := st.LoadEvaluations(context.Background(), got.Run.ID)
	require.NoError(t, err)
	assert.Len(t, evals, 1)
}

func TestRun_TenantKeysAreIsolated(t *testing.T) {
	f := newFixture(t)
	wf := f.write(t, "wf.json", twoStepWorkflow)
	f.mock.Responses = []model.ChatOut{{Text: "ok"}}

	_, err := f.execute(t, "run", "--workflow", wf, "--input", "x", "--tenant", "other")
	require.NoError(t, err)
	assert.Equal(t, "sk-other", f.keys["openai/gpt-4o-mini"])
}

func TestRun_MissingCredentials(t *testing.T) {
	f := newFixture(t)
	wf := f.write(t, "wf.json", `{"entryNodeId":"a","nodes":[{"nodeId":"a","modelName":"strategic"}]}`)

	_, err := f.execute(t, "run", "--workflow", wf, "--input", "x", "--tenant", "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic")
	assert.Zero(t, f.mock.CallCount())
}

func TestRun_BYOK(t *testing.T) {
	f := newFixture(t)
	wf := f.write(t, "wf.json", `{"entryNodeId":"a","nodes":[{"nodeId":"a","modelName":"strategic"}]}`)
	f.mock.Responses = []model.ChatOut{{Text: "answer"}}

	out, err := f.execute(t, "run", "--workflow", wf, "--input", "x", "--tenant", "acme",
		"--key-mode", "byok", "--api-key", "anthropic=sk-ant-mine")
	require.NoError(t, err, out)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "answer")
	assert.Equal(t, "sk-ant-mine", f.keys["anthropic/claude-sonnet-4-20250514"])
}

func TestRun_InputFromStdinAndErrors(t *testing.T) {
	f := newFixture(t)
	wf := f.write(t, "wf.json", twoStepWorkflow)

	_, err := f.execute(t, "run", "--workflow", wf, "--tenant", "acme")
	assert.ErrorContains(t, err, "an input is required")

	_, err = f.execute(t, "run", "--workflow", wf, "--tenant", "acme", "--input", "x", "--api-key", "nokey")
	assert.ErrorContains(t, err, "provider=key")

	_, err = f.execute(t, "run", "--tenant", "acme", "--input", "x")
	assert.ErrorContains(t, err, "workflow")
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	good := f.write(t, "good.yaml", "entryNodeId: a\nnodes:\n  - nodeId: a\n    modelName: fast\n")
	badModel := f.write(t, "bad-model.json", `{"entryNodeId":"a","nodes":[{"nodeId":"a","modelName":"acme/nope"}]}`)
	badGraph := f.write(t, "bad-graph.json", `{"entryNodeId":"a","nodes":[{"nodeId":"a","handOffs":["ghost"]}]}`)

	out, err := f.execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+good+" (1 nodes, sequential, entry a)")

	out, err = f.execute(t, "validate", good, badModel, badGraph)
	assert.ErrorContains(t, err, "2 of 3 workflows invalid")
	assert.Contains(t, out, "FAIL "+badModel)
	assert.Contains(t, out, "FAIL "+badGraph)
}

func TestModels(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "models", "--json")
	require.NoError(t, err)
	var models []modelInfo
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	require.NotEmpty(t, models)

	byID := map[string]modelInfo{}
	for _, m := range models {
		byID[m.ID] = m
	}
	assert.Equal(t, []string{"fast"}, byID["openai/gpt-4o-mini"].Tiers)
	assert.Equal(t, []string{"strategic"}, byID["anthropic/claude-sonnet-4-20250514"].Tiers)

	out, err = f.execute(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "MODEL")
	assert.Contains(t, out, "openai/gpt-4o-mini")
}
