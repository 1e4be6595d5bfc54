package invoke

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/agentgraph/graph/model"
	"github.com/dshills/agentgraph/graph/tool"
)

var priced = ModelPricing{InputPer1M: 1_000_000, OutputPer1M: 0} // $1 per input token

func handleFor(chat model.ChatModel) Handle {
	return Handle{Provider: "openai", Model: "gpt-test", Chat: chat, Pricing: priced}
}

func newTestExecutor(t *testing.T, r Resolver, opts ...Option) (*Executor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	base := []Option{WithLogger(zap.New(core)), WithBackoff(time.Millisecond)}
	return NewExecutor(r, append(base, opts...)...), logs
}

func userMsg(s string) []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: s}}
}

func TestText_EmptyResponseRetry(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: "", Usage: model.Usage{InputTokens: 1}},
		{Text: "   ", Usage: model.Usage{InputTokens: 1}},
		{Text: "answer", Usage: model.Usage{InputTokens: 1}},
	}}
	exec, logs := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)})

	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast", Retries: Retries(2)})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "answer", resp.Data.Text)
	assert.InDelta(t, 3.0, resp.UsdCost, 1e-9)
	assert.Equal(t, 3, mock.CallCount())
	assert.Equal(t, 2, logs.FilterMessage("empty response from model").Len())
	for i, entry := range logs.FilterMessage("empty response from model").All() {
		fields := entry.ContextMap()
		assert.EqualValues(t, i+1, fields["attempt"])
		assert.Equal(t, "openai", fields["provider"])
		assert.Equal(t, "gpt-test", fields["model"])
	}
}

func TestText_EmptyResponseExhausted(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "", Usage: model.Usage{InputTokens: 2}}}}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)})

	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast"})

	require.False(t, resp.Success)
	assert.Equal(t, "Empty response from openai for model gpt-test after 3 attempt(s)", resp.Error)
	assert.InDelta(t, 6.0, resp.UsdCost, 1e-9)
	require.NotNil(t, resp.Debug)
	assert.Len(t, resp.Debug.Attempts, 3)
	assert.InDelta(t, 6.0, exec.Spend().Total(), 1e-9)
}

func TestText_ErrorNotRetried(t *testing.T) {
	mock := &model.MockChatModel{
		Responses: []model.ChatOut{{Text: "", Usage: model.Usage{InputTokens: 1}}, {Text: "never"}},
		Errs: map[int]error{1: &model.ProviderError{
			Kind: model.KindQuota, Provider: "openai", Gateway: model.GatewayOpenRouter, StatusCode: 402, Message: "credits",
		}},
	}
	exec, logs := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)})

	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast"})

	require.False(t, resp.Success)
	assert.Equal(t, 2, mock.CallCount(), "thrown errors must not be retried")
	assert.Contains(t, resp.Error, "Insufficient credits")
	assert.Contains(t, resp.Error, "openrouter")
	assert.InDelta(t, 1.0, resp.UsdCost, 1e-9, "cost of the earlier empty attempt is kept")
	require.NotNil(t, resp.Debug.Error)
	assert.Equal(t, CategoryQuota, resp.Debug.Error.Category)

	failures := logs.FilterMessage("model call failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "quota", failures[0].ContextMap()["category"])
}

func TestText_UnknownModel(t *testing.T) {
	exec, _ := newTestExecutor(t, StaticResolver{})
	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "missing"})
	assert.False(t, resp.Success)
	assert.Zero(t, resp.UsdCost)
	assert.Contains(t, resp.Error, "unknown model reference")
}

// stallingModel ticks a few times and then blocks until cancelled.
type stallingModel struct {
	ticks    int
	interval time.Duration
	forever  bool
}

func (m *stallingModel) Chat(ctx context.Context, msgs []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	return m.ChatStream(ctx, msgs, tools, nil)
}

func (m *stallingModel) ChatStream(ctx context.Context, _ []model.Message, _ []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for i := 0; m.forever || i < m.ticks; i++ {
		select {
		case <-ticker.C:
			if onProgress != nil {
				onProgress()
			}
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	<-ctx.Done()
	return model.ChatOut{}, ctx.Err()
}

func TestText_StallTimeout(t *testing.T) {
	slow := &stallingModel{ticks: 3, interval: 5 * time.Millisecond}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(slow)},
		WithBudgets(Budget{Overall: time.Second, Stall: 40 * time.Millisecond}, ReasoningBudget))

	start := time.Now()
	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast"})

	require.False(t, resp.Success)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Contains(t, resp.Error, "stall timeout")
	assert.Equal(t, CategoryTimeout, resp.Debug.Error.Category)
	assert.Equal(t, 1, exec.Health().Timeouts("openai/gpt-test"))
}

func TestText_OverallTimeoutDespiteProgress(t *testing.T) {
	busy := &stallingModel{forever: true, interval: 5 * time.Millisecond}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(busy)},
		WithBudgets(Budget{Overall: 60 * time.Millisecond, Stall: 30 * time.Millisecond}, ReasoningBudget))

	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast"})

	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "overall timeout")
}

func TestText_ReasoningBudget(t *testing.T) {
	slow := &model.MockChatModel{Delay: 50 * time.Millisecond, Responses: []model.ChatOut{{Text: "deep"}}}
	exec, _ := newTestExecutor(t, StaticResolver{"r": handleFor(slow)},
		WithBudgets(Budget{Overall: 10 * time.Millisecond}, Budget{Overall: time.Second}))

	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "r", Options: Options{Reasoning: true}})
	require.True(t, resp.Success, resp.Error)

	resp = exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "r"})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "timed out")
}

func TestText_FallbackAfterTimeout(t *testing.T) {
	primary := &model.MockChatModel{Responses: []model.ChatOut{{Text: "primary"}}}
	backup := &model.MockChatModel{Responses: []model.ChatOut{{Text: "backup"}}}
	resolver := StaticResolver{
		"fast":    handleFor(primary),
		"backups": {Provider: "anthropic", Model: "claude-test", Chat: backup},
	}
	health := NewModelHealth(time.Minute, time.Hour)
	health.RecordTimeout("openai/gpt-test")

	exec, logs := newTestExecutor(t, resolver, WithModelHealth(health), WithFallbackModel("backups"))
	resp := exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast"})

	require.True(t, resp.Success)
	assert.Equal(t, "backup", resp.Data.Text)
	assert.Equal(t, 0, primary.CallCount())
	assert.Equal(t, "anthropic/claude-test", resp.Debug.UsedModel)
	assert.Equal(t, 1, logs.FilterMessage("substituting fallback model").Len())
}

func TestText_CancelledDuringBackoff(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "", Usage: model.Usage{InputTokens: 1}}}}
	exec := NewExecutor(StaticResolver{"fast": handleFor(mock)}, WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	resp := exec.Text(ctx, Request{Messages: userMsg("hi"), Model: "fast"})

	assert.False(t, resp.Success)
	assert.Equal(t, "request cancelled", resp.Error)
	assert.InDelta(t, 1.0, resp.UsdCost, 1e-9)
	assert.Equal(t, 1, mock.CallCount())
}

func TestSpendTracker_Concurrent(t *testing.T) {
	spend := NewSpendTracker("run-1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spend.Record(SpendRecord{Model: "openai/gpt", CostUSD: 0.5, Usage: model.Usage{InputTokens: 10}})
		}()
	}
	wg.Wait()

	assert.InDelta(t, 25.0, spend.Total(), 1e-9)
	assert.InDelta(t, 25.0, spend.CostByModel()["openai/gpt"], 1e-9)
	assert.Equal(t, 500, spend.Usage().InputTokens)
	assert.Len(t, spend.Records(), 50)
	assert.Contains(t, spend.String(), "run-1")
}

func TestModelHealth_Backoff(t *testing.T) {
	now := time.Unix(0, 0)
	h := NewModelHealth(10*time.Second, 35*time.Second)
	h.now = func() time.Time { return now }

	h.RecordTimeout("m")
	assert.True(t, h.ShouldFallback("m"))
	now = now.Add(11 * time.Second)
	assert.False(t, h.ShouldFallback("m"))

	h.RecordTimeout("m") // 20s window
	now = now.Add(19 * time.Second)
	assert.True(t, h.ShouldFallback("m"))

	h.RecordTimeout("m") // 40s capped to 35s
	now = now.Add(36 * time.Second)
	assert.False(t, h.ShouldFallback("m"))
	assert.Equal(t, 3, h.Timeouts("m"))

	h.RecordSuccess("m")
	assert.Equal(t, 0, h.Timeouts("m"))
}

func TestTool_Loop(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{Name: "search", Input: map[string]interface{}{"q": "go"}}}, Usage: model.Usage{InputTokens: 1}},
		{Text: "Go is a language", Usage: model.Usage{InputTokens: 2}},
	}}
	search := &tool.MockTool{ToolName: "search", Responses: []map[string]interface{}{{"hits": 3}}}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)})

	resp := exec.Tool(context.Background(), Request{Messages: userMsg("what is go"), Model: "fast"}, []tool.Tool{search})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Go is a language", resp.Data.Text)
	assert.InDelta(t, 3.0, resp.UsdCost, 1e-9)
	assert.Equal(t, 1, search.CallCount())
	require.Len(t, resp.Data.Steps, 2)
	assert.Equal(t, StepTool, resp.Data.Steps[0].Type)
	assert.Equal(t, `{"hits":3}`, resp.Data.Steps[0].Result)
	assert.InDelta(t, 1.0, resp.Data.Steps[0].UsdCost, 1e-9)
	assert.Equal(t, StepText, resp.Data.Steps[1].Type)

	second := mock.Calls[1].Messages
	assert.Contains(t, second[len(second)-1].Content, `Tool search returned: {"hits":3}`)
	assert.Len(t, mock.Calls[0].Tools, 1)
}

func TestTool_StepBudget(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{Name: "missing"}}},
		{ToolCalls: []model.ToolCall{{Name: "missing"}}},
		{Text: "final"},
	}}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)})

	resp := exec.Tool(context.Background(), Request{Messages: userMsg("x"), Model: "fast", Options: Options{MaxSteps: 2}}, nil)

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "final", resp.Data.Text)
	assert.Equal(t, 3, mock.CallCount())
	assert.Nil(t, mock.Calls[2].Tools, "final call is made without tools")
	assert.Contains(t, resp.Data.Steps[0].Error, "not available")
}

func TestStructured(t *testing.T) {
	type verdict struct {
		Handoff string `json:"handoff"`
	}
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: "not json"},
		{Text: "```json\n{\"handoff\": \"writer\"}\n```"},
	}}
	exec, logs := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)})

	resp := Structured[verdict](context.Background(), exec, Request{Messages: userMsg("pick"), Model: "fast"})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "writer", resp.Data.Handoff)
	assert.Equal(t, 1, logs.FilterMessage("empty response from model").Len())
	last := mock.Calls[0].Messages[len(mock.Calls[0].Messages)-1]
	assert.Equal(t, model.RoleSystem, last.Role)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		contains string
	}{
		{"auth", &model.ProviderError{Kind: model.KindAuth, Provider: "openai", StatusCode: 401}, CategoryAuth, "Authentication failed"},
		{"rate limit", &model.ProviderError{Kind: model.KindRateLimit, Provider: "anthropic", StatusCode: 429}, CategoryRateLimit, "Rate limit"},
		{"server", &model.ProviderError{Kind: model.KindServer, Provider: "google", StatusCode: 503}, CategoryUnknown, "temporarily unavailable (status 503)"},
		{"validation", &model.ProviderError{Kind: model.KindValidation, Provider: "openai", Message: "bad schema"}, CategoryValidation, "bad schema"},
		{"stall", &TimeoutError{Stall: true, After: time.Minute}, CategoryTimeout, "stall timeout"},
		{"plain", errors.New("socket closed"), CategoryUnknown, "socket closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalize("openai", tt.err)
			assert.Equal(t, tt.category, n.Category)
			assert.Contains(t, n.Message, tt.contains)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "nothing", ExtractJSON(" nothing "))
}

type recordingSaver struct {
	mu   sync.Mutex
	recs []OutputRecord
}

func (s *recordingSaver) SaveModelOutput(_ context.Context, rec OutputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func TestText_SaveOutputs(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: ""}, {Text: "kept"}}}
	saver := &recordingSaver{}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)}, WithOutputSaver(saver))

	resp := exec.Text(context.Background(), Request{
		Messages:             userMsg("hi"),
		Model:                "fast",
		Options:              Options{SaveOutputs: true},
		WorkflowInvocationID: "wf-1",
		NodeID:               "writer",
	})

	require.True(t, resp.Success)
	require.Len(t, saver.recs, 2)
	assert.Equal(t, 2, saver.recs[1].Attempt)
	assert.Equal(t, "kept", saver.recs[1].Text)
	assert.Equal(t, "wf-1", saver.recs[1].WorkflowInvocationID)
	assert.NotEmpty(t, saver.recs[0].ID)
}

func TestCallMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCallMetrics(reg)
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: ""}, {Text: "ok", Usage: model.Usage{InputTokens: 2}}}}
	exec, _ := newTestExecutor(t, StaticResolver{"fast": handleFor(mock)}, WithMetrics(metrics))

	exec.Text(context.Background(), Request{Messages: userMsg("hi"), Model: "fast"})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("openai", "gpt-test", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("openai", "gpt-test", "success")))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.spend.WithLabelValues("openai", "gpt-test")), 1e-9)
}
