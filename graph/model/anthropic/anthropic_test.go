package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/agentgraph/graph/model"
)

type mockAnthropicClient struct {
	systemPrompt string
	messages     []model.Message
	out          model.ChatOut
	err          error
}

func (m *mockAnthropicClient) createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	m.systemPrompt = systemPrompt
	m.messages = messages
	return m.out, m.err
}

func TestChatModel_SystemPromptExtraction(t *testing.T) {
	client := &mockAnthropicClient{out: model.ChatOut{Text: "ok"}}
	m := &ChatModel{modelName: "claude", client: client}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "be terse"},
		{Role: model.RoleUser, Content: "hello"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "ok" {
		t.Errorf("text = %q", out.Text)
	}
	if client.systemPrompt != "be terse" {
		t.Errorf("system = %q", client.systemPrompt)
	}
	if len(client.messages) != 1 || client.messages[0].Role != model.RoleUser {
		t.Errorf("messages = %+v", client.messages)
	}
}

func TestChatModel_ContextCancelled(t *testing.T) {
	m := &ChatModel{client: &mockAnthropicClient{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertMessages(t *testing.T) {
	t.Run("merges consecutive roles", func(t *testing.T) {
		out := convertMessages([]model.Message{
			{Role: model.RoleUser, Content: "a"},
			{Role: model.RoleUser, Content: "b"},
			{Role: model.RoleAssistant, Content: "c"},
		})
		if len(out) != 2 {
			t.Fatalf("len = %d, want 2", len(out))
		}
	})

	t.Run("starts with user turn", func(t *testing.T) {
		out := convertMessages([]model.Message{{Role: model.RoleAssistant, Content: "hi"}})
		if len(out) != 2 || out[0].Role != "user" {
			t.Fatalf("out = %+v", out)
		}
	})
}

func TestRequiredFields(t *testing.T) {
	got := requiredFields(map[string]interface{}{"required": []interface{}{"q", 3, "n"}})
	if fmt.Sprint(got) != "[q n]" {
		t.Errorf("required = %v", got)
	}
	if requiredFields(nil) != nil {
		t.Error("nil schema should have no required fields")
	}
}

func TestSDKClient_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "tenant-key" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	m := NewChatModel("tenant-key", "claude-3-5-haiku-20241022", WithBaseURL(srv.URL))
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)

	var pe *model.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want provider error", err)
	}
	if pe.Kind != model.KindRateLimit || pe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("kind = %s status = %d", pe.Kind, pe.StatusCode)
	}
}

func TestSDKClient_MissingKey(t *testing.T) {
	m := NewChatModel("", "")
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	var pe *model.ProviderError
	if !errors.As(err, &pe) || pe.Kind != model.KindAuth {
		t.Fatalf("err = %v", err)
	}
}
