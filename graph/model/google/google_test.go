package google

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/dshills/agentgraph/graph/model"
)

type mockGoogleClient struct {
	out    model.ChatOut
	err    error
	calls  int
	closed bool
}

func (m *mockGoogleClient) generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	m.calls++
	if onProgress != nil {
		onProgress()
	}
	return m.out, m.err
}

func (m *mockGoogleClient) close() error {
	m.closed = true
	return nil
}

func TestChatModel_Chat(t *testing.T) {
	client := &mockGoogleClient{out: model.ChatOut{Text: "Paris"}}
	m := &ChatModel{modelName: "gemini-2.5-flash", client: client}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "capital of France?"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "Paris" || client.calls != 1 {
		t.Errorf("out = %+v calls = %d", out, client.calls)
	}
	if err := m.Close(); err != nil || !client.closed {
		t.Errorf("Close err = %v closed = %v", err, client.closed)
	}
}

func TestSDKClient_MissingKey(t *testing.T) {
	m := NewChatModel("", "")
	_, err := m.Chat(context.Background(), nil, nil)
	var pe *model.ProviderError
	if !errors.As(err, &pe) || pe.Kind != model.KindAuth {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("hello "),
				genai.Text("world"),
				genai.FunctionCall{Name: "lookup", Args: map[string]any{"q": "x"}},
			}},
		}},
	}
	out := convertResponse(resp)
	if out.Text != "hello world" {
		t.Errorf("text = %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "lookup" {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}
	if got := convertResponse(nil); got.Text != "" {
		t.Errorf("nil response text = %q", got.Text)
	}
}

func TestConvertSchema(t *testing.T) {
	s := convertSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string", "description": "query"},
		},
		"required": []interface{}{"q"},
	})
	if s.Type != genai.TypeObject || s.Properties["q"].Type != genai.TypeString {
		t.Errorf("schema = %+v", s)
	}
	if fmt.Sprint(s.Required) != "[q]" {
		t.Errorf("required = %v", s.Required)
	}
	if convertSchema(nil) != nil {
		t.Error("nil schema should convert to nil")
	}
}

func TestMapError(t *testing.T) {
	t.Run("quota", func(t *testing.T) {
		err := mapError(&googleapi.Error{Code: 429, Message: "Resource exhausted"})
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Kind != model.KindRateLimit || pe.Gateway != model.GatewayGoogle {
			t.Fatalf("err = %+v", err)
		}
	})

	t.Run("blocked", func(t *testing.T) {
		err := mapError(&genai.BlockedError{})
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Kind != model.KindValidation {
			t.Fatalf("err = %+v", err)
		}
	})

	t.Run("other", func(t *testing.T) {
		err := mapError(errors.New("connection reset"))
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Provider != "google" {
			t.Fatalf("err = %+v", err)
		}
	})
}
