package model

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

func TestSystemMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "use english"},
		{Role: RoleAssistant, Content: "hello"},
	}

	system, rest := SystemMessages(msgs)
	if system != "be brief\n\nuse english" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Errorf("rest = %+v", rest)
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindAuth},
		{402, KindQuota},
		{403, KindAccessDenied},
		{404, KindNotFound},
		{408, KindTimeout},
		{429, KindRateLimit},
		{400, KindValidation},
		{500, KindServer},
		{503, KindServer},
		{418, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := KindForStatus(tt.status); got != tt.want {
				t.Errorf("KindForStatus(%d) = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestGatewayFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://api.openai.com/v1/chat/completions", GatewayOpenAI},
		{"https://openrouter.ai/api/v1/chat/completions", GatewayOpenRouter},
		{"https://api.anthropic.com/v1/messages", GatewayAnthropic},
		{"https://generativelanguage.googleapis.com/v1beta/models", GatewayGoogle},
		{"http://localhost:8080/v1", ""},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatal(err)
		}
		if got := GatewayFromURL(u); got != tt.want {
			t.Errorf("GatewayFromURL(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
	if got := GatewayFromURL(nil); got != "" {
		t.Errorf("nil URL gateway = %q", got)
	}
}

func TestClassify(t *testing.T) {
	t.Run("provider error passes through", func(t *testing.T) {
		orig := &ProviderError{Kind: KindQuota, Provider: "openai", Message: "no credits"}
		wrapped := fmt.Errorf("call: %w", orig)
		if got := Classify("openai", wrapped); got != orig {
			t.Errorf("Classify returned %v, want original", got)
		}
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		got := Classify("anthropic", context.DeadlineExceeded)
		if got.Kind != KindTimeout {
			t.Errorf("kind = %s, want timeout", got.Kind)
		}
		if !errors.Is(got, context.DeadlineExceeded) {
			t.Error("cause not preserved")
		}
	})

	t.Run("message sniffing", func(t *testing.T) {
		if got := Classify("x", errors.New("Invalid API key provided")); got.Kind != KindAuth {
			t.Errorf("kind = %s, want auth", got.Kind)
		}
		if got := Classify("x", errors.New("rate limit reached")); got.Kind != KindRateLimit {
			t.Errorf("kind = %s, want rate_limit", got.Kind)
		}
		if got := Classify("x", errors.New("boom")); got.Kind != KindUnknown {
			t.Errorf("kind = %s, want unknown", got.Kind)
		}
	})

	if Classify("x", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestProviderError_Error(t *testing.T) {
	err := &ProviderError{Kind: KindAuth, Provider: "openai", Gateway: GatewayOpenRouter, StatusCode: 401, Message: "bad key"}
	if got := err.Error(); got != "openai via openrouter (401): bad key" {
		t.Errorf("Error() = %q", got)
	}
	if !IsTransient(&ProviderError{Kind: KindServer}) {
		t.Error("server errors should be transient")
	}
	if IsTransient(err) {
		t.Error("auth errors should not be transient")
	}
}

func TestMockChatModel(t *testing.T) {
	t.Run("sequence then repeat", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
		ctx := context.Background()
		var got []string
		for i := 0; i < 3; i++ {
			out, err := m.Chat(ctx, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, out.Text)
		}
		if fmt.Sprint(got) != "[a b b]" {
			t.Errorf("got %v", got)
		}
		if m.CallCount() != 3 {
			t.Errorf("CallCount = %d", m.CallCount())
		}
		m.Reset()
		if m.CallCount() != 0 {
			t.Error("Reset did not clear calls")
		}
	})

	t.Run("per call error", func(t *testing.T) {
		boom := errors.New("boom")
		m := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}, Errs: map[int]error{0: boom}}
		if _, err := m.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
			t.Fatalf("first call err = %v", err)
		}
		out, err := m.Chat(context.Background(), nil, nil)
		if err != nil || out.Text != "ok" {
			t.Fatalf("second call = %q, %v", out.Text, err)
		}
	})

	t.Run("delay honours cancellation", func(t *testing.T) {
		m := &MockChatModel{Delay: time.Minute}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v", err)
		}
	})
}
