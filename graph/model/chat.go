// Package model provides the provider-neutral chat abstraction used by the
// invocation executor and the provider adapters.
//
// Adapters live in subpackages:
//   - model/openai: OpenAI chat completions and OpenAI-compatible gateways
//     such as OpenRouter
//   - model/anthropic: Anthropic Messages API
//   - model/google: Gemini through the generative-ai-go SDK
//
// Every adapter streams, implements StreamingChatModel and reports failures
// as *ProviderError. MockChatModel stands in for all of them in tests.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// Implementations should:
//   - Convert the standard Message format to the provider format.
//   - Report token usage in ChatOut.Usage so spend can be tracked.
//   - Return a *ProviderError for any failure reported by the provider.
//   - Respect context cancellation. Cancelling ctx must abort the call.
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	//
	// The LLM may respond with text only, tool calls only, or both.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// StreamingChatModel is implemented by models that can report incremental
// progress while a response is being generated.
//
// onProgress is called at least once per received chunk. It must be cheap and
// must not block; the executor uses it to reset its stall watchdog.
//
// Models that do not implement it are still bounded by the executor's
// overall deadline; only stall detection is skipped.
type StreamingChatModel interface {
	ChatModel

	// ChatStream behaves like Chat and calls onProgress as chunks arrive.
	ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, onProgress func()) (ChatOut, error)
}

// Message is a single turn in a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string `json:"role"`

	// Content is the text of the message.
	Content string `json:"content"`
}

const (
	// RoleSystem carries instructions for the model.
	RoleSystem = "system"

	// RoleUser carries user (or upstream node) input.
	RoleUser = "user"

	// RoleAssistant carries earlier model output.
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string

	// Schema is a JSON schema object describing the tool input.
	Schema map[string]interface{}
}

// ChatOut is the response of a chat call.
type ChatOut struct {
	// Text is the assistant text. It may be empty when the model only
	// requested tool calls, or when the provider answered with nothing.
	Text string

	// Reasoning holds provider-exposed reasoning text, if any.
	Reasoning string

	ToolCalls []ToolCall

	// Usage reports the tokens billed for this call.
	Usage Usage
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Usage is token accounting for a single call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add returns the sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// SystemMessages splits leading and interleaved system messages out of a
// conversation. Providers that take the system prompt as a separate field use
// it to build their request.
func SystemMessages(messages []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
