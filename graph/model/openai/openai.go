// Package openai adapts the OpenAI chat completions API (and OpenAI-compatible
// gateways such as OpenRouter) to model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/agentgraph/graph/model"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ChatModel implements model.ChatModel and model.StreamingChatModel for
// OpenAI-compatible APIs.
//
// Responses are always streamed so that callers receive progress ticks. A
// transient failure (5xx, 429) is retried once before it is returned.
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, messages, nil)
type ChatModel struct {
	provider   string
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

// openaiClient is the seam between ChatModel and the SDK.
type openaiClient interface {
	createChatCompletion(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error)
}

// Option configures a ChatModel.
type Option func(*settings)

type settings struct {
	provider   string
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at an OpenAI-compatible gateway.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) { s.baseURL = baseURL }
}

// WithProviderName overrides the provider name reported in errors.
func WithProviderName(name string) Option {
	return func(s *settings) { s.provider = name }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// NewChatModel creates a ChatModel bound to apiKey. An empty modelName uses
// gpt-4o-mini.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	s := settings{provider: "openai"}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}

	return &ChatModel{
		provider:  s.provider,
		modelName: modelName,
		client: &sdkClient{
			client:    sdk.NewClient(reqOpts...),
			modelName: modelName,
			provider:  s.provider,
			hasKey:    apiKey != "",
		},
		maxRetries: 1,
		retryDelay: 500 * time.Millisecond,
	}
}

// NewOpenRouterModel creates a ChatModel that talks to OpenRouter.
func NewOpenRouterModel(apiKey, modelName string, opts ...Option) *ChatModel {
	opts = append([]Option{WithBaseURL(OpenRouterBaseURL), WithProviderName("openrouter")}, opts...)
	return NewChatModel(apiKey, modelName, opts...)
}

// ModelName returns the model identifier sent to the API.
func (m *ChatModel) ModelName() string { return m.modelName }

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	return m.ChatStream(ctx, messages, tools, nil)
}

// ChatStream implements model.StreamingChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.createChatCompletion(ctx, messages, tools, onProgress)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !model.IsTransient(err) || attempt >= m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	return model.ChatOut{}, lastErr
}

type sdkClient struct {
	client    sdk.Client
	modelName string
	provider  string
	hasKey    bool
}

func (c *sdkClient) createChatCompletion(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	if !c.hasKey {
		return model.ChatOut{}, &model.ProviderError{Kind: model.KindAuth, Provider: c.provider, Message: "API key is required"}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelName),
		Messages: convertMessages(messages),
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	acc := sdk.ChatCompletionAccumulator{}
	for stream.Next() {
		acc.AddChunk(stream.Current())
		if onProgress != nil {
			onProgress()
		}
	}
	if err := stream.Err(); err != nil {
		return model.ChatOut{}, mapError(c.provider, err)
	}

	return convertResponse(acc.ChatCompletion), nil
}

func convertMessages(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		schema := tool.Schema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}
	return out
}

func convertResponse(completion sdk.ChatCompletion) model.ChatOut {
	out := model.ChatOut{
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return out
	}

	msg := completion.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		var input map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]interface{}{"_raw": tc.Function.Arguments}
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return out
}

// mapError converts SDK errors into *model.ProviderError.
func mapError(provider string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &model.ProviderError{
			Kind:       model.KindForStatus(apiErr.StatusCode),
			Provider:   provider,
			Gateway:    model.GatewayFromRequest(apiErr.Request),
			StatusCode: apiErr.StatusCode,
			Message:    msg,
			Cause:      err,
		}
	}
	return model.Classify(provider, err)
}
