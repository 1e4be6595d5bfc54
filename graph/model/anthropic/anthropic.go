// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/agentgraph/graph/model"
)

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel and model.StreamingChatModel for
// Anthropic's Messages API.
//
//	m := anthropic.NewChatModel(apiKey, "claude-3-5-sonnet-20241022")
type ChatModel struct {
	modelName string
	client    anthropicClient
}

// anthropicClient is the seam between ChatModel and the SDK.
type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error)
}

// Option configures a ChatModel.
type Option func(*settings)

type settings struct {
	baseURL    string
	httpClient *http.Client
	maxTokens  int64
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) { s.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(s *settings) { s.maxTokens = n }
}

// NewChatModel creates a ChatModel bound to apiKey.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "claude-3-5-haiku-20241022"
	}
	s := settings{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}

	return &ChatModel{
		modelName: modelName,
		client: &sdkClient{
			client:    sdk.NewClient(reqOpts...),
			modelName: modelName,
			maxTokens: s.maxTokens,
			hasKey:    apiKey != "",
		},
	}
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

	// Anthropic takes the system prompt as a separate parameter.
	systemPrompt, conversation := model.SystemMessages(messages)
	return m.client.createMessage(ctx, systemPrompt, conversation, tools, onProgress)
}

type sdkClient struct {
	client    sdk.Client
	modelName string
	maxTokens int64
	hasKey    bool
}

func (c *sdkClient) createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	if !c.hasKey {
		return model.ChatOut{}, &model.ProviderError{Kind: model.KindAuth, Provider: "anthropic", Message: "API key is required"}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(messages),
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	message := sdk.Message{}
	for stream.Next() {
		if err := message.Accumulate(stream.Current()); err != nil {
			return model.ChatOut{}, &model.ProviderError{Kind: model.KindUnknown, Provider: "anthropic", Message: "malformed stream event", Cause: err}
		}
		if onProgress != nil {
			onProgress()
		}
	}
	if err := stream.Err(); err != nil {
		return model.ChatOut{}, mapError(err)
	}

	return convertResponse(message), nil
}

// convertMessages builds alternating user/assistant turns. Consecutive
// messages with the same role are merged.
func convertMessages(messages []model.Message) []sdk.MessageParam {
	type turn struct {
		role string
		text string
	}
	var turns []turn
	for _, msg := range messages {
		role := model.RoleUser
		if msg.Role == model.RoleAssistant {
			role = model.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text += "\n\n" + msg.Content
			continue
		}
		turns = append(turns, turn{role: role, text: msg.Content})
	}
	if len(turns) == 0 || turns[0].role != model.RoleUser {
		turns = append([]turn{{role: model.RoleUser, text: "Continue."}}, turns...)
	}

	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := sdk.NewTextBlock(t.text)
		if t.role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := sdk.ToolInputSchemaParam{Properties: map[string]interface{}{}}
		if props, ok := tool.Schema["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(tool.Schema)
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertResponse(message sdk.Message) model.ChatOut {
	out := model.ChatOut{
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "thinking":
			out.Reasoning += block.Thinking
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return out
}

// mapError converts SDK errors into *model.ProviderError. Status 529
// (overloaded) is reported as a server error.
func mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := http.StatusText(apiErr.StatusCode)
		if apiErr.StatusCode == 529 {
			msg = "overloaded"
		}
		return &model.ProviderError{
			Kind:       model.KindForStatus(apiErr.StatusCode),
			Provider:   "anthropic",
			Gateway:    model.GatewayFromRequest(apiErr.Request),
			StatusCode: apiErr.StatusCode,
			Message:    msg,
			Cause:      err,
		}
	}
	return model.Classify("anthropic", err)
}
