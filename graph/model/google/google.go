// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dshills/agentgraph/graph/model"
)

// ChatModel implements model.ChatModel and model.StreamingChatModel for
// Google's Gemini models.
//
// The underlying genai client is created on first use and reused until Close.
type ChatModel struct {
	modelName string
	client    googleClient
}

// googleClient is the seam between ChatModel and the SDK.
type googleClient interface {
	generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error)
	close() error
}

// NewChatModel creates a ChatModel bound to apiKey.
func NewChatModel(apiKey, modelName string, opts ...option.ClientOption) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName, opts: opts},
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
	return m.client.generateContent(ctx, messages, tools, onProgress)
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	return m.client.close()
}

type sdkClient struct {
	apiKey    string
	modelName string
	opts      []option.ClientOption

	mu     sync.Mutex
	client *genai.Client
}

func (c *sdkClient) getClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(c.apiKey)}, c.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, &model.ProviderError{Kind: model.KindUnknown, Provider: "google", Message: "failed to create client", Cause: err}
	}
	c.client = client
	return client, nil
}

func (c *sdkClient) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *sdkClient) generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onProgress func()) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, &model.ProviderError{Kind: model.KindAuth, Provider: "google", Message: "API key is required"}
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return model.ChatOut{}, err
	}

	genModel := client.GenerativeModel(c.modelName)
	system, conversation := model.SystemMessages(messages)
	if system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(tools) > 0 {
		genModel.Tools = convertTools(tools)
	}

	iter := genModel.GenerateContentStream(ctx, convertMessages(conversation)...)
	var out model.ChatOut
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return model.ChatOut{}, mapError(err)
		}

		chunk := convertResponse(resp)
		out.Text += chunk.Text
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
		if resp.UsageMetadata != nil {
			out.Usage = model.Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		if onProgress != nil {
			onProgress()
		}
	}
	return out, nil
}

// convertMessages flattens the conversation into text parts. Earlier model
// turns are labelled so the model can tell them apart from input.
func convertMessages(messages []model.Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleAssistant {
			parts = append(parts, genai.Text("Previous answer: "+msg.Content))
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				prop.Type = convertType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			result.Properties[key] = prop
		}
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// mapError converts SDK errors into *model.ProviderError. Safety blocks are
// reported as validation failures.
func mapError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &model.ProviderError{
			Kind:     model.KindValidation,
			Provider: "google",
			Gateway:  model.GatewayGoogle,
			Message:  "content blocked by safety filter",
			Cause:    err,
		}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", apiErr.Code)
		}
		return &model.ProviderError{
			Kind:       model.KindForStatus(apiErr.Code),
			Provider:   "google",
			Gateway:    model.GatewayGoogle,
			StatusCode: apiErr.Code,
			Message:    msg,
			Cause:      err,
		}
	}
	return model.Classify("google", err)
}
