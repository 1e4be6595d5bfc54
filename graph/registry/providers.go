package registry

import (
	"fmt"

	"github.com/dshills/agentgraph/graph/model"
	"github.com/dshills/agentgraph/graph/model/anthropic"
	"github.com/dshills/agentgraph/graph/model/google"
	"github.com/dshills/agentgraph/graph/model/openai"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderOpenRouter = "openrouter"
)

var secretNames = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
	ProviderGoogle:     "GOOGLE_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
}

var gateways = map[string]string{
	ProviderOpenAI:     model.GatewayOpenAI,
	ProviderAnthropic:  model.GatewayAnthropic,
	ProviderGoogle:     model.GatewayGoogle,
	ProviderOpenRouter: model.GatewayOpenRouter,
}

// SecretName returns the lockbox secret holding provider's API key.
func SecretName(provider string) string {
	return secretNames[provider]
}

// Factory builds a chat model for provider and model bound to apiKey.
type Factory func(provider, modelName, apiKey string) (model.ChatModel, error)

// DefaultFactory builds models with the provider SDK adapters.
func DefaultFactory(provider, modelName, apiKey string) (model.ChatModel, error) {
	switch provider {
	case ProviderOpenAI:
		return openai.NewChatModel(apiKey, modelName), nil
	case ProviderOpenRouter:
		return openai.NewOpenRouterModel(apiKey, modelName), nil
	case ProviderAnthropic:
		return anthropic.NewChatModel(apiKey, modelName), nil
	case ProviderGoogle:
		return google.NewChatModel(apiKey, modelName), nil
	}
	return nil, &ConfigError{Message: fmt.Sprintf("unknown provider %q", provider)}
}
