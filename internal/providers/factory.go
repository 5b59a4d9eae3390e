package providers

import (
	"fmt"

	"github.com/LanfordCai/allnads/internal/config"
)

// Default models for each provider
const (
	DefaultOpenRouterModel = "anthropic/claude-3.5-sonnet"
	DefaultAnthropicModel  = "claude-3-5-sonnet-20241022"
	DefaultOpenAIModel     = "gpt-4o"
	DefaultGroqModel       = "llama-3.1-70b-versatile"
)

// NewProviderFromConfig creates a Provider based on the configuration.
// Providers are checked in priority order: OpenRouter > Anthropic > OpenAI >
// Groq; the first with a non-empty API key wins.
func NewProviderFromConfig(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Providers.OpenRouter.APIKey != "" {
		return NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey,
			cfg.Providers.OpenRouter.APIBase, DefaultOpenRouterModel), nil
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		return NewOpenAIProvider("anthropic", cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.APIBase, DefaultAnthropicModel), nil
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		return NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.APIBase, DefaultOpenAIModel), nil
	}
	if cfg.Providers.Groq.APIKey != "" {
		return NewOpenAIProvider("groq", cfg.Providers.Groq.APIKey,
			cfg.Providers.Groq.APIBase, DefaultGroqModel), nil
	}

	return nil, fmt.Errorf("no LLM provider configured: set an API key in %s", config.GetConfigPath())
}
