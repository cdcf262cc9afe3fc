package llm

import (
	"fmt"

	"github.com/ncolesummers/replysight/pkg/config"
	"github.com/ncolesummers/replysight/pkg/domain"
)

// NewFromConfig builds the model client selected by models.provider
func NewFromConfig(cfg config.ModelsConfig) (domain.LLMClient, error) {
	timeout := config.DurationOr(cfg.Timeout, DefaultOpenAIConfig().Timeout)

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(&OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Compose.Model,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: cfg.Compose.Temperature,
			Timeout:     timeout,
		}), nil
	case config.ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaClient(baseURL, cfg.Compose.Model, &OllamaOptions{
			Temperature: cfg.Compose.Temperature,
			MaxTokens:   cfg.MaxTokens,
			TopP:        0.9,
			Timeout:     timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}
