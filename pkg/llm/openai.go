package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig holds OpenAI client configuration
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// DefaultOpenAIConfig returns default OpenAI configuration
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		Model:       "gpt-4o-mini",
		MaxTokens:   1024,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
	}
}

// OpenAIClient implements the LLMClient interface on the official OpenAI SDK.
// Any OpenAI-compatible endpoint works through BaseURL.
type OpenAIClient struct {
	config *OpenAIConfig
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(config *OpenAIConfig) *OpenAIClient {
	if config == nil {
		config = DefaultOpenAIConfig()
	}
	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT4oMini)
	}

	// The workflow owns fallbacks, so the SDK must not retry behind its back
	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		options = append(options, option.WithRequestTimeout(config.Timeout))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	return &OpenAIClient{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Chat performs a chat completion. API and transport failures wrap
// domain.ErrModelUnavailable; context errors are returned as they are.
func (c *OpenAIClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	model := c.config.Model
	if opts.Model != "" {
		model = opts.Model
	}

	params := openai.ChatCompletionNewParams{
		Messages: convertOpenAIMessages(messages),
		Model:    openai.ChatModel(model),
	}

	temperature := c.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		params.Temperature = param.NewOpt(temperature)
	}

	maxTokens := c.config.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(maxTokens)
	}

	if opts.TopP > 0 {
		params.TopP = param.NewOpt(opts.TopP)
	}

	if opts.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: openai returned status %d: %v", domain.ErrModelUnavailable, apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: openai request failed: %v", domain.ErrModelUnavailable, err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned from openai", domain.ErrUnparsableOutput)
	}

	choice := completion.Choices[0]
	return &domain.ChatResponse{
		Content: choice.Message.Content,
		Model:   completion.Model,
		Usage: domain.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

func convertOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
