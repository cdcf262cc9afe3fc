package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
)

// OllamaClient talks to a local Ollama server through /api/chat. It is safe
// for concurrent use.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	options    OllamaOptions
}

// OllamaOptions holds the sampling defaults applied when a call leaves a
// setting at zero
type OllamaOptions struct {
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Timeout     time.Duration `json:"timeout"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaSampling  `json:"options"`
	Format   string          `json:"format,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaSampling struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaClient creates a client for baseURL. model is used whenever a call
// does not name one in its ChatOptions.
func NewOllamaClient(baseURL, model string, options *OllamaOptions) *OllamaClient {
	opts := OllamaOptions{Temperature: 0.7, MaxTokens: 1024, TopP: 0.9, Timeout: 2 * time.Minute}
	if options != nil {
		opts = *options
		if opts.Timeout <= 0 {
			opts.Timeout = 2 * time.Minute
		}
	}

	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		options:    opts,
	}
}

// Chat performs a non-streaming chat completion. Transport failures and
// non-200 answers wrap domain.ErrModelUnavailable; an undecodable body wraps
// domain.ErrUnparsableOutput.
func (c *OllamaClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := ollamaChatRequest{
		Model:    model,
		Messages: make([]ollamaMessage, len(messages)),
		Options:  c.sampling(opts),
	}
	for i, msg := range messages {
		req.Messages[i] = ollamaMessage{Role: msg.Role, Content: msg.Content}
	}
	if opts.JSONMode {
		req.Format = "json"
	}

	var resp ollamaChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}

	finish := resp.DoneReason
	if finish == "" {
		finish = "stop"
	}
	return &domain.ChatResponse{
		Content: resp.Message.Content,
		Model:   model,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		FinishReason: finish,
	}, nil
}

func (c *OllamaClient) sampling(opts domain.ChatOptions) ollamaSampling {
	s := ollamaSampling{
		Temperature: c.options.Temperature,
		NumPredict:  c.options.MaxTokens,
		TopP:        c.options.TopP,
		Stop:        opts.Stop,
	}
	if opts.Temperature > 0 {
		s.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		s.NumPredict = opts.MaxTokens
	}
	if opts.TopP > 0 {
		s.TopP = opts.TopP
	}
	return s
}

// CheckHealth reports whether the server answers and has the default model
// pulled. Either failure wraps domain.ErrModelUnavailable.
func (c *OllamaClient) CheckHealth(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	if c.model == "" {
		return nil
	}
	for _, name := range models {
		if name == c.model || strings.HasPrefix(name, c.model+":") {
			return nil
		}
	}
	return fmt.Errorf("%w: model %s is not pulled", domain.ErrModelUnavailable, c.model)
}

// ListModels returns the names of the models available on the server
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	var tags ollamaTags
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// do sends one JSON request and decodes the answer into out
func (c *OllamaClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama %s failed: %v", domain.ErrModelUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: ollama %s returned status %d: %s", domain.ErrModelUnavailable, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode ollama response: %v", domain.ErrUnparsableOutput, err)
	}
	return nil
}
