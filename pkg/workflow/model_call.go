package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
)

// ModelSettings selects the model used by one workflow step
type ModelSettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// modelCaller performs the single, time-bounded model call a step makes.
// There are no retries: a failed call goes straight to the step's fallback.
type modelCaller struct {
	llm       domain.LLMClient
	settings  ModelSettings
	timeout   time.Duration
	telemetry *observability.Telemetry
	step      string
}

func (c *modelCaller) call(ctx context.Context, messages []domain.Message, jsonMode bool) (*domain.ChatResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	telemetry := c.telemetry
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}

	var response *domain.ChatResponse
	err := telemetry.InstrumentLLMCall(ctx, c.step, c.settings.Model, func(ctx context.Context) (int, int, error) {
		resp, err := c.llm.Chat(ctx, messages, domain.ChatOptions{
			Model:       c.settings.Model,
			Temperature: c.settings.Temperature,
			MaxTokens:   c.settings.MaxTokens,
			JSONMode:    jsonMode,
		})
		if err != nil {
			return 0, 0, err
		}
		if resp == nil {
			return 0, 0, fmt.Errorf("%w: empty response", domain.ErrUnparsableOutput)
		}
		response = resp
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
	})
	if err != nil {
		return nil, classifyModelError(err)
	}
	return response, nil
}

// classifyModelError maps transport errors and timeouts onto the taxonomy
func classifyModelError(err error) error {
	if errors.Is(err, domain.ErrModelUnavailable) || errors.Is(err, domain.ErrUnparsableOutput) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
}
