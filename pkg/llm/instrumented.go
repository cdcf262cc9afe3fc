package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedLLMClient decorates a provider client with an llm.chat span and
// request metrics. The workflow's own llm.<step> spans become its parents.
type InstrumentedLLMClient struct {
	client    domain.LLMClient
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	provider  string
}

// NewInstrumentedLLMClient wraps client. When metrics is nil the instruments
// are created on the telemetry meter.
func NewInstrumentedLLMClient(client domain.LLMClient, telemetry *observability.Telemetry, metrics *observability.Metrics, provider string) (*InstrumentedLLMClient, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if telemetry == nil {
		return nil, fmt.Errorf("telemetry is required")
	}
	if metrics == nil {
		m, err := observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		metrics = m
	}
	return &InstrumentedLLMClient{client: client, telemetry: telemetry, metrics: metrics, provider: provider}, nil
}

// Chat implements domain.LLMClient
func (c *InstrumentedLLMClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (resp *domain.ChatResponse, err error) {
	ctx, span := c.telemetry.StartSpan(ctx, "llm.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", c.provider),
			attribute.String("llm.model", opts.Model),
			attribute.Float64("llm.temperature", opts.Temperature),
			attribute.Int("llm.max_tokens", opts.MaxTokens),
			attribute.Int("llm.message_count", len(messages)),
			attribute.Bool("llm.json_mode", opts.JSONMode),
		),
	)
	start := time.Now()

	defer func() {
		var prompt, completion int
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("llm.error_kind", errorKind(err)))
		} else {
			prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(
				attribute.Int("llm.prompt_tokens", prompt),
				attribute.Int("llm.completion_tokens", completion),
				attribute.String("llm.finish_reason", resp.FinishReason),
			)
		}
		c.metrics.RecordLLMRequest(ctx, opts.Model, int64(prompt), int64(completion), time.Since(start), err == nil)
		span.End()
	}()

	resp, err = c.client.Chat(ctx, messages, opts)
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty response from %s", domain.ErrUnparsableOutput, c.provider)
	}
	return resp, err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrUnparsableOutput):
		return "unparsable_output"
	case errors.Is(err, domain.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "other"
	}
}
