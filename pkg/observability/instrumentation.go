package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the reply workflow
const (
	spanReplyRequest = "reply.request"
	spanNodePrefix   = "workflow.node."
	spanLLMPrefix    = "llm."
	spanToolPrefix   = "tool."
)

// finishSpan records the outcome of fn on span and ends it
func finishSpan(span trace.Span, start time.Time, err error, extra ...attribute.KeyValue) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(append(extra,
		attribute.String("outcome", outcome),
		attribute.Float64("duration.seconds", time.Since(start).Seconds()),
	)...)
	span.End()
}

// InstrumentWorkflowNode runs one state machine node inside a
// workflow.node.<NAME> span. status is the workflow status on entry.
func (t *Telemetry) InstrumentWorkflowNode(ctx context.Context, nodeName string, status string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, spanNodePrefix+nodeName,
		trace.WithAttributes(
			attribute.String("node.name", nodeName),
			attribute.String("workflow.status", status),
		),
	)
	start := time.Now()
	err := fn(ctx)
	finishSpan(span, start, err)
	return err
}

// InstrumentLLMCall runs one model call made by a workflow step (decision,
// compose or score) inside an llm.<step> span, tagging token usage on success
func (t *Telemetry) InstrumentLLMCall(ctx context.Context, step, model string, fn func(context.Context) (promptTokens, completionTokens int, err error)) error {
	ctx, span := t.StartSpan(ctx, spanLLMPrefix+step,
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.String("llm.step", step),
		),
	)
	start := time.Now()
	prompt, completion, err := fn(ctx)

	var usage []attribute.KeyValue
	if err == nil {
		usage = []attribute.KeyValue{
			attribute.Int("llm.prompt_tokens", prompt),
			attribute.Int("llm.completion_tokens", completion),
			attribute.Int("llm.total_tokens", prompt+completion),
		}
	}
	finishSpan(span, start, err, usage...)
	return err
}

// InstrumentToolExecution runs one evidence tool fetch inside a tool.<id> span
func (t *Telemetry) InstrumentToolExecution(ctx context.Context, toolName string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, spanToolPrefix+toolName,
		trace.WithAttributes(attribute.String("tool.name", toolName)),
	)
	start := time.Now()
	err := fn(ctx)
	finishSpan(span, start, err)
	return err
}

// StartReplyRequest starts the root span of a reply request. The complaint
// text itself is never recorded, only its size.
func (t *Telemetry) StartReplyRequest(ctx context.Context, requestID, customerID, complaint, priority string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, spanReplyRequest,
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("customer.id", customerID),
			attribute.String("request.priority", priority),
			attribute.Int("complaint.length", len(complaint)),
			attribute.String("complaint.size", complaintSize(complaint)),
		),
	)
}

func complaintSize(complaint string) string {
	switch n := len(complaint); {
	case n < 80:
		return "short"
	case n < 400:
		return "medium"
	default:
		return "long"
	}
}
