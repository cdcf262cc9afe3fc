package observability

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the reply workflow's OTel instruments. Instruments are
// exported through the Prometheus reader configured in NewTelemetry.
type Metrics struct {
	requests   metric.Int64Counter
	decisions  metric.Int64Counter
	fallbacks  metric.Int64Counter
	evidence   metric.Int64Counter
	llmCalls   metric.Int64Counter
	llmTokens  metric.Int64Counter
	toolCalls  metric.Int64Counter
	duration   metric.Float64Histogram
	cycles     metric.Int64Histogram
	score      metric.Float64Histogram
	llmLatency metric.Float64Histogram
	toolTime   metric.Float64Histogram

	active atomic.Int64
}

var (
	scoreBuckets   = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}
	latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120}
)

// NewMetrics creates every instrument on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var errs []error

	// Counters carry no unit: the Prometheus exporter turns unit "1" into a
	// _ratio suffix, and the names already end in _total.
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...))
		errs = append(errs, err)
		return h
	}

	m.requests = counter("reply_requests_total", "Reply requests received")
	m.decisions = counter("decisions_total", "Decision step outcomes, by kind and whether the engine forced them")
	m.fallbacks = counter("fallbacks_total", "Component failures absorbed by a fallback")
	m.evidence = counter("evidence_items_total", "New evidence items merged into workflow state")
	m.llmCalls = counter("llm_requests_total", "Model requests")
	m.llmTokens = counter("llm_tokens_used_total", "Model tokens consumed")
	m.toolCalls = counter("tool_executions_total", "Evidence tool fetches")

	m.duration = seconds("reply_duration_seconds", "End-to-end reply workflow duration")
	m.llmLatency = seconds("llm_request_duration_seconds", "Model request duration")
	m.toolTime = seconds("tool_execution_duration_seconds", "Evidence tool fetch duration")

	var err error
	m.cycles, err = meter.Int64Histogram("reply_cycles",
		metric.WithDescription("Compose cycles per reply workflow"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 10))
	errs = append(errs, err)

	m.score, err = meter.Float64Histogram("helpfulness_score",
		metric.WithDescription("Helpfulness scores assigned by the quality gate"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...))
	errs = append(errs, err)

	_, err = meter.Int64ObservableGauge("active_reply_requests",
		metric.WithDescription("Reply workflows in flight"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.active.Load())
			return nil
		}))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return m, nil
}

func outcome(success bool) attribute.KeyValue {
	if success {
		return attribute.String("status", "success")
	}
	return attribute.String("status", "failure")
}

// RecordReplyRequest counts a new request and marks it in flight
func (m *Metrics) RecordReplyRequest(ctx context.Context, priority string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", priority)))
	m.active.Add(1)
}

// RecordReplyComplete records the end of a reply workflow with its terminal status
func (m *Metrics) RecordReplyComplete(ctx context.Context, duration time.Duration, status string, cycles int) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.duration.Record(ctx, duration.Seconds(), attrs)
	m.cycles.Record(ctx, int64(cycles), attrs)
	m.active.Add(-1)
}

// RecordDecision counts one DECIDE outcome
func (m *Metrics) RecordDecision(ctx context.Context, kind string, forced bool) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("forced", forced),
	))
}

// RecordFallback counts a component failure that was absorbed locally
func (m *Metrics) RecordFallback(ctx context.Context, component string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

// RecordHelpfulness records a quality gate score; unscored means fail-open
func (m *Metrics) RecordHelpfulness(ctx context.Context, score float64, scored bool) {
	m.score.Record(ctx, score, metric.WithAttributes(attribute.Bool("scored", scored)))
}

// RecordEvidence counts the new evidence items a tool contributed
func (m *Metrics) RecordEvidence(ctx context.Context, toolName string, added int) {
	m.evidence.Add(ctx, int64(added), metric.WithAttributes(attribute.String("tool", toolName)))
}

// RecordLLMRequest records one model call and, on success, its token usage
func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, promptTokens, completionTokens int64, duration time.Duration, success bool) {
	modelAttr := attribute.String("model", model)
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(modelAttr, outcome(success)))
	m.llmLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(modelAttr))
	if !success {
		return
	}
	m.llmTokens.Add(ctx, promptTokens, metric.WithAttributes(modelAttr, attribute.String("type", "prompt")))
	m.llmTokens.Add(ctx, completionTokens, metric.WithAttributes(modelAttr, attribute.String("type", "completion")))
}

// RecordToolExecution records one evidence tool fetch
func (m *Metrics) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.String("tool", toolName), outcome(success))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolTime.Record(ctx, duration.Seconds(), attrs)
}

// GetActiveReplyCount returns the number of reply workflows in flight
func (m *Metrics) GetActiveReplyCount() int64 {
	return m.active.Load()
}
