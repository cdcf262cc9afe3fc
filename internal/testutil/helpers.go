package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTimeout bounds every test context
const TestTimeout = 5 * time.Second

// NewTestContext returns a context cancelled after TestTimeout or at test end
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestRequest returns a request that passes domain.ValidateRequest
func NewTestRequest(complaint string) *domain.ReplyRequest {
	return &domain.ReplyRequest{
		ID:         "test-req-1",
		Complaint:  complaint,
		CustomerID: "cust_123",
		Priority:   domain.PriorityNormal,
		ReceivedAt: time.Now(),
	}
}

// NewTestEvidence creates an evidence item whose citation is derived from
// kind and n, so equal arguments always produce the same citation
func NewTestEvidence(kind domain.EvidenceKind, n int) domain.EvidenceItem {
	citation := fmt.Sprintf("https://example.com/%s/%d", kind, n)
	if kind == domain.EvidenceAcademic {
		citation = fmt.Sprintf("Doe, J. et al. (2023). Service recovery study %d. arXiv:2301.%05d", n, n)
	}
	return domain.EvidenceItem{
		Kind:     kind,
		Title:    fmt.Sprintf("%s source %d", kind, n),
		Excerpt:  "Prompt apologies and concrete remedies raise satisfaction.",
		Citation: citation,
	}
}

// SetupTestTelemetry returns telemetry that records spans into spanRecorder
// and metrics into metricReader. Global OTel providers are left untouched so
// parallel tests cannot see each other's data.
func SetupTestTelemetry(spanRecorder *tracetest.SpanRecorder, metricReader metric.Reader) *observability.Telemetry {
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(spanRecorder))
	mp := metric.NewMeterProvider(metric.WithReader(metricReader))
	return observability.NewTelemetryFromProviders("replysight-test", "test", tp, mp)
}
