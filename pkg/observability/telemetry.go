package observability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/stdr"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceNamespace = "customer-support"

// TelemetryConfig selects which signals are exported and where
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Traces go to an OTLP/HTTP collector
	EnableTracing bool
	OTLPEndpoint  string
	SamplingRate  float64

	// Metrics are exposed through MetricsHandler in Prometheus format
	EnableMetrics bool

	// SDKLogVerbosity is handed to stdr; negative keeps the SDK silent
	SDKLogVerbosity int
}

// Telemetry bundles the tracer and meter every component reports to
type Telemetry struct {
	serviceName string
	version     string
	tracer      trace.Tracer
	meter       metric.Meter
	registry    *promclient.Registry
	shutdowns   []func(context.Context) error
}

// DefaultConfig returns the configuration used when none is supplied
func DefaultConfig() *TelemetryConfig {
	cfg := &TelemetryConfig{
		ServiceName:     "replysight",
		ServiceVersion:  "dev",
		Environment:     "development",
		OTLPEndpoint:    "localhost:4318",
		SamplingRate:    1.0,
		EnableMetrics:   true,
		SDKLogVerbosity: -1,
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}
	return cfg
}

// NewTelemetry wires the OTLP trace exporter and the Prometheus metric
// reader according to cfg. Disabled signals fall back to no-op providers.
func NewTelemetry(cfg *TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	configureSDKLogging(cfg.SDKLogVerbosity)

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("service.namespace", serviceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var (
		tp        trace.TracerProvider  = noop.NewTracerProvider()
		mp        metric.MeterProvider  = metricnoop.NewMeterProvider()
		registry  *promclient.Registry
		shutdowns []func(context.Context) error
	)

	if cfg.EnableTracing {
		sdkTP, err := newTracerProvider(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		tp = sdkTP
		shutdowns = append(shutdowns, sdkTP.Shutdown)
		otel.SetTracerProvider(sdkTP)
	}

	if cfg.EnableMetrics {
		sdkMP, reg, err := newMeterProvider(res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		mp, registry = sdkMP, reg
		shutdowns = append(shutdowns, sdkMP.Shutdown)
		otel.SetMeterProvider(sdkMP)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := NewTelemetryFromProviders(cfg.ServiceName, cfg.ServiceVersion, tp, mp)
	t.registry = registry
	t.shutdowns = shutdowns
	return t, nil
}

// NewTelemetryFromProviders builds telemetry on top of already configured
// providers. Tests use it with a span recorder and a manual metric reader.
func NewTelemetryFromProviders(serviceName, version string, tp trace.TracerProvider, mp metric.MeterProvider) *Telemetry {
	return &Telemetry{
		serviceName: serviceName,
		version:     version,
		tracer:      tp.Tracer(serviceName, trace.WithInstrumentationVersion(version)),
		meter:       mp.Meter(serviceName, metric.WithInstrumentationVersion(version)),
	}
}

// NewNoopTelemetry returns telemetry whose spans and instruments discard everything
func NewNoopTelemetry() *Telemetry {
	return NewTelemetryFromProviders("replysight", "dev", noop.NewTracerProvider(), metricnoop.NewMeterProvider())
}

// configureSDKLogging routes the OTel SDK's internal logr output through stdr.
// Exporter errors are dropped below verbosity 0; the exporters retry on their own.
func configureSDKLogging(verbosity int) {
	if verbosity < 0 {
		stdr.SetVerbosity(0)
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(error) {}))
		return
	}
	stdr.SetVerbosity(verbosity)
	otel.SetLogger(stdr.New(log.New(os.Stderr, "otel ", log.LstdFlags)))
}

func newTracerProvider(cfg *TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(10*time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  2 * time.Minute,
		}),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	), nil
}

// newMeterProvider registers the Prometheus exporter on a private registry so
// /metrics serves exactly this service's instruments.
func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, *promclient.Registry, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	return mp, registry, nil
}

// Shutdown flushes and stops every exporter
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdowns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the configured meter
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// MetricsHandler serves the Prometheus exposition of this service's metrics.
// It answers 404 when metrics are disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// StartSpan starts a span on the service tracer
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}
