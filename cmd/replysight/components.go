package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/api"
	"github.com/ncolesummers/replysight/pkg/config"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/llm"
	"github.com/ncolesummers/replysight/pkg/observability"
	"github.com/ncolesummers/replysight/pkg/tools"
	"github.com/ncolesummers/replysight/pkg/workflow"
)

// components is everything a command needs to draft replies
type components struct {
	engine *workflow.Engine
	health api.HealthInfo
}

type healthChecker interface {
	CheckHealth(ctx context.Context) error
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	ctx, span := tracer.Start(ctx, "initialize_components")
	defer span.End()

	logger := observability.NewStructuredLogger("main")

	client, err := llm.NewFromConfig(cfg.Models)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	modelReady := modelConfigured(ctx, cfg, client, logger)

	// One instrument set per meter; the engine and the model client share it
	shared := metrics
	if shared == nil {
		shared, err = observability.NewMetrics(telemetry.Meter())
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	instrumented, err := llm.NewInstrumentedLLMClient(client, telemetry, shared, cfg.Models.Provider)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to instrument model client: %w", err)
	}

	registry, err := createToolRegistry(cfg, logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	engine, err := workflow.NewEngine(workflow.ConfigFrom(cfg), instrumented, registry, telemetry, workflow.WithMetrics(shared))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build reply engine: %w", err)
	}

	toolNames := make([]string, 0, len(registry.List()))
	for _, tool := range registry.List() {
		toolNames = append(toolNames, string(tool.ID()))
	}

	return &components{
		engine: engine,
		health: api.HealthInfo{
			Service:    "replysight",
			Version:    Version,
			Provider:   cfg.Models.Provider,
			ModelReady: modelReady,
			Tools:      toolNames,
			Dependencies: map[string]bool{
				"model":    modelReady,
				"academic": cfg.Tools.Academic.Enabled,
				"web":      cfg.Tools.Web.Enabled && cfg.Tools.Web.APIKey != "",
			},
			MaxIterations: engine.Config().MaxIterations,
			Threshold:     engine.Config().HelpfulnessThreshold,
		},
	}, nil
}

// modelConfigured reports whether the model provider can be reached. A missing
// model never stops startup; the workflow degrades to template replies.
func modelConfigured(ctx context.Context, cfg *config.Config, client domain.LLMClient, logger *observability.StructuredLogger) bool {
	switch cfg.Models.Provider {
	case config.ProviderOpenAI:
		if cfg.Models.APIKey == "" {
			logger.Warn(ctx, "OPENAI_API_KEY is not set; replies will use the fallback template")
			return false
		}
		return true
	default:
		checker, ok := client.(healthChecker)
		if !ok {
			return true
		}
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := checker.CheckHealth(healthCtx); err != nil {
			logger.Warn(ctx, "Model provider health check failed", map[string]interface{}{
				"provider": cfg.Models.Provider,
				"error":    err.Error(),
			})
			return false
		}
		return true
	}
}

func createToolRegistry(cfg *config.Config, logger *observability.StructuredLogger) (*tools.BasicRegistry, error) {
	registry := tools.NewBasicRegistry()

	if cfg.Tools.Academic.Enabled {
		academic := tools.NewAcademicTool(tools.AcademicConfig{
			BaseURL:           cfg.Tools.Academic.BaseURL,
			Timeout:           config.DurationOr(cfg.Tools.Academic.Timeout, 15*time.Second),
			RequestsPerSecond: cfg.Tools.Academic.RequestsPerSecond,
			SortBy:            cfg.Tools.Academic.SortBy,
		})
		if err := registry.Register(academic); err != nil {
			return nil, fmt.Errorf("failed to register academic tool: %w", err)
		}
	}

	if cfg.Tools.Web.Enabled {
		if cfg.Tools.Web.APIKey == "" {
			logger.Warn(context.Background(), "TAVILY_API_KEY is not set; web evidence disabled")
		} else {
			web := tools.NewWebTool(tools.WebConfig{
				BaseURL:     cfg.Tools.Web.BaseURL,
				APIKey:      cfg.Tools.Web.APIKey,
				Timeout:     config.DurationOr(cfg.Tools.Web.Timeout, 15*time.Second),
				SearchDepth: cfg.Tools.Web.SearchDepth,
			})
			if err := registry.Register(web); err != nil {
				return nil, fmt.Errorf("failed to register web tool: %w", err)
			}
		}
	}

	return registry, nil
}
