package workflow

import (
	"time"

	"github.com/ncolesummers/replysight/pkg/config"
)

// Config holds the engine limits and per-step model settings
type Config struct {
	MaxIterations        int           `json:"max_iterations"`
	HelpfulnessThreshold float64       `json:"helpfulness_threshold"`
	MaxGatherRounds      int           `json:"max_gather_rounds"`
	ResultLimit          int           `json:"result_limit"`
	CallTimeout          time.Duration `json:"call_timeout"`
	BreakerThreshold     int           `json:"breaker_threshold"`

	Decision ModelSettings `json:"decision"`
	Compose  ModelSettings `json:"compose"`
	Score    ModelSettings `json:"score"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:        5,
		HelpfulnessThreshold: 0.7,
		MaxGatherRounds:      2,
		ResultLimit:          3,
		CallTimeout:          20 * time.Second,
		BreakerThreshold:     2,
		Decision:             ModelSettings{Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 256},
		Compose:              ModelSettings{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 1024},
		Score:                ModelSettings{Model: "gpt-4o-mini", Temperature: 0.1, MaxTokens: 16},
	}
}

// ConfigFrom maps the application configuration onto the engine's
func ConfigFrom(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}

	w := cfg.Workflow
	c.MaxIterations = w.MaxIterations
	c.HelpfulnessThreshold = w.HelpfulnessThreshold
	c.MaxGatherRounds = w.MaxGatherRounds
	c.ResultLimit = w.ResultLimit
	c.CallTimeout = config.DurationOr(w.CallTimeout, c.CallTimeout)

	m := cfg.Models
	c.Decision = ModelSettings{Model: m.Decision.Model, Temperature: m.Decision.Temperature, MaxTokens: c.Decision.MaxTokens}
	c.Compose = ModelSettings{Model: m.Compose.Model, Temperature: m.Compose.Temperature, MaxTokens: m.MaxTokens}
	c.Score = ModelSettings{Model: m.Score.Model, Temperature: m.Score.Temperature, MaxTokens: c.Score.MaxTokens}

	return c.withDefaults()
}

// withDefaults fills zero values so a partially populated Config is usable
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	out := *c
	if out.MaxIterations < 1 {
		out.MaxIterations = d.MaxIterations
	}
	if out.HelpfulnessThreshold <= 0 || out.HelpfulnessThreshold > 1 {
		out.HelpfulnessThreshold = d.HelpfulnessThreshold
	}
	if out.MaxGatherRounds < 1 {
		out.MaxGatherRounds = d.MaxGatherRounds
	}
	if out.ResultLimit < 1 {
		out.ResultLimit = d.ResultLimit
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = d.CallTimeout
	}
	if out.BreakerThreshold < 1 {
		out.BreakerThreshold = d.BreakerThreshold
	}
	for _, pair := range []struct {
		got  *ModelSettings
		want ModelSettings
	}{
		{&out.Decision, d.Decision},
		{&out.Compose, d.Compose},
		{&out.Score, d.Score},
	} {
		if pair.got.Model == "" {
			pair.got.Model = pair.want.Model
		}
		if pair.got.MaxTokens < 1 {
			pair.got.MaxTokens = pair.want.MaxTokens
		}
	}
	return &out
}
