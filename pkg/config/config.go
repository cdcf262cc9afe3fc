package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in models.provider
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config represents the complete application configuration
type Config struct {
	Models        ModelsConfig        `yaml:"models"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Tools         ToolsConfig         `yaml:"tools"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ModelsConfig selects the model provider and the model used by each step
type ModelsConfig struct {
	Provider  string      `yaml:"provider"` // "openai", "ollama"
	BaseURL   string      `yaml:"base_url,omitempty"`
	APIKey    string      `yaml:"api_key,omitempty"`
	Timeout   string      `yaml:"timeout"`
	Decision  ModelConfig `yaml:"decision"`
	Compose   ModelConfig `yaml:"compose"`
	Score     ModelConfig `yaml:"score"`
	MaxTokens int         `yaml:"max_tokens"`
}

// ModelConfig contains settings for one workflow step's model calls
type ModelConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// WorkflowConfig contains the reply workflow limits
type WorkflowConfig struct {
	MaxIterations        int     `yaml:"max_iterations"`
	HelpfulnessThreshold float64 `yaml:"helpfulness_threshold"`
	MaxGatherRounds      int     `yaml:"max_gather_rounds"`
	ResultLimit          int     `yaml:"result_limit"`
	CallTimeout          string  `yaml:"call_timeout"`
}

// ToolsConfig contains evidence tool configuration
type ToolsConfig struct {
	Academic AcademicConfig `yaml:"academic"`
	Web      WebConfig      `yaml:"web"`
}

// AcademicConfig contains arXiv tool configuration
type AcademicConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BaseURL           string  `yaml:"base_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	SortBy            string  `yaml:"sort_by"`
}

// WebConfig contains Tavily tool configuration
type WebConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key,omitempty"`
	Timeout     string `yaml:"timeout"`
	SearchDepth string `yaml:"search_depth"` // "basic", "advanced"
}

// APIConfig contains API server configuration
type APIConfig struct {
	Port         int        `yaml:"port"`
	Host         string     `yaml:"host"`
	ReadTimeout  string     `yaml:"read_timeout"`
	WriteTimeout string     `yaml:"write_timeout"`
	CORS         CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file or returns the default
// configuration with environment overrides applied
func LoadOrDefault(path string) *Config {
	config, err := Load(path)
	if err != nil {
		config = Default()
		config.overrideFromEnv()
	}
	return config
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Provider:  ProviderOpenAI,
			Timeout:   "30s",
			Decision:  ModelConfig{Model: "gpt-4o-mini", Temperature: 0.3},
			Compose:   ModelConfig{Model: "gpt-4o-mini", Temperature: 0.7},
			Score:     ModelConfig{Model: "gpt-4o-mini", Temperature: 0.1},
			MaxTokens: 1024,
		},
		Workflow: WorkflowConfig{
			MaxIterations:        5,
			HelpfulnessThreshold: 0.7,
			MaxGatherRounds:      2,
			ResultLimit:          3,
			CallTimeout:          "20s",
		},
		Tools: ToolsConfig{
			Academic: AcademicConfig{
				Enabled:           true,
				BaseURL:           "http://export.arxiv.org/api/query",
				Timeout:           "15s",
				RequestsPerSecond: 0.33,
				SortBy:            "relevance",
			},
			Web: WebConfig{
				Enabled:     true,
				BaseURL:     "https://api.tavily.com/search",
				Timeout:     "15s",
				SearchDepth: "basic",
			},
		},
		API: APIConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  "30s",
			WriteTimeout: "2m",
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
				MaxAge:         3600,
			},
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Models.Provider == "" {
		c.Models.Provider = defaults.Models.Provider
	}
	if c.Models.Timeout == "" {
		c.Models.Timeout = defaults.Models.Timeout
	}
	if c.Models.MaxTokens == 0 {
		c.Models.MaxTokens = defaults.Models.MaxTokens
	}
	applyModelDefaults(&c.Models.Decision, defaults.Models.Decision)
	applyModelDefaults(&c.Models.Compose, defaults.Models.Compose)
	applyModelDefaults(&c.Models.Score, defaults.Models.Score)

	if c.Workflow.MaxIterations == 0 {
		c.Workflow.MaxIterations = defaults.Workflow.MaxIterations
	}
	if c.Workflow.HelpfulnessThreshold == 0 {
		c.Workflow.HelpfulnessThreshold = defaults.Workflow.HelpfulnessThreshold
	}
	if c.Workflow.MaxGatherRounds == 0 {
		c.Workflow.MaxGatherRounds = defaults.Workflow.MaxGatherRounds
	}
	if c.Workflow.ResultLimit == 0 {
		c.Workflow.ResultLimit = defaults.Workflow.ResultLimit
	}
	if c.Workflow.CallTimeout == "" {
		c.Workflow.CallTimeout = defaults.Workflow.CallTimeout
	}

	// An omitted tools section enables both tools
	if c.Tools == (ToolsConfig{}) {
		c.Tools = defaults.Tools
	}
	if c.Tools.Academic.BaseURL == "" {
		c.Tools.Academic.BaseURL = defaults.Tools.Academic.BaseURL
	}
	if c.Tools.Academic.Timeout == "" {
		c.Tools.Academic.Timeout = defaults.Tools.Academic.Timeout
	}
	if c.Tools.Academic.RequestsPerSecond == 0 {
		c.Tools.Academic.RequestsPerSecond = defaults.Tools.Academic.RequestsPerSecond
	}
	if c.Tools.Academic.SortBy == "" {
		c.Tools.Academic.SortBy = defaults.Tools.Academic.SortBy
	}
	if c.Tools.Web.BaseURL == "" {
		c.Tools.Web.BaseURL = defaults.Tools.Web.BaseURL
	}
	if c.Tools.Web.Timeout == "" {
		c.Tools.Web.Timeout = defaults.Tools.Web.Timeout
	}
	if c.Tools.Web.SearchDepth == "" {
		c.Tools.Web.SearchDepth = defaults.Tools.Web.SearchDepth
	}

	if c.API.Port == 0 {
		c.API.Port = defaults.API.Port
	}
	if c.API.Host == "" {
		c.API.Host = defaults.API.Host
	}
	if c.API.ReadTimeout == "" {
		c.API.ReadTimeout = defaults.API.ReadTimeout
	}
	if c.API.WriteTimeout == "" {
		c.API.WriteTimeout = defaults.API.WriteTimeout
	}
	if len(c.API.CORS.AllowedOrigins) == 0 {
		c.API.CORS = defaults.API.CORS
	}

	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = defaults.Observability.Tracing.Endpoint
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = defaults.Observability.Tracing.SamplingRate
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = defaults.Observability.Metrics.Path
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
}

func applyModelDefaults(m *ModelConfig, defaults ModelConfig) {
	if m.Model == "" {
		m.Model = defaults.Model
	}
	if m.Temperature == 0 {
		m.Temperature = defaults.Temperature
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	if provider := os.Getenv("REPLYSIGHT_PROVIDER"); provider != "" {
		c.Models.Provider = strings.ToLower(provider)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Models.Provider == ProviderOpenAI {
		c.Models.APIKey = key
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" && c.Models.Provider == ProviderOllama {
		c.Models.BaseURL = url
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Tools.Web.APIKey = key
	}

	if v := os.Getenv("REPLYSIGHT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workflow.MaxIterations = n
		} else {
			log.Printf("Invalid REPLYSIGHT_MAX_ITERATIONS value: %s, using: %d", v, c.Workflow.MaxIterations)
		}
	}
	if v := os.Getenv("REPLYSIGHT_HELPFULNESS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Workflow.HelpfulnessThreshold = f
		} else {
			log.Printf("Invalid REPLYSIGHT_HELPFULNESS_THRESHOLD value: %s, using: %.2f", v, c.Workflow.HelpfulnessThreshold)
		}
	}

	if port := os.Getenv("API_PORT"); port != "" {
		_, err := fmt.Sscanf(port, "%d", &c.API.Port)
		if err != nil {
			log.Printf("Invalid API_PORT value: %s, using default: %d", port, c.API.Port)
		}
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
		c.Observability.Tracing.Enabled = true
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	switch c.Models.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("models provider must be one of: openai, ollama")
	}
	if c.Models.Decision.Model == "" || c.Models.Compose.Model == "" || c.Models.Score.Model == "" {
		return fmt.Errorf("models decision, compose and score model names are required")
	}

	if c.Workflow.MaxIterations < 1 {
		return fmt.Errorf("workflow max_iterations must be at least 1")
	}
	if c.Workflow.HelpfulnessThreshold < 0 || c.Workflow.HelpfulnessThreshold > 1 {
		return fmt.Errorf("workflow helpfulness_threshold must be between 0 and 1")
	}
	if c.Workflow.MaxGatherRounds < 1 {
		return fmt.Errorf("workflow max_gather_rounds must be at least 1")
	}
	if c.Workflow.ResultLimit < 1 {
		return fmt.Errorf("workflow result_limit must be at least 1")
	}

	if c.Tools.Academic.RequestsPerSecond < 0 {
		return fmt.Errorf("tools academic requests_per_second cannot be negative")
	}
	switch c.Tools.Web.SearchDepth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("tools web search_depth must be one of: basic, advanced")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api port must be between 1 and 65535")
	}

	durations := map[string]string{
		"models timeout":         c.Models.Timeout,
		"workflow call_timeout":  c.Workflow.CallTimeout,
		"tools academic timeout": c.Tools.Academic.Timeout,
		"tools web timeout":      c.Tools.Web.Timeout,
		"api read_timeout":       c.API.ReadTimeout,
		"api write_timeout":      c.API.WriteTimeout,
	}
	for name, value := range durations {
		d, err := c.GetDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

// Validate checks a configuration built in code rather than loaded from a file
func (c *Config) Validate() error {
	return c.validate()
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDuration parses a duration string from config
func (c *Config) GetDuration(value string) (time.Duration, error) {
	return time.ParseDuration(value)
}

// DurationOr parses a duration string, returning fallback when the value is
// empty, malformed or not positive
func DurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "production" || env == "prod"
}
