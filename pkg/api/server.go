package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ncolesummers/replysight/pkg/config"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
)

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MetricsPath    string
	CORS           config.CORSConfig
	Debug          bool
}

// ServerConfigFrom maps the application configuration onto the server's
func ServerConfigFrom(cfg *config.Config) ServerConfig {
	write := config.DurationOr(cfg.API.WriteTimeout, 2*time.Minute)
	// Leave the workflow a second less than the write deadline so the
	// response still goes out
	request := write - time.Second
	if request <= 0 {
		request = write
	}
	return ServerConfig{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		ReadTimeout:    config.DurationOr(cfg.API.ReadTimeout, 30*time.Second),
		WriteTimeout:   write,
		RequestTimeout: request,
		MetricsPath:    cfg.Observability.Metrics.Path,
		CORS:           cfg.API.CORS,
		Debug:          !cfg.IsProduction(),
	}
}

// HealthInfo is the static part of the health report
type HealthInfo struct {
	Service       string          `json:"service"`
	Version       string          `json:"version"`
	Provider      string          `json:"provider"`
	ModelReady    bool            `json:"model_configured"`
	Tools         []string        `json:"tools"`
	Dependencies  map[string]bool `json:"dependencies"`
	MaxIterations int             `json:"max_iterations"`
	Threshold     float64         `json:"helpfulness_threshold"`
}

// Server is the thin HTTP layer in front of the reply workflow
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	service    domain.ReplyService
	telemetry  *observability.Telemetry
	health     HealthInfo
	config     ServerConfig
	startTime  time.Time
	logger     *observability.StructuredLogger
}

// NewServer creates a server. A nil telemetry serves /metrics as 404.
func NewServer(cfg ServerConfig, service domain.ReplyService, telemetry *observability.Telemetry, health HealthInfo) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("reply service is required")
	}
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	s := &Server{
		router:    router,
		service:   service,
		telemetry: telemetry,
		health:    health,
		config:    cfg,
		startTime: time.Now(),
		logger:    observability.NewStructuredLogger("api"),
	}

	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors.New(corsConfig(cfg.CORS)))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.DefaultConfig()
	if len(c.AllowedOrigins) == 0 || (len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	if len(c.AllowedMethods) > 0 {
		cc.AllowMethods = c.AllowedMethods
	} else {
		cc.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(c.AllowedHeaders) > 0 {
		cc.AllowHeaders = c.AllowedHeaders
	} else {
		cc.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	}
	if c.MaxAge > 0 {
		cc.MaxAge = time.Duration(c.MaxAge) * time.Second
	}
	return cc
}

func (s *Server) setupRoutes() {
	s.router.POST("/respond", s.handleRespond)
	s.router.GET("/graph", s.handleGraph)
	s.router.GET("/health", s.handleHealth)
	s.router.GET(s.config.MetricsPath, gin.WrapH(s.telemetry.MetricsHandler()))
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "API server listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn(c.Request.Context(), "Request failed", attrs)
			return
		}
		s.logger.Debug(c.Request.Context(), "Request served", attrs)
	}
}
