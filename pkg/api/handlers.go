package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/workflow"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	HealthInfo
}

func (s *Server) handleRespond(c *gin.Context) {
	var req domain.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	req.ReceivedAt = time.Now()

	ctx := c.Request.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	resp, err := s.service.Respond(ctx, &req)
	switch {
	case err == nil:
		c.Header("X-Request-ID", req.ID)
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "reply workflow timed out"})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled"})
	default:
		s.logger.Error(ctx, "Reply workflow failed", err, map[string]interface{}{"request_id": req.ID})
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func (s *Server) handleGraph(c *gin.Context) {
	topology := workflow.Describe()
	if c.Query("format") == "mermaid" {
		c.String(http.StatusOK, topology.Mermaid())
		return
	}
	c.JSON(http.StatusOK, topology)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if !s.health.ModelReady {
		status = "degraded"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:     status,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		HealthInfo: s.health,
	})
}
