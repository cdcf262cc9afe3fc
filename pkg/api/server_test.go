package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ncolesummers/replysight/internal/testutil"
	"github.com/ncolesummers/replysight/pkg/api"
	"github.com/ncolesummers/replysight/pkg/config"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"github.com/ncolesummers/replysight/pkg/tools"
	"github.com/ncolesummers/replysight/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	observability.SetLogOutput(io.Discard)
	code := m.Run()
	observability.SetLogOutput(nil)
	os.Exit(code)
}

type stubService struct {
	resp    *domain.ReplyResponse
	err     error
	lastReq *domain.ReplyRequest
}

func (s *stubService) Respond(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResponse, error) {
	s.lastReq = req
	if err := domain.ValidateRequest(req); err != nil {
		return nil, err
	}
	return s.resp, s.err
}

func newServer(t *testing.T, service domain.ReplyService, telemetry *observability.Telemetry) *api.Server {
	t.Helper()
	cfg := api.ServerConfigFrom(config.Default())
	server, err := api.NewServer(cfg, service, telemetry, api.HealthInfo{
		Service:    "replysight",
		Version:    "test",
		Provider:   "openai",
		ModelReady: true,
		Tools:      []string{"academic", "web"},
	})
	require.NoError(t, err)
	return server
}

func do(t *testing.T, server *api.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := api.NewServer(api.ServerConfig{}, nil, nil, api.HealthInfo{})
	assert.Error(t, err)
}

func TestRespond_OK(t *testing.T) {
	service := &stubService{resp: &domain.ReplyResponse{
		Reply:     "We're sorry [1]",
		Citations: []string{"https://example.com/web/1"},
		LatencyMS: 1200,
	}}
	server := newServer(t, service, nil)

	rec := do(t, server, http.MethodPost, "/respond", `{"complaint":"My order arrived damaged","customer_id":"cust_1","priority":"high"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body domain.ReplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "We're sorry [1]", body.Reply)
	assert.Equal(t, []string{"https://example.com/web/1"}, body.Citations)
	assert.Equal(t, int64(1200), body.LatencyMS)

	require.NotNil(t, service.lastReq)
	assert.NotEmpty(t, service.lastReq.ID)
	assert.Equal(t, domain.PriorityHigh, service.lastReq.Priority)
	assert.Equal(t, service.lastReq.ID, rec.Header().Get("X-Request-ID"))
}

func TestRespond_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{"complaint":`, nil, http.StatusBadRequest},
		{"empty complaint", `{"complaint":"   "}`, nil, http.StatusBadRequest},
		{"bad priority", `{"complaint":"late","priority":"urgent"}`, nil, http.StatusBadRequest},
		{"timeout", `{"complaint":"late"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"cancelled", `{"complaint":"late"}`, context.Canceled, http.StatusServiceUnavailable},
		{"unexpected", `{"complaint":"late"}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, &stubService{err: tt.err}, nil)
			rec := do(t, server, http.MethodPost, "/respond", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body api.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestRespond_WithEngine(t *testing.T) {
	llm := testutil.NewMockLLMClient()
	llm.ChatFunc = func(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
		switch {
		case opts.JSONMode:
			return &domain.ChatResponse{Content: `{"action":"request_evidence","tools":["web"]}`}, nil
		case strings.Contains(messages[0].Content, "evaluator"):
			return &domain.ChatResponse{Content: "0.9"}, nil
		default:
			return &domain.ChatResponse{Content: "So sorry about the damage. A replacement ships today [1]."}, nil
		}
	}
	registry := tools.NewBasicRegistry()
	require.NoError(t, registry.Register(&testutil.MockTool{
		ToolID: domain.ToolWeb,
		Items:  []domain.EvidenceItem{testutil.NewTestEvidence(domain.EvidenceWeb, 1)},
	}))
	engine, err := workflow.NewEngine(workflow.DefaultConfig(), llm, registry, nil)
	require.NoError(t, err)

	server := newServer(t, engine, nil)
	rec := do(t, server, http.MethodPost, "/respond", `{"complaint":"My order arrived damaged"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body domain.ReplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Reply, "replacement")
	assert.Equal(t, []string{"https://example.com/web/1"}, body.Citations)
}

func TestRespond_EngineDeadlineKeepsScoredReply(t *testing.T) {
	var composes atomic.Int32
	llm := testutil.NewMockLLMClient()
	llm.ChatFunc = func(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
		switch {
		case strings.Contains(messages[0].Content, "evaluator"):
			return &domain.ChatResponse{Content: "0.5"}, nil
		case composes.Add(1) > 1:
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return &domain.ChatResponse{Content: "We are sorry about the delay. Your parcel ships today."}, nil
		}
	}
	engine, err := workflow.NewEngine(workflow.DefaultConfig(), llm, tools.NewBasicRegistry(), nil)
	require.NoError(t, err)

	cfg := api.ServerConfigFrom(config.Default())
	cfg.RequestTimeout = 300 * time.Millisecond
	server, err := api.NewServer(cfg, engine, nil, api.HealthInfo{Service: "replysight"})
	require.NoError(t, err)

	rec := do(t, server, http.MethodPost, "/respond", `{"complaint":"My parcel is two weeks late"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body domain.ReplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "We are sorry about the delay. Your parcel ships today.", body.Reply)
	assert.EqualValues(t, 2, composes.Load())
}

func TestGraph(t *testing.T) {
	server := newServer(t, &stubService{}, nil)

	rec := do(t, server, http.MethodGet, "/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var topology workflow.Topology
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &topology))
	assert.Equal(t, "START", topology.Entry)
	assert.True(t, topology.Cyclic)

	rec = do(t, server, http.MethodGet, "/graph?format=mermaid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "flowchart TD"))
}

func TestHealth(t *testing.T) {
	server := newServer(t, &stubService{}, nil)

	rec := do(t, server, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "openai", body.Provider)
	assert.Equal(t, []string{"academic", "web"}, body.Tools)
}

func TestMetrics(t *testing.T) {
	server := newServer(t, &stubService{}, nil)
	rec := do(t, server, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	telemetry, err := observability.NewTelemetry(&observability.TelemetryConfig{
		ServiceName:   "replysight-test",
		EnableMetrics: true,
	})
	require.NoError(t, err)
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	metrics, err := observability.NewMetrics(telemetry.Meter())
	require.NoError(t, err)
	metrics.RecordReplyRequest(context.Background(), "normal")

	server = newServer(t, &stubService{}, telemetry)
	rec = do(t, server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reply_requests_total")
}

func TestCORS(t *testing.T) {
	server := newServer(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/respond", nil)
	req.Header.Set("Origin", "https://support.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
