package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ncolesummers/replysight/internal/testutil"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"github.com/ncolesummers/replysight/pkg/tools"
	"github.com/ncolesummers/replysight/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMain(m *testing.M) {
	observability.SetLogOutput(io.Discard)
	code := m.Run()
	observability.SetLogOutput(nil)
	os.Exit(code)
}

const (
	decideTools   = `{"action":"request_evidence","tools":["academic","web"]}`
	decideCompose = `{"action":"compose"}`
)

// script answers each step's model from its own list of outputs. The last
// entry repeats once a list is exhausted; a nil list makes the step fail.
type script struct {
	mu      sync.Mutex
	outputs map[string][]string
	calls   map[string]int
	errs    map[string]error
	block   map[string]bool

	// blockFrom makes a step block from the given call index on
	blockFrom map[string]int
}

func newScript(decisions, replies, scores []string) *script {
	return &script{
		outputs: map[string][]string{"decider": decisions, "composer": replies, "scorer": scores},
		calls:   map[string]int{},
		errs:    map[string]error{},
		block:   map[string]bool{},

		blockFrom: map[string]int{},
	}
}

func (s *script) client() *testutil.MockLLMClient {
	mock := testutil.NewMockLLMClient()
	mock.ChatFunc = func(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
		s.mu.Lock()
		i := s.calls[opts.Model]
		s.calls[opts.Model]++
		outputs := s.outputs[opts.Model]
		err := s.errs[opts.Model]
		block := s.block[opts.Model]
		if from, ok := s.blockFrom[opts.Model]; ok && i >= from {
			block = true
		}
		s.mu.Unlock()

		if block {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
		if len(outputs) == 0 {
			return nil, fmt.Errorf("no output scripted for %s", opts.Model)
		}
		if i >= len(outputs) {
			i = len(outputs) - 1
		}
		return &domain.ChatResponse{
			Content: outputs[i],
			Model:   opts.Model,
			Usage:   domain.TokenUsage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50},
		}, nil
	}
	return mock
}

func (s *script) count(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[model]
}

func testConfig() *workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.Decision.Model = "decider"
	cfg.Compose.Model = "composer"
	cfg.Score.Model = "scorer"
	cfg.CallTimeout = time.Second
	return cfg
}

func newTools() (*testutil.MockTool, *testutil.MockTool) {
	academic := &testutil.MockTool{
		ToolID: domain.ToolAcademic,
		Items: []domain.EvidenceItem{
			testutil.NewTestEvidence(domain.EvidenceAcademic, 1),
			testutil.NewTestEvidence(domain.EvidenceAcademic, 2),
		},
	}
	web := &testutil.MockTool{
		ToolID: domain.ToolWeb,
		Items:  []domain.EvidenceItem{testutil.NewTestEvidence(domain.EvidenceWeb, 1)},
	}
	return academic, web
}

func newRegistry(t *testing.T, list ...domain.EvidenceTool) *tools.BasicRegistry {
	t.Helper()
	registry := tools.NewBasicRegistry()
	for _, tool := range list {
		require.NoError(t, registry.Register(tool))
	}
	return registry
}

func newEngine(t *testing.T, cfg *workflow.Config, llm domain.LLMClient, registry domain.ToolRegistry) *workflow.Engine {
	t.Helper()
	engine, err := workflow.NewEngine(cfg, llm, registry, nil)
	require.NoError(t, err)
	return engine
}

func TestNewEngine(t *testing.T) {
	llm := testutil.NewMockLLMClient()
	registry := tools.NewBasicRegistry()

	_, err := workflow.NewEngine(nil, llm, registry, nil)
	assert.Error(t, err)
	_, err = workflow.NewEngine(testConfig(), nil, registry, nil)
	assert.Error(t, err)
	_, err = workflow.NewEngine(testConfig(), llm, nil, nil)
	assert.Error(t, err)

	engine, err := workflow.NewEngine(&workflow.Config{}, llm, registry, nil)
	require.NoError(t, err)
	cfg := engine.Config()
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 0.7, cfg.HelpfulnessThreshold)
	assert.Equal(t, 2, cfg.MaxGatherRounds)
	assert.Equal(t, 3, cfg.ResultLimit)
}

func TestEngine_DamagedOrder(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	s := newScript(
		[]string{decideTools, decideCompose},
		[]string{"We're so sorry your order arrived damaged. A replacement ships today.\n\n## Why this helps\n- Fast recovery restores trust [1]\n- Replacing first is common practice [3]\n- Fast recovery again [1]"},
		[]string{"0.85"},
	)
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("My order arrived damaged"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.Equal(t, workflow.ReasonQualitySufficient, outcome.Reason)
	assert.Equal(t, 1, outcome.Cycles)
	assert.Equal(t, 0, outcome.Iterations)
	assert.InDelta(t, 0.85, outcome.Score, 1e-9)
	assert.True(t, outcome.Scored)

	require.NotNil(t, outcome.Reply)
	assert.Contains(t, outcome.Reply.Body, "sorry")
	assert.Equal(t, []string{
		testutil.NewTestEvidence(domain.EvidenceAcademic, 1).Citation,
		testutil.NewTestEvidence(domain.EvidenceWeb, 1).Citation,
	}, outcome.Reply.Citations)
	assert.Len(t, outcome.Evidence, 3)

	assert.Equal(t, 1, academic.Calls())
	assert.Equal(t, 1, web.Calls())
	assert.Equal(t, "order arrived damaged", academic.LastQuery())
	assert.Equal(t, 2, s.count("decider"))
}

func TestEngine_IterationsExhausted(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	s := newScript(
		[]string{decideCompose},
		[]string{"draft 1", "draft 2", "draft 3", "draft 4", "draft 5", "draft 6"},
		[]string{"0.0"},
	)
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Nobody answers the phone"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDegraded, outcome.Status)
	assert.Equal(t, workflow.ReasonIterationsExhausted, outcome.Reason)
	assert.Equal(t, 5, outcome.Cycles)
	assert.Equal(t, 5, outcome.Iterations)
	assert.Equal(t, 5, s.count("composer"))
	require.NotNil(t, outcome.Reply)
	// Every draft tied at 0.0, so the latest one wins
	assert.Equal(t, "draft 5", outcome.Reply.Body)
}

func TestEngine_BestReplyReturnedOnExhaustion(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	cfg := testConfig()
	cfg.MaxIterations = 3
	s := newScript(
		[]string{decideCompose},
		[]string{"first", "second", "third"},
		[]string{"0.2", "0.6", "0.4"},
	)
	engine := newEngine(t, cfg, s.client(), newRegistry(t))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Wrong size delivered"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDegraded, outcome.Status)
	assert.Equal(t, 3, outcome.Cycles)
	assert.Equal(t, "second", outcome.Reply.Body)
	assert.InDelta(t, 0.6, outcome.Score, 1e-9)
}

func TestEngine_ImprovesOnSecondCycle(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	s := newScript(
		[]string{decideCompose, decideTools, decideCompose},
		[]string{"short draft", "better draft citing [1]"},
		[]string{"0.4", "0.9"},
	)
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Refund never arrived"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.Equal(t, 2, outcome.Cycles)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, "better draft citing [1]", outcome.Reply.Body)
	assert.Len(t, outcome.Reply.Citations, 1)
}

func TestEngine_AllToolsFail(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	academic.Err = fmt.Errorf("%w: arxiv down", domain.ErrToolFailure)
	web.Err = errors.New("connection refused")
	s := newScript(
		[]string{decideTools, decideCompose},
		[]string{"We apologize for the delay and will refund you today."},
		[]string{"0.8"},
	)
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Late delivery"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.NotEmpty(t, outcome.Reply.Body)
	assert.Empty(t, outcome.Evidence)
	assert.Empty(t, outcome.Reply.Citations)

	components := map[string]bool{}
	for _, f := range outcome.Failures {
		components[f.Component] = true
	}
	assert.True(t, components["tool.academic"])
	assert.True(t, components["tool.web"])
}

func TestEngine_GatherRunsToolsConcurrently(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	academic.Delay = 200 * time.Millisecond
	web.Delay = 300 * time.Millisecond
	s := newScript([]string{decideTools, decideCompose}, []string{"reply [1]"}, []string{"0.9"})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	start := time.Now()
	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Package lost"))
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 450*time.Millisecond, "tools should run in parallel")
}

func TestEngine_GatherRoundsBounded(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	s := newScript([]string{decideTools}, []string{"reply"}, []string{"0.9"})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Charged twice"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.Equal(t, 2, academic.Calls())
	assert.Equal(t, 2, web.Calls())
	// Third DECIDE is forced to compose without asking the model
	assert.Equal(t, 2, s.count("decider"))
	// Repeated evidence is not duplicated
	assert.Len(t, outcome.Evidence, 3)
}

func TestEngine_DecisionTimeoutComposesNow(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	cfg := testConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	academic, web := newTools()
	s := newScript(nil, []string{"reply"}, []string{"0.9"})
	s.block["decider"] = true
	engine := newEngine(t, cfg, s.client(), newRegistry(t, academic, web))

	start := time.Now()
	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Support never called back"))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.Equal(t, 0, academic.Calls())
	assert.Equal(t, 0, web.Calls())
	require.NotEmpty(t, outcome.Failures)
	assert.Equal(t, "decision", outcome.Failures[0].Component)
}

func TestEngine_UnknownToolsComposeNow(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, _ := newTools()
	s := newScript([]string{`{"action":"request_evidence","tools":["web","crystal_ball"]}`}, []string{"reply"}, []string{"0.9"})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Item missing from box"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.Equal(t, 0, academic.Calls())
	assert.Empty(t, outcome.Evidence)
}

func TestEngine_InvalidInput(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	s := newScript([]string{decideCompose}, []string{"reply"}, []string{"0.9"})
	llm := s.client()
	engine := newEngine(t, testConfig(), llm, newRegistry(t))

	for _, complaint := range []string{"", "   \n\t"} {
		outcome, err := engine.Run(ctx, testutil.NewTestRequest(complaint))
		assert.Nil(t, outcome)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
	}

	_, err := engine.Respond(ctx, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Equal(t, 0, llm.GetCallCount())
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	academic, web := newTools()
	academic.Delay = 5 * time.Second
	web.Delay = 5 * time.Second
	s := newScript([]string{decideTools}, []string{"reply"}, []string{"0.9"})
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Second
	engine := newEngine(t, cfg, s.client(), newRegistry(t, academic, web))

	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Where is my order"))

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.NotNil(t, outcome)
	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.Equal(t, workflow.ReasonCancelled, outcome.Reason)
	assert.Equal(t, 0, s.count("composer"))
}

func TestEngine_CancelledWhileComposing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newScript([]string{decideCompose}, []string{"reply"}, []string{"0.9"})
	s.block["composer"] = true
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Second
	engine := newEngine(t, cfg, s.client(), newRegistry(t))

	time.AfterFunc(50*time.Millisecond, cancel)
	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Where is my order"))

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.NotNil(t, outcome)
	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.Equal(t, 0, s.count("scorer"))
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScript([]string{decideCompose}, []string{"reply"}, []string{"0.9"})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Where is my order"))

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.NotNil(t, outcome)
	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.Equal(t, 0, outcome.Cycles)
	assert.Equal(t, 0, s.count("composer"))
	assert.Contains(t, workflow.Describe().Edges, workflow.Edge{From: "START", To: "FAILED", Label: "cancelled"})
}

func TestEngine_DeadlineReturnsBestReply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	s := newScript([]string{decideCompose}, []string{"first reply"}, []string{"0.5"})
	s.blockFrom["composer"] = 1
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Second
	engine := newEngine(t, cfg, s.client(), newRegistry(t))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("My order arrived damaged"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDegraded, outcome.Status)
	assert.Equal(t, workflow.ReasonDeadlineExceeded, outcome.Reason)
	assert.Equal(t, 2, outcome.Cycles)
	require.NotNil(t, outcome.Reply)
	assert.Equal(t, "first reply", outcome.Reply.Body)
	assert.InDelta(t, 0.5, outcome.Score, 1e-9)
	assert.True(t, outcome.Scored)
	assert.Equal(t, 1, s.count("scorer"), "the blocked second draft must not be scored")
}

func TestEngine_DeadlineBeforeAnyReplyUsesTemplate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	academic, web := newTools()
	s := newScript([]string{decideTools, decideCompose}, []string{"reply"}, []string{"0.9"})
	s.block["composer"] = true
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Second
	engine := newEngine(t, cfg, s.client(), newRegistry(t, academic, web))

	resp, err := engine.Respond(ctx, testutil.NewTestRequest("Refund never arrived"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.Reply)
	assert.Len(t, resp.Citations, 3, "template cites the gathered evidence")
}

func TestEngine_SharedMetrics(t *testing.T) {
	telemetry := testutil.SetupTestTelemetry(tracetest.NewSpanRecorder(), sdkmetric.NewManualReader())
	metrics, err := observability.NewMetrics(telemetry.Meter())
	require.NoError(t, err)

	s := newScript([]string{decideCompose}, []string{"reply"}, []string{"0.9"})
	s.block["composer"] = true
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Second
	engine, err := workflow.NewEngine(cfg, s.client(), newRegistry(t), telemetry, workflow.WithMetrics(metrics))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testutil.NewTestContext(t))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Run(ctx, testutil.NewTestRequest("Where is my order"))
	}()

	assert.Eventually(t, func() bool { return metrics.GetActiveReplyCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int64(0), metrics.GetActiveReplyCount())
}

func TestEngine_ComposerDownUsesTemplate(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	s := newScript([]string{decideTools, decideCompose}, nil, []string{"0.9"})
	s.errs["composer"] = errors.New("503 service unavailable")
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("My order arrived damaged"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDegraded, outcome.Status)
	assert.Equal(t, workflow.ReasonModelUnavailable, outcome.Reason)
	require.NotNil(t, outcome.Reply)
	assert.True(t, outcome.Reply.Templated)
	assert.Contains(t, outcome.Reply.Body, "sorry")
	assert.Len(t, outcome.Reply.Citations, 3)
	assert.Equal(t, 0, s.count("scorer"))
}

func TestEngine_ScorerFailsOpen(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	s := newScript([]string{decideCompose}, []string{"reply"}, []string{"I cannot rate this."})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("Coupon did not apply"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, outcome.Status)
	assert.Equal(t, workflow.ReasonQualityUnverified, outcome.Reason)
	assert.Equal(t, 0.7, outcome.Score)
	assert.False(t, outcome.Scored)
	assert.Equal(t, 1, outcome.Cycles)
}

func TestEngine_BreakerSkipsModelAfterFailure(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	llm := testutil.NewMockLLMClient()
	llm.ShouldError = true
	llm.ErrorMessage = "connection refused"
	academic, web := newTools()
	engine := newEngine(t, cfg, llm, newRegistry(t, academic, web))

	outcome, err := engine.Run(ctx, testutil.NewTestRequest("App keeps crashing"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDegraded, outcome.Status)
	assert.True(t, outcome.Reply.Templated)
	assert.Equal(t, 1, llm.GetCallCount(), "composer must not call a model known to be down")
}

func TestEngine_Respond(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	s := newScript([]string{decideTools, decideCompose}, []string{"Sorry! [2]"}, []string{"0.95"})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	resp, err := engine.Respond(ctx, testutil.NewTestRequest("Broken zipper"))
	require.NoError(t, err)

	assert.Equal(t, "Sorry! [2]", resp.Reply)
	assert.Equal(t, []string{testutil.NewTestEvidence(domain.EvidenceAcademic, 2).Citation}, resp.Citations)
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	academic, web := newTools()
	s := newScript([]string{decideTools, decideCompose}, []string{"reply [1]"}, []string{"0.9"})
	engine := newEngine(t, testConfig(), s.client(), newRegistry(t, academic, web))

	var wg sync.WaitGroup
	outcomes := make([]*workflow.Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testutil.NewTestRequest(fmt.Sprintf("complaint number %d", i))
			req.ID = fmt.Sprintf("req-%d", i)
			outcomes[i], _ = engine.Run(ctx, req)
		}()
	}
	wg.Wait()

	for i, outcome := range outcomes {
		require.NotNil(t, outcome, "run %d", i)
		assert.Equal(t, fmt.Sprintf("req-%d", i), outcome.RequestID)
		assert.True(t, outcome.Status.Terminal())
	}
}

func TestEngine_Telemetry(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	telemetry := testutil.SetupTestTelemetry(recorder, reader)

	academic, web := newTools()
	s := newScript([]string{decideTools, decideCompose}, []string{"reply [1]"}, []string{"0.9"})
	engine, err := workflow.NewEngine(testConfig(), s.client(), newRegistry(t, academic, web), telemetry)
	require.NoError(t, err)

	_, err = engine.Run(ctx, testutil.NewTestRequest("Late delivery"))
	require.NoError(t, err)

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["reply.request"])
	assert.Equal(t, 2, names["workflow.node.DECIDE"])
	assert.Equal(t, 1, names["workflow.node.GATHER"])
	assert.Equal(t, 1, names["workflow.node.SCORE"])
	assert.Equal(t, 1, names["tool.academic"])
	assert.Equal(t, 1, names["tool.web"])
	assert.Equal(t, 2, names["llm.decision"])
	assert.Equal(t, 1, names["llm.compose"])
	assert.Equal(t, 1, names["llm.score"])
}
