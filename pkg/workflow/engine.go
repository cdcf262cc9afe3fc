package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"github.com/ncolesummers/replysight/pkg/state"
	"github.com/ncolesummers/replysight/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
)

// Node is a state of the reply workflow
type Node int

const (
	NodeStart Node = iota
	NodeDecide
	NodeGather
	NodeExtract
	NodeCompose
	NodeScore
	NodeEnd
	NodeFailed
)

var nodeNames = map[Node]string{
	NodeStart:   "START",
	NodeDecide:  "DECIDE",
	NodeGather:  "GATHER",
	NodeExtract: "EXTRACT",
	NodeCompose: "COMPOSE",
	NodeScore:   "SCORE",
	NodeEnd:     "END",
	NodeFailed:  "FAILED",
}

// String returns the node name
func (n Node) String() string {
	if name, ok := nodeNames[n]; ok {
		return name
	}
	return fmt.Sprintf("Node(%d)", int(n))
}

// Reasons recorded on the outcome when the workflow terminates
const (
	ReasonQualitySufficient   = "quality_sufficient"
	ReasonQualityUnverified   = "quality_check_unavailable"
	ReasonIterationsExhausted = "iterations_exhausted"
	ReasonModelUnavailable    = "model_unavailable"
	ReasonCancelled           = "cancelled"
	ReasonDeadlineExceeded    = "deadline_exceeded"
)

// Outcome is the result of one workflow run
type Outcome struct {
	RequestID  string                `json:"request_id,omitempty"`
	Reply      *domain.ComposedReply `json:"reply,omitempty"`
	Status     domain.Status         `json:"status"`
	Score      float64               `json:"helpfulness_score"`
	Scored     bool                  `json:"scored"`
	Cycles     int                   `json:"cycles"`
	Iterations int                   `json:"iterations"`
	Reason     string                `json:"reason"`
	Evidence   []domain.EvidenceItem `json:"evidence"`
	Failures   []domain.Failure      `json:"failures,omitempty"`
	Latency    time.Duration         `json:"latency"`
}

// Response converts the outcome into the API payload
func (o *Outcome) Response() *domain.ReplyResponse {
	resp := &domain.ReplyResponse{
		Citations: []string{},
		LatencyMS: o.Latency.Milliseconds(),
	}
	if o.Reply != nil {
		resp.Reply = o.Reply.Body
		if o.Reply.Citations != nil {
			resp.Citations = append(resp.Citations, o.Reply.Citations...)
		}
	}
	return resp
}

// Engine runs the reply state machine:
// START -> DECIDE -> GATHER -> EXTRACT -> DECIDE ... -> COMPOSE -> SCORE -> DECIDE | END.
// It is safe for concurrent use; every Run owns its own WorkflowState.
type Engine struct {
	config    *Config
	registry  domain.ToolRegistry
	decision  *DecisionStep
	composer  *Composer
	gate      *QualityGate
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithMetrics makes the engine record into m instead of creating its own
// instruments on the telemetry meter. Share one Metrics per meter so the
// active request gauge has a single callback.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine. A nil telemetry disables tracing and metrics.
func NewEngine(cfg *Config, llmClient domain.LLMClient, registry domain.ToolRegistry, telemetry *observability.Telemetry, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if llmClient == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tools registry is required")
	}
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}

	cfg = cfg.withDefaults()
	e := &Engine{
		config:    cfg,
		registry:  registry,
		decision:  NewDecisionStep(llmClient, cfg.Decision, cfg.CallTimeout, telemetry),
		composer:  NewComposer(llmClient, cfg.Compose, cfg.CallTimeout, telemetry),
		gate:      NewQualityGate(llmClient, cfg.Score, cfg.HelpfulnessThreshold, cfg.CallTimeout, telemetry),
		telemetry: telemetry,
		logger:    observability.NewStructuredLogger("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		metrics, err := observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		e.metrics = metrics
	}
	return e, nil
}

// Config returns the effective engine configuration
func (e *Engine) Config() Config {
	return *e.config
}

// Respond implements domain.ReplyService
func (e *Engine) Respond(ctx context.Context, request *domain.ReplyRequest) (*domain.ReplyResponse, error) {
	outcome, err := e.Run(ctx, request)
	if err != nil {
		return nil, err
	}
	return outcome.Response(), nil
}

// Run validates the request and drives the state machine to a terminal
// status. The only errors returned are ErrInvalidInput (before anything
// runs) and context.Canceled when the caller abandons the request, in which
// case the failed outcome is returned alongside it. A missed deadline ends
// degraded with the best reply so far, or the template reply.
func (e *Engine) Run(ctx context.Context, request *domain.ReplyRequest) (*Outcome, error) {
	if err := domain.ValidateRequest(request); err != nil {
		return nil, err
	}
	if request.ReceivedAt.IsZero() {
		request.ReceivedAt = time.Now()
	}

	ctx, span := e.telemetry.StartReplyRequest(ctx, request.ID, request.CustomerID, request.Complaint, string(request.Priority))
	defer span.End()

	e.metrics.RecordReplyRequest(ctx, string(request.Priority))

	r := &run{
		engine:  e,
		state:   state.NewWorkflowState(*request, &state.StateConfig{MaxIterations: e.config.MaxIterations}),
		breaker: NewCircuitBreaker(e.config.BreakerThreshold, 0),
		query:   tools.DeriveQuery(request.Complaint),
		logger:  e.logger.With(map[string]interface{}{"request_id": request.ID}),
	}
	if r.query == "" {
		r.query = request.Complaint
	}

	r.logger.Info(ctx, "Reply workflow started", map[string]interface{}{
		"priority": string(request.Priority),
		"query":    r.query,
	})

	node := NodeStart
	for node != NodeEnd {
		if node != NodeFailed && ctx.Err() != nil {
			node = r.interrupted(ctx)
			if node == NodeEnd {
				break
			}
		}

		switch node {
		case NodeStart:
			node = r.start(ctx)
		case NodeDecide:
			node = r.step(ctx, NodeDecide, r.decide)
		case NodeGather:
			node = r.step(ctx, NodeGather, r.gather)
		case NodeExtract:
			node = r.step(ctx, NodeExtract, r.extract)
		case NodeCompose:
			node = r.step(ctx, NodeCompose, r.compose)
		case NodeScore:
			node = r.step(ctx, NodeScore, r.score)
		case NodeFailed:
			node = r.fail(ctx)
		default:
			r.state.RecordFailure("engine", fmt.Errorf("unknown node %s", node))
			node = NodeFailed
		}
	}

	outcome := r.outcome()
	e.metrics.RecordReplyComplete(ctx, outcome.Latency, string(outcome.Status), outcome.Cycles)

	span.SetAttributes(
		attribute.String("reply.status", string(outcome.Status)),
		attribute.String("reply.reason", outcome.Reason),
		attribute.Int("reply.cycles", outcome.Cycles),
		attribute.Float64("reply.score", outcome.Score),
		attribute.Int("reply.citations", len(outcome.Response().Citations)),
	)

	r.logger.Info(ctx, "Reply workflow finished", map[string]interface{}{
		"status":     string(outcome.Status),
		"reason":     outcome.Reason,
		"cycles":     outcome.Cycles,
		"score":      outcome.Score,
		"latency_ms": outcome.Latency.Milliseconds(),
		"failures":   len(outcome.Failures),
	})

	if outcome.Status == domain.StatusFailed {
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		return outcome, err
	}
	return outcome, nil
}

// run carries the per-request state of one Engine.Run
type run struct {
	engine  *Engine
	state   *state.WorkflowState
	breaker *CircuitBreaker
	query   string
	logger  *observability.StructuredLogger

	requested []domain.EvidenceTool
	pending   []domain.ToolResult
}

// step wraps a node in a span. The node's error is only used for the span
// status; recovery already happened inside the node.
func (r *run) step(ctx context.Context, node Node, fn func(context.Context) (Node, error)) Node {
	var next Node
	_ = r.engine.telemetry.InstrumentWorkflowNode(ctx, node.String(), string(r.state.Status), func(ctx context.Context) error {
		var err error
		next, err = fn(ctx)
		return err
	})
	return next
}

func (r *run) start(ctx context.Context) Node {
	r.state.StartCycle()
	return NodeDecide
}

func (r *run) decide(ctx context.Context) (Node, error) {
	e := r.engine
	st := r.state

	var (
		decision domain.Decision
		forced   bool
		err      error
	)

	switch {
	case len(e.registry.List()) == 0:
		decision, forced = domain.ComposeNow(), true
	case st.GatherRounds >= e.config.MaxGatherRounds:
		decision, forced = domain.ComposeNow(), true
	case !r.breaker.CanExecute():
		decision, forced = domain.ComposeNow(), true
		err = errBreakerOpen
	default:
		decision, err = e.decision.Decide(ctx, r.decisionInput())
		r.breaker.Record(err)
	}
	if err != nil {
		forced = true
		st.RecordFailure("decision", err)
		e.metrics.RecordFallback(ctx, "decision")
	}

	switch decision.Kind {
	case domain.DecisionRequestEvidence:
		known, unknown := r.resolve(decision.Tools())
		if len(unknown) > 0 {
			r.logger.Warn(ctx, "Decision requested unregistered tools", map[string]interface{}{
				"tools": unknown,
			})
		}
		if len(known) == 0 {
			decision, forced = domain.ComposeNow(), true
			break
		}
		r.requested = known
	case domain.DecisionComposeNow:
	}

	e.metrics.RecordDecision(ctx, decision.Kind.String(), forced)
	r.logger.Debug(ctx, "Decision", map[string]interface{}{
		"decision":      decision.String(),
		"forced":        forced,
		"cycle":         st.Cycles,
		"gather_rounds": st.GatherRounds,
	})

	switch decision.Kind {
	case domain.DecisionRequestEvidence:
		r.transition(ctx, domain.StatusGathering)
		return NodeGather, err
	default:
		r.transition(ctx, domain.StatusComposing)
		return NodeCompose, err
	}
}

func (r *run) decisionInput() DecisionInput {
	st := r.state
	in := DecisionInput{
		Complaint:       st.Request.Complaint,
		Priority:        st.Request.Priority,
		EvidenceSummary: st.EvidenceSummary(200),
		EvidenceCounts:  st.EvidenceByKind(),
		ToolCatalog:     tools.Describe(r.engine.registry),
		Iteration:       st.Iterations,
		Cycle:           st.Cycles,
	}
	if st.Best != nil && st.Best.Scored {
		score := st.Best.Score
		in.PreviousScore = &score
	}
	return in
}

// resolve splits requested ids into registered tools and unknown ids
func (r *run) resolve(ids []domain.ToolID) ([]domain.EvidenceTool, []domain.ToolID) {
	var known []domain.EvidenceTool
	var unknown []domain.ToolID
	for _, id := range ids {
		tool, err := r.engine.registry.Get(id)
		if err != nil {
			unknown = append(unknown, id)
			continue
		}
		known = append(known, tool)
	}
	return known, unknown
}

func (r *run) extract(ctx context.Context) (Node, error) {
	e := r.engine
	var errs []error
	for _, res := range r.pending {
		if res.Err != nil {
			errs = append(errs, res.Err)
			r.state.RecordFailure("tool."+string(res.Tool), res.Err)
			e.metrics.RecordFallback(ctx, "tool."+string(res.Tool))
		}
		added := r.state.MergeEvidence(res.Items)
		e.metrics.RecordEvidence(ctx, string(res.Tool), added)
	}
	r.pending = nil
	r.requested = nil

	r.logger.Debug(ctx, "Evidence merged", map[string]interface{}{
		"evidence_count": len(r.state.Evidence),
		"gather_rounds":  r.state.GatherRounds,
	})
	return NodeDecide, errors.Join(errs...)
}

func (r *run) compose(ctx context.Context) (Node, error) {
	e := r.engine
	st := r.state

	var (
		reply *domain.ComposedReply
		err   error
	)
	if r.breaker.CanExecute() {
		reply, err = e.composer.Compose(ctx, st.Request.Complaint, st.Evidence)
		r.breaker.Record(err)
	} else {
		reply, err = TemplateReply(st.Evidence), errBreakerOpen
	}
	if ctx.Err() != nil {
		return r.interrupted(ctx), ctx.Err()
	}

	if err != nil {
		st.RecordFailure("composer", err)
		e.metrics.RecordFallback(ctx, "composer")
		reply.Latency = st.Latency()
		st.SetDraft(reply)
		r.finish(ctx, domain.StatusDegraded, ReasonModelUnavailable)
		return NodeEnd, err
	}

	st.SetDraft(reply)
	r.transition(ctx, domain.StatusScoring)
	return NodeScore, nil
}

func (r *run) score(ctx context.Context) (Node, error) {
	e := r.engine
	st := r.state
	draft := st.Draft

	var (
		verdict Verdict
		err     error
	)
	if r.breaker.CanExecute() {
		verdict, err = e.gate.Evaluate(ctx, st.Request.Complaint, draft)
		r.breaker.Record(err)
	} else {
		verdict, err = e.gate.FailOpen(), errBreakerOpen
	}
	if ctx.Err() != nil {
		return r.interrupted(ctx), ctx.Err()
	}
	if err != nil {
		st.RecordFailure("quality_gate", err)
		e.metrics.RecordFallback(ctx, "quality_gate")
	}

	draft.Score = verdict.Score
	draft.Scored = verdict.Scored
	draft.Latency = st.Latency()
	e.metrics.RecordHelpfulness(ctx, verdict.Score, verdict.Scored)

	if verdict.Accepted {
		st.Accept(draft)
		reason := ReasonQualitySufficient
		if !verdict.Scored {
			reason = ReasonQualityUnverified
		}
		r.finish(ctx, domain.StatusDone, reason)
		return NodeEnd, err
	}

	st.RecordCandidate(draft)
	if st.IncrementIteration() {
		r.finish(ctx, domain.StatusDegraded, ReasonIterationsExhausted)
		return NodeEnd, err
	}

	st.StartCycle()
	r.logger.Info(ctx, "Reply below threshold, starting new cycle", map[string]interface{}{
		"score":     verdict.Score,
		"threshold": e.gate.Threshold(),
		"cycle":     st.Cycles,
	})
	return NodeDecide, err
}

// interrupted picks the next node once the request context is done. Only an
// abandoned request fails; past its deadline the workflow still answers.
func (r *run) interrupted(ctx context.Context) Node {
	err := ctx.Err()
	if !errors.Is(err, context.DeadlineExceeded) {
		return NodeFailed
	}

	st := r.state
	st.RecordFailure("engine", err)
	r.engine.metrics.RecordFallback(ctx, "deadline")
	if st.FinalReply() == nil {
		reply := TemplateReply(st.Evidence)
		reply.Latency = st.Latency()
		st.SetDraft(reply)
	}
	r.logger.Warn(ctx, "Reply deadline exceeded, returning best reply so far", map[string]interface{}{
		"cycle":    st.Cycles,
		"has_best": st.Best != nil,
	})
	r.finish(ctx, domain.StatusDegraded, ReasonDeadlineExceeded)
	return NodeEnd
}

func (r *run) fail(ctx context.Context) Node {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	r.state.RecordFailure("engine", err)
	r.finish(ctx, domain.StatusFailed, ReasonCancelled)
	return NodeEnd
}

func (r *run) transition(ctx context.Context, status domain.Status) {
	if err := r.state.Transition(status); err != nil {
		r.state.RecordFailure("engine", err)
		r.logger.Error(ctx, "Invalid status transition", err)
	}
}

func (r *run) finish(ctx context.Context, status domain.Status, reason string) {
	if err := r.state.Finish(status, reason); err != nil {
		// Force the terminal status; the workflow must always end
		r.state.RecordFailure("engine", err)
		r.logger.Error(ctx, "Invalid terminal transition", err)
		r.state.Status = status
		r.state.Reason = reason
	}
}

func (r *run) outcome() *Outcome {
	snapshot := r.state.GetSnapshot()
	final := r.state.FinalReply()

	outcome := &Outcome{
		RequestID:  snapshot.Request.ID,
		Status:     snapshot.Status,
		Cycles:     snapshot.Cycles,
		Iterations: snapshot.Iterations,
		Reason:     snapshot.Reason,
		Evidence:   snapshot.Evidence,
		Failures:   snapshot.Failures,
		Latency:    r.state.Latency(),
	}
	if final != nil {
		reply := *final
		reply.Citations = append([]string{}, final.Citations...)
		outcome.Reply = &reply
		outcome.Score = reply.Score
		outcome.Scored = reply.Scored
	}
	return outcome
}
