package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"github.com/ncolesummers/replysight/pkg/tools"
)

// DecisionInput is what the decision model sees each time DECIDE runs
type DecisionInput struct {
	Complaint       string
	Priority        domain.Priority
	EvidenceSummary string
	EvidenceCounts  map[domain.EvidenceKind]int
	ToolCatalog     string
	Iteration       int
	Cycle           int
	PreviousScore   *float64
}

// DecisionStep asks the decision model whether to gather evidence or compose
type DecisionStep struct {
	caller *modelCaller
	logger *observability.StructuredLogger
}

// NewDecisionStep creates a decision step bound to one model
func NewDecisionStep(llm domain.LLMClient, settings ModelSettings, timeout time.Duration, telemetry *observability.Telemetry) *DecisionStep {
	return &DecisionStep{
		caller: &modelCaller{
			llm:       llm,
			settings:  settings,
			timeout:   timeout,
			telemetry: telemetry,
			step:      "decision",
		},
		logger: observability.NewStructuredLogger("decision"),
	}
}

// Decide returns the next Decision. It never fails the workflow: any model
// error or unparsable output yields ComposeNow together with the error, which
// the caller records.
func (d *DecisionStep) Decide(ctx context.Context, in DecisionInput) (domain.Decision, error) {
	resp, err := d.caller.call(ctx, decisionMessages(in), true)
	if err != nil {
		d.logger.Warn(ctx, "Decision model call failed, composing now", map[string]interface{}{
			"error": err.Error(),
			"cycle": in.Cycle,
		})
		return domain.ComposeNow(), err
	}

	decision, dropped, err := ParseDecision(resp.Content)
	if err != nil {
		d.logger.Warn(ctx, "Unparsable decision, composing now", map[string]interface{}{
			"error":  err.Error(),
			"output": clip(resp.Content, 200),
		})
		return domain.ComposeNow(), err
	}
	if len(dropped) > 0 {
		d.logger.Warn(ctx, "Decision named unknown tools", map[string]interface{}{
			"tools": dropped,
		})
	}

	d.logger.Debug(ctx, "Decision made", map[string]interface{}{
		"decision": decision.String(),
		"cycle":    in.Cycle,
	})
	return decision, nil
}

type decisionPayload struct {
	Action string   `json:"action"`
	Tools  []string `json:"tools"`
}

// ParseDecision reads the decision model's JSON, repairing it first. Tool
// names are normalized through the alias table; unknown names are returned
// in dropped. A request whose tools are all unknown collapses to ComposeNow.
func ParseDecision(content string) (decision domain.Decision, dropped []string, err error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return domain.ComposeNow(), nil, fmt.Errorf("%w: no JSON object in decision", domain.ErrUnparsableOutput)
	}

	var payload decisionPayload
	if jerr := json.Unmarshal([]byte(raw), &payload); jerr != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return domain.ComposeNow(), nil, fmt.Errorf("%w: %v", domain.ErrUnparsableOutput, rerr)
		}
		if jerr := json.Unmarshal([]byte(repaired), &payload); jerr != nil {
			return domain.ComposeNow(), nil, fmt.Errorf("%w: %v", domain.ErrUnparsableOutput, jerr)
		}
	}

	switch strings.ToLower(strings.TrimSpace(payload.Action)) {
	case "compose", "compose_now", "respond", "answer":
		return domain.ComposeNow(), nil, nil
	case "request_evidence", "gather", "research", "tools":
		ids := make([]domain.ToolID, 0, len(payload.Tools))
		for _, name := range payload.Tools {
			id, ok := tools.NormalizeToolID(name)
			if !ok {
				dropped = append(dropped, name)
				continue
			}
			ids = append(ids, id)
		}
		return domain.RequestEvidence(ids...), dropped, nil
	default:
		return domain.ComposeNow(), nil, fmt.Errorf("%w: unknown action %q", domain.ErrUnparsableOutput, payload.Action)
	}
}

// extractJSONObject trims code fences and prose around the outermost object
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(content, "}")
	if end < start {
		// Truncated output: hand the tail to jsonrepair
		return content[start:]
	}
	return content[start : end+1]
}
