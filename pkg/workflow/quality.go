package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
)

var firstNumber = regexp.MustCompile(`\d+(?:\.\d+)?|\.\d+`)

// Verdict is the quality gate's judgement of a draft
type Verdict struct {
	Score    float64
	Scored   bool
	Accepted bool
}

// QualityGate scores drafts for helpfulness and accepts those at or above
// the threshold. It fails open: when scoring is impossible the draft is
// accepted with score = threshold.
type QualityGate struct {
	caller    *modelCaller
	threshold float64
	logger    *observability.StructuredLogger
}

// NewQualityGate creates a gate bound to one scoring model
func NewQualityGate(llm domain.LLMClient, settings ModelSettings, threshold float64, timeout time.Duration, telemetry *observability.Telemetry) *QualityGate {
	return &QualityGate{
		caller: &modelCaller{
			llm:       llm,
			settings:  settings,
			timeout:   timeout,
			telemetry: telemetry,
			step:      "score",
		},
		threshold: threshold,
		logger:    observability.NewStructuredLogger("quality_gate"),
	}
}

// Threshold returns the acceptance threshold
func (q *QualityGate) Threshold() float64 {
	return q.threshold
}

// Evaluate scores the reply. A non-nil error means the verdict is the
// fail-open one.
func (q *QualityGate) Evaluate(ctx context.Context, complaint string, reply *domain.ComposedReply) (Verdict, error) {
	if reply == nil {
		return q.FailOpen(), fmt.Errorf("%w: no reply to score", domain.ErrUnparsableOutput)
	}

	resp, err := q.caller.call(ctx, scoreMessages(complaint, reply), false)
	if err != nil {
		q.logger.Warn(ctx, "Scorer unavailable, accepting reply", map[string]interface{}{
			"error": err.Error(),
		})
		return q.FailOpen(), err
	}

	score, err := ParseScore(resp.Content)
	if err != nil {
		q.logger.Warn(ctx, "Unparsable score, accepting reply", map[string]interface{}{
			"error":  err.Error(),
			"output": clip(resp.Content, 100),
		})
		return q.FailOpen(), err
	}

	verdict := Verdict{Score: score, Scored: true, Accepted: score >= q.threshold}
	q.logger.Debug(ctx, "Reply scored", map[string]interface{}{
		"score":    score,
		"accepted": verdict.Accepted,
	})
	return verdict, nil
}

// FailOpen returns the verdict used when scoring is impossible
func (q *QualityGate) FailOpen() Verdict {
	return Verdict{Score: q.threshold, Scored: false, Accepted: true}
}

// ParseScore reads the first number in the scorer output, clamped to [0, 1]
func ParseScore(content string) (float64, error) {
	match := firstNumber.FindString(content)
	if match == "" {
		return 0, fmt.Errorf("%w: no number in score %q", domain.ErrUnparsableOutput, clip(content, 40))
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrUnparsableOutput, err)
	}
	switch {
	case score < 0:
		return 0, nil
	case score > 1:
		return 1, nil
	}
	return score, nil
}
