package workflow

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Composer drafts the markdown reply from the complaint and the evidence
type Composer struct {
	caller *modelCaller
	logger *observability.StructuredLogger
}

// NewComposer creates a composer bound to one model
func NewComposer(llm domain.LLMClient, settings ModelSettings, timeout time.Duration, telemetry *observability.Telemetry) *Composer {
	return &Composer{
		caller: &modelCaller{
			llm:       llm,
			settings:  settings,
			timeout:   timeout,
			telemetry: telemetry,
			step:      "compose",
		},
		logger: observability.NewStructuredLogger("composer"),
	}
}

// Compose always returns a reply. When the model call fails or returns
// nothing usable, the reply is the fixed template and the error says why.
func (c *Composer) Compose(ctx context.Context, complaint string, evidence []domain.EvidenceItem) (*domain.ComposedReply, error) {
	start := time.Now()

	resp, err := c.caller.call(ctx, composeMessages(complaint, evidence), false)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = fmt.Errorf("%w: empty reply", domain.ErrUnparsableOutput)
	}
	if err != nil {
		c.logger.Warn(ctx, "Composer failed, using template reply", map[string]interface{}{
			"error":          err.Error(),
			"evidence_count": len(evidence),
		})
		reply := TemplateReply(evidence)
		reply.Latency = time.Since(start)
		return reply, err
	}

	body := strings.TrimSpace(resp.Content)
	reply := &domain.ComposedReply{
		Body:      body,
		Citations: ExtractCitations(body, evidence),
		Latency:   time.Since(start),
	}

	c.logger.Debug(ctx, "Reply composed", map[string]interface{}{
		"length":    len(body),
		"citations": len(reply.Citations),
	})
	return reply, nil
}

// ExtractCitations returns the citations a reply references, in order of
// first appearance and without duplicates. A reference is either an [n]
// marker pointing at evidence item n or the literal citation string.
// Markers outside the evidence range are ignored.
func ExtractCitations(body string, evidence []domain.EvidenceItem) []string {
	type hit struct {
		pos      int
		citation string
	}
	var hits []hit

	for _, m := range citationMarker.FindAllStringSubmatchIndex(body, -1) {
		n, err := strconv.Atoi(body[m[2]:m[3]])
		if err != nil || n < 1 || n > len(evidence) {
			continue
		}
		hits = append(hits, hit{pos: m[0], citation: evidence[n-1].Citation})
	}
	for _, item := range evidence {
		if item.Citation == "" {
			continue
		}
		if pos := strings.Index(body, item.Citation); pos >= 0 {
			hits = append(hits, hit{pos: pos, citation: item.Citation})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]struct{}, len(hits))
	citations := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.citation]; ok {
			continue
		}
		seen[h.citation] = struct{}{}
		citations = append(citations, h.citation)
	}
	return citations
}

// TemplateReply is the reply used when the composer model is unreachable:
// an apology, a generic remediation step and whatever sources were gathered.
func TemplateReply(evidence []domain.EvidenceItem) *domain.ComposedReply {
	var b strings.Builder
	b.WriteString("We're truly sorry about your experience, and thank you for taking the time to tell us about it.\n\n")
	b.WriteString("Your case has been passed to our support team. A specialist will review the details and contact you ")
	b.WriteString("with a resolution as soon as possible. If you have an order number or photos, please reply with them so we can act faster.\n")

	citations := make([]string, 0, len(evidence))
	for _, item := range evidence {
		if item.Citation != "" {
			citations = append(citations, item.Citation)
		}
	}
	if len(citations) > 0 {
		b.WriteString("\n## Sources\n")
		for _, c := range citations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	return &domain.ComposedReply{
		Body:      strings.TrimSpace(b.String()),
		Citations: citations,
		Templated: true,
	}
}
