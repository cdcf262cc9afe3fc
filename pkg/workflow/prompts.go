package workflow

import (
	"fmt"
	"strings"

	"github.com/ncolesummers/replysight/pkg/domain"
)

// System prompts
const (
	decisionSystemPrompt = `You are the routing step of a customer service reply assistant.
Decide whether more evidence is needed before a reply to the customer's complaint is drafted.

Available evidence tools:
%s

Respond with JSON only, in exactly one of these shapes:
{"action":"request_evidence","tools":["academic","web"]}
{"action":"compose"}

Request only the tools whose evidence is missing or too thin. Choose "compose" when the
evidence gathered so far already supports an empathetic, specific and actionable reply.`

	composeSystemPrompt = `You are an expert customer service agent writing a reply to a customer complaint.
Write the reply in markdown with:
1. An empathetic opening that acknowledges the customer's specific problem
2. Concrete resolution steps the customer can expect
3. A section titled "## Why this helps" with bullet points explaining the approach;
   every bullet ends with exactly one evidence marker such as [1] or [2]

Use only the numbered evidence provided. Do not invent sources or markers that are not listed.
Keep the reply professional, warm and under 350 words.`

	scoreSystemPrompt = `You are an expert evaluator of customer service responses.
Rate the response to the customer complaint on a scale of 0.0 to 1.0 based on:
1. Empathy and understanding (25%)
2. Addressing the specific issue (25%)
3. Providing actionable solutions (25%)
4. Professional and helpful tone (25%)

Respond with ONLY a number between 0.0 and 1.0. For example:
- 0.9 = Excellent, comprehensive, empathetic response
- 0.7 = Good response with minor improvements needed
- 0.5 = Average response, missing key elements
- 0.3 = Poor response, lacks empathy or solutions
- 0.1 = Very poor response, unhelpful`
)

// maxPromptExcerpt bounds each evidence excerpt quoted to a model
const maxPromptExcerpt = 400

func decisionMessages(in DecisionInput) []domain.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "COMPLAINT: %s\n", in.Complaint)
	fmt.Fprintf(&b, "PRIORITY: %s\n", in.Priority)
	fmt.Fprintf(&b, "CYCLE: %d (iteration %d)\n\n", in.Cycle, in.Iteration)

	if len(in.EvidenceCounts) > 0 {
		b.WriteString("EVIDENCE COUNTS:\n")
		for _, kind := range []domain.EvidenceKind{domain.EvidenceAcademic, domain.EvidenceWeb} {
			fmt.Fprintf(&b, "- %s: %d\n", kind, in.EvidenceCounts[kind])
		}
		b.WriteString("\n")
	}

	b.WriteString("EVIDENCE GATHERED SO FAR:\n")
	b.WriteString(in.EvidenceSummary)

	if in.PreviousScore != nil {
		fmt.Fprintf(&b, "\nThe previous draft scored %.2f, below the acceptance threshold. Decide whether more evidence would help.\n", *in.PreviousScore)
	}

	return []domain.Message{
		{Role: "system", Content: fmt.Sprintf(decisionSystemPrompt, in.ToolCatalog)},
		{Role: "user", Content: b.String()},
	}
}

func composeMessages(complaint string, evidence []domain.EvidenceItem) []domain.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "CUSTOMER COMPLAINT:\n%s\n\n", complaint)

	if len(evidence) == 0 {
		b.WriteString("EVIDENCE: none available. Omit evidence markers.\n")
	} else {
		b.WriteString("EVIDENCE:\n")
		for i, item := range evidence {
			fmt.Fprintf(&b, "[%d] (%s) %s\n    %s\n    Source: %s\n",
				i+1, item.Kind, item.Title, clip(item.Excerpt, maxPromptExcerpt), item.Citation)
		}
	}

	return []domain.Message{
		{Role: "system", Content: composeSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func scoreMessages(complaint string, reply *domain.ComposedReply) []domain.Message {
	return []domain.Message{
		{Role: "system", Content: scoreSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("ORIGINAL COMPLAINT: %s\n\nRESPONSE TO EVALUATE:\n%s\n\nScore:", complaint, reply.Body)},
	}
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
