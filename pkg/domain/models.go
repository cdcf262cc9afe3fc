package domain

import (
	"sort"
	"time"
)

// Status represents the lifecycle status of a reply workflow
type Status string

const (
	StatusStarted   Status = "started"
	StatusGathering Status = "gathering"
	StatusComposing Status = "composing"
	StatusScoring   Status = "scoring"
	StatusDone      Status = "done"
	StatusDegraded  Status = "degraded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from the status
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDegraded || s == StatusFailed
}

// Priority is the customer-facing urgency of a complaint
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// EvidenceKind identifies which kind of source produced an evidence item
type EvidenceKind string

const (
	EvidenceAcademic EvidenceKind = "academic"
	EvidenceWeb      EvidenceKind = "web"
)

// ToolID identifies an evidence tool. Tool ids share the EvidenceKind vocabulary:
// one tool per kind of source.
type ToolID string

const (
	ToolAcademic ToolID = ToolID(EvidenceAcademic)
	ToolWeb      ToolID = ToolID(EvidenceWeb)
)

// ReplyRequest represents an inbound complaint to draft a reply for
type ReplyRequest struct {
	ID         string    `json:"id,omitempty"`
	Complaint  string    `json:"complaint"`
	CustomerID string    `json:"customer_id,omitempty"`
	Priority   Priority  `json:"priority,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// ReplyResponse is the payload returned to the API layer
type ReplyResponse struct {
	Reply     string   `json:"reply"`
	Citations []string `json:"citations"`
	LatencyMS int64    `json:"latency_ms"`
}

// EvidenceItem is one retrieved unit of supporting material
type EvidenceItem struct {
	Kind     EvidenceKind `json:"kind"`
	Title    string       `json:"title"`
	Excerpt  string       `json:"excerpt"`
	Citation string       `json:"citation"`
}

// ComposedReply is a drafted reply and its quality assessment
type ComposedReply struct {
	Body      string        `json:"body"`
	Citations []string      `json:"citations"`
	Score     float64       `json:"helpfulness_score"`
	Scored    bool          `json:"scored"`
	Latency   time.Duration `json:"latency"`
	Templated bool          `json:"templated,omitempty"`
}

// DecisionKind discriminates the Decision variant
type DecisionKind int

const (
	DecisionComposeNow DecisionKind = iota
	DecisionRequestEvidence
)

// String returns the decision kind name
func (k DecisionKind) String() string {
	switch k {
	case DecisionRequestEvidence:
		return "request_evidence"
	case DecisionComposeNow:
		return "compose_now"
	default:
		return "unknown"
	}
}

// Decision is the tagged result of the decision step: either a request for
// evidence from a set of tools, or an instruction to compose now.
// The zero value is ComposeNow.
type Decision struct {
	Kind  DecisionKind
	tools []ToolID
}

// ComposeNow returns a decision to proceed to composition
func ComposeNow() Decision {
	return Decision{Kind: DecisionComposeNow}
}

// RequestEvidence returns a decision to gather evidence from the given tools.
// Duplicates are dropped; an empty set collapses to ComposeNow.
func RequestEvidence(tools ...ToolID) Decision {
	seen := make(map[ToolID]struct{}, len(tools))
	set := make([]ToolID, 0, len(tools))
	for _, id := range tools {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	if len(set) == 0 {
		return ComposeNow()
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return Decision{Kind: DecisionRequestEvidence, tools: set}
}

// Tools returns a copy of the requested tool set (nil for ComposeNow)
func (d Decision) Tools() []ToolID {
	if d.Kind != DecisionRequestEvidence {
		return nil
	}
	out := make([]ToolID, len(d.tools))
	copy(out, d.tools)
	return out
}

// String renders the decision for logs
func (d Decision) String() string {
	if d.Kind != DecisionRequestEvidence {
		return d.Kind.String()
	}
	s := d.Kind.String() + "("
	for i, id := range d.tools {
		if i > 0 {
			s += ","
		}
		s += string(id)
	}
	return s + ")"
}

// ToolResult is what an evidence tool hands back to the engine. Err is kept
// for observability only; Items is empty whenever Err is set.
type ToolResult struct {
	Tool     ToolID         `json:"tool"`
	Items    []EvidenceItem `json:"items"`
	Err      error          `json:"-"`
	Duration time.Duration  `json:"duration"`
}

// Message represents a chat message exchanged with a model
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Failure records an internal failure that was recovered locally
type Failure struct {
	Component string    `json:"component"`
	Error     string    `json:"error"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
}
