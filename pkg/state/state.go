package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
)

// WorkflowState is the complete state of one reply workflow. It is created per
// request, mutated only by the engine executing that request and discarded
// once the reply is returned, so it carries no locks.
type WorkflowState struct {
	Request       domain.ReplyRequest    `json:"request"`
	Evidence      []domain.EvidenceItem  `json:"evidence"`
	Citations     []string               `json:"citations"`
	Status        domain.Status          `json:"status"`
	Iterations    int                    `json:"iterations"`
	MaxIterations int                    `json:"max_iterations"`
	Cycles        int                    `json:"cycles"`
	GatherRounds  int                    `json:"gather_rounds"`
	Draft         *domain.ComposedReply  `json:"draft,omitempty"`
	Best          *domain.ComposedReply  `json:"best,omitempty"`
	Accepted      *domain.ComposedReply  `json:"accepted,omitempty"`
	Failures      []domain.Failure       `json:"failures,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	UpdatedAt     time.Time              `json:"updated_at"`

	citationIndex map[string]int
}

// StateConfig provides configuration for state management
type StateConfig struct {
	MaxIterations int `json:"max_iterations"`
}

// DefaultStateConfig returns default state configuration
func DefaultStateConfig() *StateConfig {
	return &StateConfig{
		MaxIterations: 5,
	}
}

// NewWorkflowState creates a new workflow state in the started status
func NewWorkflowState(request domain.ReplyRequest, config *StateConfig) *WorkflowState {
	if config == nil || config.MaxIterations < 1 {
		config = DefaultStateConfig()
	}

	now := time.Now()
	return &WorkflowState{
		Request:       request,
		Evidence:      []domain.EvidenceItem{},
		Citations:     []string{},
		Status:        domain.StatusStarted,
		MaxIterations: config.MaxIterations,
		Metadata:      make(map[string]interface{}),
		StartedAt:     now,
		UpdatedAt:     now,
		citationIndex: make(map[string]int),
	}
}

// allowedTransitions lists the status edges of the workflow. Re-entering the
// current status is always allowed (repeated gather rounds, for example).
var allowedTransitions = map[domain.Status][]domain.Status{
	domain.StatusStarted:   {domain.StatusGathering, domain.StatusComposing, domain.StatusDegraded, domain.StatusFailed},
	domain.StatusGathering: {domain.StatusComposing, domain.StatusDegraded, domain.StatusFailed},
	domain.StatusComposing: {domain.StatusScoring, domain.StatusDegraded, domain.StatusFailed},
	domain.StatusScoring: {
		domain.StatusDone, domain.StatusDegraded, domain.StatusGathering,
		domain.StatusComposing, domain.StatusFailed,
	},
}

// Transition moves the workflow to the next status, rejecting edges the
// state machine does not declare.
func (s *WorkflowState) Transition(next domain.Status) error {
	if s.Status == next && !next.Terminal() {
		return nil
	}
	for _, candidate := range allowedTransitions[s.Status] {
		if candidate == next {
			s.Status = next
			s.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", s.Status, next)
}

// AddEvidence merges an item into the evidence list, keeping first-seen
// order. It reports whether the item was new; items with a blank citation
// or a citation already present are ignored.
func (s *WorkflowState) AddEvidence(item domain.EvidenceItem) bool {
	key := strings.TrimSpace(item.Citation)
	if key == "" {
		return false
	}
	if s.citationIndex == nil {
		s.citationIndex = make(map[string]int)
	}
	if _, exists := s.citationIndex[key]; exists {
		return false
	}

	item.Citation = key
	s.citationIndex[key] = len(s.Evidence)
	s.Evidence = append(s.Evidence, item)
	s.Citations = append(s.Citations, key)
	s.UpdatedAt = time.Now()
	return true
}

// MergeEvidence adds every non-duplicate item and returns how many were new
func (s *WorkflowState) MergeEvidence(items []domain.EvidenceItem) int {
	added := 0
	for _, item := range items {
		if s.AddEvidence(item) {
			added++
		}
	}
	return added
}

// HasCitation reports whether the citation is already part of the evidence
func (s *WorkflowState) HasCitation(citation string) bool {
	_, ok := s.citationIndex[strings.TrimSpace(citation)]
	return ok
}

// EvidenceByKind counts evidence items per source kind
func (s *WorkflowState) EvidenceByKind() map[domain.EvidenceKind]int {
	counts := make(map[domain.EvidenceKind]int)
	for _, item := range s.Evidence {
		counts[item.Kind]++
	}
	return counts
}

// SetDraft records the reply produced by the latest COMPOSE step
func (s *WorkflowState) SetDraft(reply *domain.ComposedReply) {
	s.Draft = reply
	s.UpdatedAt = time.Now()
}

// RecordCandidate keeps the reply as best-so-far when its score is at least
// the recorded best. Ties prefer the later reply.
func (s *WorkflowState) RecordCandidate(reply *domain.ComposedReply) bool {
	if reply == nil {
		return false
	}
	if s.Best == nil || reply.Score >= s.Best.Score {
		s.Best = reply
		s.UpdatedAt = time.Now()
		return true
	}
	return false
}

// Accept marks the reply as the accepted answer
func (s *WorkflowState) Accept(reply *domain.ComposedReply) {
	s.Accepted = reply
	s.RecordCandidate(reply)
	s.UpdatedAt = time.Now()
}

// FinalReply returns the reply the workflow should hand back: the accepted
// one, else the best-scoring candidate, else the latest draft.
func (s *WorkflowState) FinalReply() *domain.ComposedReply {
	switch {
	case s.Accepted != nil:
		return s.Accepted
	case s.Best != nil:
		return s.Best
	default:
		return s.Draft
	}
}

// IncrementIteration advances the iteration counter, never past the ceiling.
// It reports whether the ceiling has been reached.
func (s *WorkflowState) IncrementIteration() bool {
	if s.Iterations < s.MaxIterations {
		s.Iterations++
	}
	s.UpdatedAt = time.Now()
	return s.Iterations >= s.MaxIterations
}

// StartCycle begins a new DECIDE/COMPOSE cycle
func (s *WorkflowState) StartCycle() {
	s.Cycles++
	s.GatherRounds = 0
	s.UpdatedAt = time.Now()
}

// RecordFailure records a locally recovered failure for observability
func (s *WorkflowState) RecordFailure(component string, err error) {
	if err == nil {
		return
	}
	s.Failures = append(s.Failures, domain.Failure{
		Component: component,
		Error:     err.Error(),
		Iteration: s.Iterations,
		At:        time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// Finish moves the workflow into a terminal status with a reason
func (s *WorkflowState) Finish(status domain.Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	if err := s.Transition(status); err != nil {
		return err
	}
	s.Reason = reason
	return nil
}

// Latency returns the elapsed time since the workflow started
func (s *WorkflowState) Latency() time.Duration {
	return time.Since(s.StartedAt)
}

// EvidenceSummary renders a short numbered summary of the evidence gathered
// so far, suitable for a model prompt
func (s *WorkflowState) EvidenceSummary(maxExcerpt int) string {
	if len(s.Evidence) == 0 {
		return "No evidence gathered yet."
	}
	var b strings.Builder
	for i, item := range s.Evidence {
		excerpt := item.Excerpt
		if runes := []rune(excerpt); maxExcerpt > 0 && len(runes) > maxExcerpt {
			excerpt = string(runes[:maxExcerpt]) + "..."
		}
		fmt.Fprintf(&b, "[%d] (%s) %s: %s\n    Citation: %s\n", i+1, item.Kind, item.Title, excerpt, item.Citation)
	}
	return b.String()
}

// GetSnapshot returns a copy of the state safe to hand to other goroutines
func (s *WorkflowState) GetSnapshot() WorkflowStateSnapshot {
	evidence := make([]domain.EvidenceItem, len(s.Evidence))
	copy(evidence, s.Evidence)

	citations := make([]string, len(s.Citations))
	copy(citations, s.Citations)

	failures := make([]domain.Failure, len(s.Failures))
	copy(failures, s.Failures)

	return WorkflowStateSnapshot{
		Request:    s.Request,
		Evidence:   evidence,
		Citations:  citations,
		Status:     s.Status,
		Iterations: s.Iterations,
		Cycles:     s.Cycles,
		Best:       copyReply(s.Best),
		Accepted:   copyReply(s.Accepted),
		Failures:   failures,
		Reason:     s.Reason,
		StartedAt:  s.StartedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// WorkflowStateSnapshot represents an immutable snapshot of the state
type WorkflowStateSnapshot struct {
	Request    domain.ReplyRequest   `json:"request"`
	Evidence   []domain.EvidenceItem `json:"evidence"`
	Citations  []string              `json:"citations"`
	Status     domain.Status         `json:"status"`
	Iterations int                   `json:"iterations"`
	Cycles     int                   `json:"cycles"`
	Best       *domain.ComposedReply `json:"best,omitempty"`
	Accepted   *domain.ComposedReply `json:"accepted,omitempty"`
	Failures   []domain.Failure      `json:"failures,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func copyReply(r *domain.ComposedReply) *domain.ComposedReply {
	if r == nil {
		return nil
	}
	c := *r
	c.Citations = append([]string(nil), r.Citations...)
	return &c
}
