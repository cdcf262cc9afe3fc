package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
)

// MockLLMClient is a mock implementation of LLMClient for testing
type MockLLMClient struct {
	mu           sync.Mutex
	Responses    map[string]string
	CallCount    int
	LastMessages []domain.Message
	LastOptions  domain.ChatOptions
	ShouldError  bool
	ErrorMessage string
	// ChatFunc allows custom chat behavior for tests
	ChatFunc func(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error)
}

// NewMockLLMClient creates a new mock LLM client
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Responses: make(map[string]string),
	}
}

// Chat implements domain.LLMClient. Without a ChatFunc the response is looked
// up by model name, then by the first registered key contained in the last
// message, then "default".
func (m *MockLLMClient) Chat(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error) {
	if m.ChatFunc != nil {
		m.mu.Lock()
		m.CallCount++
		m.LastMessages = messages
		m.LastOptions = options
		m.mu.Unlock()
		return m.ChatFunc(ctx, messages, options)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastMessages = messages
	m.LastOptions = options

	if m.ShouldError {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}

	content := "Mock response"
	if resp, ok := m.Responses[options.Model]; ok {
		content = resp
	} else if len(messages) > 0 {
		last := messages[len(messages)-1].Content
		matched := false
		for key, resp := range m.Responses {
			if key != "default" && strings.Contains(last, key) {
				content = resp
				matched = true
				break
			}
		}
		if !matched {
			if resp, ok := m.Responses["default"]; ok {
				content = resp
			}
		}
	}

	return &domain.ChatResponse{
		Content: content,
		Model:   options.Model,
		Usage: domain.TokenUsage{
			PromptTokens:     50,
			CompletionTokens: 50,
			TotalTokens:      100,
		},
		FinishReason: "stop",
	}, nil
}

// GetCallCount returns the number of Chat calls made
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockTool is a mock implementation of domain.EvidenceTool
type MockTool struct {
	ToolID          domain.ToolID
	ToolDescription string
	Items           []domain.EvidenceItem
	Err             error
	Delay           time.Duration
	FetchFunc       func(ctx context.Context, query string, limit int) domain.ToolResult

	mu        sync.Mutex
	calls     int
	lastQuery string
}

// ID implements domain.EvidenceTool
func (t *MockTool) ID() domain.ToolID {
	return t.ToolID
}

// Description implements domain.EvidenceTool
func (t *MockTool) Description() string {
	if t.ToolDescription == "" {
		return "mock evidence tool"
	}
	return t.ToolDescription
}

// Fetch implements domain.EvidenceTool. A configured Delay is interrupted by
// context cancellation, which yields an empty result like a real timeout.
func (t *MockTool) Fetch(ctx context.Context, query string, limit int) domain.ToolResult {
	t.mu.Lock()
	t.calls++
	t.lastQuery = query
	t.mu.Unlock()

	if t.FetchFunc != nil {
		return t.FetchFunc(ctx, query, limit)
	}

	start := time.Now()
	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return domain.ToolResult{Tool: t.ToolID, Items: []domain.EvidenceItem{}, Err: ctx.Err(), Duration: time.Since(start)}
		}
	}

	if t.Err != nil {
		return domain.ToolResult{Tool: t.ToolID, Items: []domain.EvidenceItem{}, Err: t.Err, Duration: time.Since(start)}
	}

	items := t.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return domain.ToolResult{Tool: t.ToolID, Items: items, Duration: time.Since(start)}
}

// Calls returns how many times Fetch was invoked
func (t *MockTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// LastQuery returns the query passed to the latest Fetch
func (t *MockTool) LastQuery() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastQuery
}
