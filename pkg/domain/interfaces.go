package domain

import (
	"context"
)

// ReplyService drafts replies to customer complaints
type ReplyService interface {
	// Respond runs the reply workflow for one validated request
	Respond(ctx context.Context, request *ReplyRequest) (*ReplyResponse, error)
}

// LLMClient defines the interface for language model interactions
type LLMClient interface {
	// Chat performs a chat completion
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)
}

// EvidenceTool retrieves evidence for a query. Implementations enforce their
// own timeout and never fail past their boundary: errors surface only in
// ToolResult.Err alongside an empty item list.
type EvidenceTool interface {
	// ID returns the tool identifier
	ID() ToolID

	// Description returns a one-line description shown to the decision model
	Description() string

	// Fetch returns up to limit evidence items for the query
	Fetch(ctx context.Context, query string, limit int) ToolResult
}

// ToolRegistry manages available evidence tools
type ToolRegistry interface {
	// Register registers a new tool
	Register(tool EvidenceTool) error

	// Get retrieves a tool by id
	Get(id ToolID) (EvidenceTool, error)

	// List returns all available tools ordered by id
	List() []EvidenceTool
}

// ChatOptions provides options for chat completions
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	JSONMode    bool     `json:"json_mode,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model,omitempty"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
