// Package oracle is the client side of the reasoning loop: a provider
// interface over the LLM HTTP API, guarded by a circuit breaker so a
// provider outage degrades the service instead of wedging it.
package oracle

import (
	"context"
	"errors"
)

// Message is one turn in the conversation.
type Message struct {
	Role       string      `json:"role"` // "user" or "assistant"
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResult feeds a tool's output back to the model.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	StopReason   string     `json:"stop_reason,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int        `json:"input_tokens,omitempty"`
	OutputTokens int        `json:"output_tokens,omitempty"`
}

// Provider is a reasoning oracle backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// Sentinel errors the pipeline maps to structured error kinds.
var (
	// ErrUnavailable covers transport failures, 5xx responses, and an open
	// circuit breaker.
	ErrUnavailable = errors.New("reasoning oracle unavailable")
	// ErrRateLimited covers 429 responses that survived retries.
	ErrRateLimited = errors.New("reasoning oracle rate limited")
)
