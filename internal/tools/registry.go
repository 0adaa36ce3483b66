// Package tools implements the reasoning oracle's tool catalog: tool
// definitions, input decoding, confidence gating, and dispatch to the
// executor and backend clients.
package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/oracle"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, input Input) (string, error)

// Input is a decoded tool input with typed accessors. Accessor errors are
// reported to the model as tool_input_invalid results.
type Input map[string]interface{}

// Str returns a required string field.
func (in Input) Str(key string) (string, error) {
	v, ok := in[key]
	if !ok {
		return "", &InputError{Field: key, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &InputError{Field: key, Reason: "must be a non-empty string"}
	}
	return s, nil
}

// OptStr returns an optional string field, or fallback.
func (in Input) OptStr(key, fallback string) string {
	if s, ok := in[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// OptInt returns an optional integer field, or fallback. JSON numbers
// arrive as float64.
func (in Input) OptInt(key string, fallback int) int {
	switch v := in[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// OptBool returns an optional boolean field.
func (in Input) OptBool(key string) bool {
	b, _ := in[key].(bool)
	return b
}

// Num returns a required numeric field.
func (in Input) Num(key string) (float64, error) {
	switch v := in[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, &InputError{Field: key, Reason: "must be a number"}
	}
}

// InputError marks a malformed tool call.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid tool input: field %q %s", e.Field, e.Reason)
}

// Registry holds the tool set offered to the oracle for one attempt.
type Registry struct {
	defs     []oracle.Tool
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a tool.
func (r *Registry) Register(def oracle.Tool, h Handler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Name] = h
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []oracle.Tool {
	return r.defs
}

// Execute dispatches one tool call. Failures are returned to the model as
// error results, never as Go errors: the loop must keep going.
func (r *Registry) Execute(ctx context.Context, call oracle.ToolCall) oracle.ToolResult {
	h, ok := r.handlers[call.Name]
	if !ok {
		return oracle.ToolResult{
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("unknown tool %q", call.Name),
			IsError:   true,
		}
	}

	out, err := h(ctx, Input(call.Input))
	if err != nil {
		log.Debug().Err(err).Str("tool", call.Name).Msg("Tool call failed")
		return oracle.ToolResult{ToolUseID: call.ID, Content: err.Error(), IsError: true}
	}
	return oracle.ToolResult{ToolUseID: call.ID, Content: out}
}

func schema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}
