package reasoning

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/oracle"
	"github.com/jarvisd/jarvis/internal/tools"
)

// Chatter is the oracle client surface the engine needs.
type Chatter interface {
	Chat(ctx context.Context, req oracle.ChatRequest, escalate bool) (*oracle.ChatResponse, error)
}

// Config bounds the loop.
type Config struct {
	MaxIterations      int // default 10
	ExtendedIterations int // default 15, granted while tool calls keep coming
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.ExtendedIterations < c.MaxIterations {
		c.ExtendedIterations = c.MaxIterations + 5
	}
}

// Engine drives the tool-use conversation for one attempt.
type Engine struct {
	oracle Chatter
	config Config
}

// NewEngine builds an engine over the oracle client.
func NewEngine(o Chatter, config Config) *Engine {
	config.applyDefaults()
	return &Engine{oracle: o, config: config}
}

// Request is one remediation conversation.
type Request struct {
	Alert    *models.Alert
	Session  *tools.Session
	Registry *tools.Registry
	Context  *Context
	System   string
	Escalate bool // use the stronger model
	Resume   bool // continuing after a self-restart handoff
}

// StopCause says why the loop ended.
type StopCause string

const (
	StopCompleted      StopCause = "completed"
	StopIterationLimit StopCause = "iteration_limit"
)

// Result is the finished conversation.
type Result struct {
	Analysis   string
	Iterations int
	ToolCalls  int
	Stopped    StopCause
}

// Run executes the bounded loop: ask, execute requested tools, feed results
// back, repeat. The base budget is extended while the model keeps making
// tool calls, up to a hard cap. Oracle transport errors abort the attempt;
// tool failures do not.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	opening := describeAlert(req.Alert)
	if req.Resume {
		opening = req.Context.ContinuationSummary()
	}
	messages := []oracle.Message{{Role: "user", Content: opening}}

	result := &Result{Stopped: StopIterationLimit}
	limit := e.config.MaxIterations
	for iteration := 1; iteration <= limit; iteration++ {
		chatReq := oracle.ChatRequest{
			System:   req.System,
			Messages: messages,
			Tools:    req.Registry.Definitions(),
		}
		// The extended budget's last iteration must conclude: no tools
		// offered.
		final := iteration == e.config.ExtendedIterations
		if final {
			chatReq.Tools = nil
			chatReq.Messages = append(chatReq.Messages, oracle.Message{
				Role:    "user",
				Content: "Tool budget exhausted. Summarize your findings and state whether the alert was remediated.",
			})
			log.Warn().Str("alert", req.Alert.Name).
				Msg("Reasoning loop hit the hard iteration cap")
		}

		resp, err := e.oracle.Chat(ctx, chatReq, req.Escalate)
		if err != nil {
			return nil, fmt.Errorf("reasoning iteration %d: %w", iteration, err)
		}

		result.Iterations = iteration
		req.Context.AddIteration()
		if resp.Content != "" {
			result.Analysis = resp.Content
			req.Context.SetAnalysis(resp.Content)
		}

		if len(resp.ToolCalls) == 0 || final {
			if !final {
				result.Stopped = StopCompleted
			}
			break
		}

		// Still working at the base cap: grant the extension once.
		if iteration == limit && limit < e.config.ExtendedIterations {
			limit = e.config.ExtendedIterations
			log.Debug().Str("alert", req.Alert.Name).Int("limit", limit).
				Msg("Extending reasoning iteration budget")
		}

		messages = append(messages, oracle.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			toolResult := req.Registry.Execute(ctx, call)
			result.ToolCalls++
			messages = append(messages, oracle.Message{
				Role:       "user",
				ToolResult: &toolResult,
			})
			log.Debug().Str("tool", call.Name).Bool("error", toolResult.IsError).
				Int("iteration", iteration).Msg("Tool call completed")
		}

		req.Context.SetConfidence(req.Session.Confidence())
	}

	req.Context.SetConfidence(req.Session.Confidence())
	return result, nil
}

func describeAlert(alert *models.Alert) string {
	return fmt.Sprintf("Alert %s is firing on %s (severity %s). Diagnose the root cause and remediate it.",
		alert.Name, alert.Instance, alert.Severity)
}
