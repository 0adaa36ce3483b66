// Package reasoning runs the bounded tool-use loop against the oracle and
// carries the per-attempt remediation context that survives a restart
// handoff.
package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
)

// Serialization caps. A context that blows past these is trimmed, never
// dropped: the handoff payload must always fit.
const (
	maxContextCommands = 50
	maxCommandOutput   = 10 * 1024
	maxAnalysisLen     = 20 * 1024
)

// ExecutedCommand is one command the loop ran, kept for the attempt record
// and for the continuation prompt after a self-restart.
type ExecutedCommand struct {
	Host       string    `json:"host"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output,omitempty"`
	Actionable bool      `json:"actionable,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Context is the evolving state of one remediation attempt. It satisfies
// the tool session's Recorder.
type Context struct {
	mu sync.Mutex

	AlertFingerprint string            `json:"alert_fingerprint"`
	AlertName        string            `json:"alert_name"`
	Instance         string            `json:"instance"`
	TargetHost       string            `json:"target_host"`
	Labels           map[string]string `json:"labels,omitempty"`
	Analysis         string            `json:"analysis,omitempty"`
	Confidence       float64           `json:"confidence"`
	Commands         []ExecutedCommand `json:"commands,omitempty"`
	Iterations       int               `json:"iterations"`
	// RestartCount is how many restart handoffs this remediation has already
	// gone through, bounding the handoff loop.
	RestartCount int       `json:"restart_count,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// NewContext starts a context for an alert.
func NewContext(alert *models.Alert, confidence float64) *Context {
	return &Context{
		AlertFingerprint: alert.Fingerprint,
		AlertName:        alert.Name,
		Instance:         alert.Instance,
		TargetHost:       alert.TargetHost(),
		Labels:           alert.Labels,
		Confidence:       confidence,
		StartedAt:        time.Now().UTC(),
	}
}

// RecordCommand appends a command result, truncating oversized output and
// dropping the oldest entries past the cap.
func (c *Context) RecordCommand(host, command string, result models.CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	output := result.Stdout
	if result.Stderr != "" {
		output += "\nstderr: " + result.Stderr
	}
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "...(truncated)"
	}

	c.Commands = append(c.Commands, ExecutedCommand{
		Host:       host,
		Command:    command,
		ExitCode:   result.ExitCode,
		Output:     output,
		Actionable: result.Actionable,
		Timestamp:  time.Now().UTC(),
	})
	if len(c.Commands) > maxContextCommands {
		c.Commands = c.Commands[len(c.Commands)-maxContextCommands:]
	}
}

// SetAnalysis stores the model's running analysis, truncated to the cap.
func (c *Context) SetAnalysis(analysis string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(analysis) > maxAnalysisLen {
		analysis = analysis[:maxAnalysisLen] + "...(truncated)"
	}
	c.Analysis = analysis
}

// SetConfidence mirrors the session's confidence into the context so a
// handoff resumes at the right band.
func (c *Context) SetConfidence(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Confidence = v
}

// AddIteration bumps the loop counter.
func (c *Context) AddIteration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Iterations++
}

// CommandCount returns how many commands have been recorded.
func (c *Context) CommandCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Commands)
}

// Serialize renders the context for the handoff row. On marshal failure it
// degrades to a minimal context that always serializes.
func (c *Context) Serialize() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c)
	if err == nil {
		return data
	}

	minimal := map[string]interface{}{
		"alert_fingerprint": c.AlertFingerprint,
		"alert_name":        c.AlertName,
		"instance":          c.Instance,
		"target_host":       c.TargetHost,
		"confidence":        c.Confidence,
		"restart_count":     c.RestartCount,
	}
	data, _ = json.Marshal(minimal)
	return data
}

// RestoreContext rebuilds a context from a serialized handoff payload.
func RestoreContext(data []byte) (*Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("restore remediation context: %w", err)
	}
	if c.AlertFingerprint == "" && c.AlertName == "" {
		return nil, fmt.Errorf("restore remediation context: empty payload")
	}
	return &c, nil
}

// ContinuationSummary renders the context as the opening user message of a
// resumed loop, so the model picks up where the pre-restart process left
// off instead of re-running diagnostics.
func (c *Context) ContinuationSummary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Resuming remediation of %s on %s after a service restart.\n", c.AlertName, c.Instance)
	if c.Analysis != "" {
		b.WriteString("\nAnalysis so far:\n")
		b.WriteString(c.Analysis)
		b.WriteString("\n")
	}
	if len(c.Commands) > 0 {
		b.WriteString("\nCommands already executed (do not repeat them):\n")
		for _, cmd := range c.Commands {
			fmt.Fprintf(&b, "- [%s] %s (exit %d)\n", cmd.Host, cmd.Command, cmd.ExitCode)
		}
	}
	fmt.Fprintf(&b, "\nCurrent confidence: %.2f. Verify the restart completed what it was meant to, then finish the remediation.", c.Confidence)
	return b.String()
}
