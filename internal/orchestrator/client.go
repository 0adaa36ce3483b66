// Package orchestrator talks to the external n8n automation engine: it
// executes named workflows on behalf of the reasoning loop and carries the
// restart leg of a self-preservation handoff.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
)

// Error is an orchestrator failure classified into one of the structured
// error kinds.
type Error struct {
	Kind       models.ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("orchestrator: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("orchestrator: %s: %s", e.Kind, e.Message)
}

// Workflow is one orchestrator workflow, as listed by its API.
type Workflow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// RestartRequest is the payload of a self-preservation handoff.
type RestartRequest struct {
	HandoffID   string `json:"handoff_id"`
	Target      string `json:"target"`
	Reason      string `json:"reason"`
	CallbackURL string `json:"callback_url"`
}

// Client calls the n8n HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New builds a client. apiKey may be empty for unauthenticated instances.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an orchestrator URL was provided.
func (c *Client) Configured() bool { return c.baseURL != "" }

// ExecuteWorkflow triggers a workflow by its webhook name. With wait, the
// response body is returned; otherwise the call returns as soon as the
// trigger is accepted.
func (c *Client) ExecuteWorkflow(ctx context.Context, name string, data map[string]interface{}, wait bool) (string, error) {
	if !c.Configured() {
		return "", &Error{Kind: models.ErrOrchestratorUnavailable, Message: "no orchestrator configured"}
	}
	endpoint := c.baseURL + "/webhook/" + url.PathEscape(name)
	if !wait {
		endpoint += "?mode=async"
	}
	body, err := c.post(ctx, endpoint, data)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ListWorkflows enumerates workflows via the n8n REST API.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	if !c.Configured() {
		return nil, &Error{Kind: models.ErrOrchestratorUnavailable, Message: "no orchestrator configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/workflows", nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: models.ErrOrchestratorUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, string(body))
	}

	var payload struct {
		Data []Workflow `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode workflows: %w", err)
	}
	return payload.Data, nil
}

// TriggerRestart posts the handoff to the restart workflow and returns the
// orchestrator execution id, when one is reported.
func (c *Client) TriggerRestart(ctx context.Context, req RestartRequest) (string, error) {
	if !c.Configured() {
		return "", &Error{Kind: models.ErrOrchestratorUnavailable, Message: "no orchestrator configured"}
	}
	body, err := c.post(ctx, c.baseURL+"/webhook/jarvis-restart", req)
	if err != nil {
		return "", err
	}
	var payload struct {
		ExecutionID string `json:"execution_id"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.ExecutionID != "" {
		return payload.ExecutionID, nil
	}
	return "", nil
}

func (c *Client) post(ctx context.Context, endpoint string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: models.ErrOrchestratorUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-N8N-API-KEY", c.apiKey)
	}
}

// classify maps an orchestrator HTTP status to a structured error kind.
func classify(status int, body string) *Error {
	kind := models.ErrOrchestratorClient
	switch {
	case status == http.StatusNotFound:
		kind = models.ErrWorkflowNotFound
	case status >= 500:
		kind = models.ErrOrchestratorServer
	}
	return &Error{Kind: kind, StatusCode: status, Message: body}
}
