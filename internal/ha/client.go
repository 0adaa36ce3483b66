// Package ha wraps the Home Assistant supervisor API for the reasoning
// loop's home-automation tools.
package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// AddonInfo is the subset of addon metadata the reasoning loop cares about.
type AddonInfo struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Version string `json:"version"`
	CPU     float64
	Memory  float64
}

// Client calls the supervisor API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New builds a client. baseURL is typically http://supervisor.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a supervisor URL and token were provided.
func (c *Client) Configured() bool { return c.baseURL != "" && c.token != "" }

// RestartAddon restarts an addon by slug.
func (c *Client) RestartAddon(ctx context.Context, slug string) error {
	_, err := c.do(ctx, http.MethodPost, "/addons/"+url.PathEscape(slug)+"/restart", nil)
	return err
}

// ReloadAutomations reloads Home Assistant automations without a restart.
func (c *Client) ReloadAutomations(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/core/api/services/automation/reload", map[string]interface{}{})
	return err
}

// AddonInfoFor fetches state and resource usage for an addon.
func (c *Client) AddonInfoFor(ctx context.Context, slug string) (*AddonInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/addons/"+url.PathEscape(slug)+"/info", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data struct {
			Slug    string  `json:"slug"`
			Name    string  `json:"name"`
			State   string  `json:"state"`
			Version string  `json:"version"`
			CPU     float64 `json:"cpu_percent"`
			Memory  float64 `json:"memory_percent"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode addon info: %w", err)
	}
	return &AddonInfo{
		Slug:    payload.Data.Slug,
		Name:    payload.Data.Name,
		State:   payload.Data.State,
		Version: payload.Data.Version,
		CPU:     payload.Data.CPU,
		Memory:  payload.Data.Memory,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("home-automation supervisor not configured")
	}
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supervisor unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("supervisor returned status %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}
