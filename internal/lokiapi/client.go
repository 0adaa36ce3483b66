// Package lokiapi is a thin client for the Loki query API, serving the
// reasoning loop's log-inspection tool.
package lokiapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Entry is one log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// Client queries a Loki-compatible logs backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// New builds a client for the given base URL (e.g. http://loki:3100).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const defaultLimit = 100

// QueryTarget fetches recent logs for a target by query type. Supported
// types: container, service, host, errors (error-level lines for a host).
func (c *Client) QueryTarget(ctx context.Context, queryType, target string, minutes int) ([]Entry, error) {
	if minutes <= 0 {
		minutes = 15
	}
	var logql string
	switch queryType {
	case "container":
		logql = fmt.Sprintf(`{container=%q}`, target)
	case "service":
		logql = fmt.Sprintf(`{unit=%q}`, target+".service")
	case "host":
		logql = fmt.Sprintf(`{host=%q}`, target)
	case "errors":
		logql = fmt.Sprintf(`{host=%q} |~ "(?i)(error|fail|fatal|panic)"`, target)
	default:
		return nil, fmt.Errorf("unknown query type %q", queryType)
	}
	return c.Query(ctx, logql, time.Duration(minutes)*time.Minute, defaultLimit)
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// Query runs a raw LogQL query over the trailing window, oldest first.
func (c *Client) Query(ctx context.Context, logql string, since time.Duration, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	end := time.Now()
	params := url.Values{
		"query": {logql},
		"start": {strconv.FormatInt(end.Add(-since).UnixNano(), 10)},
		"end":   {strconv.FormatInt(end.UnixNano(), 10)},
		"limit": {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/loki/api/v1/query_range?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logs backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logs backend returned status %d: %s", resp.StatusCode, body)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("logs query failed: %s", body)
	}

	var entries []Entry
	for _, stream := range qr.Data.Result {
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Timestamp: time.Unix(0, ns).UTC(),
				Line:      v[1],
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
