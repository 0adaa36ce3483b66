// Package metricsapi is a thin client for the Prometheus HTTP API: instant
// and range queries, firing-state checks for the verifier, and linear
// trend extrapolation for the proactive loop.
package metricsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Point is one metric sample.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is one labeled result from a range query.
type Series struct {
	Labels map[string]string
	Points []Point
}

// Client queries a Prometheus-compatible metrics backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// New builds a client for the given base URL (e.g. http://prometheus:9090).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

type vectorSample struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

type matrixSample struct {
	Metric map[string]string `json:"metric"`
	Values [][2]interface{}  `json:"values"`
}

// Query runs an instant query and returns the result vector.
func (c *Client) Query(ctx context.Context, query string) ([]Series, error) {
	params := url.Values{"query": {query}}
	body, err := c.get(ctx, "/api/v1/query", params)
	if err != nil {
		return nil, err
	}

	var samples []vectorSample
	if err := json.Unmarshal(body, &samples); err != nil {
		return nil, fmt.Errorf("decode vector result: %w", err)
	}
	out := make([]Series, 0, len(samples))
	for _, s := range samples {
		p, err := parseSample(s.Value)
		if err != nil {
			continue
		}
		out = append(out, Series{Labels: s.Metric, Points: []Point{p}})
	}
	return out, nil
}

// QueryRange runs a range query over the trailing window.
func (c *Client) QueryRange(ctx context.Context, query string, window, step time.Duration) ([]Series, error) {
	end := time.Now()
	start := end.Add(-window)
	if step <= 0 {
		step = window / 60
		if step < 15*time.Second {
			step = 15 * time.Second
		}
	}
	params := url.Values{
		"query": {query},
		"start": {strconv.FormatInt(start.Unix(), 10)},
		"end":   {strconv.FormatInt(end.Unix(), 10)},
		"step":  {strconv.FormatInt(int64(step.Seconds()), 10)},
	}
	body, err := c.get(ctx, "/api/v1/query_range", params)
	if err != nil {
		return nil, err
	}

	var samples []matrixSample
	if err := json.Unmarshal(body, &samples); err != nil {
		return nil, fmt.Errorf("decode matrix result: %w", err)
	}
	out := make([]Series, 0, len(samples))
	for _, s := range samples {
		series := Series{Labels: s.Metric}
		for _, v := range s.Values {
			p, err := parseSample(v)
			if err != nil {
				continue
			}
			series.Points = append(series.Points, p)
		}
		out = append(out, series)
	}
	return out, nil
}

// AlertFiring reports whether an alert with the given name (and instance,
// when non-empty) is currently in the firing state. The verifier polls
// this.
func (c *Client) AlertFiring(ctx context.Context, alertName, instance string) (bool, error) {
	query := fmt.Sprintf(`ALERTS{alertname=%q,alertstate="firing"}`, alertName)
	if instance != "" {
		query = fmt.Sprintf(`ALERTS{alertname=%q,instance=%q,alertstate="firing"}`, alertName, instance)
	}
	series, err := c.Query(ctx, query)
	if err != nil {
		return false, err
	}
	return len(series) > 0, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics backend returned status %d: %s", resp.StatusCode, body)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if api.Status != "success" {
		return nil, fmt.Errorf("metrics query failed: %s", api.Error)
	}
	return api.Data.Result, nil
}

func parseSample(v [2]interface{}) (Point, error) {
	ts, ok := v[0].(float64)
	if !ok {
		return Point{}, fmt.Errorf("bad timestamp %v", v[0])
	}
	raw, ok := v[1].(string)
	if !ok {
		return Point{}, fmt.Errorf("bad value %v", v[1])
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Point{}, err
	}
	return Point{Timestamp: time.Unix(int64(ts), 0).UTC(), Value: value}, nil
}
