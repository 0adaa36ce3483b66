package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3})

	errBoom := errors.New("boom")
	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)
	if b.State() != BreakerClosed {
		t.Fatal("breaker opened before threshold")
	}
	b.RecordFailure(errBoom)
	if b.State() != BreakerOpen {
		t.Fatal("breaker did not open at threshold")
	}
	if b.Allow() {
		t.Error("open breaker admitted a request inside backoff")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, InitialBackoff: time.Minute})
	now := time.Now()
	b.nowFn = func() time.Time { return now }

	b.RecordFailure(errors.New("boom"))
	if b.Allow() {
		t.Fatal("admitted during backoff")
	}

	// Backoff elapses: exactly one probe goes through.
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not admitted after backoff")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("second concurrent probe admitted")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Errorf("state after successful probe = %v, want closed", b.State())
	}
}

func TestBreakerFailedProbeGrowsBackoff(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold:  1,
		InitialBackoff:    time.Minute,
		MaxBackoff:        10 * time.Minute,
		BackoffMultiplier: 2.0,
	})
	now := time.Now()
	b.nowFn = func() time.Time { return now }

	b.RecordFailure(errors.New("boom"))
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}
	b.RecordFailure(errors.New("still down"))

	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	// Doubled backoff: one minute is no longer enough.
	now = now.Add(90 * time.Second)
	if b.Allow() {
		t.Error("admitted before doubled backoff elapsed")
	}
	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Error("not admitted after doubled backoff")
	}
}

func anthropicStub(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnthropicClient("test-key", "claude-sonnet-4-5", srv.URL, 5*time.Second)
}

func TestAnthropicChat(t *testing.T) {
	var gotReq anthropicRequest
	client := anthropicStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":       "claude-sonnet-4-5",
			"stop_reason": "tool_use",
			"content": []map[string]interface{}{
				{"type": "text", "text": "checking disk usage"},
				{"type": "tool_use", "id": "tu_1", "name": "execute_command",
					"input": map[string]interface{}{"command": "df -h"}},
			},
			"usage": map[string]int{"input_tokens": 120, "output_tokens": 45},
		})
	})

	resp, err := client.Chat(context.Background(), ChatRequest{
		System:   "you fix servers",
		Messages: []Message{{Role: "user", Content: "disk is full on web1"}},
		Tools: []Tool{{
			Name:        "execute_command",
			Description: "run a shell command",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotReq.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.System != "you fix servers" {
		t.Errorf("system = %q", gotReq.System)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Name != "execute_command" {
		t.Errorf("tools = %+v", gotReq.Tools)
	}

	if resp.Content != "checking disk usage" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "execute_command" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Input["command"] != "df -h" {
		t.Errorf("tool input = %+v", resp.ToolCalls[0].Input)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 45 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := anthropicStub(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{},
		})
	})

	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestAnthropicRateLimitHonorsRetryAfter(t *testing.T) {
	client := anthropicStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	body := []byte(`{}`)
	_, retryable, retryAfter, err := client.doRequest(context.Background(), body)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if !retryable {
		t.Error("rate limit not marked retryable")
	}
	if retryAfter != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", retryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("seconds form = %v, want 30s", got)
	}
	httpDate := time.Now().Add(45 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(httpDate); got <= 40*time.Second || got > 45*time.Second {
		t.Errorf("http-date form = %v, want ~45s", got)
	}
	for _, v := range []string{"", "garbage", "-5", "0"} {
		if got := parseRetryAfter(v); got != 0 {
			t.Errorf("parseRetryAfter(%q) = %v, want 0", v, got)
		}
	}
	// A date in the past means retry immediately, not wait negative time.
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Errorf("past http-date = %v, want 0", got)
	}
}

func TestAnthropicClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := anthropicStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "invalid_request_error", "message": "bad tool schema"},
		})
	})

	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
		t.Errorf("client error misclassified: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

type stubProvider struct {
	resp *ChatResponse
	err  error
	reqs []ChatRequest
}

func (p *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.reqs = append(p.reqs, req)
	return p.resp, p.err
}

func (p *stubProvider) Name() string { return "stub" }

func TestClientModelSelection(t *testing.T) {
	p := &stubProvider{resp: &ChatResponse{Content: "done"}}
	c := NewClient(p, nil, "claude-sonnet-4-5", "claude-opus-4-1")

	if _, err := c.Chat(context.Background(), ChatRequest{}, false); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := c.Chat(context.Background(), ChatRequest{}, true); err != nil {
		t.Fatalf("Chat escalated: %v", err)
	}

	if p.reqs[0].Model != "claude-sonnet-4-5" {
		t.Errorf("default model = %q", p.reqs[0].Model)
	}
	if p.reqs[1].Model != "claude-opus-4-1" {
		t.Errorf("escalated model = %q", p.reqs[1].Model)
	}
}

func TestClientBreakerBlocksAfterOutage(t *testing.T) {
	p := &stubProvider{err: ErrUnavailable}
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, InitialBackoff: time.Hour})
	c := NewClient(p, b, "claude-sonnet-4-5", "")

	for i := 0; i < 2; i++ {
		if _, err := c.Chat(context.Background(), ChatRequest{}, false); err == nil {
			t.Fatal("expected provider error")
		}
	}

	calls := len(p.reqs)
	_, err := c.Chat(context.Background(), ChatRequest{}, false)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(p.reqs) != calls {
		t.Error("open breaker still reached the provider")
	}
	if c.Available() {
		t.Error("Available() = true with open breaker")
	}
}
