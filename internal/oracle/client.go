package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jarvisd/jarvis/internal/metrics"
)

// Client wraps a provider with the circuit breaker, model selection, and
// instrumentation. The reasoning loop talks to this, never to a provider
// directly.
type Client struct {
	provider      Provider
	breaker       *Breaker
	model         string
	escalateModel string
}

// NewClient builds a client. escalateModel is the higher-capability model
// used for crash-loop remediation; it falls back to model when empty.
func NewClient(provider Provider, breaker *Breaker, model, escalateModel string) *Client {
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	if escalateModel == "" {
		escalateModel = model
	}
	return &Client{
		provider:      provider,
		breaker:       breaker,
		model:         model,
		escalateModel: escalateModel,
	}
}

// Chat sends a request through the breaker. escalate selects the
// higher-capability model.
func (c *Client) Chat(ctx context.Context, req ChatRequest, escalate bool) (*ChatResponse, error) {
	if !c.breaker.Allow() {
		metrics.OracleRequestsTotal.WithLabelValues(c.model, "breaker_open").Inc()
		return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
	}

	if req.Model == "" {
		if escalate {
			req.Model = c.escalateModel
		} else {
			req.Model = c.model
		}
	}

	resp, err := c.provider.Chat(ctx, req)
	if err != nil {
		// Rate limiting and unavailability trip the breaker; request-shape
		// errors do not, since waiting will not fix them.
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
			c.breaker.RecordFailure(err)
		}
		metrics.OracleRequestsTotal.WithLabelValues(req.Model, "error").Inc()
		return nil, err
	}

	c.breaker.RecordSuccess()
	metrics.OracleRequestsTotal.WithLabelValues(req.Model, "success").Inc()
	metrics.OracleTokensTotal.WithLabelValues("input").Add(float64(resp.InputTokens))
	metrics.OracleTokensTotal.WithLabelValues("output").Add(float64(resp.OutputTokens))
	return resp, nil
}

// Available reports whether the breaker is not currently open. It never
// consumes the half-open probe slot.
func (c *Client) Available() bool {
	return c.breaker.State() != BreakerOpen
}
