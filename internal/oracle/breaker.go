package oracle

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed: requests flow normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen: requests are refused until the backoff elapses.
	BreakerOpen
	// BreakerHalfOpen: one probe request is allowed through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int           // consecutive failures before opening
	SuccessThreshold  int           // successes in half-open before closing
	InitialBackoff    time.Duration // backoff after the first trip
	MaxBackoff        time.Duration
	BackoffMultiplier float64 // backoff growth on repeated trips
}

// DefaultBreakerConfig matches an LLM provider's failure profile: trip
// fast, back off for minutes, not hours.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		SuccessThreshold:  2,
		InitialBackoff:    30 * time.Second,
		MaxBackoff:        10 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	state  BreakerState

	consecutiveFailures  int
	consecutiveSuccesses int
	currentBackoff       time.Duration
	openedAt             time.Time
	probeInFlight        bool

	nowFn func() time.Time
}

// NewBreaker builds a breaker, starting closed.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 30 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Minute
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	return &Breaker{
		config:         config,
		state:          BreakerClosed,
		currentBackoff: config.InitialBackoff,
		nowFn:          time.Now,
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// backoff elapsed transitions to half-open and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.nowFn().Sub(b.openedAt) < b.currentBackoff {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess notes a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(BreakerClosed)
			b.currentBackoff = b.config.InitialBackoff
			log.Info().Msg("Oracle circuit breaker closed after recovery")
		}
	}
}

// RecordFailure notes a failed request; may trip the breaker.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	b.consecutiveFailures++

	switch b.state {
	case BreakerClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.trip(err)
		}
	case BreakerHalfOpen:
		// A failed probe reopens with a longer backoff.
		b.probeInFlight = false
		b.currentBackoff = time.Duration(float64(b.currentBackoff) * b.config.BackoffMultiplier)
		if b.currentBackoff > b.config.MaxBackoff {
			b.currentBackoff = b.config.MaxBackoff
		}
		b.trip(err)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trip(err error) {
	b.setState(BreakerOpen)
	b.openedAt = b.nowFn()
	b.probeInFlight = false
	log.Warn().Err(err).Dur("backoff", b.currentBackoff).
		Int("failures", b.consecutiveFailures).
		Msg("Oracle circuit breaker tripped")
}

func (b *Breaker) setState(state BreakerState) {
	if b.state == state {
		return
	}
	b.state = state
	metrics.BreakerState.Set(float64(gaugeValue(state)))
}

func gaugeValue(state BreakerState) int {
	switch state {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}
