// Package hostmon tracks per-host reachability from executor outcome
// events and periodic probes of offline hosts.
package hostmon

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jarvisd/jarvis/internal/executor"
	"github.com/jarvisd/jarvis/internal/metrics"
)

// State is a host's reachability state.
type State string

const (
	StateOnline   State = "online"
	StateOffline  State = "offline"
	StateChecking State = "checking"
)

// Config holds monitor settings.
type Config struct {
	// FailureThreshold is the consecutive connection failures before a host
	// is marked offline. Default 3.
	FailureThreshold int
	// ProbeInterval is how often offline hosts are re-probed. Default 5m.
	ProbeInterval time.Duration
	// ProbePort is the TCP port probed for liveness. Default 22.
	ProbePort int
	// ProbeTimeout bounds a single probe. Default 5s.
	ProbeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Minute
	}
	if c.ProbePort == 0 {
		c.ProbePort = 22
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// HostStatus is a point-in-time view of one host.
type HostStatus struct {
	Host      string    `json:"host"`
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type hostState struct {
	state     State
	failures  int
	lastError string
	changedAt time.Time
}

// statusLogger persists state transitions. The store satisfies this.
type statusLogger interface {
	LogHostStatus(host, status string, failures int, lastError string) error
}

// TransitionListener is notified on every online/offline flip, used by the
// notifier.
type TransitionListener func(host string, to State)

// Monitor is the per-host reachability state machine.
type Monitor struct {
	config Config
	logger statusLogger

	mu    sync.Mutex
	hosts map[string]*hostState

	listenersMu sync.RWMutex
	listeners   []TransitionListener

	// probeFn is swapped in tests.
	probeFn func(ctx context.Context, host string) error
}

// New builds a monitor. logger may be nil.
func New(config Config, logger statusLogger) *Monitor {
	config.applyDefaults()
	m := &Monitor{
		config: config,
		logger: logger,
		hosts:  make(map[string]*hostState),
	}
	m.probeFn = m.tcpProbe
	return m
}

// Subscribe registers a transition listener.
func (m *Monitor) Subscribe(fn TransitionListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Observe consumes one executor outcome event.
func (m *Monitor) Observe(o executor.Outcome) {
	if o.Host == "" {
		return
	}
	m.mu.Lock()
	h := m.get(o.Host)

	if o.Reachable {
		wasOffline := h.state == StateOffline
		h.failures = 0
		h.lastError = ""
		if h.state != StateOnline {
			h.state = StateOnline
			h.changedAt = time.Now().UTC()
		}
		m.mu.Unlock()
		if wasOffline {
			m.transitioned(o.Host, StateOnline, 0, "")
		}
		return
	}

	h.failures++
	if o.Err != nil {
		h.lastError = o.Err.Error()
	}
	flipped := h.state != StateOffline && h.failures >= m.config.FailureThreshold
	if flipped {
		h.state = StateOffline
		h.changedAt = time.Now().UTC()
	}
	failures, lastError := h.failures, h.lastError
	m.mu.Unlock()

	if flipped {
		m.transitioned(o.Host, StateOffline, failures, lastError)
	}
}

// IsOnline reports whether remediation may target the host. Unknown hosts
// and hosts mid-probe are treated as online; only confirmed-offline hosts
// are refused.
func (m *Monitor) IsOnline(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hosts[host]
	if !ok {
		return true
	}
	return h.state != StateOffline
}

// Status returns a snapshot of all tracked hosts.
func (m *Monitor) Status() []HostStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HostStatus, 0, len(m.hosts))
	for host, h := range m.hosts {
		out = append(out, HostStatus{
			Host:      host,
			State:     h.state,
			Failures:  h.failures,
			LastError: h.lastError,
			ChangedAt: h.changedAt,
		})
	}
	return out
}

// Run probes offline hosts on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOffline(ctx)
		}
	}
}

func (m *Monitor) probeOffline(ctx context.Context) {
	m.mu.Lock()
	var offline []string
	for host, h := range m.hosts {
		if h.state == StateOffline {
			h.state = StateChecking
			offline = append(offline, host)
		}
	}
	m.mu.Unlock()

	// Probes fan out so one unresponsive host cannot starve the sweep.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, host := range offline {
		host := host
		g.Go(func() error {
			err := m.probeFn(gctx, host)

			m.mu.Lock()
			h := m.get(host)
			if err == nil {
				h.state = StateOnline
				h.failures = 0
				h.lastError = ""
				h.changedAt = time.Now().UTC()
				m.mu.Unlock()
				m.transitioned(host, StateOnline, 0, "")
				return nil
			}
			h.state = StateOffline
			h.lastError = err.Error()
			m.mu.Unlock()
			log.Debug().Err(err).Str("host", host).Msg("Offline host probe failed")
			return nil
		})
	}
	g.Wait()
}

func (m *Monitor) tcpProbe(ctx context.Context, host string) error {
	d := net.Dialer{Timeout: m.config.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(m.config.ProbePort)))
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// get returns the state for a host, creating it online. Callers hold mu.
func (m *Monitor) get(host string) *hostState {
	h, ok := m.hosts[host]
	if !ok {
		h = &hostState{state: StateOnline, changedAt: time.Now().UTC()}
		m.hosts[host] = h
	}
	return h
}

func (m *Monitor) transitioned(host string, to State, failures int, lastError string) {
	metrics.HostStateTransitions.WithLabelValues(string(to)).Inc()
	if to == StateOffline {
		log.Warn().Str("host", host).Int("failures", failures).
			Str("last_error", lastError).Msg("Host marked offline")
	} else {
		log.Info().Str("host", host).Msg("Host back online")
	}
	if m.logger != nil {
		if err := m.logger.LogHostStatus(host, string(to), failures, lastError); err != nil {
			log.Warn().Err(err).Str("host", host).Msg("Failed to log host status")
		}
	}
	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(host, to)
	}
}
