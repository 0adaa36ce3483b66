// Package executor runs validated commands on target hosts: over pooled
// SSH sessions for remote hosts, or directly when the target is the host
// the service itself runs on.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/validator"
)

// Outcome is one command execution result as seen by the host monitor:
// only connection-class failures count against a host's reachability.
type Outcome struct {
	Host      string
	Reachable bool
	Err       error
}

// OutcomeListener receives an event after every command execution.
type OutcomeListener func(Outcome)

// Config holds executor settings.
type Config struct {
	SSHUser            string
	SSHKeyPath         string
	SSHPort            int
	KnownHostsPath     string
	SelfHost           string
	CommandTimeout     time.Duration // default 60s
	LongCommandTimeout time.Duration // default 300s
	ConnectTimeout     time.Duration // default 10s
}

func (c *Config) applyDefaults() {
	if c.SSHPort == 0 {
		c.SSHPort = 22
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 60 * time.Second
	}
	if c.LongCommandTimeout <= 0 {
		c.LongCommandTimeout = 300 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// longRunningMarkers widen the per-command timeout for scripts known to
// take minutes rather than seconds.
var longRunningMarkers = []string{
	"backup",
	"borg",
	"restic",
	"rsync",
	"vzdump",
	"docker build",
	"docker compose build",
	"apt-get install",
	"apt install",
	"fstrim",
}

// Executor runs commands and feeds outcome events to the host monitor.
type Executor struct {
	config Config

	mu   sync.Mutex
	pool map[string]*sshConn

	listenersMu sync.RWMutex
	listeners   []OutcomeListener

	// localRunFn is swapped in tests.
	localRunFn func(ctx context.Context, command string, timeout time.Duration) models.CommandResult
}

// New builds an executor. The SSH key permission check warns but never
// blocks startup.
func New(config Config) *Executor {
	config.applyDefaults()
	e := &Executor{
		config: config,
		pool:   make(map[string]*sshConn),
	}
	e.localRunFn = runLocal
	if config.SSHKeyPath != "" {
		checkKeyPermissions(config.SSHKeyPath)
	}
	return e
}

// Subscribe registers a listener for command outcome events.
func (e *Executor) Subscribe(fn OutcomeListener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenersMu.Unlock()
}

func (e *Executor) emit(o Outcome) {
	e.listenersMu.RLock()
	listeners := e.listeners
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(o)
	}
}

// Run executes one validated command on the target host. The returned
// result always carries the host and duration; a connection-class error is
// reported through the error return and the outcome event.
func (e *Executor) Run(ctx context.Context, host, command string, class validator.Class) (models.CommandResult, error) {
	timeout := e.timeoutFor(command)

	var (
		result models.CommandResult
		err    error
	)
	if e.isSelf(host) {
		result = e.localRunFn(ctx, command, timeout)
	} else {
		result, err = e.runRemote(ctx, host, command, timeout)
	}
	result.Host = host
	result.Actionable = class == validator.ClassActionable

	e.emit(Outcome{Host: host, Reachable: err == nil, Err: err})

	outcome := "success"
	if err != nil || !result.Succeeded() {
		outcome = "failure"
	}
	metrics.CommandsExecutedTotal.WithLabelValues(string(class), outcome).Inc()

	if err != nil {
		log.Warn().Err(err).Str("host", host).Str("command", command).
			Msg("Command execution failed")
		return result, err
	}
	log.Debug().Str("host", host).Str("command", command).
		Int("exit_code", result.ExitCode).Dur("duration", result.Duration).
		Msg("Command executed")
	return result, nil
}

// isSelf reports whether the target is the host the service runs on, in
// which case commands run in-process rather than over SSH.
func (e *Executor) isSelf(host string) bool {
	if host == "" || host == "localhost" || host == "127.0.0.1" {
		return true
	}
	return strings.EqualFold(host, e.config.SelfHost)
}

func (e *Executor) timeoutFor(command string) time.Duration {
	lower := strings.ToLower(command)
	for _, marker := range longRunningMarkers {
		if strings.Contains(lower, marker) {
			return e.config.LongCommandTimeout
		}
	}
	return e.config.CommandTimeout
}

// Close tears down all pooled SSH connections.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for host, conn := range e.pool {
		conn.close()
		delete(e.pool, host)
	}
}
