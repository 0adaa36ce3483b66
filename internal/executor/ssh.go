package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/jarvisd/jarvis/internal/models"
)

// connectBackoff is the retry schedule for connection-class failures.
var connectBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// sshConn is one pooled connection. Sessions are cheap; the TCP+handshake
// is what the pool amortizes.
type sshConn struct {
	client *ssh.Client
	host   string
}

func (c *sshConn) close() {
	if c.client != nil {
		c.client.Close()
	}
}

// runRemote executes the command over a pooled SSH connection. A stale
// connection is replaced and the command retried once; command-level
// failures (non-zero exit) are returned to the caller, not retried.
func (e *Executor) runRemote(ctx context.Context, host, command string, timeout time.Duration) (models.CommandResult, error) {
	conn, err := e.getConn(ctx, host)
	if err != nil {
		return models.CommandResult{Command: command}, err
	}

	result, err := runSession(ctx, conn.client, command, timeout)
	if err != nil && isConnectionError(err) {
		e.dropConn(host)
		conn, retryErr := e.getConn(ctx, host)
		if retryErr != nil {
			return result, retryErr
		}
		result, err = runSession(ctx, conn.client, command, timeout)
	}
	return result, err
}

func (e *Executor) getConn(ctx context.Context, host string) (*sshConn, error) {
	e.mu.Lock()
	if conn, ok := e.pool[host]; ok {
		e.mu.Unlock()
		return conn, nil
	}
	e.mu.Unlock()

	client, err := e.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	conn := &sshConn{client: client, host: host}

	e.mu.Lock()
	if existing, ok := e.pool[host]; ok {
		e.mu.Unlock()
		conn.close()
		return existing, nil
	}
	e.pool[host] = conn
	e.mu.Unlock()
	return conn, nil
}

func (e *Executor) dropConn(host string) {
	e.mu.Lock()
	if conn, ok := e.pool[host]; ok {
		conn.close()
		delete(e.pool, host)
	}
	e.mu.Unlock()
}

// dial connects with exponential backoff on connection-class errors.
func (e *Executor) dial(ctx context.Context, host string) (*ssh.Client, error) {
	config, err := e.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", e.config.SSHPort))

	var lastErr error
	for attempt := 0; ; attempt++ {
		client, err := dialOnce(ctx, addr, config, e.config.ConnectTimeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if attempt >= len(connectBackoff) {
			break
		}
		log.Warn().Err(err).Str("host", host).Int("attempt", attempt+1).
			Msg("SSH connection failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff[attempt]):
		}
	}
	return nil, fmt.Errorf("ssh connect to %s: %w", host, lastErr)
}

func dialOnce(ctx context.Context, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	d := net.Dialer{Timeout: timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func (e *Executor) clientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(e.config.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.config.KnownHostsPath != "" {
		cb, err := knownhosts.New(e.config.KnownHostsPath)
		if err != nil {
			log.Warn().Err(err).Str("path", e.config.KnownHostsPath).
				Msg("Failed to load known_hosts, host keys will not be verified")
		} else {
			hostKeyCallback = cb
		}
	}

	return &ssh.ClientConfig{
		User:            e.config.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.config.ConnectTimeout,
	}, nil
}

// runSession runs one command in a fresh session with a hard timeout.
func runSession(ctx context.Context, client *ssh.Client, command string, timeout time.Duration) (models.CommandResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return models.CommandResult{Command: command}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var runErr error
	select {
	case runErr = <-done:
	case <-timer.C:
		session.Close()
		<-done
		return models.CommandResult{
			Command:  command,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Duration: time.Since(start),
		}, fmt.Errorf("command timed out after %s", timeout)
	case <-ctx.Done():
		session.Close()
		<-done
		return models.CommandResult{
			Command:  command,
			ExitCode: -1,
			Duration: time.Since(start),
		}, ctx.Err()
	}

	result := models.CommandResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is a command result, not a transport error.
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		result.ExitCode = -1
		return result, runErr
	}
	return result, nil
}

// isConnectionError distinguishes transport failures (worth a reconnect)
// from command failures (surfaced to the reasoning loop).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"handshake failed",
		"EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// checkKeyPermissions warns when the private key is readable by anyone but
// its owner. sshd would refuse such a key; we only warn because the
// container filesystem may not preserve ownership.
func checkKeyPermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("SSH key not found, remote execution will fail")
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().Str("path", path).Str("mode", mode.String()).
			Msg("SSH key is group or world readable, expected 0600")
	}
}
