// Package verifier confirms that a remediation actually cleared the alert
// condition by polling the metrics backend, rather than trusting command
// exit codes.
package verifier

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/store"
)

// FiringChecker reports whether an alert is still firing. The metrics API
// client satisfies this.
type FiringChecker interface {
	AlertFiring(ctx context.Context, alertName, instance string) (bool, error)
}

// Config tunes the verification poll.
type Config struct {
	Enabled      bool
	InitialDelay time.Duration // default 10s
	PollInterval time.Duration // default 10s
	MaxWait      time.Duration // default 120s
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 120 * time.Second
	}
}

// Verifier polls the metrics backend after a remediation.
type Verifier struct {
	config  Config
	checker FiringChecker
}

// New builds a verifier. checker may be nil when no metrics backend is
// configured; every verification then reports unverified.
func New(config Config, checker FiringChecker) *Verifier {
	config.applyDefaults()
	return &Verifier{config: config, checker: checker}
}

// Verify waits out the initial delay, then polls until the alert stops
// firing or the deadline passes. An unreachable backend degrades to
// exit-code trust: the outcome is unverified, never failed.
func (v *Verifier) Verify(ctx context.Context, alert *models.Alert) store.VerificationOutcome {
	outcome := v.verify(ctx, alert)
	metrics.VerificationsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (v *Verifier) verify(ctx context.Context, alert *models.Alert) store.VerificationOutcome {
	if !v.config.Enabled {
		return store.VerifiedSkipped
	}
	if v.checker == nil {
		return store.VerifiedUnverified
	}

	if !sleep(ctx, v.config.InitialDelay) {
		return store.VerifiedUnverified
	}

	deadline := time.Now().Add(v.config.MaxWait)
	sawBackend := false
	for {
		firing, err := v.checker.AlertFiring(ctx, alert.Name, alert.Instance)
		if err != nil {
			log.Warn().Err(err).Str("alert", alert.Name).
				Msg("Metrics backend unreachable during verification")
		} else {
			sawBackend = true
			if !firing {
				log.Info().Str("alert", alert.Name).Str("instance", alert.Instance).
					Msg("Remediation verified, alert cleared")
				return store.VerifiedSuccess
			}
		}

		if time.Now().After(deadline) {
			break
		}
		if !sleep(ctx, v.config.PollInterval) {
			return store.VerifiedUnverified
		}
	}

	// Deadline passed. Only declare failure when the backend actually
	// answered; otherwise fall back to exit-code trust.
	if !sawBackend {
		return store.VerifiedUnverified
	}
	log.Warn().Str("alert", alert.Name).Str("instance", alert.Instance).
		Msg("Remediation not verified, alert still firing at deadline")
	return store.VerifiedFailure
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
