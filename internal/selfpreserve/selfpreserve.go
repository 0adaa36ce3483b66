// Package selfpreserve coordinates restarts of the service's own runtime.
// The service cannot restart itself from inside; it serializes in-flight
// state, persists a handoff, and asks the external orchestrator to do the
// restart, resuming the interrupted work on callback.
package selfpreserve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/orchestrator"
	"github.com/jarvisd/jarvis/internal/reasoning"
	"github.com/jarvisd/jarvis/internal/store"
)

// RestartTrigger asks the orchestrator to restart the target. The
// orchestrator client satisfies this.
type RestartTrigger interface {
	Configured() bool
	TriggerRestart(ctx context.Context, req orchestrator.RestartRequest) (string, error)
}

// ResumeFunc re-enters the reasoning loop with a restored context after a
// completed restart.
type ResumeFunc func(ctx context.Context, rctx *reasoning.Context)

// Config tunes self-preservation.
type Config struct {
	CallbackBaseURL string        // external URL the orchestrator calls back on
	MaxRestarts     int           // default 2
	StaleAfter      time.Duration // handoffs older than this are timed out on startup
}

func (c *Config) applyDefaults() {
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 2
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
}

// Sentinel errors mapped to structured outcomes by the API layer.
var (
	ErrRestartLoop    = errors.New("restart count exceeds max_restarts")
	ErrNotConfigured  = errors.New("restart orchestrator not configured")
	ErrUnknownHandoff = errors.New("unknown handoff id")
)

// Manager owns the handoff lifecycle.
type Manager struct {
	config  Config
	store   *store.Store
	trigger RestartTrigger
	resume  ResumeFunc
}

// New builds a manager. resume may be nil when continuation is disabled.
func New(config Config, st *store.Store, trigger RestartTrigger, resume ResumeFunc) *Manager {
	config.applyDefaults()
	return &Manager{config: config, store: st, trigger: trigger, resume: resume}
}

// InitiateRestart serializes the in-flight context, persists a pending
// handoff under the database's single-active guard, and POSTs the restart
// request to the orchestrator. Returns the handoff id.
func (m *Manager) InitiateRestart(ctx context.Context, rctx *reasoning.Context, target, reason string) (string, error) {
	restartTarget, err := parseTarget(target)
	if err != nil {
		return "", err
	}
	if m.trigger == nil || !m.trigger.Configured() {
		return "", ErrNotConfigured
	}

	var contextJSON string
	restartCount := 0
	if rctx != nil {
		contextJSON = string(rctx.Serialize())
		restartCount = rctx.RestartCount
	}

	h := store.Handoff{
		ID:           uuid.NewString(),
		Target:       restartTarget,
		Reason:       reason,
		ContextJSON:  contextJSON,
		CallbackURL:  m.callbackURL(),
		RestartCount: restartCount,
	}
	if err := m.store.CreateHandoff(h); err != nil {
		if errors.Is(err, store.ErrHandoffActive) {
			metrics.HandoffsTotal.WithLabelValues(string(restartTarget), "conflict").Inc()
		}
		return "", err
	}

	executionID, err := m.trigger.TriggerRestart(ctx, orchestrator.RestartRequest{
		HandoffID:   h.ID,
		Target:      string(restartTarget),
		Reason:      reason,
		CallbackURL: h.CallbackURL,
	})
	if err != nil {
		metrics.HandoffsTotal.WithLabelValues(string(restartTarget), "orchestrator_failed").Inc()
		if uerr := m.store.UpdateHandoffStatus(h.ID, store.HandoffFailed); uerr != nil {
			log.Error().Err(uerr).Str("handoff", h.ID).Msg("Failed to mark handoff failed")
		}
		return "", fmt.Errorf("restart trigger failed: %w", err)
	}

	if executionID != "" {
		if err := m.store.SetHandoffExecutionID(h.ID, executionID); err != nil {
			log.Warn().Err(err).Str("handoff", h.ID).Msg("Failed to record execution id")
		}
	}
	if err := m.store.UpdateHandoffStatus(h.ID, store.HandoffInProgress); err != nil {
		log.Warn().Err(err).Str("handoff", h.ID).Msg("Failed to advance handoff status")
	}

	metrics.HandoffsTotal.WithLabelValues(string(restartTarget), "initiated").Inc()
	log.Info().Str("handoff", h.ID).Str("target", string(restartTarget)).
		Str("reason", reason).Msg("Restart handoff initiated")
	return h.ID, nil
}

// Resume completes a handoff after the orchestrator's callback. When a
// serialized context is present and the restart budget allows, the
// interrupted reasoning attempt is continued in the background.
func (m *Manager) Resume(ctx context.Context, handoffID string) error {
	h, err := m.store.GetHandoff(handoffID)
	if err != nil {
		return err
	}
	if h == nil {
		return ErrUnknownHandoff
	}
	if h.Status != store.HandoffPending && h.Status != store.HandoffInProgress {
		return fmt.Errorf("handoff %s is %s, not resumable", handoffID, h.Status)
	}

	if err := m.store.UpdateHandoffStatus(handoffID, store.HandoffCompleted); err != nil {
		return err
	}
	metrics.HandoffsTotal.WithLabelValues(string(h.Target), "completed").Inc()
	log.Info().Str("handoff", handoffID).Msg("Restart handoff completed")

	if h.ContextJSON == "" || m.resume == nil {
		return nil
	}
	if h.RestartCount+1 > m.config.MaxRestarts {
		log.Warn().Str("handoff", handoffID).Int("restarts", h.RestartCount+1).
			Msg("Restart budget exhausted, dropping continuation")
		return ErrRestartLoop
	}

	rctx, err := reasoning.RestoreContext([]byte(h.ContextJSON))
	if err != nil {
		log.Warn().Err(err).Str("handoff", handoffID).Msg("Stored context not restorable")
		return nil
	}
	// The continuation carries the incremented count, so a handoff it
	// initiates in turn is counted against the budget.
	rctx.RestartCount = h.RestartCount + 1

	go func() {
		// Detached from the callback request; the continuation outlives it.
		cctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		m.resume(cctx, rctx)
	}()
	return nil
}

// StartupSweep times out handoffs abandoned by a crash, so a wedged
// handoff row cannot block future restarts forever.
func (m *Manager) StartupSweep() {
	n, err := m.store.ExpireStaleHandoffs(m.config.StaleAfter, 100)
	if err != nil {
		log.Error().Err(err).Msg("Stale handoff sweep failed")
		return
	}
	if n > 0 {
		log.Warn().Int("count", n).Msg("Expired stale restart handoffs on startup")
	}
}

// Cancel marks the active handoff failed so the restart slot frees up.
// Returns the cancelled handoff id, or ErrUnknownHandoff when none is
// active.
func (m *Manager) Cancel() (string, error) {
	h, err := m.store.ActiveHandoff()
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", ErrUnknownHandoff
	}
	if err := m.store.UpdateHandoffStatus(h.ID, store.HandoffFailed); err != nil {
		return "", err
	}
	metrics.HandoffsTotal.WithLabelValues(string(h.Target), "cancelled").Inc()
	log.Info().Str("handoff", h.ID).Msg("Restart handoff cancelled")
	return h.ID, nil
}

// Active reports the currently pending or in-progress handoff, if any.
// Commands touching the service's own runtime are permitted while one is
// active.
func (m *Manager) Active() (*store.Handoff, error) {
	return m.store.ActiveHandoff()
}

func (m *Manager) callbackURL() string {
	if m.config.CallbackBaseURL == "" {
		return ""
	}
	return strings.TrimRight(m.config.CallbackBaseURL, "/") + "/resume"
}

func parseTarget(target string) (store.RestartTarget, error) {
	switch store.RestartTarget(strings.ToLower(strings.TrimSpace(target))) {
	case store.TargetSelf:
		return store.TargetSelf, nil
	case store.TargetDatabase:
		return store.TargetDatabase, nil
	case store.TargetDockerDaemon:
		return store.TargetDockerDaemon, nil
	case store.TargetHost:
		return store.TargetHost, nil
	default:
		return "", fmt.Errorf("invalid restart target %q", target)
	}
}
