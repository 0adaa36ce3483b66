// Package intake is the alert gateway: it normalizes webhook payloads,
// applies the fingerprint dedup gate, routes resolutions, and falls back to
// the degraded queue when persistence is down. Synthetic alerts from the
// proactive loops enter through the same path.
package intake

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/planner"
)

// Deduper is the slice of the store the gateway needs. Errors from it are
// treated as persistence being unavailable.
type Deduper interface {
	CheckAndSetFingerprint(fingerprint string, ttl time.Duration) (bool, error)
	ClearEscalation(alertName, instance string) error
}

// Remediator runs the decision pipeline for one alert. The planner
// satisfies this.
type Remediator interface {
	Handle(ctx context.Context, alert *models.Alert) planner.Outcome
}

// Buffer holds alerts while persistence is down. The degraded queue
// satisfies this.
type Buffer interface {
	Enqueue(alert *models.Alert) bool
}

// Announcer posts resolution notices. The notifier satisfies this.
type Announcer interface {
	Resolution(ctx context.Context, alert *models.Alert)
}

// Gateway funnels every alert, real or synthetic, into the planner.
type Gateway struct {
	store    Deduper
	planner  Remediator
	queue    Buffer
	notifier Announcer
	cooldown time.Duration
}

// New builds a gateway.
func New(store Deduper, p Remediator, queue Buffer, notifier Announcer, fingerprintCooldown time.Duration) *Gateway {
	if fingerprintCooldown <= 0 {
		fingerprintCooldown = 5 * time.Minute
	}
	return &Gateway{
		store:    store,
		planner:  p,
		queue:    queue,
		notifier: notifier,
		cooldown: fingerprintCooldown,
	}
}

// Result pairs an alert with its outcome, for the webhook response body.
type Result struct {
	Fingerprint string           `json:"fingerprint"`
	Alert       string           `json:"alert,omitempty"`
	Outcome     planner.Outcome  `json:"outcome"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   models.ErrorKind `json:"error_kind,omitempty"`
}

// ProcessEnvelope handles one webhook batch, normalizing and processing
// each alert independently. A malformed alert never fails the batch.
func (g *Gateway) ProcessEnvelope(ctx context.Context, env models.WebhookEnvelope) []Result {
	results := make([]Result, 0, len(env.Alerts))
	for _, wa := range env.Alerts {
		alert, err := wa.Normalize()
		if err != nil {
			log.Warn().Err(err).Msg("Rejecting malformed alert")
			results = append(results, Result{
				Fingerprint: wa.Fingerprint,
				Outcome:     planner.Outcome{Disposition: models.DispositionValidationError},
				Error:       err.Error(),
				ErrorKind:   models.ErrValidation,
			})
			continue
		}
		outcome := g.Process(ctx, &alert)
		results = append(results, Result{
			Fingerprint: alert.Fingerprint,
			Alert:       alert.Name,
			Outcome:     outcome,
		})
	}
	return results
}

// Process routes a single normalized alert through dedup and the planner.
func (g *Gateway) Process(ctx context.Context, alert *models.Alert) planner.Outcome {
	metrics.AlertsReceivedTotal.WithLabelValues(string(alert.Status), string(alert.Severity)).Inc()

	if alert.IsResolved() {
		if err := g.store.ClearEscalation(alert.Name, alert.Instance); err != nil {
			log.Warn().Err(err).Str("alert", alert.Name).Msg("Failed to clear escalation cooldown")
		}
		if g.notifier != nil {
			g.notifier.Resolution(ctx, alert)
		}
		log.Info().Str("alert", alert.Name).Str("instance", alert.Instance).Msg("Alert resolved upstream")
		return planner.Outcome{Disposition: models.DispositionResolved}
	}

	won, err := g.store.CheckAndSetFingerprint(alert.Fingerprint, g.cooldown)
	if err != nil {
		return g.buffer(alert, err)
	}
	if !won {
		metrics.DedupHitsTotal.Inc()
		log.Debug().Str("fingerprint", alert.Fingerprint).Msg("Dedup hit, alert already in flight")
		return planner.Outcome{Disposition: models.DispositionDeduplicated}
	}

	return g.planner.Handle(ctx, alert)
}

// Emit adapts Process for the proactive loops' emitter signature.
func (g *Gateway) Emit(ctx context.Context, alert *models.Alert) {
	outcome := g.Process(ctx, alert)
	log.Info().Str("alert", alert.Name).Str("status", string(outcome.Disposition)).
		Msg("Synthetic alert processed")
}

// buffer hands the alert to the degraded queue after a persistence error.
func (g *Gateway) buffer(alert *models.Alert, cause error) planner.Outcome {
	log.Warn().Err(cause).Str("alert", alert.Name).Msg("Persistence unavailable, buffering alert")
	if g.queue != nil && g.queue.Enqueue(alert) {
		return planner.Outcome{
			Disposition: models.DispositionQueued,
			ErrorKind:   models.ErrPersistenceUnavailable,
		}
	}
	return planner.Outcome{
		Disposition: models.DispositionOverflow,
		ErrorKind:   models.ErrPersistenceUnavailable,
	}
}
