// Package notifier posts best-effort chat notifications to a webhook.
// Failures are logged and swallowed: notification must never block or fail
// a remediation.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
)

const (
	maxBodyLen = 2000
	// repeatWindow drops identical notification titles fired in rapid
	// succession.
	repeatWindow = time.Minute
)

// Message is one notification.
type Message struct {
	Title    string          `json:"title"`
	Body     string          `json:"message"`
	Severity models.Severity `json:"severity"`
}

// Notifier posts messages to a chat webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
	nowFn    func() time.Time
}

// New builds a notifier. An empty webhookURL disables it.
func New(webhookURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		lastSent:   make(map[string]time.Time),
		nowFn:      time.Now,
	}
}

// Configured reports whether a webhook is set.
func (n *Notifier) Configured() bool { return n.webhookURL != "" }

// Send posts one message. Repeats of the same title inside the repeat
// window are dropped.
func (n *Notifier) Send(ctx context.Context, msg Message) {
	if !n.Configured() {
		return
	}
	if msg.Severity == "" {
		msg.Severity = models.SeverityInfo
	}
	if len(msg.Body) > maxBodyLen {
		msg.Body = msg.Body[:maxBodyLen] + "…"
	}

	n.mu.Lock()
	now := n.nowFn()
	if last, ok := n.lastSent[msg.Title]; ok && now.Sub(last) < repeatWindow {
		n.mu.Unlock()
		return
	}
	n.lastSent[msg.Title] = now
	n.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Notification webhook unreachable")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("Notification webhook rejected message")
		return
	}
	metrics.NotificationsSentTotal.WithLabelValues(string(msg.Severity)).Inc()
}

// AttemptOutcome announces a finished remediation attempt.
func (n *Notifier) AttemptOutcome(ctx context.Context, alert *models.Alert, tier string, verified string, analysis string) {
	severity := models.SeverityInfo
	title := "Remediation succeeded: " + alert.Name
	if verified != "verified" {
		severity = models.SeverityWarning
		title = "Remediation " + verified + ": " + alert.Name
	}
	n.Send(ctx, Message{
		Title:    title,
		Body:     alert.Instance + " (tier " + tier + ")\n" + analysis,
		Severity: severity,
	})
}

// Escalation announces that automatic remediation gave up on an alert.
func (n *Notifier) Escalation(ctx context.Context, alert *models.Alert, reason string) {
	n.Send(ctx, Message{
		Title:    "Escalation: " + alert.Name,
		Body:     alert.Instance + "\n" + reason + "\nManual intervention required.",
		Severity: models.SeverityCritical,
	})
}

// Resolution announces that an alert resolved upstream.
func (n *Notifier) Resolution(ctx context.Context, alert *models.Alert) {
	n.Send(ctx, Message{
		Title:    "Resolved: " + alert.Name,
		Body:     alert.Instance,
		Severity: models.SeverityInfo,
	})
}

// HostTransition announces a host going offline or recovering.
func (n *Notifier) HostTransition(ctx context.Context, host, state string) {
	severity := models.SeverityWarning
	if state == "online" {
		severity = models.SeverityInfo
	}
	n.Send(ctx, Message{
		Title:    "Host " + state + ": " + host,
		Severity: severity,
	})
}
