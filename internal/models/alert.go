// Package models defines the alert data model shared across the pipeline.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the upstream firing state.
type AlertStatus string

const (
	StatusFiring   AlertStatus = "firing"
	StatusResolved AlertStatus = "resolved"
)

// Label keys the pipeline reads explicitly. Everything else in the label
// map is opaque.
const (
	LabelAlertName       = "alertname"
	LabelInstance        = "instance"
	LabelSeverity        = "severity"
	LabelHost            = "host"
	LabelContainer       = "container"
	LabelService         = "service"
	LabelSystem          = "system"
	LabelJob             = "job"
	LabelRemediationHost = "remediation_host"
)

// Alert is a single firing or resolved condition. The fingerprint is the
// identity of the ongoing incident: two firings with the same fingerprint
// are the same incident.
type Alert struct {
	Fingerprint string            `json:"fingerprint"`
	Name        string            `json:"name"`
	Instance    string            `json:"instance"`
	Severity    Severity          `json:"severity"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations,omitempty"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      *time.Time        `json:"ends_at,omitempty"`
	Status      AlertStatus       `json:"status"`
	Synthetic   bool              `json:"synthetic,omitempty"` // produced by proactive/anomaly loops
}

// WebhookEnvelope is the Alertmanager-style batch payload posted to /webhook.
type WebhookEnvelope struct {
	Status string         `json:"status"`
	Alerts []WebhookAlert `json:"alerts"`
}

// WebhookAlert is a single alert inside the webhook envelope.
type WebhookAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      *time.Time        `json:"endsAt,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

// Normalize converts a webhook alert into the internal model, applying the
// instance precedence rule: labels.instance, then host:container derived
// from labels, then labels.host.
func (w WebhookAlert) Normalize() (Alert, error) {
	fingerprint := strings.TrimSpace(w.Fingerprint)
	if fingerprint == "" {
		return Alert{}, fmt.Errorf("alert has empty fingerprint")
	}

	labels := make(map[string]string, len(w.Labels))
	for k, v := range w.Labels {
		labels[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	a := Alert{
		Fingerprint: fingerprint,
		Name:        labels[LabelAlertName],
		Instance:    deriveInstance(labels),
		Severity:    parseSeverity(labels[LabelSeverity]),
		Labels:      labels,
		Annotations: w.Annotations,
		StartsAt:    w.StartsAt,
		EndsAt:      w.EndsAt,
		Status:      parseStatus(w.Status),
	}
	if a.Name == "" {
		return Alert{}, fmt.Errorf("alert %s has no alertname label", fingerprint)
	}
	return a, nil
}

func deriveInstance(labels map[string]string) string {
	if v := labels[LabelInstance]; v != "" {
		return v
	}
	host := labels[LabelHost]
	if container := labels[LabelContainer]; container != "" && host != "" {
		return host + ":" + container
	}
	return host
}

func parseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "info":
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

func parseStatus(s string) AlertStatus {
	if strings.EqualFold(strings.TrimSpace(s), "resolved") {
		return StatusResolved
	}
	return StatusFiring
}

// IsResolved reports whether the alert is a resolution notification.
func (a Alert) IsResolved() bool {
	return a.Status == StatusResolved
}

// TargetHost returns the host remediation should run against: the
// remediation_host label wins over the host label, falling back to the
// instance with any port or container suffix stripped.
func (a Alert) TargetHost() string {
	if v := a.Labels[LabelRemediationHost]; v != "" {
		return v
	}
	if v := a.Labels[LabelHost]; v != "" {
		return v
	}
	host := a.Instance
	if i := strings.IndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

// Key identifies the (name, instance) pair used for attempt accounting and
// escalation cooldowns.
func (a Alert) Key() string {
	return a.Name + "|" + a.Instance
}
