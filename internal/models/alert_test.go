package models

import (
	"testing"
	"time"
)

func TestNormalizeInstancePrecedence(t *testing.T) {
	base := WebhookAlert{
		Status:      "firing",
		Fingerprint: "abc123",
		StartsAt:    time.Now(),
	}

	t.Run("instance label wins", func(t *testing.T) {
		w := base
		w.Labels = map[string]string{
			"alertname": "ContainerDown",
			"instance":  "nexus:9100",
			"host":      "nexus",
			"container": "omada",
		}
		a, err := w.Normalize()
		if err != nil {
			t.Fatal(err)
		}
		if a.Instance != "nexus:9100" {
			t.Errorf("Instance = %q, want nexus:9100", a.Instance)
		}
	})

	t.Run("host:container derived", func(t *testing.T) {
		w := base
		w.Labels = map[string]string{
			"alertname": "ContainerDown",
			"host":      "nexus",
			"container": "omada",
		}
		a, err := w.Normalize()
		if err != nil {
			t.Fatal(err)
		}
		if a.Instance != "nexus:omada" {
			t.Errorf("Instance = %q, want nexus:omada", a.Instance)
		}
	})

	t.Run("host fallback", func(t *testing.T) {
		w := base
		w.Labels = map[string]string{
			"alertname": "HostHighLoad",
			"host":      "outpost",
		}
		a, err := w.Normalize()
		if err != nil {
			t.Fatal(err)
		}
		if a.Instance != "outpost" {
			t.Errorf("Instance = %q, want outpost", a.Instance)
		}
	})
}

func TestNormalizeRejectsEmptyFingerprint(t *testing.T) {
	w := WebhookAlert{
		Status:      "firing",
		Fingerprint: "   ",
		Labels:      map[string]string{"alertname": "X"},
	}
	if _, err := w.Normalize(); err == nil {
		t.Fatal("expected error for empty fingerprint")
	}
}

func TestNormalizeRejectsMissingAlertname(t *testing.T) {
	w := WebhookAlert{
		Status:      "firing",
		Fingerprint: "abc",
		Labels:      map[string]string{"host": "nexus"},
	}
	if _, err := w.Normalize(); err == nil {
		t.Fatal("expected error for missing alertname")
	}
}

func TestParseSeverityDefaultsToWarning(t *testing.T) {
	if parseSeverity("") != SeverityWarning {
		t.Error("empty severity should default to warning")
	}
	if parseSeverity("CRITICAL") != SeverityCritical {
		t.Error("severity parsing should be case-insensitive")
	}
}

func TestTargetHostPrecedence(t *testing.T) {
	a := Alert{
		Instance: "nexus:9100",
		Labels: map[string]string{
			"host":             "nexus",
			"remediation_host": "outpost",
		},
	}
	if got := a.TargetHost(); got != "outpost" {
		t.Errorf("TargetHost = %q, want remediation_host override", got)
	}

	a.Labels = map[string]string{"host": "nexus"}
	if got := a.TargetHost(); got != "nexus" {
		t.Errorf("TargetHost = %q, want nexus", got)
	}

	a.Labels = map[string]string{}
	if got := a.TargetHost(); got != "nexus" {
		t.Errorf("TargetHost = %q, want instance with port stripped", got)
	}
}

func TestStatusParsing(t *testing.T) {
	w := WebhookAlert{
		Status:      "resolved",
		Fingerprint: "abc",
		Labels:      map[string]string{"alertname": "X"},
	}
	a, err := w.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsResolved() {
		t.Error("expected resolved alert")
	}
}
