// Package correlator suppresses cascading symptom alerts while their root
// cause is being handled, so one dead VPN link does not spawn a dozen
// remediation attempts.
package correlator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
)

// MetricsProber checks live state when deciding whether an alert is a
// dependent symptom. The metrics API client satisfies this.
type MetricsProber interface {
	AlertFiring(ctx context.Context, alertName, instance string) (bool, error)
}

// active is one alert currently being remediated.
type active struct {
	alert     *models.Alert
	startedAt time.Time
}

// Correlator tracks which alerts are in flight per host and classifies
// newcomers as root causes or dependents.
type Correlator struct {
	mu     sync.Mutex
	byHost map[string][]*active
	prober MetricsProber
	maxAge time.Duration
}

// New builds a correlator. prober may be nil; classification then falls
// back to the static hint table alone.
func New(prober MetricsProber) *Correlator {
	return &Correlator{
		byHost: make(map[string][]*active),
		prober: prober,
		maxAge: 30 * time.Minute,
	}
}

// BeginHandling registers an alert as in flight on its target host.
func (c *Correlator) BeginHandling(alert *models.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	host := strings.ToLower(alert.TargetHost())
	c.byHost[host] = append(c.byHost[host], &active{alert: alert, startedAt: time.Now()})
}

// EndHandling releases the alert and with it the suppression of its
// dependents.
func (c *Correlator) EndHandling(alert *models.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	host := strings.ToLower(alert.TargetHost())
	entries := c.byHost[host]
	for i, e := range entries {
		if e.alert.Fingerprint == alert.Fingerprint {
			c.byHost[host] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(c.byHost[host]) == 0 {
		delete(c.byHost, host)
	}
}

// SuppressedBy reports the root-cause alert this alert should defer to, or
// nil when it should be handled itself. An alert defers when another alert
// on the same host is in flight and this one is classified as its
// dependent.
func (c *Correlator) SuppressedBy(ctx context.Context, alert *models.Alert) *models.Alert {
	c.mu.Lock()
	host := strings.ToLower(alert.TargetHost())
	c.expireLocked(host)
	entries := append([]*active(nil), c.byHost[host]...)
	c.mu.Unlock()

	for _, e := range entries {
		if e.alert.Fingerprint == alert.Fingerprint {
			continue
		}
		if c.isDependent(ctx, e.alert, alert) {
			metrics.SuppressionsTotal.WithLabelValues("cascade").Inc()
			log.Info().Str("alert", alert.Name).Str("rootCause", e.alert.Name).
				Str("host", host).Msg("Cascade suppression")
			return e.alert
		}
	}
	return nil
}

// expireLocked drops in-flight entries that were never released, so a
// crashed attempt cannot suppress a host forever.
func (c *Correlator) expireLocked(host string) {
	entries := c.byHost[host]
	kept := entries[:0]
	for _, e := range entries {
		if time.Since(e.startedAt) < c.maxAge {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.byHost, host)
		return
	}
	c.byHost[host] = kept
}

// isDependent decides whether candidate is a downstream symptom of root.
// It prefers live evidence: if the root alert is still firing on the same
// host, anything network- or service-shaped that depends on it is a
// symptom. The static hint table is consulted last and its use counted.
func (c *Correlator) isDependent(ctx context.Context, root, candidate *models.Alert) bool {
	// Same incident, different alert: a host-down root cause subsumes
	// everything else on that host.
	if isHostScoped(root) {
		return true
	}

	if c.prober != nil {
		firing, err := c.prober.AlertFiring(ctx, root.Name, root.Instance)
		if err == nil && firing && sharesDependency(root, candidate) {
			return true
		}
	}

	return staticDependent(root.Name, candidate.Name)
}

// isHostScoped reports whether the alert indicates the whole host is
// impaired rather than one service on it.
func isHostScoped(alert *models.Alert) bool {
	name := strings.ToLower(alert.Name)
	for _, marker := range []string{"hostdown", "nodedown", "instancedown", "unreachable", "vpndown", "networkdown"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// sharesDependency reports whether two alerts plausibly sit on the same
// dependency chain: same system label, or the candidate names the root's
// service/container in its own labels.
func sharesDependency(root, candidate *models.Alert) bool {
	if s := root.Labels[models.LabelSystem]; s != "" && s == candidate.Labels[models.LabelSystem] {
		return true
	}
	rootSvc := root.Labels[models.LabelService]
	if rootSvc == "" {
		rootSvc = root.Labels[models.LabelContainer]
	}
	if rootSvc == "" {
		return false
	}
	for _, v := range candidate.Labels {
		if strings.EqualFold(v, rootSvc) {
			return true
		}
	}
	return false
}

// staticDependencies maps root-cause alert names to dependents that are
// pure symptoms of them. Kept deliberately small; every lookup increments
// a deprecation counter so reliance on it is visible.
var staticDependencies = map[string][]string{
	"WireGuardVPNDown": {"N8NDown", "HADown", "RemoteBackupFailed"},
	"DockerDaemonDown": {"ContainerDown", "ContainerHighMemory", "ContainerCrashLoop"},
	"NFSMountStale":    {"MediaServerDown", "BackupFailed"},
}

func staticDependent(rootName, candidateName string) bool {
	metrics.StaticHintLookupsTotal.WithLabelValues("dependency_hints").Inc()
	for _, dep := range staticDependencies[rootName] {
		if dep == candidateName {
			return true
		}
	}
	return false
}

// ActiveCount reports how many alerts are currently being handled, for the
// health endpoint.
func (c *Correlator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entries := range c.byHost {
		n += len(entries)
	}
	return n
}
