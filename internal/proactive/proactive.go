// Package proactive runs the periodic prediction and anomaly loops. Both
// synthesize alerts that re-enter the normal intake pipeline, so a
// predicted disk exhaustion is remediated the same way a firing alert is.
package proactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metricsapi"
	"github.com/jarvisd/jarvis/internal/models"
)

// Prediction thresholds. A trend that crosses one produces a synthetic
// alert.
const (
	diskExhaustionHorizon = 24 * time.Hour
	certExpiryHorizon     = 30 * 24 * time.Hour
	memGrowthPerHour      = 5 * 1024 * 1024 // bytes
	restartsPerHour       = 3.0
	backupStaleAfter      = 36 * time.Hour

	trendWindow = 6 * time.Hour
)

// Querier is the slice of the metrics client the loops need.
type Querier interface {
	Query(ctx context.Context, query string) ([]metricsapi.Series, error)
	QueryRange(ctx context.Context, query string, window, step time.Duration) ([]metricsapi.Series, error)
}

// Emitter feeds a synthetic alert into the intake pipeline.
type Emitter func(ctx context.Context, alert *models.Alert)

// Config tunes the prediction loop.
type Config struct {
	Interval time.Duration // default 5m
	Cooldown time.Duration // per-finding quiet period, default 30m
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
}

// Monitor runs the trend predictions.
type Monitor struct {
	config  Config
	metrics Querier
	emit    Emitter

	mu       sync.Mutex
	lastSent map[string]time.Time

	nowFn func() time.Time // test hook
}

// NewMonitor builds the prediction loop.
func NewMonitor(config Config, metrics Querier, emit Emitter) *Monitor {
	config.applyDefaults()
	return &Monitor{
		config:   config,
		metrics:  metrics,
		emit:     emit,
		lastSent: make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

// Run executes the checks on the configured interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs every prediction check once. Failures of individual checks
// are logged and do not stop the others.
func (m *Monitor) Sweep(ctx context.Context) {
	checks := []struct {
		name string
		fn   func(context.Context) []finding
	}{
		{"disk_exhaustion", m.checkDiskExhaustion},
		{"cert_expiry", m.checkCertExpiry},
		{"memory_growth", m.checkMemoryGrowth},
		{"restart_loops", m.checkRestartLoops},
		{"stale_backups", m.checkStaleBackups},
	}
	for _, check := range checks {
		for _, f := range check.fn(ctx) {
			m.promote(ctx, f)
		}
	}
}

// finding is one prediction worth surfacing.
type finding struct {
	alertName string
	resource  string
	severity  models.Severity
	summary   string
}

func (f finding) key() string { return f.alertName + "|" + f.resource }

func (m *Monitor) promote(ctx context.Context, f finding) {
	now := m.nowFn()
	m.mu.Lock()
	if last, ok := m.lastSent[f.key()]; ok && now.Sub(last) < m.config.Cooldown {
		m.mu.Unlock()
		return
	}
	m.lastSent[f.key()] = now
	m.mu.Unlock()

	log.Info().Str("alert", f.alertName).Str("resource", f.resource).
		Str("summary", f.summary).Msg("Proactive prediction")
	m.emit(ctx, syntheticAlert(f.alertName, f.resource, f.severity, f.summary, now))
}

func (m *Monitor) checkDiskExhaustion(ctx context.Context) []finding {
	series, err := m.metrics.QueryRange(ctx,
		`node_filesystem_avail_bytes{fstype!~"tmpfs|overlay"}`, trendWindow, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Disk exhaustion check failed")
		return nil
	}
	var out []finding
	for _, s := range series {
		trend, err := metricsapi.FitTrend(s.Points)
		if err != nil || trend.SlopePerHour >= 0 {
			continue
		}
		eta, ok := trend.TimeToValue(0)
		if !ok || eta > diskExhaustionHorizon {
			continue
		}
		resource := s.Labels["instance"] + s.Labels["mountpoint"]
		out = append(out, finding{
			alertName: "DiskSpaceExhaustionPredicted",
			resource:  resource,
			severity:  models.SeverityWarning,
			summary: fmt.Sprintf("%s on %s runs out of space in %s at the current rate",
				s.Labels["mountpoint"], s.Labels["instance"], eta.Round(time.Minute)),
		})
	}
	return out
}

func (m *Monitor) checkCertExpiry(ctx context.Context) []finding {
	series, err := m.metrics.Query(ctx, `probe_ssl_earliest_cert_expiry - time()`)
	if err != nil {
		log.Warn().Err(err).Msg("Certificate expiry check failed")
		return nil
	}
	var out []finding
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		remaining := time.Duration(s.Points[0].Value) * time.Second
		if remaining >= certExpiryHorizon {
			continue
		}
		severity := models.SeverityWarning
		if remaining < 7*24*time.Hour {
			severity = models.SeverityCritical
		}
		out = append(out, finding{
			alertName: "CertificateExpiringSoon",
			resource:  s.Labels["instance"],
			severity:  severity,
			summary: fmt.Sprintf("certificate for %s expires in %d days",
				s.Labels["instance"], int(remaining.Hours()/24)),
		})
	}
	return out
}

func (m *Monitor) checkMemoryGrowth(ctx context.Context) []finding {
	series, err := m.metrics.QueryRange(ctx,
		`container_memory_usage_bytes{name!=""}`, trendWindow, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Memory growth check failed")
		return nil
	}
	var out []finding
	for _, s := range series {
		trend, err := metricsapi.FitTrend(s.Points)
		if err != nil || trend.SlopePerHour <= memGrowthPerHour {
			continue
		}
		container := s.Labels["name"]
		out = append(out, finding{
			alertName: "ContainerMemoryGrowth",
			resource:  s.Labels["instance"] + ":" + container,
			severity:  models.SeverityWarning,
			summary: fmt.Sprintf("container %s grows %.1f MB/h, likely a leak",
				container, trend.SlopePerHour/(1024*1024)),
		})
	}
	return out
}

func (m *Monitor) checkRestartLoops(ctx context.Context) []finding {
	series, err := m.metrics.Query(ctx, `increase(container_restart_count[1h])`)
	if err != nil {
		log.Warn().Err(err).Msg("Restart loop check failed")
		return nil
	}
	var out []finding
	for _, s := range series {
		if len(s.Points) == 0 || s.Points[0].Value <= restartsPerHour {
			continue
		}
		container := s.Labels["name"]
		out = append(out, finding{
			alertName: "ContainerRestartLoop",
			resource:  s.Labels["instance"] + ":" + container,
			severity:  models.SeverityCritical,
			summary: fmt.Sprintf("container %s restarted %.0f times in the last hour",
				container, s.Points[0].Value),
		})
	}
	return out
}

func (m *Monitor) checkStaleBackups(ctx context.Context) []finding {
	series, err := m.metrics.Query(ctx, `time() - backup_last_success_timestamp_seconds`)
	if err != nil {
		log.Warn().Err(err).Msg("Stale backup check failed")
		return nil
	}
	var out []finding
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		age := time.Duration(s.Points[0].Value) * time.Second
		if age <= backupStaleAfter {
			continue
		}
		job := s.Labels["job"]
		out = append(out, finding{
			alertName: "BackupStale",
			resource:  job + "|" + s.Labels["instance"],
			severity:  models.SeverityWarning,
			summary: fmt.Sprintf("backup job %s has not succeeded for %.0f hours",
				job, age.Hours()),
		})
	}
	return out
}

// syntheticAlert builds an alert that re-enters the intake pipeline. The
// fingerprint is stable per (name, resource) so the dedup gate applies.
func syntheticAlert(name, resource string, severity models.Severity, summary string, now time.Time) *models.Alert {
	return &models.Alert{
		Fingerprint: "synthetic:" + name + ":" + resource,
		Name:        name,
		Instance:    resource,
		Severity:    severity,
		Labels: map[string]string{
			models.LabelAlertName: name,
			models.LabelInstance:  resource,
			models.LabelSeverity:  string(severity),
		},
		Annotations: map[string]string{"summary": summary},
		StartsAt:    now,
		Status:      models.StatusFiring,
		Synthetic:   true,
	}
}
