package proactive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/metricsapi"
	"github.com/jarvisd/jarvis/internal/models"
)

type fakeQuerier struct {
	instant map[string][]metricsapi.Series
	ranged  map[string][]metricsapi.Series
}

func (f *fakeQuerier) Query(ctx context.Context, query string) ([]metricsapi.Series, error) {
	return f.instant[query], nil
}

func (f *fakeQuerier) QueryRange(ctx context.Context, query string, window, step time.Duration) ([]metricsapi.Series, error) {
	return f.ranged[query], nil
}

type collector struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (c *collector) emit(ctx context.Context, a *models.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, a := range c.alerts {
		names = append(names, a.Name)
	}
	return names
}

// linearSeries produces a series ending at endValue with the given hourly
// slope over the trend window.
func linearSeries(labels map[string]string, endValue, slopePerHour float64) metricsapi.Series {
	s := metricsapi.Series{Labels: labels}
	now := time.Now()
	for i := 0; i < 12; i++ {
		hoursAgo := float64(11 - i) * 0.5
		s.Points = append(s.Points, metricsapi.Point{
			Timestamp: now.Add(-time.Duration(hoursAgo * float64(time.Hour))),
			Value:     endValue - slopePerHour*hoursAgo,
		})
	}
	return s
}

func instantSeries(labels map[string]string, value float64) metricsapi.Series {
	return metricsapi.Series{
		Labels: labels,
		Points: []metricsapi.Point{{Timestamp: time.Now(), Value: value}},
	}
}

func TestDiskExhaustionPrediction(t *testing.T) {
	// 10 GB free, shrinking 1 GB/hour: empty in ~10h, inside the horizon.
	q := &fakeQuerier{ranged: map[string][]metricsapi.Series{
		`node_filesystem_avail_bytes{fstype!~"tmpfs|overlay"}`: {
			linearSeries(map[string]string{"instance": "web1", "mountpoint": "/"},
				10*1024*1024*1024, -1024*1024*1024),
		},
	}}
	sink := &collector{}
	m := NewMonitor(Config{}, q, sink.emit)
	m.Sweep(context.Background())

	names := sink.names()
	if len(names) != 1 || names[0] != "DiskSpaceExhaustionPredicted" {
		t.Fatalf("alerts = %v", names)
	}
	a := sink.alerts[0]
	if !a.Synthetic {
		t.Error("synthetic flag not set")
	}
	if a.Fingerprint == "" {
		t.Error("empty fingerprint")
	}
}

func TestDiskWithSlowDeclineIgnored(t *testing.T) {
	// 500 GB free shrinking 1 GB/hour: exhaustion is weeks out.
	q := &fakeQuerier{ranged: map[string][]metricsapi.Series{
		`node_filesystem_avail_bytes{fstype!~"tmpfs|overlay"}`: {
			linearSeries(map[string]string{"instance": "web1", "mountpoint": "/"},
				500*1024*1024*1024, -1024*1024*1024),
		},
	}}
	sink := &collector{}
	NewMonitor(Config{}, q, sink.emit).Sweep(context.Background())
	if len(sink.names()) != 0 {
		t.Errorf("alerts = %v", sink.names())
	}
}

func TestCertExpirySeverityBands(t *testing.T) {
	q := &fakeQuerier{instant: map[string][]metricsapi.Series{
		`probe_ssl_earliest_cert_expiry - time()`: {
			instantSeries(map[string]string{"instance": "web1:443"}, (20 * 24 * time.Hour).Seconds()),
			instantSeries(map[string]string{"instance": "api:443"}, (3 * 24 * time.Hour).Seconds()),
			instantSeries(map[string]string{"instance": "ok:443"}, (90 * 24 * time.Hour).Seconds()),
		},
	}}
	sink := &collector{}
	NewMonitor(Config{}, q, sink.emit).Sweep(context.Background())

	if len(sink.alerts) != 2 {
		t.Fatalf("alerts = %v", sink.names())
	}
	bySeverity := map[models.Severity]int{}
	for _, a := range sink.alerts {
		bySeverity[a.Severity]++
	}
	if bySeverity[models.SeverityWarning] != 1 || bySeverity[models.SeverityCritical] != 1 {
		t.Errorf("severities = %v", bySeverity)
	}
}

func TestMemoryGrowthAboveThreshold(t *testing.T) {
	q := &fakeQuerier{ranged: map[string][]metricsapi.Series{
		`container_memory_usage_bytes{name!=""}`: {
			linearSeries(map[string]string{"instance": "web1", "name": "leaky"},
				400*1024*1024, 8*1024*1024), // +8 MB/h
			linearSeries(map[string]string{"instance": "web1", "name": "steady"},
				200*1024*1024, 1*1024*1024), // +1 MB/h
		},
	}}
	sink := &collector{}
	NewMonitor(Config{}, q, sink.emit).Sweep(context.Background())

	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %v", sink.names())
	}
	if got := sink.alerts[0].Instance; got != "web1:leaky" {
		t.Errorf("instance = %q", got)
	}
}

func TestRestartLoopAndStaleBackup(t *testing.T) {
	q := &fakeQuerier{instant: map[string][]metricsapi.Series{
		`increase(container_restart_count[1h])`: {
			instantSeries(map[string]string{"instance": "web1", "name": "flappy"}, 7),
			instantSeries(map[string]string{"instance": "web1", "name": "calm"}, 1),
		},
		`time() - backup_last_success_timestamp_seconds`: {
			instantSeries(map[string]string{"instance": "nas", "job": "nightly"}, (48 * time.Hour).Seconds()),
		},
	}}
	sink := &collector{}
	NewMonitor(Config{}, q, sink.emit).Sweep(context.Background())

	got := map[string]bool{}
	for _, n := range sink.names() {
		got[n] = true
	}
	if !got["ContainerRestartLoop"] || !got["BackupStale"] || len(sink.alerts) != 2 {
		t.Errorf("alerts = %v", sink.names())
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	q := &fakeQuerier{instant: map[string][]metricsapi.Series{
		`time() - backup_last_success_timestamp_seconds`: {
			instantSeries(map[string]string{"instance": "nas", "job": "nightly"}, (48 * time.Hour).Seconds()),
		},
	}}
	sink := &collector{}
	m := NewMonitor(Config{Cooldown: 30 * time.Minute}, q, sink.emit)

	base := time.Now()
	m.nowFn = func() time.Time { return base }
	m.Sweep(context.Background())
	m.Sweep(context.Background())
	if len(sink.alerts) != 1 {
		t.Fatalf("cooldown not honored: %d alerts", len(sink.alerts))
	}

	m.nowFn = func() time.Time { return base.Add(31 * time.Minute) }
	m.Sweep(context.Background())
	if len(sink.alerts) != 2 {
		t.Errorf("cooldown never expired: %d alerts", len(sink.alerts))
	}
}
