package proactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/store"
)

// Anomaly promotion requires the deviation to persist; single-check spikes
// are observed into the baseline but never alerted on.
const persistenceChecks = 3

// minBaselineSamples gates z-scoring until the hour-of-day bucket has seen
// enough history to mean anything.
const minBaselineSamples = 12

// BaselineStore persists hour-of-day aggregates and the anomaly log. The
// store satisfies this.
type BaselineStore interface {
	ObserveSample(metric, resource string, hourOfDay int, value float64) error
	GetBaseline(metric, resource string, hourOfDay int) (*store.Baseline, error)
	RecordAnomaly(a store.AnomalyRecord) error
}

// watchedMetric is one signal the anomaly loop scores.
type watchedMetric struct {
	name  string
	query string
}

// The watchlist covers host-level saturation signals. Resources come from
// the instance label of each returned series.
var watchlist = []watchedMetric{
	{"cpu_usage_percent", `100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`},
	{"memory_usage_percent", `100 * (1 - node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)`},
	{"load_1m", `node_load1`},
	{"disk_io_util", `rate(node_disk_io_time_seconds_total[5m])`},
}

// AnomalyConfig tunes the anomaly loop.
type AnomalyConfig struct {
	Interval  time.Duration // default 5m
	Cooldown  time.Duration // per-anomaly quiet period, default 30m
	ZWarning  float64       // default 3.0
	ZCritical float64       // default 4.0
}

func (c *AnomalyConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.ZWarning <= 0 {
		c.ZWarning = 3.0
	}
	if c.ZCritical <= c.ZWarning {
		c.ZCritical = c.ZWarning + 1.0
	}
}

// AnomalyDetector scores the watchlist against 7-day hour-of-day baselines
// and promotes persistent deviations into synthetic alerts.
type AnomalyDetector struct {
	config   AnomalyConfig
	metrics  Querier
	baseline BaselineStore
	emit     Emitter

	mu       sync.Mutex
	streaks  map[string]int
	lastSent map[string]time.Time

	nowFn func() time.Time // test hook
}

// NewAnomalyDetector builds the anomaly loop.
func NewAnomalyDetector(config AnomalyConfig, metrics Querier, baseline BaselineStore, emit Emitter) *AnomalyDetector {
	config.applyDefaults()
	return &AnomalyDetector{
		config:   config,
		metrics:  metrics,
		baseline: baseline,
		emit:     emit,
		streaks:  make(map[string]int),
		lastSent: make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

// Run executes the detector on the configured interval until ctx is
// cancelled.
func (d *AnomalyDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep scores every watched metric once.
func (d *AnomalyDetector) Sweep(ctx context.Context) {
	for _, w := range watchlist {
		series, err := d.metrics.Query(ctx, w.query)
		if err != nil {
			log.Warn().Err(err).Str("metric", w.name).Msg("Anomaly query failed")
			continue
		}
		for _, s := range series {
			if len(s.Points) == 0 {
				continue
			}
			resource := s.Labels["instance"]
			if resource == "" {
				continue
			}
			d.score(ctx, w.name, resource, s.Points[0].Value)
		}
	}
}

// score folds the sample into its baseline bucket and promotes the anomaly
// when the deviation persists.
func (d *AnomalyDetector) score(ctx context.Context, metric, resource string, value float64) {
	now := d.nowFn()
	hour := now.UTC().Hour()

	baseline, err := d.baseline.GetBaseline(metric, resource, hour)
	if err != nil {
		log.Warn().Err(err).Str("metric", metric).Msg("Baseline lookup failed")
		return
	}
	// Observe after reading so the sample does not score against itself.
	if err := d.baseline.ObserveSample(metric, resource, hour, value); err != nil {
		log.Warn().Err(err).Str("metric", metric).Msg("Baseline update failed")
	}

	key := metric + "|" + resource
	if baseline == nil || baseline.Count < minBaselineSamples {
		d.resetStreak(key)
		return
	}
	std := baseline.StdDev()
	if std == 0 {
		d.resetStreak(key)
		return
	}

	z := (value - baseline.Mean()) / std
	severity := d.band(z)
	if severity == "" {
		d.resetStreak(key)
		return
	}

	metrics.AnomaliesDetectedTotal.WithLabelValues(string(severity)).Inc()

	d.mu.Lock()
	d.streaks[key]++
	streak := d.streaks[key]
	promoted := false
	if streak >= persistenceChecks {
		if last, ok := d.lastSent[key]; !ok || now.Sub(last) >= d.config.Cooldown {
			d.lastSent[key] = now
			promoted = true
		}
	}
	d.mu.Unlock()

	if err := d.baseline.RecordAnomaly(store.AnomalyRecord{
		Metric:   metric,
		Resource: resource,
		ZScore:   z,
		Severity: string(severity),
		Promoted: promoted,
	}); err != nil {
		log.Warn().Err(err).Str("metric", metric).Msg("Anomaly record failed")
	}

	log.Debug().Str("metric", metric).Str("resource", resource).
		Float64("z", z).Int("streak", streak).Bool("promoted", promoted).
		Msg("Anomaly observed")
	if !promoted {
		return
	}

	metrics.SyntheticAlertsTotal.Inc()
	summary := fmt.Sprintf("%s on %s deviates %.1f standard deviations from its 7-day baseline for this hour",
		metric, resource, z)
	d.emit(ctx, syntheticAlert("MetricAnomaly_"+metric, resource, severity, summary, now))
}

func (d *AnomalyDetector) resetStreak(key string) {
	d.mu.Lock()
	delete(d.streaks, key)
	d.mu.Unlock()
}

// band maps an absolute z-score to a severity, or "" below the info band.
func (d *AnomalyDetector) band(z float64) models.Severity {
	if z < 0 {
		z = -z
	}
	switch {
	case z > d.config.ZCritical:
		return models.SeverityCritical
	case z >= d.config.ZWarning:
		return models.SeverityWarning
	case z >= 2:
		return models.SeverityInfo
	default:
		return ""
	}
}
