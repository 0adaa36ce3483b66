package store

import (
	"database/sql"
	"errors"
	"math"
	"time"
)

// AnomalyRecord is one detected anomaly, persisted for the analytics
// endpoint and the promotion persistence check.
type AnomalyRecord struct {
	ID         int64     `json:"id"`
	Metric     string    `json:"metric"`
	Resource   string    `json:"resource"`
	ZScore     float64   `json:"z_score"`
	Severity   string    `json:"severity"`
	Promoted   bool      `json:"promoted"`
	DetectedAt time.Time `json:"detected_at"`
}

// Baseline holds the running aggregate for one (metric, resource, hour)
// bucket. Mean and standard deviation derive from sum, sum of squares
// and count, so updates are a single upsert.
type Baseline struct {
	Metric    string
	Resource  string
	HourOfDay int
	Count     int64
	Sum       float64
	SumSq     float64
}

// Mean returns the bucket average, or 0 with no samples.
func (b Baseline) Mean() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.Sum / float64(b.Count)
}

// StdDev returns the population standard deviation of the bucket.
func (b Baseline) StdDev() float64 {
	if b.Count < 2 {
		return 0
	}
	mean := b.Mean()
	variance := b.SumSq/float64(b.Count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// RecordAnomaly appends a detection to the history log.
func (s *Store) RecordAnomaly(a AnomalyRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO anomaly_history (metric, resource, z_score, severity, promoted, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Metric, a.Resource, a.ZScore, a.Severity, boolToInt(a.Promoted),
		time.Now().UTC().Unix())
	s.observe(err)
	return err
}

// AnomalyHistory returns detections since the cutoff, newest first.
func (s *Store) AnomalyHistory(since time.Duration, limit int) ([]AnomalyRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	cutoff := time.Now().UTC().Add(-since).Unix()
	rows, err := s.db.Query(`
		SELECT id, metric, resource, z_score, severity, promoted, detected_at
		FROM anomaly_history
		WHERE detected_at >= ?
		ORDER BY detected_at DESC
		LIMIT ?`, cutoff, limit)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AnomalyRecord
	for rows.Next() {
		var (
			r          AnomalyRecord
			promoted   int
			detectedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Metric, &r.Resource, &r.ZScore, &r.Severity,
			&promoted, &detectedAt); err != nil {
			return nil, err
		}
		r.Promoted = promoted == 1
		r.DetectedAt = time.Unix(detectedAt, 0).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// baselineWindowDays bounds how far back samples count toward a baseline.
// Same-hour buckets roll over a trailing week.
const baselineWindowDays = 7

// ObserveSample folds a metric sample into today's row of its hour-of-day
// baseline bucket.
func (s *Store) ObserveSample(metric, resource string, hourOfDay int, value float64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO anomaly_baselines (metric, resource, hour_of_day, day, count, sum, sum_sq, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(metric, resource, hour_of_day, day) DO UPDATE SET
			count = count + 1,
			sum = sum + excluded.sum,
			sum_sq = sum_sq + excluded.sum_sq,
			updated_at = excluded.updated_at`,
		metric, resource, hourOfDay, now.Format("2006-01-02"), value, value*value, now.Unix())
	s.observe(err)
	return err
}

// GetBaseline aggregates the trailing window's rows for a (metric,
// resource, hour) triple. Returns nil when no samples exist in the window.
func (s *Store) GetBaseline(metric, resource string, hourOfDay int) (*Baseline, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -baselineWindowDays).Format("2006-01-02")
	b := Baseline{Metric: metric, Resource: resource, HourOfDay: hourOfDay}
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(count), 0), COALESCE(SUM(sum), 0), COALESCE(SUM(sum_sq), 0)
		FROM anomaly_baselines
		WHERE metric = ? AND resource = ? AND hour_of_day = ? AND day >= ?`,
		metric, resource, hourOfDay, cutoff).Scan(&b.Count, &b.Sum, &b.SumSq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	s.observe(err)
	if err != nil {
		return nil, err
	}
	if b.Count == 0 {
		return nil, nil
	}
	return &b, nil
}

// LogHostStatus appends a host availability transition.
func (s *Store) LogHostStatus(host, status string, failures int, lastError string) error {
	_, err := s.db.Exec(`
		INSERT INTO host_status_log (host, status, failures, last_error, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		host, status, failures, lastError, time.Now().UTC().Unix())
	s.observe(err)
	return err
}
