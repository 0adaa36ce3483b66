// Package store provides SQLite-backed persistence for the remediation
// control plane: attempts, patterns, cooldowns, maintenance windows,
// self-preservation handoffs, and anomaly baselines.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Config holds configuration for the store.
type Config struct {
	DBPath              string
	FingerprintCooldown time.Duration // prune horizon for fingerprint rows
	EscalationCooldown  time.Duration // prune horizon for escalation rows
	PruneInterval       time.Duration
}

// DefaultConfig returns sensible defaults for the given data directory.
func DefaultConfig(dataDir string) Config {
	return Config{
		DBPath:              filepath.Join(dataDir, "jarvis.db"),
		FingerprintCooldown: 5 * time.Minute,
		EscalationCooldown:  4 * time.Hour,
		PruneInterval:       10 * time.Minute,
	}
}

// Store wraps the SQLite database. SQLite works best with a single writer,
// so the connection pool is capped at one connection.
type Store struct {
	db     *sql.DB
	config Config

	available atomic.Bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Open opens (creating if needed) the database and initializes the schema.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.DBPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if config.PruneInterval <= 0 {
		config.PruneInterval = 10 * time.Minute
	}

	s := &Store{
		db:     db,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.available.Store(true)

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go s.pruneLoop()

	log.Info().Str("path", config.DBPath).Msg("Store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint TEXT NOT NULL,
			alert_name TEXT NOT NULL,
			instance TEXT NOT NULL,
			attempt_index INTEGER NOT NULL,
			analysis TEXT,
			commands_json TEXT,
			actionable INTEGER NOT NULL DEFAULT 0,
			success INTEGER,
			verified TEXT,
			escalated INTEGER NOT NULL DEFAULT 0,
			risk_tier TEXT NOT NULL DEFAULT 'low',
			error TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			duration_ms INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_key
			ON attempts(alert_name, instance, started_at);

		CREATE TABLE IF NOT EXISTS patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			symptom_fingerprint TEXT NOT NULL,
			target_host TEXT,
			solution_commands TEXT NOT NULL,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0.5,
			risk_tier TEXT NOT NULL DEFAULT 'low',
			source TEXT NOT NULL DEFAULT 'reasoned',
			cached_diagnostics TEXT,
			cached_reasoning TEXT,
			created_at INTEGER NOT NULL,
			last_used_at INTEGER,
			UNIQUE(alert_name, symptom_fingerprint)
		);

		CREATE TABLE IF NOT EXISTS failure_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint TEXT NOT NULL,
			alert_name TEXT NOT NULL,
			commands TEXT NOT NULL,
			reason TEXT,
			fail_count INTEGER NOT NULL DEFAULT 1,
			last_failed_at INTEGER NOT NULL,
			UNIQUE(fingerprint, commands)
		);

		CREATE TABLE IF NOT EXISTS fingerprint_cooldowns (
			fingerprint TEXT PRIMARY KEY,
			processed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS escalation_cooldowns (
			alert_name TEXT NOT NULL,
			instance TEXT NOT NULL,
			escalated_at INTEGER NOT NULL,
			PRIMARY KEY(alert_name, instance)
		);

		CREATE TABLE IF NOT EXISTS host_status_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL,
			status TEXT NOT NULL,
			failures INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			recorded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS maintenance_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL,
			reason TEXT,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1,
			suppressed_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS handoffs (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			reason TEXT,
			context_json TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			callback_url TEXT,
			orchestrator_execution_id TEXT,
			restart_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		-- At most one handoff may be pending or in progress at any time.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_handoffs_single_active
			ON handoffs((1)) WHERE status IN ('pending', 'in_progress');

		CREATE TABLE IF NOT EXISTS anomaly_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			resource TEXT NOT NULL,
			z_score REAL NOT NULL,
			severity TEXT NOT NULL,
			promoted INTEGER NOT NULL DEFAULT 0,
			detected_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_anomaly_history_time
			ON anomaly_history(detected_at);

		-- Per-day rows: the baseline is the aggregate of the trailing
		-- window, old days age out instead of accumulating forever.
		CREATE TABLE IF NOT EXISTS anomaly_baselines (
			metric TEXT NOT NULL,
			resource TEXT NOT NULL,
			hour_of_day INTEGER NOT NULL,
			day TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			sum REAL NOT NULL DEFAULT 0,
			sum_sq REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(metric, resource, hour_of_day, day)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close stops background work and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return s.db.Close()
}

// Ping verifies the database is reachable and updates the availability flag.
func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	s.available.Store(err == nil)
	return err
}

// Available reports whether the last database interaction succeeded.
// Intake uses this to route alerts to the degraded-mode queue.
func (s *Store) Available() bool {
	return s.available.Load()
}

// observe updates the availability flag from an operation's error.
func (s *Store) observe(err error) {
	if err != nil {
		if s.available.Swap(false) {
			log.Error().Err(err).Msg("Persistence unavailable, entering degraded mode")
		}
		return
	}
	if !s.available.Swap(true) {
		log.Info().Msg("Persistence recovered")
	}
}

// DB exposes the underlying handle for the learning store, which owns the
// pattern tables exclusively.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) pruneLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Store) prune() {
	now := time.Now().UTC()
	if s.config.FingerprintCooldown > 0 {
		cutoff := now.Add(-s.config.FingerprintCooldown).Unix()
		if _, err := s.db.Exec(`DELETE FROM fingerprint_cooldowns WHERE processed_at < ?`, cutoff); err != nil {
			log.Warn().Err(err).Msg("Failed to prune fingerprint cooldowns")
		}
	}
	if s.config.EscalationCooldown > 0 {
		cutoff := now.Add(-s.config.EscalationCooldown).Unix()
		if _, err := s.db.Exec(`DELETE FROM escalation_cooldowns WHERE escalated_at < ?`, cutoff); err != nil {
			log.Warn().Err(err).Msg("Failed to prune escalation cooldowns")
		}
	}
	// Anomaly history older than 30 days has no consumer.
	cutoff := now.AddDate(0, 0, -30).Unix()
	if _, err := s.db.Exec(`DELETE FROM anomaly_history WHERE detected_at < ?`, cutoff); err != nil {
		log.Warn().Err(err).Msg("Failed to prune anomaly history")
	}
	// Baseline rows outside the rolling window no longer contribute.
	dayCutoff := now.AddDate(0, 0, -baselineWindowDays).Format("2006-01-02")
	if _, err := s.db.Exec(`DELETE FROM anomaly_baselines WHERE day < ?`, dayCutoff); err != nil {
		log.Warn().Err(err).Msg("Failed to prune anomaly baselines")
	}
}
