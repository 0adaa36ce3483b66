// Package learning persists remediation patterns and serves tier decisions
// to the planner. It is the exclusive owner of the patterns and
// failure_patterns tables.
package learning

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/models"
)

// PatternSource distinguishes learned patterns from shipped seeds.
type PatternSource string

const (
	SourceReasoned PatternSource = "reasoned"
	SourceSeeded   PatternSource = "seeded"
)

// Pattern is a learned or seeded remediation.
type Pattern struct {
	ID                 int64           `json:"id"`
	AlertName          string          `json:"alert_name"`
	Category           string          `json:"category,omitempty"`
	SymptomFingerprint string          `json:"symptom_fingerprint"`
	TargetHost         string          `json:"target_host,omitempty"`
	SolutionCommands   []string        `json:"solution_commands"`
	SuccessCount       int             `json:"success_count"`
	FailureCount       int             `json:"failure_count"`
	Confidence         float64         `json:"confidence"`
	RiskTier           models.RiskTier `json:"risk_tier"`
	Source             PatternSource   `json:"source"`
	CachedDiagnostics  string          `json:"cached_diagnostics,omitempty"`
	CachedReasoning    string          `json:"cached_reasoning,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	LastUsedAt         *time.Time      `json:"last_used_at,omitempty"`
}

// FailurePattern records a command sequence that failed for a fingerprint.
type FailurePattern struct {
	ID           int64     `json:"id"`
	Fingerprint  string    `json:"fingerprint"`
	AlertName    string    `json:"alert_name"`
	Commands     []string  `json:"commands"`
	Reason       string    `json:"reason,omitempty"`
	FailCount    int       `json:"fail_count"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// Store serves pattern lookups and outcome recording.
type Store struct {
	db *sql.DB
}

// New wraps the shared database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Confidence computes the confidence score from counts and recency.
// Base rate is the success fraction (0.5 with no history), plus a recency
// bonus when the pattern was used within the last 7 days, minus a penalty
// once it has failed more than twice. Clamped to [0.3, 0.95] so no pattern
// is ever fully trusted or fully written off.
func Confidence(successCount, failureCount int, lastUsedAt *time.Time) float64 {
	base := 0.5
	if total := successCount + failureCount; total > 0 {
		base = float64(successCount) / float64(total)
	}
	if lastUsedAt != nil && time.Since(*lastUsedAt) < 7*24*time.Hour {
		base += 0.10
	}
	if failureCount > 2 {
		base -= 0.05
	}
	if base < 0.3 {
		return 0.3
	}
	if base > 0.95 {
		return 0.95
	}
	return base
}

// Upsert inserts a pattern or merges metadata into the existing row for the
// same (alert_name, symptom_fingerprint). Counts are preserved on conflict;
// only solution and cached metadata are refreshed.
func (s *Store) Upsert(p Pattern) (int64, error) {
	commandsJSON, err := json.Marshal(p.SolutionCommands)
	if err != nil {
		// Persist the minimal metadata rather than dropping the pattern.
		log.Error().Err(err).Str("alert", p.AlertName).Msg("Failed to serialize pattern commands")
		commandsJSON = []byte("[]")
	}
	if p.RiskTier == "" {
		p.RiskTier = models.RiskLow
	}
	if p.Source == "" {
		p.Source = SourceReasoned
	}
	now := time.Now().UTC().Unix()
	_, err = s.db.Exec(`
		INSERT INTO patterns (alert_name, category, symptom_fingerprint, target_host,
			solution_commands, success_count, failure_count, confidence, risk_tier,
			source, cached_diagnostics, cached_reasoning, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(alert_name, symptom_fingerprint) DO UPDATE SET
			category = excluded.category,
			target_host = excluded.target_host,
			solution_commands = excluded.solution_commands,
			risk_tier = excluded.risk_tier,
			cached_diagnostics = excluded.cached_diagnostics,
			cached_reasoning = excluded.cached_reasoning`,
		p.AlertName, p.Category, p.SymptomFingerprint, nullable(p.TargetHost),
		string(commandsJSON), p.SuccessCount, p.FailureCount,
		Confidence(p.SuccessCount, p.FailureCount, nil), string(p.RiskTier),
		string(p.Source), p.CachedDiagnostics, p.CachedReasoning, now)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(`
		SELECT id FROM patterns WHERE alert_name = ? AND symptom_fingerprint = ?`,
		p.AlertName, p.SymptomFingerprint).Scan(&id)
	return id, err
}

// RecordSuccess increments a pattern's success count, updates recency, and
// returns the recomputed confidence.
func (s *Store) RecordSuccess(patternID int64, duration time.Duration) (float64, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(`
		UPDATE patterns SET success_count = success_count + 1, last_used_at = ?
		WHERE id = ?`, now.Unix(), patternID); err != nil {
		return 0, err
	}
	conf, err := s.recomputeConfidence(patternID)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("pattern_id", patternID).Float64("confidence", conf).
		Dur("duration", duration).Msg("Pattern success recorded")
	return conf, nil
}

// RecordFailure writes a failure pattern for the alert and demotes any
// matching stored pattern.
func (s *Store) RecordFailure(alert *models.Alert, commands []string, reason string) error {
	commandsJSON, err := json.Marshal(commands)
	if err != nil {
		commandsJSON = []byte("[]")
	}
	fingerprint := SymptomFingerprint(alert)
	now := time.Now().UTC().Unix()
	if _, err := s.db.Exec(`
		INSERT INTO failure_patterns (fingerprint, alert_name, commands, reason, fail_count, last_failed_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(fingerprint, commands) DO UPDATE SET
			fail_count = fail_count + 1,
			reason = excluded.reason,
			last_failed_at = excluded.last_failed_at`,
		fingerprint, alert.Name, string(commandsJSON), reason, now); err != nil {
		return err
	}

	var patternID int64
	err = s.db.QueryRow(`
		SELECT id FROM patterns WHERE alert_name = ? AND symptom_fingerprint = ?`,
		alert.Name, fingerprint).Scan(&patternID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`
		UPDATE patterns SET failure_count = failure_count + 1 WHERE id = ?`,
		patternID); err != nil {
		return err
	}
	if _, err := s.recomputeConfidence(patternID); err != nil {
		return err
	}
	log.Warn().Int64("pattern_id", patternID).Str("alert", alert.Name).
		Str("reason", reason).Msg("Pattern demoted after verified failure")
	return nil
}

func (s *Store) recomputeConfidence(patternID int64) (float64, error) {
	var (
		successCount int
		failureCount int
		lastUsed     *int64
	)
	if err := s.db.QueryRow(`
		SELECT success_count, failure_count, last_used_at FROM patterns WHERE id = ?`,
		patternID).Scan(&successCount, &failureCount, &lastUsed); err != nil {
		return 0, err
	}
	var lastUsedAt *time.Time
	if lastUsed != nil {
		t := time.Unix(*lastUsed, 0).UTC()
		lastUsedAt = &t
	}
	conf := Confidence(successCount, failureCount, lastUsedAt)
	_, err := s.db.Exec(`UPDATE patterns SET confidence = ? WHERE id = ?`, conf, patternID)
	return conf, err
}

// FailuresFor returns failure patterns recorded for the alert's fingerprint.
func (s *Store) FailuresFor(alert *models.Alert) ([]FailurePattern, error) {
	rows, err := s.db.Query(`
		SELECT id, fingerprint, alert_name, commands, COALESCE(reason, ''), fail_count, last_failed_at
		FROM failure_patterns
		WHERE fingerprint = ?
		ORDER BY last_failed_at DESC`,
		SymptomFingerprint(alert))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []FailurePattern
	for rows.Next() {
		var (
			f            FailurePattern
			commandsJSON string
			lastFailedAt int64
		)
		if err := rows.Scan(&f.ID, &f.Fingerprint, &f.AlertName, &commandsJSON,
			&f.Reason, &f.FailCount, &lastFailedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(commandsJSON), &f.Commands); err != nil {
			f.Commands = nil
		}
		f.LastFailedAt = time.Unix(lastFailedAt, 0).UTC()
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

const patternColumns = `id, alert_name, COALESCE(category, ''), symptom_fingerprint,
	COALESCE(target_host, ''), solution_commands, success_count,
	failure_count, confidence, risk_tier, source,
	COALESCE(cached_diagnostics, ''), COALESCE(cached_reasoning, ''),
	created_at, last_used_at`

// All lists stored patterns ordered by confidence, for the introspection
// endpoint.
func (s *Store) All(limit int) ([]Pattern, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT `+patternColumns+` FROM patterns
		ORDER BY confidence DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// patternsByName loads all patterns for an alert name.
func (s *Store) patternsByName(alertName string) ([]Pattern, error) {
	rows, err := s.db.Query(`
		SELECT `+patternColumns+` FROM patterns
		WHERE alert_name = ?`, alertName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func scanPatterns(rows *sql.Rows) ([]Pattern, error) {
	var patterns []Pattern
	for rows.Next() {
		var (
			p            Pattern
			commandsJSON string
			riskTier     string
			source       string
			createdAt    int64
			lastUsedAt   *int64
		)
		if err := rows.Scan(&p.ID, &p.AlertName, &p.Category, &p.SymptomFingerprint,
			&p.TargetHost, &commandsJSON, &p.SuccessCount, &p.FailureCount,
			&p.Confidence, &riskTier, &source, &p.CachedDiagnostics,
			&p.CachedReasoning, &createdAt, &lastUsedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(commandsJSON), &p.SolutionCommands); err != nil {
			p.SolutionCommands = nil
		}
		p.RiskTier = models.RiskTier(riskTier)
		p.Source = PatternSource(source)
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		if lastUsedAt != nil {
			t := time.Unix(*lastUsedAt, 0).UTC()
			p.LastUsedAt = &t
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func nullable(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
