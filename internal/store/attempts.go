package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
)

// VerificationOutcome is the verifier's verdict recorded on an attempt.
type VerificationOutcome string

const (
	VerifiedSuccess    VerificationOutcome = "verified"
	VerifiedFailure    VerificationOutcome = "failed"
	VerifiedUnverified VerificationOutcome = "unverified"
	VerifiedSkipped    VerificationOutcome = "skipped"
)

// Attempt is one append-only remediation attempt record. It is created
// when the attempt starts and finalized exactly once.
type Attempt struct {
	ID           int64                  `json:"id"`
	Fingerprint  string                 `json:"fingerprint"`
	AlertName    string                 `json:"alert_name"`
	Instance     string                 `json:"instance"`
	AttemptIndex int                    `json:"attempt_index"`
	Analysis     string                 `json:"analysis,omitempty"`
	Commands     []models.CommandResult `json:"commands,omitempty"`
	Actionable   bool                   `json:"actionable"`
	Success      *bool                  `json:"success,omitempty"`
	Verified     VerificationOutcome    `json:"verified,omitempty"`
	Escalated    bool                   `json:"escalated"`
	RiskTier     models.RiskTier        `json:"risk_tier"`
	Error        string                 `json:"error,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
	Duration     time.Duration          `json:"duration_ms"`
}

// BeginAttempt inserts a new attempt row and returns its id.
func (s *Store) BeginAttempt(fingerprint, alertName, instance string, index int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO attempts (fingerprint, alert_name, instance, attempt_index, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		fingerprint, alertName, instance, index, time.Now().UTC().Unix())
	s.observe(err)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinalizeAttempt writes the terminal state of an attempt. Rows are never
// mutated after finalization.
func (s *Store) FinalizeAttempt(id int64, a Attempt) error {
	commandsJSON, err := json.Marshal(a.Commands)
	if err != nil {
		commandsJSON = []byte("[]")
	}
	var success *int
	if a.Success != nil {
		v := 0
		if *a.Success {
			v = 1
		}
		success = &v
	}
	now := time.Now().UTC()
	duration := a.Duration
	if duration <= 0 && !a.StartedAt.IsZero() {
		duration = now.Sub(a.StartedAt)
	}
	_, err = s.db.Exec(`
		UPDATE attempts
		SET analysis = ?, commands_json = ?, actionable = ?, success = ?,
			verified = ?, escalated = ?, risk_tier = ?, error = ?,
			finished_at = ?, duration_ms = ?
		WHERE id = ? AND finished_at IS NULL`,
		a.Analysis, string(commandsJSON), boolToInt(a.Actionable), success,
		string(a.Verified), boolToInt(a.Escalated), string(a.RiskTier), a.Error,
		now.Unix(), duration.Milliseconds(), id)
	s.observe(err)
	return err
}

// CountActionableAttempts counts attempts for the (name, instance) pair
// inside the window that executed at least one actionable command.
// Escalation-only and diagnostic-only records do not count.
func (s *Store) CountActionableAttempts(alertName, instance string, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window).Unix()
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM attempts
		WHERE alert_name = ? AND instance = ? AND actionable = 1 AND started_at >= ?`,
		alertName, instance, cutoff).Scan(&n)
	s.observe(err)
	return n, err
}

// RecentAttempts returns finalized attempts, newest first.
func (s *Store) RecentAttempts(limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, fingerprint, alert_name, instance, attempt_index,
			COALESCE(analysis, ''), COALESCE(commands_json, '[]'), actionable,
			success, COALESCE(verified, ''), escalated, risk_tier,
			COALESCE(error, ''), started_at, finished_at, COALESCE(duration_ms, 0)
		FROM attempts
		WHERE finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a            Attempt
			commandsJSON string
			actionable   int
			success      *int
			escalated    int
			verified     string
			riskTier     string
			startedAt    int64
			finishedAt   *int64
			durationMS   int64
		)
		if err := rows.Scan(&a.ID, &a.Fingerprint, &a.AlertName, &a.Instance,
			&a.AttemptIndex, &a.Analysis, &commandsJSON, &actionable, &success,
			&verified, &escalated, &riskTier, &a.Error, &startedAt, &finishedAt,
			&durationMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(commandsJSON), &a.Commands); err != nil {
			a.Commands = nil
		}
		a.Actionable = actionable == 1
		a.Escalated = escalated == 1
		a.Verified = VerificationOutcome(verified)
		a.RiskTier = models.RiskTier(riskTier)
		if success != nil {
			b := *success == 1
			a.Success = &b
		}
		a.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt != nil {
			t := time.Unix(*finishedAt, 0).UTC()
			a.FinishedAt = &t
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// AttemptStats summarizes attempt outcomes for the analytics endpoint.
type AttemptStats struct {
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Verified   int     `json:"verified"`
	Escalated  int     `json:"escalated"`
	SuccessPct float64 `json:"success_pct"`
}

// Stats aggregates finalized attempts.
func (s *Store) Stats() (AttemptStats, error) {
	var st AttemptStats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verified = 'verified' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(escalated), 0)
		FROM attempts WHERE finished_at IS NOT NULL`).
		Scan(&st.Total, &st.Succeeded, &st.Verified, &st.Escalated)
	s.observe(err)
	if err != nil {
		return st, err
	}
	if st.Total > 0 {
		st.SuccessPct = float64(st.Succeeded) / float64(st.Total) * 100
	}
	return st, nil
}

// RecoverCrashedAttempts finalizes attempts left open by a previous process
// (crash or forced restart) as failed.
func (s *Store) RecoverCrashedAttempts() (int, error) {
	res, err := s.db.Exec(`
		UPDATE attempts
		SET success = 0, error = 'process terminated before attempt completed',
			finished_at = ?, duration_ms = 0
		WHERE finished_at IS NULL`,
		time.Now().UTC().Unix())
	s.observe(err)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
