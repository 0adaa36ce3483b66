package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// HandoffStatus is the lifecycle state of a self-preservation handoff.
type HandoffStatus string

const (
	HandoffPending    HandoffStatus = "pending"
	HandoffInProgress HandoffStatus = "in_progress"
	HandoffCompleted  HandoffStatus = "completed"
	HandoffFailed     HandoffStatus = "failed"
	HandoffTimeout    HandoffStatus = "timeout"
	HandoffCancelled  HandoffStatus = "cancelled"
)

// RestartTarget is what the orchestrator is asked to restart.
type RestartTarget string

const (
	TargetSelf         RestartTarget = "self"
	TargetDatabase     RestartTarget = "database"
	TargetDockerDaemon RestartTarget = "docker-daemon"
	TargetHost         RestartTarget = "host"
)

// ErrHandoffActive is returned when a handoff is already pending or in
// progress. The unique partial index is the authoritative guard; this error
// is the mapped result.
var ErrHandoffActive = errors.New("another restart handoff is already active")

// Handoff is the persisted record of a pending restart.
type Handoff struct {
	ID                      string        `json:"id"`
	Target                  RestartTarget `json:"target"`
	Reason                  string        `json:"reason"`
	ContextJSON             string        `json:"context_json,omitempty"`
	Status                  HandoffStatus `json:"status"`
	CallbackURL             string        `json:"callback_url,omitempty"`
	OrchestratorExecutionID string        `json:"orchestrator_execution_id,omitempty"`
	RestartCount            int           `json:"restart_count"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// CreateHandoff inserts a pending handoff inside an immediate transaction.
// BEGIN IMMEDIATE takes the database write lock up front (the advisory
// lock), and the unique partial index on active statuses rejects a second
// concurrent handoff.
func (s *Store) CreateHandoff(h Handoff) error {
	tx, err := s.db.Begin()
	s.observe(err)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	_, err = tx.Exec(`
		INSERT INTO handoffs (id, target, reason, context_json, status, callback_url, restart_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)`,
		h.ID, string(h.Target), h.Reason, h.ContextJSON, h.CallbackURL, h.RestartCount, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrHandoffActive
		}
		s.observe(err)
		return err
	}
	return tx.Commit()
}

// ActiveHandoff returns the pending or in-progress handoff, if any.
func (s *Store) ActiveHandoff() (*Handoff, error) {
	row := s.db.QueryRow(`
		SELECT id, target, COALESCE(reason, ''), COALESCE(context_json, ''), status,
			COALESCE(callback_url, ''), COALESCE(orchestrator_execution_id, ''),
			restart_count, created_at, updated_at
		FROM handoffs
		WHERE status IN ('pending', 'in_progress')`)
	h, err := scanHandoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	s.observe(err)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetHandoff looks up a handoff by id.
func (s *Store) GetHandoff(id string) (*Handoff, error) {
	row := s.db.QueryRow(`
		SELECT id, target, COALESCE(reason, ''), COALESCE(context_json, ''), status,
			COALESCE(callback_url, ''), COALESCE(orchestrator_execution_id, ''),
			restart_count, created_at, updated_at
		FROM handoffs WHERE id = ?`, id)
	h, err := scanHandoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	s.observe(err)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// UpdateHandoffStatus transitions a handoff to a new status.
func (s *Store) UpdateHandoffStatus(id string, status HandoffStatus) error {
	res, err := s.db.Exec(`
		UPDATE handoffs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), id)
	s.observe(err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("handoff %s not found", id)
	}
	return nil
}

// SetHandoffExecutionID records the orchestrator's execution id.
func (s *Store) SetHandoffExecutionID(id, executionID string) error {
	_, err := s.db.Exec(`
		UPDATE handoffs SET orchestrator_execution_id = ?, updated_at = ? WHERE id = ?`,
		executionID, time.Now().UTC().Unix(), id)
	s.observe(err)
	return err
}

// ExpireStaleHandoffs marks active handoffs older than the horizon as
// timed out, in batches. Returns the number expired.
func (s *Store) ExpireStaleHandoffs(olderThan time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan).Unix()
	total := 0
	for {
		res, err := s.db.Exec(`
			UPDATE handoffs SET status = 'timeout', updated_at = ?
			WHERE id IN (
				SELECT id FROM handoffs
				WHERE status IN ('pending', 'in_progress') AND created_at < ?
				LIMIT ?
			)`,
			time.Now().UTC().Unix(), cutoff, batch)
		s.observe(err)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if int(n) < batch {
			return total, nil
		}
	}
}

func scanHandoff(row rowScanner) (*Handoff, error) {
	var (
		h         Handoff
		target    string
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&h.ID, &target, &h.Reason, &h.ContextJSON, &status,
		&h.CallbackURL, &h.OrchestratorExecutionID, &h.RestartCount,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	h.Target = RestartTarget(target)
	h.Status = HandoffStatus(status)
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	h.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &h, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
