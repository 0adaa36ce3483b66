package store

import (
	"database/sql"
	"errors"
	"time"
)

// CheckAndSetFingerprint atomically claims a fingerprint for processing.
// It returns true when this caller won the claim (no row inside the TTL),
// false on a dedup hit. The upsert-with-guard is a single statement so
// concurrent identical alerts race safely: exactly one caller sees a row
// change.
func (s *Store) CheckAndSetFingerprint(fingerprint string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-ttl).Unix()

	res, err := s.db.Exec(`
		INSERT INTO fingerprint_cooldowns (fingerprint, processed_at)
		VALUES (?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET processed_at = excluded.processed_at
		WHERE fingerprint_cooldowns.processed_at < ?`,
		fingerprint, now.Unix(), cutoff)
	s.observe(err)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetEscalation records that a critical escalation was sent for the
// (alert_name, instance) pair.
func (s *Store) SetEscalation(alertName, instance string) error {
	_, err := s.db.Exec(`
		INSERT INTO escalation_cooldowns (alert_name, instance, escalated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(alert_name, instance) DO UPDATE SET escalated_at = excluded.escalated_at`,
		alertName, instance, time.Now().UTC().Unix())
	s.observe(err)
	return err
}

// EscalationActive reports whether an escalation was sent for the pair
// within the TTL.
func (s *Store) EscalationActive(alertName, instance string, ttl time.Duration) (bool, error) {
	var escalatedAt int64
	err := s.db.QueryRow(`
		SELECT escalated_at FROM escalation_cooldowns
		WHERE alert_name = ? AND instance = ?`,
		alertName, instance).Scan(&escalatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	s.observe(err)
	if err != nil {
		return false, err
	}
	return time.Now().UTC().Sub(time.Unix(escalatedAt, 0)) < ttl, nil
}

// ClearEscalation removes the escalation cooldown for the pair. Called when
// a matching alert resolves so the next incident can page again.
func (s *Store) ClearEscalation(alertName, instance string) error {
	_, err := s.db.Exec(`
		DELETE FROM escalation_cooldowns WHERE alert_name = ? AND instance = ?`,
		alertName, instance)
	s.observe(err)
	return err
}
