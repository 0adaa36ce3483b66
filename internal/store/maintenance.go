package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// WildcardHost matches every host in a maintenance window.
const WildcardHost = "all"

// MaintenanceWindow suppresses remediation for a host while active.
type MaintenanceWindow struct {
	ID              int64      `json:"id"`
	Host            string     `json:"host"`
	Reason          string     `json:"reason,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	IsActive        bool       `json:"is_active"`
	SuppressedCount int        `json:"suppressed_count"`
}

// StartMaintenance opens a window for the host (or "all").
func (s *Store) StartMaintenance(host, reason string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO maintenance_windows (host, reason, started_at, is_active)
		VALUES (?, ?, ?, 1)`,
		strings.ToLower(strings.TrimSpace(host)), reason, time.Now().UTC().Unix())
	s.observe(err)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EndMaintenance closes all active windows matching the host. An empty or
// "all" host closes every active window.
func (s *Store) EndMaintenance(host string) (int, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	query := `UPDATE maintenance_windows SET is_active = 0, ended_at = ? WHERE is_active = 1`
	args := []interface{}{time.Now().UTC().Unix()}
	if host != "" && host != WildcardHost {
		query += ` AND host = ?`
		args = append(args, host)
	}
	res, err := s.db.Exec(query, args...)
	s.observe(err)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ActiveWindowFor returns the active window matching the host
// (case-insensitive) or the wildcard, if any.
func (s *Store) ActiveWindowFor(host string) (*MaintenanceWindow, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	row := s.db.QueryRow(`
		SELECT id, host, COALESCE(reason, ''), started_at, ended_at, is_active, suppressed_count
		FROM maintenance_windows
		WHERE is_active = 1 AND (host = ? OR host = ?)
		ORDER BY started_at DESC LIMIT 1`,
		host, WildcardHost)
	w, err := scanWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	s.observe(err)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// IncrementSuppressed bumps the suppression counter on a window.
func (s *Store) IncrementSuppressed(windowID int64) error {
	_, err := s.db.Exec(`
		UPDATE maintenance_windows SET suppressed_count = suppressed_count + 1 WHERE id = ?`,
		windowID)
	s.observe(err)
	return err
}

// MaintenanceStatus lists all active windows.
func (s *Store) MaintenanceStatus() ([]MaintenanceWindow, error) {
	rows, err := s.db.Query(`
		SELECT id, host, COALESCE(reason, ''), started_at, ended_at, is_active, suppressed_count
		FROM maintenance_windows
		WHERE is_active = 1
		ORDER BY started_at DESC`)
	s.observe(err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []MaintenanceWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, *w)
	}
	return windows, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWindow(row rowScanner) (*MaintenanceWindow, error) {
	var (
		w         MaintenanceWindow
		startedAt int64
		endedAt   *int64
		active    int
	)
	if err := row.Scan(&w.ID, &w.Host, &w.Reason, &startedAt, &endedAt, &active, &w.SuppressedCount); err != nil {
		return nil, err
	}
	w.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt != nil {
		t := time.Unix(*endedAt, 0).UTC()
		w.EndedAt = &t
	}
	w.IsActive = active == 1
	return &w, nil
}
