package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Track outcomes recorded per session.
const (
	OutcomeDownloaded = "downloaded"
	OutcomeFailed     = "failed"
	OutcomeDeleted    = "deleted"
)

// Session is one recorded sync run.
type Session struct {
	ID           string     `json:"id"`
	PlaylistID   string     `json:"playlist_id"`
	PlaylistName string     `json:"playlist_name"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Downloaded   int        `json:"downloaded"`
	Failed       int        `json:"failed"`
	Deleted      int        `json:"deleted"`
	Cancelled    bool       `json:"cancelled"`
	TotalBytes   int64      `json:"total_bytes"`
}

// TrackResult is one track outcome within a session.
type TrackResult struct {
	SessionID   string `json:"session_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageHash string `json:"storage_hash,omitempty"`
}

// History records sync sessions and their per-track outcomes.
type History struct {
	db *sql.DB
}

// NewHistory wraps an initialized database.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

// StartSession records the beginning of a sync run and returns its id.
func (h *History) StartSession(playlistID, playlistName string) (string, error) {
	id := uuid.New().String()
	_, err := h.db.Exec(
		"INSERT INTO sync_sessions (id, playlist_id, playlist_name) VALUES (?, ?, ?)",
		id, playlistID, playlistName,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// FinishSession stamps the session with its final counters.
func (h *History) FinishSession(id string, downloaded, failed, deleted int, cancelled bool, totalBytes int64) error {
	_, err := h.db.Exec(`
		UPDATE sync_sessions
		SET finished_at = CURRENT_TIMESTAMP,
		    downloaded = ?, failed = ?, deleted = ?, cancelled = ?, total_bytes = ?
		WHERE id = ?`,
		downloaded, failed, deleted, boolToInt(cancelled), totalBytes, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// RecordTrack adds one track outcome to a session.
func (h *History) RecordTrack(r TrackResult) error {
	_, err := h.db.Exec(`
		INSERT INTO sync_track_results (session_id, title, artist, outcome, detail, size_bytes, storage_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Title, r.Artist, r.Outcome, r.Detail, r.SizeBytes, r.StorageHash,
	)
	if err != nil {
		return fmt.Errorf("failed to record track result: %w", err)
	}
	return nil
}

// RecentSessions returns the latest sessions, newest first.
func (h *History) RecentSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Query(`
		SELECT id, playlist_id, COALESCE(playlist_name, ''), started_at, finished_at,
		       downloaded, failed, deleted, cancelled, total_bytes
		FROM sync_sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var finished sql.NullTime
		var cancelled int
		if err := rows.Scan(&s.ID, &s.PlaylistID, &s.PlaylistName, &s.StartedAt, &finished,
			&s.Downloaded, &s.Failed, &s.Deleted, &cancelled, &s.TotalBytes); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			s.FinishedAt = &t
		}
		s.Cancelled = cancelled != 0
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionResults returns the track outcomes of one session in insertion order.
func (h *History) SessionResults(sessionID string) ([]TrackResult, error) {
	rows, err := h.db.Query(`
		SELECT session_id, title, COALESCE(artist, ''), outcome, COALESCE(detail, ''),
		       size_bytes, COALESCE(storage_hash, '')
		FROM sync_track_results
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track results: %w", err)
	}
	defer rows.Close()

	var results []TrackResult
	for rows.Next() {
		var r TrackResult
		if err := rows.Scan(&r.SessionID, &r.Title, &r.Artist, &r.Outcome, &r.Detail,
			&r.SizeBytes, &r.StorageHash); err != nil {
			return nil, fmt.Errorf("failed to scan track result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TotalsByOutcome aggregates track outcomes across all sessions.
func (h *History) TotalsByOutcome() (map[string]int, error) {
	rows, err := h.db.Query(
		"SELECT outcome, COUNT(*) FROM sync_track_results GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome total: %w", err)
		}
		totals[outcome] = count
	}
	return totals, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
