// Package history persists finished dictation sessions in a local
// SQLite database with a configurable retention policy.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// Retention modes. Days-based retention uses Policy.Days.
const (
	RetentionOff     = "off"
	RetentionDays    = "days"
	RetentionForever = "forever"
)

// Policy controls how long records are kept. Off records nothing. A
// positive MaxSessions caps the table size in every keeping mode.
type Policy struct {
	Mode        string
	Days        int
	MaxSessions int
}

// Record is one inserted dictation result.
type Record struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Preview    string    `json:"preview"`
	Method     string    `json:"method,omitempty"`
	Success    bool      `json:"success"`
	Source     string    `json:"source"`
	Message    string    `json:"message,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS session_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	recorded_at INTEGER NOT NULL,
	preview     TEXT NOT NULL,
	method      TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL DEFAULT 1,
	source      TEXT NOT NULL DEFAULT 'dictation',
	message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_session_history_recorded_at
	ON session_history(recorded_at);
`

const previewLimit = 120

// Store wraps the history database.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	policy Policy

	now func() time.Time
}

// Open opens (and creates if needed) the history database at path and
// prunes expired records.
func Open(path string, policy Policy, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	s := &Store{
		db:     db,
		log:    log.With(slog.String("component", "history")),
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if _, err := s.PruneExpired(context.Background()); err != nil {
		s.log.Warn("history prune on open failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Policy returns the active retention policy.
func (s *Store) Policy() Policy {
	return s.policy
}

// SetPolicy switches retention and prunes immediately.
func (s *Store) SetPolicy(ctx context.Context, policy Policy) error {
	s.policy = policy
	if policy.Mode == RetentionOff {
		_, err := s.Clear(ctx)
		return err
	}
	_, err := s.PruneExpired(ctx)
	return err
}

// RecordSession stores one finished dictation. Under the Off policy
// nothing is written.
func (s *Store) RecordSession(ctx context.Context, sessionID, transcript, method string, success bool, message string) error {
	if s.policy.Mode == RetentionOff {
		return nil
	}

	preview := truncatePreview(transcript)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_history (session_id, recorded_at, preview, method, success, source, message)
		 VALUES (?, ?, ?, ?, ?, 'dictation', ?)`,
		sessionID, s.now().UnixMilli(), preview, method, boolToInt(success), message)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}

	if _, err := s.PruneExpired(ctx); err != nil {
		s.log.Warn("history prune failed", slog.String("error", err.Error()))
	}
	return nil
}

// Records returns the newest records first. A zero limit returns all;
// failed sessions are included only when includeFailed is set.
func (s *Store) Records(ctx context.Context, limit int, includeFailed bool) ([]Record, error) {
	query := `SELECT id, session_id, recorded_at, preview, method, success, source, message
		 FROM session_history`
	if !includeFailed {
		query += " WHERE success = 1"
	}
	query += " ORDER BY recorded_at DESC, id DESC"

	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var recordedAt int64
		var success int
		if err := rows.Scan(&r.ID, &r.SessionID, &recordedAt, &r.Preview, &r.Method, &success, &r.Source, &r.Message); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		r.RecordedAt = time.UnixMilli(recordedAt).UTC()
		r.Success = success == 1
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneExpired deletes records older than the retention window, trims
// to the session cap, and returns how many were removed.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	if s.policy.Mode == RetentionOff {
		return s.Clear(ctx)
	}

	var removed int64
	if s.policy.Mode == RetentionDays {
		days := s.policy.Days
		if days <= 0 {
			days = 30
		}
		cutoff := s.now().AddDate(0, 0, -days).UnixMilli()

		res, err := s.db.ExecContext(ctx,
			"DELETE FROM session_history WHERE recorded_at < ?", cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune history: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}

	if s.policy.MaxSessions > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM session_history WHERE id NOT IN (
				SELECT id FROM session_history
				ORDER BY recorded_at DESC, id DESC LIMIT ?)`,
			s.policy.MaxSessions)
		if err != nil {
			return removed, fmt.Errorf("trim history: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}

// Vacuum compacts the database file, reclaiming space freed by prunes.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum history: %w", err)
	}
	return nil
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM session_history")
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of retained records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_history").Scan(&count)
	return count, err
}

// truncatePreview cuts the transcript at the preview limit on a rune
// boundary so the stored preview stays valid UTF-8.
func truncatePreview(transcript string) string {
	if len(transcript) <= previewLimit {
		return transcript
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(transcript[cut]) {
		cut--
	}
	return transcript[:cut]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
