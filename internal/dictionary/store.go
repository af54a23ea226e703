package dictionary

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Term is an approved dictionary entry used as a terminology hint.
type Term struct {
	ID      int64     `json:"id"`
	Term    string    `json:"term"`
	Source  string    `json:"source"`
	AddedAt time.Time `json:"added_at"`
}

// QueueItem is a candidate awaiting user review.
type QueueItem struct {
	ID       int64     `json:"id"`
	Term     string    `json:"term"`
	Context  string    `json:"context,omitempty"`
	QueuedAt time.Time `json:"queued_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS dictionary_terms (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	term     TEXT NOT NULL UNIQUE COLLATE NOCASE,
	source   TEXT NOT NULL DEFAULT 'manual',
	added_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dictionary_queue (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	term      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	context   TEXT NOT NULL DEFAULT '',
	queued_at INTEGER NOT NULL
);
`

// Store wraps the dictionary database.
type Store struct {
	db         *sql.DB
	queueLimit int

	now func() time.Time
}

// Open opens (and creates if needed) the dictionary database at path.
// queueLimit caps the pending queue; older items are dropped first.
func Open(path string, queueLimit int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dictionary schema: %w", err)
	}
	if queueLimit <= 0 {
		queueLimit = 50
	}
	return &Store{
		db:         db,
		queueLimit: queueLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Terms lists approved terms, optionally filtered by a substring match.
func (s *Store) Terms(ctx context.Context, query string) ([]Term, error) {
	sqlQuery := "SELECT id, term, source, added_at FROM dictionary_terms"
	args := []any{}
	if query != "" {
		sqlQuery += " WHERE term LIKE ? COLLATE NOCASE"
		args = append(args, "%"+query+"%")
	}
	sqlQuery += " ORDER BY term COLLATE NOCASE"

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer rows.Close()

	var terms []Term
	for rows.Next() {
		var t Term
		var addedAt int64
		if err := rows.Scan(&t.ID, &t.Term, &t.Source, &addedAt); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		t.AddedAt = time.UnixMilli(addedAt).UTC()
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// AddTerm inserts an approved term. Duplicate terms (case-insensitive)
// are ignored.
func (s *Store) AddTerm(ctx context.Context, term, source string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO dictionary_terms (term, source, added_at) VALUES (?, ?, ?)",
		term, source, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add term: %w", err)
	}
	return nil
}

// RemoveTerm deletes an approved term by id.
func (s *Store) RemoveTerm(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM dictionary_terms WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove term: %w", err)
	}
	return nil
}

// Queue lists pending candidates, oldest first. A zero limit returns all.
func (s *Store) Queue(ctx context.Context, limit int) ([]QueueItem, error) {
	query := "SELECT id, term, context, queued_at FROM dictionary_queue ORDER BY queued_at, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		var queuedAt int64
		if err := rows.Scan(&item.ID, &item.Term, &item.Context, &queuedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.QueuedAt = time.UnixMilli(queuedAt).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// Enqueue adds a candidate to the review queue unless it already exists
// as a term or queue entry, then trims the queue to its limit.
func (s *Store) Enqueue(ctx context.Context, term, contextText string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dictionary_terms WHERE term = ? COLLATE NOCASE", term).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check term: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO dictionary_queue (term, context, queued_at) VALUES (?, ?, ?)",
		term, contextText, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("enqueue candidate: %w", err)
	}
	added, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM dictionary_queue WHERE id NOT IN (
			SELECT id FROM dictionary_queue ORDER BY queued_at DESC, id DESC LIMIT ?)`,
		s.queueLimit)
	if err != nil {
		return false, fmt.Errorf("trim queue: %w", err)
	}
	return added > 0, nil
}

// Approve moves a queue entry into the approved terms.
func (s *Store) Approve(ctx context.Context, id int64) error {
	var term string
	err := s.db.QueryRowContext(ctx,
		"SELECT term FROM dictionary_queue WHERE id = ?", id).Scan(&term)
	if err == sql.ErrNoRows {
		return fmt.Errorf("queue entry %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("lookup queue entry: %w", err)
	}

	if err := s.AddTerm(ctx, term, "queue"); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM dictionary_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("dequeue approved entry: %w", err)
	}
	return nil
}

// Reject drops a queue entry.
func (s *Store) Reject(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM dictionary_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("reject queue entry: %w", err)
	}
	return nil
}
