package dictionary

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager layers an in-memory queue snapshot over the store so UI
// reads never block on the database. Refreshes run asynchronously;
// each carries a generation stamp and stale results are discarded.
type Manager struct {
	store *Store
	log   *slog.Logger

	generation atomic.Uint64

	mu      sync.Mutex
	queue   []QueueItem
	applied uint64
}

func NewManager(store *Store, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log.With(slog.String("component", "dictionary")),
	}
}

// Terms lists approved terms, optionally filtered.
func (m *Manager) Terms(ctx context.Context, query string) ([]Term, error) {
	return m.store.Terms(ctx, query)
}

// AddTerm approves a term directly and refreshes the queue snapshot,
// since approval may invalidate pending candidates for the same term.
func (m *Manager) AddTerm(ctx context.Context, term string) error {
	if err := m.store.AddTerm(ctx, term, "manual"); err != nil {
		return err
	}
	m.RefreshQueue(ctx)
	return nil
}

// RemoveTerm deletes an approved term by id.
func (m *Manager) RemoveTerm(ctx context.Context, id int64) error {
	return m.store.RemoveTerm(ctx, id)
}

// PendingQueue returns the cached queue snapshot. It may lag the store
// until the next refresh completes.
func (m *Manager) PendingQueue() []QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueItem, len(m.queue))
	copy(out, m.queue)
	return out
}

// Approve promotes a queue entry to an approved term.
func (m *Manager) Approve(ctx context.Context, id int64) error {
	if err := m.store.Approve(ctx, id); err != nil {
		return err
	}
	m.RefreshQueue(ctx)
	return nil
}

// Reject drops a queue entry.
func (m *Manager) Reject(ctx context.Context, id int64) error {
	if err := m.store.Reject(ctx, id); err != nil {
		return err
	}
	m.RefreshQueue(ctx)
	return nil
}

// IngestTranscript extracts candidates from a finished transcript and
// enqueues the new ones. High-confidence transcripts are ignored.
func (m *Manager) IngestTranscript(ctx context.Context, transcript string, lowConfidence bool) (int, error) {
	candidates := CandidateTerms(transcript, lowConfidence)
	if len(candidates) == 0 {
		return 0, nil
	}

	added := 0
	for _, term := range candidates {
		ok, err := m.store.Enqueue(ctx, term, transcript)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		m.log.Debug("dictionary candidates queued", slog.Int("count", added))
		m.RefreshQueue(ctx)
	}
	return added, nil
}

// StartPolling refreshes the queue snapshot on a fixed interval so
// entries written by other processes sharing the database appear
// without a UI action. Stops when ctx is cancelled.
func (m *Manager) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RefreshQueue(ctx)
			}
		}
	}()
}

// RefreshQueue reloads the queue snapshot in the background. Concurrent
// refreshes may finish out of order; only the newest generation is
// allowed to replace the snapshot.
func (m *Manager) RefreshQueue(ctx context.Context) {
	generation := m.generation.Add(1)
	go func() {
		items, err := m.store.Queue(ctx, 0)
		if err != nil {
			m.log.Warn("dictionary queue refresh failed", slog.String("error", err.Error()))
			return
		}
		m.applyQueue(generation, items)
	}()
}

// RefreshQueueSync reloads the snapshot before returning.
func (m *Manager) RefreshQueueSync(ctx context.Context) error {
	generation := m.generation.Add(1)
	items, err := m.store.Queue(ctx, 0)
	if err != nil {
		return err
	}
	m.applyQueue(generation, items)
	return nil
}

func (m *Manager) applyQueue(generation uint64, items []QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation <= m.applied {
		m.log.Debug("stale dictionary queue refresh discarded",
			slog.Uint64("generation", generation))
		return
	}
	m.applied = generation
	m.queue = items
}
