package history

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T, policy Policy) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(sink{}, nil))
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), policy, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuery(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionDays, Days: 30})
	ctx := context.Background()

	if err := s.RecordSession(ctx, "s1", "first note", "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSession(ctx, "s2", "second note", "clipboard", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSession(ctx, "s3", "broken", "typed", false, "insertion failed"); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := s.Records(ctx, 0, false)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d successful records, want 2", len(records))
	}

	all, err := s.Records(ctx, 0, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	if all[0].SessionID != "s3" {
		t.Fatalf("newest first expected, got %q", all[0].SessionID)
	}
}

func TestPreviewTruncated(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionForever})
	ctx := context.Background()

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	if err := s.RecordSession(ctx, "s1", string(long), "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := s.Records(ctx, 1, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records[0].Preview) != previewLimit {
		t.Fatalf("preview length = %d, want %d", len(records[0].Preview), previewLimit)
	}
}

func TestPreviewTruncatedOnRuneBoundary(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionForever})
	ctx := context.Background()

	// One ASCII byte shifts the limit into the middle of a 3-byte rune.
	long := "a" + strings.Repeat("日", 100)
	if err := s.RecordSession(ctx, "s1", long, "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := s.Records(ctx, 1, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	preview := records[0].Preview
	if len(preview) > previewLimit {
		t.Fatalf("preview length = %d, want <= %d", len(preview), previewLimit)
	}
	if !utf8.ValidString(preview) {
		t.Fatalf("preview is not valid UTF-8: %q", preview)
	}
}

func TestPruneCapsSessionCount(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionForever, MaxSessions: 3})
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		if err := s.RecordSession(ctx, fmt.Sprintf("s%d", i), "note", "typed", true, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	records, err := s.Records(ctx, 0, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].SessionID != "s4" || records[2].SessionID != "s2" {
		t.Fatalf("cap kept wrong records: %v", records)
	}
}

func TestVacuumRuns(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionForever})
	ctx := context.Background()

	if err := s.RecordSession(ctx, "s1", "note", "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Vacuum(ctx); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
}

func TestRetentionOffRecordsNothing(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionOff})
	ctx := context.Background()

	if err := s.RecordSession(ctx, "s1", "should vanish", "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestPruneExpiredByAge(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionDays, Days: 7})
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base.AddDate(0, 0, -10) }
	if err := s.RecordSession(ctx, "old", "ten days old", "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	s.now = func() time.Time { return base }
	if err := s.RecordSession(ctx, "new", "fresh", "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := s.Records(ctx, 0, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "new" {
		t.Fatalf("prune kept wrong records: %v", records)
	}
}

func TestSetPolicyOffClears(t *testing.T) {
	s := openTestStore(t, Policy{Mode: RetentionForever})
	ctx := context.Background()

	if err := s.RecordSession(ctx, "s1", "note", "typed", true, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.SetPolicy(ctx, Policy{Mode: RetentionOff}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d after retention off, want 0", count)
	}
}
