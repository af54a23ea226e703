package backend

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voicewave/voicewave-core/internal/protocol"
)

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

type published struct {
	subject string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) publish(subject string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, published{subject: subject, payload: payload})
	r.mu.Unlock()
}

func (r *recorder) bySubject(subject string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, ev := range r.events {
		if ev.subject == subject {
			out = append(out, ev)
		}
	}
	return out
}

func newTestFixture(t *testing.T) (*FixtureCommander, *recorder) {
	t.Helper()
	rec := &recorder{}
	log := slog.New(slog.NewTextHandler(sink{}, nil))
	return NewFixtureCommander(0, rec.publish, log), rec
}

func TestFixtureInstallStreamsProgressThenInstalls(t *testing.T) {
	c, rec := newTestFixture(t)

	reply, err := c.InstallModel(context.Background(), "base.en")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if reply.State != protocol.ModelStateInstalled || reply.Progress != 100 {
		t.Fatalf("reply = %+v", reply)
	}

	events := rec.bySubject(protocol.SubjectModelProgress)
	if len(events) != 4 {
		t.Fatalf("got %d progress events, want 4", len(events))
	}
	last := events[len(events)-1].payload.(protocol.ModelEvent)
	if last.State != protocol.ModelStateInstalled {
		t.Fatalf("final event state = %s", last.State)
	}
	for _, ev := range events[:3] {
		if ev.payload.(protocol.ModelEvent).State != protocol.ModelStateDownloading {
			t.Fatalf("expected downloading events before install, got %+v", ev.payload)
		}
	}
}

func TestFixtureInstallCancelledByContext(t *testing.T) {
	rec := &recorder{}
	log := slog.New(slog.NewTextHandler(sink{}, nil))
	c := NewFixtureCommander(300*time.Millisecond, rec.publish, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.InstallModel(ctx, "base.en"); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestFixtureBenchmarkPublishesRankedRows(t *testing.T) {
	c, rec := newTestFixture(t)

	err := c.RunBenchmark(context.Background(), protocol.BenchmarkRequest{
		ModelIDs:     []string{"tiny.en", "medium.en"},
		RunsPerModel: 2,
	})
	if err != nil {
		t.Fatalf("benchmark: %v", err)
	}

	results := rec.bySubject(protocol.SubjectBenchmarkResult)
	if len(results) != 1 {
		t.Fatalf("got %d result events, want 1", len(results))
	}
	result := results[0].payload.(protocol.BenchmarkResultEvent)
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %+v", result.Rows)
	}
	if result.Rows[0].P95LatencyMS >= result.Rows[1].P95LatencyMS {
		t.Fatal("tiny must benchmark faster than medium")
	}
}

func TestFixtureMicPermissionGrants(t *testing.T) {
	c, rec := newTestFixture(t)

	if err := c.RequestMicPermission(context.Background()); err != nil {
		t.Fatalf("request: %v", err)
	}
	events := rec.bySubject(protocol.SubjectPermissionChanged)
	if len(events) != 1 {
		t.Fatalf("got %d permission events, want 1", len(events))
	}
	if ev := events[0].payload.(protocol.PermissionEvent); ev.Microphone != "granted" {
		t.Fatalf("microphone = %q", ev.Microphone)
	}
}
