package dictation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voicewave/voicewave-core/internal/config"
	"github.com/voicewave/voicewave-core/internal/protocol"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestService(t *testing.T, fixture bool) *Service {
	t.Helper()
	cfg := config.DictationConfig{
		FixtureStageMS:   20,
		MicLevelDelta:    0.02,
		MicLevelMinGapMS: 50,
	}
	log := slog.New(slog.NewTextHandler(nullWriter{}, nil))
	return NewService(context.Background(), nil, cfg, "small.en", fixture, log)
}

func TestTranscriptMerge(t *testing.T) {
	s := newTestService(t, false)
	s.BeginSession("s1")

	s.ApplyTranscript(protocol.TranscriptEvent{SessionID: "s1", Text: "hello"})
	s.ApplyTranscript(protocol.TranscriptEvent{SessionID: "s1", Text: "hello wor"})
	snap := s.Snapshot()
	if snap.LastPartial != "hello wor" || snap.LastFinal != "" {
		t.Fatalf("partial merge wrong: %+v", snap)
	}

	s.ApplyTranscript(protocol.TranscriptEvent{SessionID: "s1", Text: "Hello world.", Final: true})
	snap = s.Snapshot()
	if snap.LastFinal != "Hello world." {
		t.Fatalf("final = %q", snap.LastFinal)
	}
	if snap.LastPartial != "" {
		t.Fatal("final transcript must clear the partial buffer")
	}
}

func TestStaleSessionEventsIgnored(t *testing.T) {
	s := newTestService(t, false)
	s.BeginSession("s2")

	s.ApplyTranscript(protocol.TranscriptEvent{SessionID: "s1", Text: "stale", Final: true})
	if s.Snapshot().LastFinal == "stale" {
		t.Fatal("transcript from an older session must be ignored")
	}

	s.ApplyState(protocol.StateEvent{SessionID: "s1", State: string(StateError), Message: "stale"})
	if s.Snapshot().State == StateError {
		t.Fatal("state from an older session must be ignored")
	}
}

func TestMicLevelRateLimiting(t *testing.T) {
	s := newTestService(t, false)

	var mu sync.Mutex
	published := 0
	s.Observe(func(Snapshot) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	// First sample moves by more than the delta and passes.
	s.ApplyMicLevel(protocol.MicLevelEvent{Level: 0.5})
	// Tiny wiggle below the delta inside the min gap is dropped.
	s.ApplyMicLevel(protocol.MicLevelEvent{Level: 0.505})
	s.ApplyMicLevel(protocol.MicLevelEvent{Level: 0.501})
	// A jump at or above the delta always passes.
	s.ApplyMicLevel(protocol.MicLevelEvent{Level: 0.6})

	mu.Lock()
	got := published
	mu.Unlock()
	if got != 2 {
		t.Fatalf("observer ran %d times, want 2", got)
	}

	// After the min gap even a sub-delta wiggle passes.
	time.Sleep(70 * time.Millisecond)
	s.ApplyMicLevel(protocol.MicLevelEvent{Level: 0.601})
	mu.Lock()
	got = published
	mu.Unlock()
	if got != 3 {
		t.Fatalf("observer ran %d times after gap, want 3", got)
	}
}

func TestMicLevelClamped(t *testing.T) {
	s := newTestService(t, false)
	s.ApplyMicLevel(protocol.MicLevelEvent{Level: 7.5})
	if lvl := s.Snapshot().MicLevel; lvl != 1 {
		t.Fatalf("level = %v, want clamped to 1", lvl)
	}
}

func TestPermissionDeniedBecomesError(t *testing.T) {
	s := newTestService(t, false)
	s.ApplyPermission(protocol.PermissionEvent{Microphone: "denied", Insertion: "granted"})

	snap := s.Snapshot()
	if snap.State != StateError || snap.LastError == "" {
		t.Fatalf("snapshot = %+v, want error state", snap)
	}
	if snap.Microphone != "denied" || snap.Insertion != "granted" {
		t.Fatalf("permissions not recorded: %+v", snap)
	}
}

func TestAudioQualityWarningSetAndCleared(t *testing.T) {
	s := newTestService(t, false)

	s.ApplyAudioQuality(protocol.AudioQualityEvent{SNRDecibels: 30, ClippedRatio: 0.2})
	if s.Snapshot().AudioWarning == "" {
		t.Fatal("clipping must raise an audio warning")
	}

	s.ApplyAudioQuality(protocol.AudioQualityEvent{SNRDecibels: 8, ClippedRatio: 0})
	if warn := s.Snapshot().AudioWarning; warn == "" {
		t.Fatal("low SNR must raise an audio warning")
	}

	s.ApplyAudioQuality(protocol.AudioQualityEvent{SNRDecibels: 30, ClippedRatio: 0})
	if warn := s.Snapshot().AudioWarning; warn != "" {
		t.Fatalf("clean report must clear the warning, got %q", warn)
	}
}

func TestLatencyBreakdownRecorded(t *testing.T) {
	s := newTestService(t, false)

	s.ApplyLatency(protocol.LatencyEvent{TotalMS: 1850, ReleaseToFinalMS: 420})
	snap := s.Snapshot()
	if snap.LastLatencyMS != 1850 || snap.ReleaseToFinalMS != 420 {
		t.Fatalf("latency not recorded: %+v", snap)
	}
}

func TestReportErrorMapsTaxonomy(t *testing.T) {
	s := newTestService(t, false)
	s.ReportError(protocol.ErrModelUnavailable)

	snap := s.Snapshot()
	if snap.State != StateError {
		t.Fatalf("state = %s", snap.State)
	}
	if snap.LastError != "No speech model is available. Download a model to dictate." {
		t.Fatalf("message = %q", snap.LastError)
	}
}

func TestFixtureSequenceCompletesAndReturnsIdle(t *testing.T) {
	s := newTestService(t, true)

	s.StartFixture("fx1")
	if s.Snapshot().State != StateListening {
		t.Fatalf("state = %s, want listening", s.Snapshot().State)
	}

	s.FinishFixture("fx1")
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return snap.State == StateIdle && snap.LastFinal == fixtureFinalText
	})
	if s.Snapshot().LastPartial != "" {
		t.Fatal("fixture final must clear the partial")
	}
}

func TestFixtureSequenceCancelledByNewSession(t *testing.T) {
	s := newTestService(t, true)

	s.StartFixture("fx1")
	s.FinishFixture("fx1")
	// A new hold interrupts the staged sequence immediately.
	s.StartFixture("fx2")

	time.Sleep(120 * time.Millisecond)
	snap := s.Snapshot()
	if snap.SessionID != "fx2" || snap.State != StateListening {
		t.Fatalf("stale fixture stages leaked into new session: %+v", snap)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type fakeGate struct {
	resolved string
	err      error
	calls    int
}

func (g *fakeGate) EnsureReady(context.Context, string) (string, error) {
	g.calls++
	return g.resolved, g.err
}

func (g *fakeGate) ActiveModel() string { return g.resolved }

type fakeCapturer struct {
	starts int
	stops  int
}

func (c *fakeCapturer) StartCapture(context.Context, string, string) error {
	c.starts++
	return nil
}

func (c *fakeCapturer) StopCapture(context.Context, string) error {
	c.stops++
	return nil
}

func TestDriverAbortsBeforeCaptureWhenNoModel(t *testing.T) {
	s := newTestService(t, false)
	gate := &fakeGate{err: protocol.ErrModelUnavailable}
	capturer := &fakeCapturer{}
	log := slog.New(slog.NewTextHandler(nullWriter{}, nil))
	d := NewDriver(gate, capturer, s, false, log)

	err := d.StartCapture(context.Background(), "s1", "microphone")
	if !errors.Is(err, protocol.ErrModelUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if capturer.starts != 0 {
		t.Fatal("capture must not be acquired when no model is usable")
	}
	if s.Snapshot().State != StateError {
		t.Fatal("failure must surface in the snapshot")
	}
}

func TestDriverStartsSessionAfterModelResolves(t *testing.T) {
	s := newTestService(t, false)
	gate := &fakeGate{resolved: "base.en"}
	capturer := &fakeCapturer{}
	log := slog.New(slog.NewTextHandler(nullWriter{}, nil))
	d := NewDriver(gate, capturer, s, false, log)

	if err := d.StartCapture(context.Background(), "s1", "microphone"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := s.Snapshot()
	if capturer.starts != 1 || snap.State != StateListening || snap.ActiveModel != "base.en" {
		t.Fatalf("snapshot = %+v, starts = %d", snap, capturer.starts)
	}
}
