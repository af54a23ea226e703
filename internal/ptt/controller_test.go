package ptt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/voicewave/voicewave-core/internal/hotkey"
)

type fakeDriver struct {
	mu       sync.Mutex
	starts   []string
	stops    []string
	startErr error
}

func (d *fakeDriver) StartCapture(_ context.Context, sessionID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.starts = append(d.starts, sessionID)
	return nil
}

func (d *fakeDriver) StopCapture(_ context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, sessionID)
	return nil
}

func (d *fakeDriver) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.starts), len(d.stops)
}

func newTestController(t *testing.T, driver CaptureDriver) *Controller {
	t.Helper()
	toggle, err := hotkey.ParseCombo("Ctrl+Shift+Space")
	if err != nil {
		t.Fatalf("parse toggle: %v", err)
	}
	push, err := hotkey.ParseCombo("Ctrl+Alt+Space")
	if err != nil {
		t.Fatalf("parse push-to-talk: %v", err)
	}
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewController(context.Background(), driver, toggle, push, "microphone", log)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func pushDown() hotkey.KeyEvent {
	return hotkey.KeyEvent{Key: " ", Code: "Space", Ctrl: true, Alt: true}
}

func pushUp() hotkey.KeyEvent {
	return hotkey.KeyEvent{Key: " ", Code: "Space"}
}

func TestPressAndReleaseStartsAndStopsOnce(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)

	c.HandleKeyDown(pushDown())
	if !c.Held() || !c.Recording() {
		t.Fatal("expected latch held and capture recording after key-down")
	}

	c.HandleKeyUp(pushUp())
	if c.Held() || c.Recording() {
		t.Fatal("expected latch released and capture stopped after key-up")
	}

	starts, stops := driver.counts()
	if starts != 1 || stops != 1 {
		t.Fatalf("got %d starts and %d stops, want 1 and 1", starts, stops)
	}
	if driver.starts[0] != driver.stops[0] {
		t.Fatalf("stop used session %q, start used %q", driver.stops[0], driver.starts[0])
	}
}

func TestRepeatKeyDownDoesNotRestart(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)

	c.HandleKeyDown(pushDown())
	repeat := pushDown()
	repeat.Repeat = true
	c.HandleKeyDown(repeat)
	c.HandleKeyDown(pushDown())

	starts, _ := driver.counts()
	if starts != 1 {
		t.Fatalf("got %d starts, want 1", starts)
	}
}

func TestBlurBeforeKeyUpReleasesExactlyOnce(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)

	c.HandleKeyDown(pushDown())
	c.WindowBlur()
	// The key-up still arrives later; it must not stop a second time.
	c.HandleKeyUp(pushUp())
	c.WindowHidden()

	starts, stops := driver.counts()
	if starts != 1 || stops != 1 {
		t.Fatalf("got %d starts and %d stops, want 1 and 1", starts, stops)
	}
}

func TestEditableTargetIgnored(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)

	ev := pushDown()
	ev.Editable = true
	if c.HandleKeyDown(ev) {
		t.Fatal("editable target must not be suppressed")
	}
	if c.Held() || c.Recording() {
		t.Fatal("editable target must not latch")
	}
}

func TestToggleFlipsIndependentOfLatch(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)
	toggleDown := hotkey.KeyEvent{Key: " ", Code: "Space", Ctrl: true, Shift: true}

	c.HandleKeyDown(toggleDown)
	if !c.Recording() || c.Held() {
		t.Fatal("toggle must start recording without latching")
	}
	c.HandleKeyDown(toggleDown)
	if c.Recording() {
		t.Fatal("second toggle must stop recording")
	}

	starts, stops := driver.counts()
	if starts != 1 || stops != 1 {
		t.Fatalf("got %d starts and %d stops, want 1 and 1", starts, stops)
	}
}

func TestStartFailureReleasesLatch(t *testing.T) {
	driver := &fakeDriver{startErr: errors.New("backend unreachable")}
	c := newTestController(t, driver)

	c.HandleKeyDown(pushDown())
	if c.Held() || c.Recording() {
		t.Fatal("start failure must leave the latch released")
	}

	// A later gesture works once the driver recovers.
	driver.mu.Lock()
	driver.startErr = nil
	driver.mu.Unlock()
	c.HandleKeyDown(pushDown())
	if !c.Recording() {
		t.Fatal("expected recovery after driver error cleared")
	}
}

func TestGlobalHotkeyDrivesLatch(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)

	c.PushPressed()
	if !c.Held() || !c.Recording() {
		t.Fatal("global push must latch and start capture")
	}
	c.PushReleased()
	c.PushReleased()
	if c.Held() || c.Recording() {
		t.Fatal("global release must stop capture")
	}

	c.Toggle()
	if !c.Recording() {
		t.Fatal("global toggle must start recording")
	}
	c.Toggle()

	starts, stops := driver.counts()
	if starts != 2 || stops != 2 {
		t.Fatalf("got %d starts and %d stops, want 2 and 2", starts, stops)
	}
}

func TestUpdateCombosSwapsHotkeys(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestController(t, driver)

	newPush, err := hotkey.ParseCombo("Ctrl+Alt+D")
	if err != nil {
		t.Fatalf("parse combo: %v", err)
	}
	newToggle, err := hotkey.ParseCombo("F9")
	if err != nil {
		t.Fatalf("parse combo: %v", err)
	}
	c.UpdateCombos(newToggle, newPush)

	c.HandleKeyDown(pushDown())
	if c.Held() {
		t.Fatal("old combo must no longer latch")
	}
	c.HandleKeyDown(hotkey.KeyEvent{Key: "d", Ctrl: true, Alt: true})
	if !c.Held() {
		t.Fatal("new combo must latch")
	}
}
