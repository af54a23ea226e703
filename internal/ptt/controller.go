// Package ptt holds the push-to-talk latch state machine. The latch has
// two states, Released and Held; capture stops on key-up, window blur or
// document-hidden, whichever arrives first.
package ptt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/voicewave/voicewave-core/internal/hotkey"
)

// CaptureDriver starts and stops capture for a dictation session. The
// backend commander implements it; the fixture driver implements it when
// no backend is reachable.
type CaptureDriver interface {
	StartCapture(ctx context.Context, sessionID, mode string) error
	StopCapture(ctx context.Context, sessionID string) error
}

// Controller latches push-to-talk gestures and flips the toggle hotkey.
// A physical key-up can be lost when the window loses focus mid-gesture,
// so blur and visibility-hidden release the latch as well; the stop side
// effect fires exactly once per hold.
type Controller struct {
	log    *slog.Logger
	driver CaptureDriver
	ctx    context.Context
	mode   string

	mu         sync.Mutex
	pushToTalk hotkey.Combo
	toggle     hotkey.Combo
	held       bool
	recording  bool
	sessionID  string
}

func NewController(parent context.Context, driver CaptureDriver, toggle, pushToTalk hotkey.Combo, mode string, log *slog.Logger) *Controller {
	return &Controller{
		log:        log.With(slog.String("component", "ptt-controller")),
		driver:     driver,
		ctx:        parent,
		mode:       mode,
		pushToTalk: pushToTalk,
		toggle:     toggle,
	}
}

// UpdateCombos swaps the configured hotkeys. A held latch keeps releasing
// against the combo that started it because release only inspects latch
// state, never the combo that is being replaced.
func (c *Controller) UpdateCombos(toggle, pushToTalk hotkey.Combo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toggle = toggle
	c.pushToTalk = pushToTalk
}

// Held reports whether a push-to-talk gesture is currently latched.
func (c *Controller) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// Recording reports whether a capture session is active.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// HandleKeyDown feeds a key-down event into the machine and returns
// whether the UI shell should suppress the host default action.
func (c *Controller) HandleKeyDown(ev hotkey.KeyEvent) bool {
	c.mu.Lock()
	toggle, push := c.toggle, c.pushToTalk
	c.mu.Unlock()

	if !ev.Repeat && !ev.Editable {
		if toggle.Matches(ev) {
			c.flipToggle()
		} else if push.Matches(ev) {
			c.press()
		}
	}
	return hotkey.ShouldSuppress(ev, toggle, push)
}

// HandleKeyUp feeds a key-up event into the machine and returns the
// suppression decision for it.
func (c *Controller) HandleKeyUp(ev hotkey.KeyEvent) bool {
	c.mu.Lock()
	push := c.pushToTalk
	toggle := c.toggle
	held := c.held
	c.mu.Unlock()

	if held && push.ReleasedBy(ev) {
		c.release()
	}
	return hotkey.ShouldSuppress(ev, toggle, push)
}

// Toggle flips recording as if the toggle hotkey fired, for global
// shortcuts reported by the backend while the shell has no focus.
func (c *Controller) Toggle() {
	c.flipToggle()
}

// PushPressed latches a push-to-talk hold reported out of band.
func (c *Controller) PushPressed() {
	c.press()
}

// PushReleased releases an out-of-band hold. Idempotent like the other
// release paths.
func (c *Controller) PushReleased() {
	c.release()
}

// WindowBlur releases the latch; alt-tabbing away swallows the key-up.
func (c *Controller) WindowBlur() {
	c.release()
}

// WindowHidden releases the latch when the document becomes hidden.
func (c *Controller) WindowHidden() {
	c.release()
}

func (c *Controller) press() {
	c.mu.Lock()
	if c.held {
		c.mu.Unlock()
		return
	}
	c.held = true
	start := !c.recording
	c.mu.Unlock()

	if start {
		c.startCapture()
	}
}

func (c *Controller) release() {
	c.mu.Lock()
	if !c.held {
		c.mu.Unlock()
		return
	}
	c.held = false
	stop := c.recording
	c.mu.Unlock()

	if stop {
		c.stopCapture()
	}
}

func (c *Controller) flipToggle() {
	c.mu.Lock()
	recording := c.recording
	c.mu.Unlock()

	if recording {
		c.stopCapture()
	} else {
		c.startCapture()
	}
}

func (c *Controller) startCapture() {
	sessionID := uuid.NewString()

	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = true
	c.sessionID = sessionID
	c.mu.Unlock()

	if err := c.driver.StartCapture(c.ctx, sessionID, c.mode); err != nil {
		c.log.Warn("capture start failed", slog.String("error", err.Error()))
		// Never leave the latch inconsistent on an error path.
		c.mu.Lock()
		c.recording = false
		c.held = false
		c.sessionID = ""
		c.mu.Unlock()
		return
	}
	c.log.Debug("capture started", slog.String("session_id", sessionID))
}

func (c *Controller) stopCapture() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if err := c.driver.StopCapture(c.ctx, sessionID); err != nil {
		c.log.Warn("capture stop failed", slog.String("error", err.Error()))
	}
	c.log.Debug("capture stopped", slog.String("session_id", sessionID))
}
