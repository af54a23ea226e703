package runtime

import (
	"context"
	"log/slog"
	"testing"

	"github.com/voicewave/voicewave-core/internal/config"
	"github.com/voicewave/voicewave-core/internal/hotkey"
	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/settings"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeCommander struct {
	settingsPushed []settings.Settings
	hotkeysPushed  [][2]string
}

func (c *fakeCommander) StartCapture(context.Context, string, string) error { return nil }
func (c *fakeCommander) StopCapture(context.Context, string) error          { return nil }

func (c *fakeCommander) InstallModel(_ context.Context, modelID string) (protocol.ModelReply, error) {
	return protocol.ModelReply{ModelID: modelID, State: protocol.ModelStateInstalled, Progress: 100}, nil
}

func (c *fakeCommander) PauseModel(context.Context, string) error     { return nil }
func (c *fakeCommander) ResumeModel(context.Context, string) error    { return nil }
func (c *fakeCommander) CancelModel(context.Context, string) error    { return nil }
func (c *fakeCommander) SetActiveModel(context.Context, string) error { return nil }

func (c *fakeCommander) RunBenchmark(context.Context, protocol.BenchmarkRequest) error { return nil }
func (c *fakeCommander) RequestMicPermission(context.Context) error                    { return nil }

func (c *fakeCommander) UpdateSettings(_ context.Context, s settings.Settings) error {
	c.settingsPushed = append(c.settingsPushed, s)
	return nil
}

func (c *fakeCommander) UpdateHotkeys(_ context.Context, toggle, pushToTalk string) error {
	c.hotkeysPushed = append(c.hotkeysPushed, [2]string{toggle, pushToTalk})
	return nil
}

func newTestRuntime(cfg config.Config) *Runtime {
	return &Runtime{
		cfg: cfg,
		log: slog.New(slog.NewTextHandler(nullWriter{}, nil)),
	}
}

func TestSeedDefaultHotkeysUsesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Hotkeys.Toggle = "Ctrl+Shift+D"
	cfg.Hotkeys.PushToTalk = "Ctrl+Alt+D"
	r := newTestRuntime(cfg)

	seeded := r.seedDefaultHotkeys(settings.Default())
	if seeded.ToggleHotkey != "Ctrl+Shift+D" || seeded.PushToTalkHotkey != "Ctrl+Alt+D" {
		t.Fatalf("seeded hotkeys = %q / %q", seeded.ToggleHotkey, seeded.PushToTalkHotkey)
	}
}

func TestSeedDefaultHotkeysKeepsBuiltinOnBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Hotkeys.Toggle = "NotAKey+"
	r := newTestRuntime(cfg)

	seeded := r.seedDefaultHotkeys(settings.Default())
	if seeded.ToggleHotkey != settings.DefaultToggleHotkey {
		t.Fatalf("bad config combo must keep the built-in default, got %q", seeded.ToggleHotkey)
	}
}

func TestCombosFromFallsBackToConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Hotkeys.Toggle = "Ctrl+Shift+F2"
	r := newTestRuntime(cfg)

	s := settings.Default()
	s.ToggleHotkey = "garbage+"
	toggle, push := r.combosFrom(s)

	want, err := hotkey.ParseCombo("Ctrl+Shift+F2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if toggle != want {
		t.Fatalf("toggle = %+v, want the configured default", toggle)
	}
	wantPush, _ := hotkey.ParseCombo(s.PushToTalkHotkey)
	if push != wantPush {
		t.Fatalf("parsable push-to-talk binding must survive, got %+v", push)
	}
}

func TestStartupSettingsPushedToBackend(t *testing.T) {
	r := newTestRuntime(config.Default())
	c := &fakeCommander{}
	r.commander = c

	s := settings.Default()
	s.ActiveModel = "base.en"
	r.pushBackendConfig(context.Background(), s)

	if len(c.settingsPushed) != 1 || c.settingsPushed[0].ActiveModel != "base.en" {
		t.Fatalf("settings pushed = %+v", c.settingsPushed)
	}
	if len(c.hotkeysPushed) != 1 || c.hotkeysPushed[0] != [2]string{s.ToggleHotkey, s.PushToTalkHotkey} {
		t.Fatalf("hotkeys pushed = %+v", c.hotkeysPushed)
	}
}
