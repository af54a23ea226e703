package model

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voicewave/voicewave-core/internal/protocol"
)

type fakeCommander struct {
	mu          sync.Mutex
	installErr  map[string]error
	pauseErr    error
	installed   []string
	activated   []string
	cancelled   []string
	installHook func(modelID string)
}

func (c *fakeCommander) InstallModel(_ context.Context, modelID string) (protocol.ModelReply, error) {
	c.mu.Lock()
	hook := c.installHook
	err := c.installErr[modelID]
	c.mu.Unlock()

	if hook != nil {
		hook(modelID)
	}
	if err != nil {
		return protocol.ModelReply{ModelID: modelID, State: protocol.ModelStateFailed, Message: err.Error()}, err
	}

	c.mu.Lock()
	c.installed = append(c.installed, modelID)
	c.mu.Unlock()
	return protocol.ModelReply{ModelID: modelID, State: protocol.ModelStateInstalled, Progress: 100}, nil
}

func (c *fakeCommander) PauseModel(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseErr
}

func (c *fakeCommander) ResumeModel(_ context.Context, modelID string) error {
	_, err := c.InstallModel(context.Background(), modelID)
	return err
}

func (c *fakeCommander) CancelModel(_ context.Context, modelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, modelID)
	return nil
}

func (c *fakeCommander) SetActiveModel(_ context.Context, modelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activated = append(c.activated, modelID)
	return nil
}

func newTestManager(t *testing.T, commander Commander, catalog []CatalogEntry, active string, preferred []string) *Manager {
	t.Helper()
	index := NewInstalledIndex(filepath.Join(t.TempDir(), "models.json"), "")
	if err := index.Load(); err != nil {
		t.Fatalf("load index: %v", err)
	}
	log := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	m, err := NewManager(commander, catalog, index, active, "small.en", preferred, log)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEnsureReadyReturnsInstalledActive(t *testing.T) {
	commander := &fakeCommander{}
	m := newTestManager(t, commander, DefaultCatalog(), "small.en", nil)
	if err := m.index.Add(InstalledModel{ModelID: "small.en", InstalledAt: time.Now()}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	got, err := m.EnsureReady(context.Background(), "small.en")
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if got != "small.en" {
		t.Fatalf("got %q, want small.en", got)
	}
	if len(commander.installed) != 0 {
		t.Fatal("already-installed model must not trigger an install")
	}
}

func TestEnsureReadyInstallsActiveDirectly(t *testing.T) {
	commander := &fakeCommander{}
	catalog := []CatalogEntry{{ModelID: "m1", Version: "v1", SizeBytes: 10}}
	m := newTestManager(t, commander, catalog, "m1", nil)

	got, err := m.EnsureReady(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if got != "m1" {
		t.Fatalf("got %q, want m1", got)
	}
	if _, ok := m.index.Get("m1"); !ok {
		t.Fatal("resolved model must be installed")
	}
}

func TestEnsureReadyFallsBackToPreferredInstalled(t *testing.T) {
	commander := &fakeCommander{installErr: map[string]error{"medium.en": errors.New("disk full")}}
	m := newTestManager(t, commander, DefaultCatalog(), "medium.en", []string{"small.en", "base.en", "tiny.en"})
	if err := m.index.Add(InstalledModel{ModelID: "base.en", InstalledAt: time.Now()}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	got, err := m.EnsureReady(context.Background(), "medium.en")
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if got != "base.en" {
		t.Fatalf("got %q, want base.en", got)
	}
	if m.ActiveModel() != "base.en" {
		t.Fatalf("active model = %q, want base.en", m.ActiveModel())
	}
	if len(commander.activated) != 1 || commander.activated[0] != "base.en" {
		t.Fatalf("backend activation calls = %v", commander.activated)
	}
}

func TestEnsureReadyBootstrapsDefault(t *testing.T) {
	commander := &fakeCommander{installErr: map[string]error{"medium.en": errors.New("disk full")}}
	m := newTestManager(t, commander, DefaultCatalog(), "medium.en", []string{"small.en"})

	got, err := m.EnsureReady(context.Background(), "medium.en")
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if got != "small.en" {
		t.Fatalf("got %q, want small.en", got)
	}
	if _, ok := m.index.Get("small.en"); !ok {
		t.Fatal("bootstrap model must end up installed")
	}
}

func TestEnsureReadyEmptyCatalogRaisesModelUnavailable(t *testing.T) {
	m := newTestManager(t, &fakeCommander{}, nil, "small.en", []string{"small.en"})

	if _, err := m.EnsureReady(context.Background(), "small.en"); !errors.Is(err, protocol.ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestEnsureReadySingleModelFailureRaisesModelUnavailable(t *testing.T) {
	commander := &fakeCommander{installErr: map[string]error{"m1": errors.New("checksum mismatch")}}
	catalog := []CatalogEntry{{ModelID: "m1"}}
	m := newTestManager(t, commander, catalog, "m1", nil)
	m.defaultID = "m1"

	if _, err := m.EnsureReady(context.Background(), "m1"); !errors.Is(err, protocol.ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestCancelDuringInstallDiscardsStaleReply(t *testing.T) {
	commander := &fakeCommander{}
	m := newTestManager(t, commander, DefaultCatalog(), "tiny.en", nil)

	// The cancel lands while the install request is still in flight, so
	// the install reply must not clobber the Cancelled status.
	commander.installHook = func(modelID string) {
		if err := m.Cancel(context.Background(), modelID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}

	if err := m.Install(context.Background(), "tiny.en"); err != nil {
		t.Fatalf("install: %v", err)
	}

	s, ok := m.Status("tiny.en")
	if !ok || s.State != StateCancelled {
		t.Fatalf("status = %+v, want cancelled", s)
	}
}

func TestFailedPauseKeepsInstallReplyAuthoritative(t *testing.T) {
	commander := &fakeCommander{pauseErr: errors.New("backend busy")}
	m := newTestManager(t, commander, DefaultCatalog(), "tiny.en", nil)

	// The pause is rejected while the install request is still in
	// flight; the install reply must still land.
	commander.installHook = func(modelID string) {
		if err := m.Pause(context.Background(), modelID); err == nil {
			t.Error("expected pause to fail")
		}
	}

	if err := m.Install(context.Background(), "tiny.en"); err != nil {
		t.Fatalf("install: %v", err)
	}

	s, ok := m.Status("tiny.en")
	if !ok || s.State != StateInstalled {
		t.Fatalf("status = %+v, want installed after rejected pause", s)
	}
}

func TestApplyEventProgressAndInstall(t *testing.T) {
	m := newTestManager(t, &fakeCommander{}, DefaultCatalog(), "tiny.en", nil)
	now := time.Now().UTC()

	m.ApplyEvent(protocol.ModelEvent{
		ModelID:         "tiny.en",
		State:           protocol.ModelStateDownloading,
		Progress:        30,
		DownloadedBytes: 1000,
		TotalBytes:      4000,
		Timestamp:       now,
	})
	m.ApplyEvent(protocol.ModelEvent{
		ModelID:         "tiny.en",
		State:           protocol.ModelStateDownloading,
		Progress:        60,
		DownloadedBytes: 3000,
		TotalBytes:      4000,
		Timestamp:       now.Add(time.Second),
	})

	s, _ := m.Status("tiny.en")
	if s.State != StateDownloading || s.Progress != 60 {
		t.Fatalf("status = %+v", s)
	}
	if s.BytesPerSecond != 2000 {
		t.Fatalf("speed = %v, want 2000", s.BytesPerSecond)
	}

	m.ApplyEvent(protocol.ModelEvent{
		ModelID:   "tiny.en",
		State:     protocol.ModelStateInstalled,
		Progress:  100,
		Timestamp: now.Add(2 * time.Second),
	})
	s, _ = m.Status("tiny.en")
	if s.State != StateInstalled || !s.Installed {
		t.Fatalf("status after install = %+v", s)
	}
	if _, ok := m.index.Get("tiny.en"); !ok {
		t.Fatal("install event must update the index")
	}
}

func TestInstallUnknownModel(t *testing.T) {
	m := newTestManager(t, &fakeCommander{}, DefaultCatalog(), "tiny.en", nil)
	if err := m.Install(context.Background(), "nope"); !errors.Is(err, protocol.ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}
