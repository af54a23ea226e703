package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voicewave/voicewave-core/internal/protocol"
)

// Commander is the slice of the backend surface the manager drives.
type Commander interface {
	InstallModel(ctx context.Context, modelID string) (protocol.ModelReply, error)
	PauseModel(ctx context.Context, modelID string) error
	ResumeModel(ctx context.Context, modelID string) error
	CancelModel(ctx context.Context, modelID string) error
	SetActiveModel(ctx context.Context, modelID string) error
}

// Manager owns the catalog, the installed index and the derived status
// map, and runs the bootstrap chain that guarantees a usable model before
// capture starts.
type Manager struct {
	log       *slog.Logger
	commander Commander
	catalog   []CatalogEntry
	index     *InstalledIndex
	preferred []string
	defaultID string
	speed     *SpeedEstimator

	installs  metric.Int64Counter
	fallbacks metric.Int64Counter

	mu          sync.Mutex
	statuses    map[string]Status
	active      string
	generations map[string]uint64
}

func NewManager(commander Commander, catalog []CatalogEntry, index *InstalledIndex, activeModelID, defaultModelID string, preferred []string, log *slog.Logger) (*Manager, error) {
	meter := otel.Meter("voicewave-core/model")
	installs, err := meter.Int64Counter("voicewave_model_installs_total",
		metric.WithDescription("Model install attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("create install counter: %w", err)
	}
	fallbacks, err := meter.Int64Counter("voicewave_model_fallbacks_total",
		metric.WithDescription("Bootstrap chain steps taken past the active model"))
	if err != nil {
		return nil, fmt.Errorf("create fallback counter: %w", err)
	}

	m := &Manager{
		log:         log.With(slog.String("component", "model-manager")),
		commander:   commander,
		catalog:     catalog,
		index:       index,
		preferred:   preferred,
		defaultID:   defaultModelID,
		speed:       NewSpeedEstimator(),
		installs:    installs,
		fallbacks:   fallbacks,
		active:      activeModelID,
		generations: make(map[string]uint64),
	}
	m.statuses = DeriveStatuses(catalog, index.List(), activeModelID, nil)

	if _, err := meter.Int64ObservableGauge("voicewave_models_installed",
		metric.WithDescription("Number of installed speech models"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(index.List())))
			return nil
		})); err != nil {
		return nil, fmt.Errorf("create installed gauge: %w", err)
	}
	return m, nil
}

// Catalog returns the model catalog.
func (m *Manager) Catalog() []CatalogEntry {
	return m.catalog
}

// Installed lists installed models ordered by install time.
func (m *Manager) Installed() []InstalledModel {
	return m.index.List()
}

// ActiveModel returns the current active model id.
func (m *Manager) ActiveModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Statuses returns a copy of the derived status map.
func (m *Manager) Statuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.statuses))
	for id, s := range m.statuses {
		out[id] = s
	}
	return out
}

// Status returns the derived status for one model.
func (m *Manager) Status(modelID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[modelID]
	return s, ok
}

// Recompute rebuilds the status map from catalog and installed set,
// carrying in-flight statuses forward.
func (m *Manager) Recompute() {
	installed := m.index.List()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = DeriveStatuses(m.catalog, installed, m.active, m.statuses)
}

// SetActive switches the active model locally and on the backend.
func (m *Manager) SetActive(ctx context.Context, modelID string) error {
	if err := m.commander.SetActiveModel(ctx, modelID); err != nil {
		return err
	}
	m.setActiveLocal(modelID)
	return nil
}

func (m *Manager) setActiveLocal(modelID string) {
	installed := m.index.List()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = modelID
	m.statuses = DeriveStatuses(m.catalog, installed, m.active, m.statuses)
}

// Install runs a blocking install of one catalog model and applies the
// final status. A Pause/Cancel issued while the request is in flight
// bumps the model's generation, and the stale reply is discarded.
func (m *Manager) Install(ctx context.Context, modelID string) error {
	if _, ok := FindEntry(m.catalog, modelID); !ok {
		if _, installed := m.index.Get(modelID); !installed {
			return fmt.Errorf("%w: unknown model %q", protocol.ErrModelUnavailable, modelID)
		}
		return nil
	}

	gen := m.bumpGeneration(modelID)
	m.applyStatus(Status{
		ModelID:   modelID,
		State:     StateDownloading,
		Message:   "Download requested.",
		Resumable: true,
	})

	reply, err := m.commander.InstallModel(ctx, modelID)
	if !m.generationCurrent(modelID, gen) {
		m.log.Debug("discarding stale install reply", slog.String("model_id", modelID))
		return nil
	}
	if err != nil {
		m.installs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failed")))
		m.applyStatus(Status{
			ModelID:   modelID,
			State:     StateFailed,
			Message:   err.Error(),
			Resumable: true,
		})
		return err
	}

	m.installs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", reply.State)))
	m.applyReply(reply)
	return nil
}

// Pause asks the backend to pause a download. The in-flight install
// reply is invalidated only once the backend confirms the pause; a
// failed pause leaves the install authoritative.
func (m *Manager) Pause(ctx context.Context, modelID string) error {
	if err := m.commander.PauseModel(ctx, modelID); err != nil {
		return err
	}
	m.bumpGeneration(modelID)
	m.applyStatus(Status{
		ModelID:   modelID,
		State:     StatePaused,
		Message:   "Download paused.",
		Resumable: true,
	})
	return nil
}

// Resume restarts a paused download and blocks like Install.
func (m *Manager) Resume(ctx context.Context, modelID string) error {
	gen := m.bumpGeneration(modelID)
	m.applyStatus(Status{
		ModelID:   modelID,
		State:     StateDownloading,
		Message:   "Download resumed.",
		Resumable: true,
	})

	if err := m.commander.ResumeModel(ctx, modelID); err != nil {
		if m.generationCurrent(modelID, gen) {
			m.applyStatus(Status{
				ModelID:   modelID,
				State:     StateFailed,
				Message:   err.Error(),
				Resumable: true,
			})
		}
		return err
	}
	return nil
}

// Cancel aborts an in-flight download. Like Pause, the generation is
// bumped only after the backend accepts the cancel.
func (m *Manager) Cancel(ctx context.Context, modelID string) error {
	if err := m.commander.CancelModel(ctx, modelID); err != nil {
		return err
	}
	m.bumpGeneration(modelID)
	m.speed.Reset(modelID)
	m.applyStatus(Status{
		ModelID:   modelID,
		State:     StateCancelled,
		Message:   "Download cancelled.",
		Resumable: true,
	})
	return nil
}

// Remove deletes a model from the installed index.
func (m *Manager) Remove(modelID string) error {
	if err := m.index.Remove(modelID); err != nil {
		return err
	}
	m.Recompute()
	return nil
}

// ApplyEvent folds a backend progress push into the status map. Events
// are the freshest source, so they always supersede the derived view.
func (m *Manager) ApplyEvent(ev protocol.ModelEvent) {
	state := StatusState(ev.State)

	var speed float64
	if state == StateDownloading && ev.DownloadedBytes > 0 {
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		speed, _ = m.speed.Observe(ev.ModelID, ev.DownloadedBytes, at)
	} else if state != StatePaused {
		m.speed.Reset(ev.ModelID)
	}

	if state == StateInstalled {
		m.markInstalled(ev.ModelID)
		return
	}

	m.applyStatus(Status{
		ModelID:         ev.ModelID,
		State:           state,
		Progress:        ev.Progress,
		Message:         ev.Message,
		DownloadedBytes: ev.DownloadedBytes,
		TotalBytes:      ev.TotalBytes,
		Resumable:       state == StateDownloading || state == StatePaused || state == StateFailed,
		BytesPerSecond:  speed,
	})
}

// EnsureReady guarantees a dictation attempt never starts against a
// missing model. The chain: active model already installed, direct
// install of the active model, first installed model from the preferred
// list (switching active as a side effect), bootstrap install of the
// default catalog entry. Every step failing raises ErrModelUnavailable.
func (m *Manager) EnsureReady(ctx context.Context, activeModelID string) (string, error) {
	if activeModelID != "" {
		if _, ok := m.index.Get(activeModelID); ok {
			return activeModelID, nil
		}
	}

	if _, ok := FindEntry(m.catalog, activeModelID); ok {
		if err := m.Install(ctx, activeModelID); err != nil {
			m.log.Warn("active model install failed",
				slog.String("model_id", activeModelID),
				slog.String("error", err.Error()))
		} else if _, ok := m.index.Get(activeModelID); ok {
			return activeModelID, nil
		}
	}

	for _, id := range m.preferred {
		if id == activeModelID {
			continue
		}
		if _, ok := m.index.Get(id); !ok {
			continue
		}
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "preferred")))
		if err := m.SetActive(ctx, id); err != nil {
			return "", err
		}
		m.log.Info("fell back to installed model", slog.String("model_id", id))
		return id, nil
	}

	if m.defaultID != "" && m.defaultID != activeModelID {
		if _, ok := FindEntry(m.catalog, m.defaultID); ok {
			m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "bootstrap")))
			if err := m.Install(ctx, m.defaultID); err == nil {
				if _, ok := m.index.Get(m.defaultID); ok {
					if err := m.SetActive(ctx, m.defaultID); err != nil {
						return "", err
					}
					m.log.Info("bootstrap-installed default model", slog.String("model_id", m.defaultID))
					return m.defaultID, nil
				}
			}
		}
	}

	return "", fmt.Errorf("%w: no model installed and no install succeeded", protocol.ErrModelUnavailable)
}

func (m *Manager) applyReply(reply protocol.ModelReply) {
	if reply.State == protocol.ModelStateInstalled {
		m.markInstalled(reply.ModelID)
		return
	}
	m.applyStatus(Status{
		ModelID:         reply.ModelID,
		State:           StatusState(reply.State),
		Progress:        reply.Progress,
		Message:         reply.Message,
		DownloadedBytes: reply.DownloadedBytes,
		TotalBytes:      reply.TotalBytes,
		Resumable:       true,
	})
}

func (m *Manager) markInstalled(modelID string) {
	m.speed.Reset(modelID)

	record := InstalledModel{
		ModelID:          modelID,
		InstalledAt:      time.Now().UTC(),
		ChecksumVerified: true,
	}
	if entry, ok := FindEntry(m.catalog, modelID); ok {
		record.Version = entry.Version
		record.Format = entry.Format
		record.SizeBytes = entry.SizeBytes
		record.SHA256 = entry.SHA256
	}
	if err := m.index.Add(record); err != nil {
		m.log.Warn("persisting installed index failed",
			slog.String("model_id", modelID),
			slog.String("error", err.Error()))
	}
	m.Recompute()
}

func (m *Manager) applyStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Active = s.ModelID == m.active
	if prev, ok := m.statuses[s.ModelID]; ok {
		if s.Progress == 0 && prev.Progress > 0 && s.State == prev.State {
			s.Progress = prev.Progress
		}
		if s.TotalBytes == 0 {
			s.TotalBytes = prev.TotalBytes
		}
	}
	m.statuses[s.ModelID] = s
}

func (m *Manager) bumpGeneration(modelID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[modelID]++
	return m.generations[modelID]
}

func (m *Manager) generationCurrent(modelID string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[modelID] == gen
}
