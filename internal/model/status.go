package model

import (
	"sync"
	"time"

	"github.com/voicewave/voicewave-core/internal/protocol"
)

// StatusState is the lifecycle state of one model's install.
type StatusState string

const (
	StateIdle        StatusState = protocol.ModelStateIdle
	StateDownloading StatusState = protocol.ModelStateDownloading
	StatePaused      StatusState = protocol.ModelStatePaused
	StateInstalled   StatusState = protocol.ModelStateInstalled
	StateFailed      StatusState = protocol.ModelStateFailed
	StateCancelled   StatusState = protocol.ModelStateCancelled
)

// Status is the derived per-model view the UI renders. It is a projection
// over catalog, installed set and the latest in-flight event; it is never
// persisted.
type Status struct {
	ModelID         string      `json:"model_id"`
	State           StatusState `json:"state"`
	Progress        int         `json:"progress"`
	Active          bool        `json:"active"`
	Installed       bool        `json:"installed"`
	Message         string      `json:"message,omitempty"`
	DownloadedBytes int64       `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64       `json:"total_bytes,omitempty"`
	Resumable       bool        `json:"resumable"`
	BytesPerSecond  float64     `json:"bytes_per_second,omitempty"`
}

// inFlight reports whether a previous status must survive recomputation.
// Downloading, Paused, Failed and Cancelled all come from backend pushes
// and would flicker back to Idle if an unrelated catalog refresh rebuilt
// the map from scratch; they stay until a newer event supersedes them.
func inFlight(state StatusState) bool {
	switch state {
	case StateDownloading, StatePaused, StateFailed, StateCancelled:
		return true
	}
	return false
}

// DeriveStatuses recomputes the status map. Installed wins over any
// previous state; otherwise an in-flight previous status is carried
// forward; otherwise the model is Idle. The function is pure and
// idempotent over identical inputs.
func DeriveStatuses(catalog []CatalogEntry, installed []InstalledModel, activeModelID string, previous map[string]Status) map[string]Status {
	installedByID := make(map[string]InstalledModel, len(installed))
	for _, m := range installed {
		installedByID[m.ModelID] = m
	}

	statuses := make(map[string]Status, len(catalog))
	for _, entry := range catalog {
		active := entry.ModelID == activeModelID

		if _, ok := installedByID[entry.ModelID]; ok {
			statuses[entry.ModelID] = Status{
				ModelID:   entry.ModelID,
				State:     StateInstalled,
				Progress:  100,
				Active:    active,
				Installed: true,
				Message:   "Installed and checksum verified.",
			}
			continue
		}

		if prev, ok := previous[entry.ModelID]; ok && inFlight(prev.State) {
			prev.Active = active
			prev.Installed = false
			statuses[entry.ModelID] = prev
			continue
		}

		statuses[entry.ModelID] = Status{
			ModelID:    entry.ModelID,
			State:      StateIdle,
			Active:     active,
			Message:    "Not installed.",
			TotalBytes: entry.SizeBytes,
		}
	}

	// Installed models that left the catalog keep reporting so the UI can
	// still offer them for dictation.
	for id, m := range installedByID {
		if _, ok := statuses[id]; ok {
			continue
		}
		statuses[id] = Status{
			ModelID:    id,
			State:      StateInstalled,
			Progress:   100,
			Active:     id == activeModelID,
			Installed:  true,
			Message:    "Installed (not in catalog).",
			TotalBytes: m.SizeBytes,
		}
	}
	return statuses
}

type speedSample struct {
	bytes int64
	at    time.Time
}

// SpeedEstimator derives a rolling instantaneous download speed per model
// by differencing consecutive byte counts over wall time. Non-monotonic
// samples (restarts, resumed checkpoints reporting lower counts) reset
// the baseline instead of producing a negative rate.
type SpeedEstimator struct {
	mu   sync.Mutex
	last map[string]speedSample
}

func NewSpeedEstimator() *SpeedEstimator {
	return &SpeedEstimator{last: make(map[string]speedSample)}
}

// Observe records a byte count and returns the estimated bytes/second
// since the previous sample. ok is false for the first sample of a model
// and for discarded non-monotonic samples.
func (e *SpeedEstimator) Observe(modelID string, downloadedBytes int64, at time.Time) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, seen := e.last[modelID]
	e.last[modelID] = speedSample{bytes: downloadedBytes, at: at}
	if !seen {
		return 0, false
	}
	if downloadedBytes < prev.bytes || !at.After(prev.at) {
		return 0, false
	}
	elapsed := at.Sub(prev.at).Seconds()
	return float64(downloadedBytes-prev.bytes) / elapsed, true
}

// Reset clears the baseline for a model, for terminal states.
func (e *SpeedEstimator) Reset(modelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.last, modelID)
}
