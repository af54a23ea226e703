package dictation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/voicewave/voicewave-core/internal/bus"
	"github.com/voicewave/voicewave-core/internal/config"
	"github.com/voicewave/voicewave-core/internal/protocol"
)

// Observer receives every snapshot change.
type Observer func(Snapshot)

// Service folds backend events into the snapshot. All event application
// is serialized under one mutex; observers run on the applying goroutine.
type Service struct {
	ctx    context.Context
	client *bus.Client
	log    *slog.Logger

	micDelta   float64
	micLimiter *rate.Limiter
	fixtureGap time.Duration

	mu            sync.Mutex
	snap          Snapshot
	observers     []Observer
	lastMicLevel  float64
	subs          []*nats.Subscription
	fixtureCancel context.CancelFunc
}

func NewService(ctx context.Context, client *bus.Client, cfg config.DictationConfig, activeModel string, fixture bool, log *slog.Logger) *Service {
	minGap := time.Duration(cfg.MicLevelMinGapMS) * time.Millisecond
	if minGap <= 0 {
		minGap = 120 * time.Millisecond
	}
	return &Service{
		ctx:        ctx,
		client:     client,
		log:        log.With(slog.String("component", "dictation-sync")),
		micDelta:   cfg.MicLevelDelta,
		micLimiter: rate.NewLimiter(rate.Every(minGap), 1),
		fixtureGap: time.Duration(cfg.FixtureStageMS) * time.Millisecond,
		snap: Snapshot{
			State:       StateIdle,
			ActiveModel: activeModel,
			FixtureMode: fixture,
		},
	}
}

// Start subscribes to the backend event subjects. A nil bus client skips
// subscription; events can still be applied directly.
func (s *Service) Start() error {
	if s.client == nil {
		return nil
	}
	conn := s.client.Conn()

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectDictationState:      s.onState,
		protocol.SubjectDictationTranscript: s.onTranscript,
		protocol.SubjectDictationMicLevel:   s.onMicLevel,
		protocol.SubjectPermissionChanged:   s.onPermission,
		protocol.SubjectAudioQuality:        s.onAudioQuality,
		protocol.SubjectLatencyBreakdown:    s.onLatency,
	}
	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.log.Info("dictation sync started")
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	cancel := s.fixtureCancel
	s.fixtureCancel = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// Observe registers an observer for snapshot changes.
func (s *Service) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Snapshot returns the current snapshot.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Idle reports whether no dictation session is in flight.
func (s *Service) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State == StateIdle || s.snap.State == StateInserted || s.snap.State == StateError
}

// SetActiveModel updates the model shown in the snapshot.
func (s *Service) SetActiveModel(modelID string) {
	s.update(func(snap *Snapshot) {
		snap.ActiveModel = modelID
	})
}

// BeginSession marks a session as listening before the backend confirms,
// so the HUD reacts to the key press immediately.
func (s *Service) BeginSession(sessionID string) {
	s.update(func(snap *Snapshot) {
		snap.SessionID = sessionID
		snap.State = StateListening
		snap.LastPartial = ""
		snap.LastError = ""
		snap.MicLevel = 0
	})
}

// ReportError surfaces a failure in the snapshot using the shared error
// taxonomy for the message.
func (s *Service) ReportError(err error) {
	message := err.Error()
	switch {
	case errors.Is(err, protocol.ErrPermissionDenied):
		message = "Microphone access is denied. Grant permission in system settings."
	case errors.Is(err, protocol.ErrModelUnavailable):
		message = "No speech model is available. Download a model to dictate."
	case errors.Is(err, protocol.ErrDownloadFailed):
		message = "Model download failed. Check your connection and retry."
	case errors.Is(err, protocol.ErrBackendUnreachable):
		message = "Speech backend is not responding."
	}
	s.update(func(snap *Snapshot) {
		snap.State = StateError
		snap.LastError = message
	})
}

// ApplyState folds a backend lifecycle transition into the snapshot.
// Stale events for a finished session are ignored.
func (s *Service) ApplyState(ev protocol.StateEvent) {
	s.update(func(snap *Snapshot) {
		if ev.SessionID != "" && snap.SessionID != "" && ev.SessionID != snap.SessionID {
			return
		}
		snap.State = State(ev.State)
		if snap.State == StateError {
			snap.LastError = ev.Message
		} else {
			snap.LastError = ""
		}
		if snap.State == StateIdle {
			snap.SessionID = ""
			snap.MicLevel = 0
		}
	})
}

// ApplyTranscript merges recognized text: partials replace the partial
// buffer, a final replaces the last final and clears the partial.
func (s *Service) ApplyTranscript(ev protocol.TranscriptEvent) {
	s.update(func(snap *Snapshot) {
		if ev.SessionID != "" && snap.SessionID != "" && ev.SessionID != snap.SessionID {
			return
		}
		if ev.Final {
			snap.LastFinal = ev.Text
			snap.LastPartial = ""
			return
		}
		snap.LastPartial = ev.Text
	})
}

// ApplyMicLevel updates the level meter, rate limited: a sample passes
// when it moved by at least the configured delta or the minimum gap has
// elapsed, whichever comes first.
func (s *Service) ApplyMicLevel(ev protocol.MicLevelEvent) {
	level := math.Min(math.Max(ev.Level, 0), 1)

	s.mu.Lock()
	moved := math.Abs(level-s.lastMicLevel) >= s.micDelta
	// Always take the token so the gap is measured from the last
	// accepted sample, not the last attempted one.
	allowed := s.micLimiter.Allow()
	if !moved && !allowed {
		s.mu.Unlock()
		return
	}
	s.lastMicLevel = level
	s.mu.Unlock()

	s.update(func(snap *Snapshot) {
		snap.MicLevel = level
		if ev.Error != "" {
			snap.LastError = ev.Error
		}
	})
}

// Capture quality bounds beyond which the HUD shows an advisory warning.
const (
	minAcceptableSNRDB = 12.0
	maxClippedRatio    = 0.05
)

// ApplyAudioQuality folds the per-utterance capture quality report into
// the snapshot. A clean report clears any previous warning.
func (s *Service) ApplyAudioQuality(ev protocol.AudioQualityEvent) {
	s.update(func(snap *Snapshot) {
		if ev.SessionID != "" && snap.SessionID != "" && ev.SessionID != snap.SessionID {
			return
		}
		switch {
		case ev.ClippedRatio > maxClippedRatio:
			snap.AudioWarning = "Input is clipping. Lower the microphone gain."
		case ev.SNRDecibels < minAcceptableSNRDB:
			snap.AudioWarning = "High background noise. Move closer to the microphone."
		default:
			snap.AudioWarning = ""
		}
	})
}

// ApplyLatency records the backend's timing breakdown for the last
// completed dictation.
func (s *Service) ApplyLatency(ev protocol.LatencyEvent) {
	s.update(func(snap *Snapshot) {
		snap.LastLatencyMS = ev.TotalMS
		snap.ReleaseToFinalMS = ev.ReleaseToFinalMS
	})
}

// ApplyPermission records capability changes. A denied microphone is an
// immediate error state since capture cannot work.
func (s *Service) ApplyPermission(ev protocol.PermissionEvent) {
	s.update(func(snap *Snapshot) {
		snap.Microphone = ev.Microphone
		snap.Insertion = ev.Insertion
		if ev.Microphone == "denied" {
			snap.State = StateError
			snap.LastError = "Microphone access is denied. Grant permission in system settings."
		}
	})
}

func (s *Service) onState(msg *nats.Msg) {
	var ev protocol.StateEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.log.Warn("dropping malformed state event", slog.String("error", err.Error()))
		return
	}
	s.ApplyState(ev)
}

func (s *Service) onTranscript(msg *nats.Msg) {
	var ev protocol.TranscriptEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.log.Warn("dropping malformed transcript event", slog.String("error", err.Error()))
		return
	}
	s.ApplyTranscript(ev)
}

func (s *Service) onMicLevel(msg *nats.Msg) {
	var ev protocol.MicLevelEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return
	}
	s.ApplyMicLevel(ev)
}

func (s *Service) onAudioQuality(msg *nats.Msg) {
	var ev protocol.AudioQualityEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return
	}
	s.ApplyAudioQuality(ev)
}

func (s *Service) onLatency(msg *nats.Msg) {
	var ev protocol.LatencyEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.log.Warn("dropping malformed latency event", slog.String("error", err.Error()))
		return
	}
	s.ApplyLatency(ev)
}

func (s *Service) onPermission(msg *nats.Msg) {
	var ev protocol.PermissionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.log.Warn("dropping malformed permission event", slog.String("error", err.Error()))
		return
	}
	s.ApplyPermission(ev)
}

// update applies a mutation, then notifies observers and publishes the
// snapshot if anything changed.
func (s *Service) update(mutate func(*Snapshot)) {
	s.mu.Lock()
	before := s.snap
	mutate(&s.snap)
	after := s.snap
	observers := s.observers
	s.mu.Unlock()

	if after == before {
		return
	}
	for _, fn := range observers {
		fn(after)
	}
	s.publish(after)
}

func (s *Service) publish(snap Snapshot) {
	if s.client == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.client.Conn().Publish(protocol.SubjectSnapshot, data); err != nil {
		s.log.Warn("publishing snapshot failed", slog.String("error", err.Error()))
	}
}
