package dictation

import (
	"context"
	"math"
	"time"

	"github.com/voicewave/voicewave-core/internal/protocol"
)

const (
	fixturePartialText = "this is a simulated"
	fixtureFinalText   = "This is a simulated dictation result."
)

// StartFixture begins the simulated capture sequence: the snapshot goes
// to Listening and synthetic mic levels tick until the session finishes.
// A new session cancels any previous fixture sequence.
func (s *Service) StartFixture(sessionID string) {
	ctx := s.swapFixtureContext()
	s.BeginSession(sessionID)

	go func() {
		tick := s.fixtureGap / 4
		if tick <= 0 {
			tick = 50 * time.Millisecond
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		step := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				step++
				level := 0.35 + 0.3*math.Abs(math.Sin(float64(step)/3))
				s.ApplyMicLevel(protocol.MicLevelEvent{Level: level})
			}
		}
	}()
}

// FinishFixture drives the back half of the simulated session:
// Transcribing, a partial, the final transcript with Inserted, then back
// to Idle. Each stage is cancellable by a newer session.
func (s *Service) FinishFixture(sessionID string) {
	ctx := s.swapFixtureContext()

	go func() {
		if !s.sessionCurrent(sessionID) {
			return
		}
		s.update(func(snap *Snapshot) {
			if snap.SessionID != sessionID {
				return
			}
			snap.State = StateTranscribing
			snap.MicLevel = 0
		})

		if !s.fixtureSleep(ctx) {
			return
		}
		s.update(func(snap *Snapshot) {
			if snap.SessionID != sessionID {
				return
			}
			snap.LastPartial = fixturePartialText
		})

		if !s.fixtureSleep(ctx) {
			return
		}
		s.update(func(snap *Snapshot) {
			if snap.SessionID != sessionID {
				return
			}
			snap.State = StateInserted
			snap.LastFinal = fixtureFinalText
			snap.LastPartial = ""
		})

		if !s.fixtureSleep(ctx) {
			return
		}
		s.update(func(snap *Snapshot) {
			if snap.SessionID != sessionID {
				return
			}
			snap.State = StateIdle
			snap.SessionID = ""
		})
	}()
}

func (s *Service) swapFixtureContext() context.Context {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if s.fixtureCancel != nil {
		s.fixtureCancel()
	}
	s.fixtureCancel = cancel
	s.mu.Unlock()
	return ctx
}

func (s *Service) sessionCurrent(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.SessionID == sessionID
}

func (s *Service) fixtureSleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.fixtureGap):
		return true
	}
}
