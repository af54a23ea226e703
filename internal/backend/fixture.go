package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/settings"
)

// PublishFunc pushes an event onto the bus. The fixture uses it so UI
// subscribers see the same progress stream a real backend would emit.
type PublishFunc func(subject string, payload any)

// FixtureCommander simulates the speech backend. It is wired in silently
// when the real backend does not answer the probe, so the rest of the app
// keeps working offline and in tests.
type FixtureCommander struct {
	log          *slog.Logger
	installDelay time.Duration
	publish      PublishFunc
}

func NewFixtureCommander(installDelay time.Duration, publish PublishFunc, log *slog.Logger) *FixtureCommander {
	if publish == nil {
		publish = func(string, any) {}
	}
	return &FixtureCommander{
		log:          log.With(slog.String("component", "fixture-backend")),
		installDelay: installDelay,
		publish:      publish,
	}
}

func (c *FixtureCommander) StartCapture(_ context.Context, sessionID, _ string) error {
	c.log.Debug("fixture capture start", slog.String("session_id", sessionID))
	return nil
}

func (c *FixtureCommander) StopCapture(_ context.Context, sessionID string) error {
	c.log.Debug("fixture capture stop", slog.String("session_id", sessionID))
	return nil
}

func (c *FixtureCommander) InstallModel(ctx context.Context, modelID string) (protocol.ModelReply, error) {
	step := c.installDelay / 3
	for _, progress := range []int{5, 45, 90} {
		c.publish(protocol.SubjectModelProgress, protocol.ModelEvent{
			ModelID:   modelID,
			State:     protocol.ModelStateDownloading,
			Progress:  progress,
			Timestamp: time.Now().UTC(),
		})
		if step > 0 {
			select {
			case <-ctx.Done():
				return protocol.ModelReply{}, ctx.Err()
			case <-time.After(step):
			}
		}
	}

	c.publish(protocol.SubjectModelProgress, protocol.ModelEvent{
		ModelID:   modelID,
		State:     protocol.ModelStateInstalled,
		Progress:  100,
		Message:   "Installed (simulated).",
		Timestamp: time.Now().UTC(),
	})
	return protocol.ModelReply{
		ModelID:  modelID,
		State:    protocol.ModelStateInstalled,
		Progress: 100,
		Message:  "Installed (simulated).",
	}, nil
}

func (c *FixtureCommander) PauseModel(_ context.Context, modelID string) error {
	c.publish(protocol.SubjectModelProgress, protocol.ModelEvent{
		ModelID:   modelID,
		State:     protocol.ModelStatePaused,
		Progress:  50,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (c *FixtureCommander) ResumeModel(ctx context.Context, modelID string) error {
	_, err := c.InstallModel(ctx, modelID)
	return err
}

func (c *FixtureCommander) CancelModel(_ context.Context, modelID string) error {
	c.publish(protocol.SubjectModelProgress, protocol.ModelEvent{
		ModelID:   modelID,
		State:     protocol.ModelStateCancelled,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (c *FixtureCommander) SetActiveModel(_ context.Context, modelID string) error {
	c.log.Debug("fixture active model", slog.String("model_id", modelID))
	return nil
}

func (c *FixtureCommander) RunBenchmark(_ context.Context, req protocol.BenchmarkRequest) error {
	started := time.Now().UTC()
	ids := req.ModelIDs
	if len(ids) == 0 {
		ids = []string{"tiny.en", "base.en", "small.en", "medium.en"}
	}
	runs := req.RunsPerModel
	if runs <= 0 {
		runs = 3
	}

	rows := make([]protocol.BenchmarkRowEvent, 0, len(ids))
	for _, id := range ids {
		p50, p95, rtf := fixtureBenchmarkProfile(id)
		rows = append(rows, protocol.BenchmarkRowEvent{
			ModelID:      id,
			Runs:         runs,
			P50LatencyMS: p50,
			P95LatencyMS: p95,
			AverageRTF:   rtf,
		})
	}

	c.publish(protocol.SubjectBenchmarkResult, protocol.BenchmarkResultEvent{
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
		Rows:        rows,
	})
	return nil
}

func (c *FixtureCommander) RequestMicPermission(_ context.Context) error {
	c.publish(protocol.SubjectPermissionChanged, protocol.PermissionEvent{
		Microphone: "granted",
		Insertion:  "granted",
		Message:    "Simulated permission grant.",
	})
	return nil
}

func (c *FixtureCommander) UpdateSettings(_ context.Context, _ settings.Settings) error {
	return nil
}

func (c *FixtureCommander) UpdateHotkeys(_ context.Context, _, _ string) error {
	return nil
}

// fixtureBenchmarkProfile returns plausible latencies so the
// recommendation path stays exercisable offline. Larger models are slower.
func fixtureBenchmarkProfile(modelID string) (p50, p95 int64, rtf float64) {
	switch modelID {
	case "tiny.en":
		return 900, 1_400, 0.35
	case "base.en":
		return 1_400, 2_100, 0.55
	case "small.en":
		return 2_600, 3_900, 0.85
	case "medium.en":
		return 4_200, 6_300, 1.35
	default:
		return 3_000, 4_500, 1.0
	}
}
