// Package backend talks to the speech backend process over the bus. The
// Commander interface is everything the core needs from it; a fixture
// implementation stands in when no backend answers the probe.
package backend

import (
	"context"

	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/settings"
)

// Commander issues commands to the speech backend. All calls are
// synchronous request/reply; progress for long operations still streams
// through the event subjects.
type Commander interface {
	StartCapture(ctx context.Context, sessionID, mode string) error
	StopCapture(ctx context.Context, sessionID string) error

	// InstallModel blocks until the install reaches a terminal state and
	// returns the final status.
	InstallModel(ctx context.Context, modelID string) (protocol.ModelReply, error)
	PauseModel(ctx context.Context, modelID string) error
	ResumeModel(ctx context.Context, modelID string) error
	CancelModel(ctx context.Context, modelID string) error
	SetActiveModel(ctx context.Context, modelID string) error

	RunBenchmark(ctx context.Context, req protocol.BenchmarkRequest) error
	RequestMicPermission(ctx context.Context) error
	UpdateSettings(ctx context.Context, s settings.Settings) error
	UpdateHotkeys(ctx context.Context, toggle, pushToTalk string) error
}

func ackError(ack protocol.Ack) error {
	if ack.OK {
		return nil
	}
	if err := protocol.ErrorForCode(ack.Code); err != nil {
		return err
	}
	if ack.Error != "" {
		return &commandError{message: ack.Error}
	}
	return &commandError{message: "backend rejected command"}
}

type commandError struct {
	message string
}

func (e *commandError) Error() string {
	return e.message
}
