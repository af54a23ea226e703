package dictation

import (
	"context"
	"log/slog"
)

// ModelGate guarantees a usable model before capture is acquired.
type ModelGate interface {
	EnsureReady(ctx context.Context, activeModelID string) (string, error)
	ActiveModel() string
}

// Capturer starts and stops capture on the backend.
type Capturer interface {
	StartCapture(ctx context.Context, sessionID, mode string) error
	StopCapture(ctx context.Context, sessionID string) error
}

// Driver is the capture entry point for the push-to-talk controller. It
// runs the model bootstrap chain first, so no capture resource is
// acquired when no usable model exists.
type Driver struct {
	gate     ModelGate
	capturer Capturer
	sync     *Service
	fixture  bool
	log      *slog.Logger
}

func NewDriver(gate ModelGate, capturer Capturer, sync *Service, fixture bool, log *slog.Logger) *Driver {
	return &Driver{
		gate:     gate,
		capturer: capturer,
		sync:     sync,
		fixture:  fixture,
		log:      log.With(slog.String("component", "capture-driver")),
	}
}

func (d *Driver) StartCapture(ctx context.Context, sessionID, mode string) error {
	modelID, err := d.gate.EnsureReady(ctx, d.gate.ActiveModel())
	if err != nil {
		d.sync.ReportError(err)
		return err
	}
	d.sync.SetActiveModel(modelID)

	if err := d.capturer.StartCapture(ctx, sessionID, mode); err != nil {
		d.sync.ReportError(err)
		return err
	}

	if d.fixture {
		d.sync.StartFixture(sessionID)
	} else {
		d.sync.BeginSession(sessionID)
	}
	d.log.Debug("capture session started",
		slog.String("session_id", sessionID),
		slog.String("model_id", modelID))
	return nil
}

func (d *Driver) StopCapture(ctx context.Context, sessionID string) error {
	err := d.capturer.StopCapture(ctx, sessionID)
	if err != nil {
		d.sync.ReportError(err)
	}
	if d.fixture {
		d.sync.FinishFixture(sessionID)
	}
	return err
}
