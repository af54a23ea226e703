package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/voicewave/voicewave-core/internal/config"
	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/settings"
)

// NATSCommander drives the speech backend through request/reply subjects
// on the shared bus.
type NATSCommander struct {
	conn           *nats.Conn
	log            *slog.Logger
	cmdTimeout     time.Duration
	installTimeout time.Duration
}

func NewNATSCommander(conn *nats.Conn, cfg config.BackendConfig, log *slog.Logger) *NATSCommander {
	return &NATSCommander{
		conn:           conn,
		log:            log.With(slog.String("component", "backend-commander")),
		cmdTimeout:     time.Duration(cfg.CommandTimeout) * time.Millisecond,
		installTimeout: time.Duration(cfg.InstallTimeout) * time.Millisecond,
	}
}

// Probe pings the backend with exponential backoff. It returns
// ErrBackendUnreachable once the attempt budget is spent, which is the
// signal to fall back to the fixture commander.
func Probe(ctx context.Context, conn *nats.Conn, cfg config.BackendConfig, log *slog.Logger) error {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}

	ping := func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.CommandTimeout)*time.Millisecond)
		defer cancel()
		if _, err := conn.RequestWithContext(pingCtx, protocol.SubjectBackendPing, nil); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		log.Warn("backend probe failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", protocol.ErrBackendUnreachable, err)
	}
	return nil
}

func (c *NATSCommander) StartCapture(ctx context.Context, sessionID, mode string) error {
	var ack protocol.Ack
	req := protocol.CaptureRequest{SessionID: sessionID, Mode: mode}
	if err := c.request(ctx, protocol.SubjectCmdCaptureStart, req, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) StopCapture(ctx context.Context, sessionID string) error {
	var ack protocol.Ack
	req := protocol.CaptureRequest{SessionID: sessionID}
	if err := c.request(ctx, protocol.SubjectCmdCaptureStop, req, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) InstallModel(ctx context.Context, modelID string) (protocol.ModelReply, error) {
	var reply protocol.ModelReply
	req := protocol.ModelRequest{ModelID: modelID}
	if err := c.request(ctx, protocol.SubjectCmdModelInstall, req, c.installTimeout, &reply); err != nil {
		return protocol.ModelReply{}, err
	}
	if reply.State == protocol.ModelStateFailed {
		return reply, fmt.Errorf("%w: %s", protocol.ErrDownloadFailed, reply.Message)
	}
	return reply, nil
}

func (c *NATSCommander) PauseModel(ctx context.Context, modelID string) error {
	return c.modelCommand(ctx, protocol.SubjectCmdModelPause, modelID)
}

func (c *NATSCommander) ResumeModel(ctx context.Context, modelID string) error {
	return c.modelCommand(ctx, protocol.SubjectCmdModelResume, modelID)
}

func (c *NATSCommander) CancelModel(ctx context.Context, modelID string) error {
	return c.modelCommand(ctx, protocol.SubjectCmdModelCancel, modelID)
}

func (c *NATSCommander) SetActiveModel(ctx context.Context, modelID string) error {
	return c.modelCommand(ctx, protocol.SubjectCmdModelActivate, modelID)
}

func (c *NATSCommander) RunBenchmark(ctx context.Context, req protocol.BenchmarkRequest) error {
	var ack protocol.Ack
	if err := c.request(ctx, protocol.SubjectCmdBenchmarkRun, req, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) RequestMicPermission(ctx context.Context) error {
	var ack protocol.Ack
	if err := c.request(ctx, protocol.SubjectCmdMicPermission, struct{}{}, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) UpdateSettings(ctx context.Context, s settings.Settings) error {
	var ack protocol.Ack
	if err := c.request(ctx, protocol.SubjectCmdSettings, s, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) UpdateHotkeys(ctx context.Context, toggle, pushToTalk string) error {
	var ack protocol.Ack
	payload := map[string]string{"toggle": toggle, "push_to_talk": pushToTalk}
	if err := c.request(ctx, protocol.SubjectCmdHotkeys, payload, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) modelCommand(ctx context.Context, subject, modelID string) error {
	var ack protocol.Ack
	req := protocol.ModelRequest{ModelID: modelID}
	if err := c.request(ctx, subject, req, c.cmdTimeout, &ack); err != nil {
		return err
	}
	return ackError(ack)
}

func (c *NATSCommander) request(ctx context.Context, subject string, payload any, timeout time.Duration, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", subject, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", protocol.ErrBackendUnreachable, subject, err)
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}
