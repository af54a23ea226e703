// Package input bridges raw keyboard and window events from the UI
// shell onto the push-to-talk controller.
package input

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/voicewave/voicewave-core/internal/bus"
	"github.com/voicewave/voicewave-core/internal/hotkey"
	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/ptt"
)

// Service subscribes to the UI key and window subjects and replies with
// suppression decisions. Key subjects are request/reply; the shell
// blocks its default action only when the decision says so.
type Service struct {
	client     *bus.Client
	controller *ptt.Controller
	log        *slog.Logger

	subs []*nats.Subscription
}

func NewService(client *bus.Client, controller *ptt.Controller, log *slog.Logger) *Service {
	return &Service{
		client:     client,
		controller: controller,
		log:        log.With(slog.String("component", "input")),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	conn := s.client.Conn()

	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectUIKeyDown, s.onKeyDown},
		{protocol.SubjectUIKeyUp, s.onKeyUp},
		{protocol.SubjectUIWindowBlur, s.onWindowBlur},
		{protocol.SubjectUIWindowHidden, s.onWindowHidden},
		{protocol.SubjectHotkeyFired, s.onHotkeyFired},
	}
	for _, entry := range subjects {
		sub, err := conn.Subscribe(entry.subject, entry.handler)
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	s.log.Info("input service started")
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) onKeyDown(msg *nats.Msg) {
	ev, ok := s.decodeKey(msg)
	if !ok {
		s.replyDecision(msg, false)
		return
	}
	s.replyDecision(msg, s.controller.HandleKeyDown(ev))
}

func (s *Service) onKeyUp(msg *nats.Msg) {
	ev, ok := s.decodeKey(msg)
	if !ok {
		s.replyDecision(msg, false)
		return
	}
	s.replyDecision(msg, s.controller.HandleKeyUp(ev))
}

func (s *Service) onWindowBlur(*nats.Msg) {
	s.controller.WindowBlur()
}

func (s *Service) onWindowHidden(*nats.Msg) {
	s.controller.WindowHidden()
}

// onHotkeyFired applies a global shortcut the backend watched at the OS
// level. These arrive when the shell window has no keyboard focus and no
// key events reach the UI subjects.
func (s *Service) onHotkeyFired(msg *nats.Msg) {
	var ev protocol.HotkeyFiredEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.log.Warn("malformed hotkey event", slog.String("error", err.Error()))
		return
	}
	switch ev.Hotkey {
	case protocol.HotkeyToggle:
		if ev.Phase != protocol.HotkeyPhaseUp {
			s.controller.Toggle()
		}
	case protocol.HotkeyPushToTalk:
		if ev.Phase == protocol.HotkeyPhaseUp {
			s.controller.PushReleased()
		} else {
			s.controller.PushPressed()
		}
	default:
		s.log.Debug("ignoring unknown hotkey", slog.String("hotkey", ev.Hotkey))
	}
}

func (s *Service) decodeKey(msg *nats.Msg) (hotkey.KeyEvent, bool) {
	var wire protocol.KeyEvent
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		s.log.Warn("malformed key event", slog.String("error", err.Error()))
		return hotkey.KeyEvent{}, false
	}
	return hotkey.KeyEvent{
		Key:      wire.Key,
		Code:     wire.Code,
		Ctrl:     wire.Ctrl,
		Shift:    wire.Shift,
		Alt:      wire.Alt,
		Meta:     wire.Meta,
		Repeat:   wire.Repeat,
		Editable: wire.Editable,
	}, true
}

func (s *Service) replyDecision(msg *nats.Msg, handled bool) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(protocol.KeyDecision{Handled: handled})
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("key decision reply failed", slog.String("error", err.Error()))
	}
}
