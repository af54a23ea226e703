// Package permissions tracks the microphone and text-insertion
// capability state reported by the backend.
package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voicewave/voicewave-core/internal/bus"
	"github.com/voicewave/voicewave-core/internal/protocol"
)

// Status is the state of one capability.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusPrompt  Status = "prompt"
)

// Snapshot is the current capability view.
type Snapshot struct {
	Microphone Status    `json:"microphone"`
	Insertion  Status    `json:"insertion"`
	Message    string    `json:"message,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Requester triggers the OS permission prompt through the backend.
type Requester interface {
	RequestMicPermission(ctx context.Context) error
}

// Registry folds permission-changed events into a snapshot and exposes a
// denied-microphone gauge for alerting on broken installs.
type Registry struct {
	ctx       context.Context
	client    *bus.Client
	requester Requester
	log       *slog.Logger

	sub *nats.Subscription

	mu   sync.Mutex
	snap Snapshot
}

func NewRegistry(ctx context.Context, client *bus.Client, requester Requester, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		ctx:       ctx,
		client:    client,
		requester: requester,
		log:       log.With(slog.String("component", "permissions")),
		snap: Snapshot{
			Microphone: StatusUnknown,
			Insertion:  StatusUnknown,
		},
	}

	meter := otel.Meter("voicewave-core/permissions")
	if _, err := meter.Int64ObservableGauge("voicewave_permission_denied",
		metric.WithDescription("1 when a capability is denied"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			snap := r.Snapshot()
			o.Observe(boolToInt64(snap.Microphone == StatusDenied),
				metric.WithAttributes(attribute.String("capability", "microphone")))
			o.Observe(boolToInt64(snap.Insertion == StatusDenied),
				metric.WithAttributes(attribute.String("capability", "insertion")))
			return nil
		})); err != nil {
		return nil, fmt.Errorf("create permission gauge: %w", err)
	}
	return r, nil
}

// Start subscribes to permission change events. A nil bus client skips
// subscription for direct-application tests.
func (r *Registry) Start() error {
	if r.client == nil {
		return nil
	}
	sub, err := r.client.Conn().Subscribe(protocol.SubjectPermissionChanged, r.onChanged)
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *Registry) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
}

// Snapshot returns the current capability view.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// MicrophoneGranted reports whether capture is currently allowed.
func (r *Registry) MicrophoneGranted() bool {
	return r.Snapshot().Microphone == StatusGranted
}

// Apply folds one permission event into the snapshot.
func (r *Registry) Apply(ev protocol.PermissionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Microphone != "" {
		r.snap.Microphone = Status(ev.Microphone)
	}
	if ev.Insertion != "" {
		r.snap.Insertion = Status(ev.Insertion)
	}
	r.snap.Message = ev.Message
	r.snap.UpdatedAt = time.Now().UTC()

	if r.snap.Microphone == StatusDenied {
		r.log.Warn("microphone permission denied")
	}
}

// RequestMicrophone asks the backend to raise the OS prompt. The outcome
// arrives asynchronously as a permission-changed event.
func (r *Registry) RequestMicrophone(ctx context.Context) error {
	if err := r.requester.RequestMicPermission(ctx); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrPermissionDenied, err)
	}
	return nil
}

func (r *Registry) onChanged(msg *nats.Msg) {
	var ev protocol.PermissionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("dropping malformed permission event", slog.String("error", err.Error()))
		return
	}
	r.Apply(ev)
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
