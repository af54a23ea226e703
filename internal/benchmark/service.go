package benchmark

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/voicewave/voicewave-core/internal/bus"
	"github.com/voicewave/voicewave-core/internal/model"
	"github.com/voicewave/voicewave-core/internal/protocol"
)

// ModelSwitcher is the slice of the model manager the service needs.
type ModelSwitcher interface {
	ActiveModel() string
	Installed() []model.InstalledModel
	SetActive(ctx context.Context, modelID string) error
}

// Service consumes benchmark results from the bus, publishes a
// recommendation, and auto-switches the active model at most once per
// benchmark run when the recommendation is safe to apply.
type Service struct {
	ctx         context.Context
	client      *bus.Client
	models      ModelSwitcher
	idle        func() bool
	constraints Constraints
	log         *slog.Logger

	sub *nats.Subscription

	mu      sync.Mutex
	lastRun *Run
	lastRec *Recommendation
}

func NewService(ctx context.Context, client *bus.Client, models ModelSwitcher, idle func() bool, constraints Constraints, log *slog.Logger) *Service {
	return &Service{
		ctx:         ctx,
		client:      client,
		models:      models,
		idle:        idle,
		constraints: constraints,
		log:         log.With(slog.String("component", "benchmark")),
	}
}

// Start subscribes to benchmark results. A nil bus client skips
// subscription; results can still be applied directly.
func (s *Service) Start() error {
	if s.client == nil {
		return nil
	}
	sub, err := s.client.Conn().Subscribe(protocol.SubjectBenchmarkResult, s.handleResult)
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info("benchmark service started")
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

// LastRun returns the most recent completed benchmark pass, if any.
func (s *Service) LastRun() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return Run{}, false
	}
	return *s.lastRun, true
}

// LastRecommendation returns the recommendation for the last pass.
func (s *Service) LastRecommendation() (Recommendation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRec == nil {
		return Recommendation{}, false
	}
	return *s.lastRec, true
}

func (s *Service) handleResult(msg *nats.Msg) {
	var result protocol.BenchmarkResultEvent
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		s.log.Warn("dropping malformed benchmark result", slog.String("error", err.Error()))
		return
	}

	run := Run{
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		Rows:        make([]Row, 0, len(result.Rows)),
	}
	for _, row := range result.Rows {
		run.Rows = append(run.Rows, Row{
			ModelID:             row.ModelID,
			Runs:                row.Runs,
			P50LatencyMS:        row.P50LatencyMS,
			P95LatencyMS:        row.P95LatencyMS,
			AverageRTF:          row.AverageRTF,
			ObservedSampleCount: row.SampleCount,
			ObservedSuccessRate: row.SuccessRate,
		})
	}

	rec, ok := Recommend(run.Rows, s.constraints)
	s.mu.Lock()
	s.lastRun = &run
	if ok {
		s.lastRec = &rec
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.publishRecommendation(rec)
	// One switch attempt per benchmark run; later idle transitions do
	// not retry a recommendation the user may have overridden.
	s.maybeAutoSwitch(rec)
}

func (s *Service) publishRecommendation(rec Recommendation) {
	if s.client == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("encoding recommendation failed", slog.String("error", err.Error()))
		return
	}
	if err := s.client.Conn().Publish(protocol.SubjectRecommendation, data); err != nil {
		s.log.Warn("publishing recommendation failed", slog.String("error", err.Error()))
	}
}

func (s *Service) maybeAutoSwitch(rec Recommendation) {
	installed := s.models.Installed()
	if len(installed) < 2 {
		return
	}
	if !s.idle() {
		s.log.Debug("skipping auto-switch while dictation is busy")
		return
	}
	if rec.ModelID == s.models.ActiveModel() {
		return
	}
	found := false
	for _, m := range installed {
		if m.ModelID == rec.ModelID {
			found = true
			break
		}
	}
	if !found {
		return
	}

	if err := s.models.SetActive(s.ctx, rec.ModelID); err != nil {
		s.log.Warn("auto-switch failed",
			slog.String("model_id", rec.ModelID),
			slog.String("error", err.Error()))
		return
	}
	s.log.Info("auto-switched active model",
		slog.String("model_id", rec.ModelID),
		slog.String("reason", rec.Reason))
}
