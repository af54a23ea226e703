// Package runtime assembles the core: bus, backend commander, model
// manager, dictation state sync, input handling, and the HTTP surface
// the presentation layer polls.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voicewave/voicewave-core/internal/backend"
	"github.com/voicewave/voicewave-core/internal/benchmark"
	"github.com/voicewave/voicewave-core/internal/bus"
	"github.com/voicewave/voicewave-core/internal/config"
	"github.com/voicewave/voicewave-core/internal/dictation"
	"github.com/voicewave/voicewave-core/internal/dictionary"
	"github.com/voicewave/voicewave-core/internal/history"
	"github.com/voicewave/voicewave-core/internal/hotkey"
	"github.com/voicewave/voicewave-core/internal/input"
	"github.com/voicewave/voicewave-core/internal/model"
	"github.com/voicewave/voicewave-core/internal/natsserver"
	"github.com/voicewave/voicewave-core/internal/permissions"
	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/ptt"
	"github.com/voicewave/voicewave-core/internal/settings"
)

type Runtime struct {
	cfg config.Config
	log *slog.Logger

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	client         *bus.Client

	commander  backend.Commander
	fixture    bool
	models     *model.Manager
	sync       *dictation.Service
	controller *ptt.Controller
	input      *input.Service
	perms      *permissions.Registry
	bench      *benchmark.Service
	history    *history.Store
	dictStore  *dictionary.Store
	dictionary *dictionary.Manager
	store      *settings.Store
	saver      *settings.Saver

	settingsMu sync.Mutex
	settings   settings.Settings

	subs  []*nats.Subscription
	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg: cfg,
		log: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.log)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	if err := r.startBus(ctx); err != nil {
		return err
	}
	if err := r.startServices(ctx); err != nil {
		return err
	}
	if err := r.subscribeBus(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.log.Info("runtime started",
		slog.String("addr", addr),
		slog.Bool("fixture_backend", r.fixture))

	<-ctx.Done()
	r.log.Info("runtime stopping")
	r.shutdown()
	return nil
}

// startBus brings up the embedded broker and the client connection. A
// failed connection is tolerated when fixture fallback is enabled; the
// app then runs without a bus and without a real backend.
func (r *Runtime) startBus(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.log)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}

	client, err := bus.Connect(busCfg, r.log)
	if err != nil {
		if !r.cfg.Backend.FixtureFallback {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.log.Warn("bus unreachable, continuing with fixture backend",
			slog.String("error", err.Error()))
		r.fixture = true
		return nil
	}
	r.client = client

	if err := backend.Probe(ctx, client.Conn(), r.cfg.Backend, r.log); err != nil {
		if !r.cfg.Backend.FixtureFallback {
			return fmt.Errorf("speech backend unreachable: %w", err)
		}
		// Deliberately silent beyond logs: the UI sees a working app in
		// fixture mode, not a connection error.
		r.log.Info("speech backend did not answer probe, using fixture backend")
		r.fixture = true
	}
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	r.store = settings.NewStore(r.cfg.Settings.Path)
	loaded, err := r.store.Load()
	if err != nil {
		r.log.Warn("settings load failed, using defaults", slog.String("error", err.Error()))
		loaded = settings.Default()
	}
	if !r.store.Exists() {
		loaded = r.seedDefaultHotkeys(loaded)
	}
	r.settings = loaded
	r.saver = settings.NewSaver(r.store, time.Duration(r.cfg.Settings.SaveDelayMS)*time.Millisecond, r.log)

	if r.fixture {
		r.commander = backend.NewFixtureCommander(
			time.Duration(r.cfg.Backend.FixtureInstallMS)*time.Millisecond,
			r.publish, r.log)
	} else {
		r.commander = backend.NewNATSCommander(r.client.Conn(), r.cfg.Backend, r.log)
	}
	r.pushBackendConfig(ctx, loaded)

	index := model.NewInstalledIndex(r.cfg.Models.IndexPath, r.cfg.Models.Dir)
	if err := index.Load(); err != nil {
		r.log.Warn("installed model index load failed", slog.String("error", err.Error()))
	}
	models, err := model.NewManager(r.commander, model.DefaultCatalog(), index,
		loaded.ActiveModel, r.cfg.Models.DefaultModel, r.cfg.Models.PreferredFallback, r.log)
	if err != nil {
		return fmt.Errorf("failed to create model manager: %w", err)
	}
	r.models = models

	r.sync = dictation.NewService(ctx, r.client, r.cfg.Dictation, models.ActiveModel(), r.fixture, r.log)
	if err := r.sync.Start(); err != nil {
		return fmt.Errorf("failed to start dictation sync: %w", err)
	}

	driver := dictation.NewDriver(models, r.commander, r.sync, r.fixture, r.log)

	toggle, push := r.combosFrom(loaded)
	r.controller = ptt.NewController(ctx, driver, toggle, push, "microphone", r.log)

	r.input = input.NewService(r.client, r.controller, r.log)
	if err := r.input.Start(ctx); err != nil {
		return fmt.Errorf("failed to start input service: %w", err)
	}

	perms, err := permissions.NewRegistry(ctx, r.client, r.commander, r.log)
	if err != nil {
		return fmt.Errorf("failed to create permission registry: %w", err)
	}
	if err := perms.Start(); err != nil {
		return fmt.Errorf("failed to start permission registry: %w", err)
	}
	r.perms = perms

	constraints := benchmark.Constraints{
		MaxP95LatencyMS: int64(r.cfg.Models.MaxLatencyMS),
		MaxRTF:          r.cfg.Models.MaxRTF,
	}
	r.bench = benchmark.NewService(ctx, r.client, models, r.sync.Idle, constraints, r.log)
	if err := r.bench.Start(); err != nil {
		return fmt.Errorf("failed to start benchmark service: %w", err)
	}

	policy := history.Policy{
		Mode:        r.cfg.History.RetentionMode,
		Days:        r.cfg.History.RetentionDays,
		MaxSessions: r.cfg.History.MaxSessions,
	}
	historyStore, err := history.Open(r.cfg.History.Path, policy, r.log)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	r.history = historyStore
	if r.cfg.History.VacuumOnStart {
		if err := historyStore.Vacuum(ctx); err != nil {
			r.log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	dictStore, err := dictionary.Open(r.cfg.Dictionary.Path, r.cfg.Dictionary.QueueLimit)
	if err != nil {
		return fmt.Errorf("failed to open dictionary store: %w", err)
	}
	r.dictStore = dictStore
	r.dictionary = dictionary.NewManager(dictStore, r.log)
	if err := r.dictionary.RefreshQueueSync(ctx); err != nil {
		r.log.Warn("dictionary queue load failed", slog.String("error", err.Error()))
	}
	r.dictionary.StartPolling(ctx, time.Duration(r.cfg.Dictionary.PollInterval)*time.Millisecond)

	return nil
}

// subscribeBus wires the event subjects that feed local state: model
// progress into the manager, final transcripts into history and the
// dictionary candidate queue.
func (r *Runtime) subscribeBus() error {
	if r.client == nil {
		return nil
	}
	conn := r.client.Conn()

	progress, err := conn.Subscribe(protocol.SubjectModelProgress, r.onModelProgress)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, progress)

	transcripts, err := conn.Subscribe(protocol.SubjectDictationTranscript, r.onTranscript)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, transcripts)
	return nil
}

func (r *Runtime) onModelProgress(msg *nats.Msg) {
	var ev protocol.ModelEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("dropping malformed model event", slog.String("error", err.Error()))
		return
	}
	r.models.ApplyEvent(ev)
}

func (r *Runtime) onTranscript(msg *nats.Msg) {
	var ev protocol.TranscriptEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("dropping malformed transcript event", slog.String("error", err.Error()))
		return
	}
	if !ev.Final || ev.Text == "" {
		return
	}

	ctx := context.Background()
	if err := r.history.RecordSession(ctx, ev.SessionID, ev.Text, "", true, ""); err != nil {
		r.log.Warn("history record failed", slog.String("error", err.Error()))
	}

	lowConfidence := ev.Confidence > 0 && ev.Confidence < dictionary.LowConfidenceThreshold
	if _, err := r.dictionary.IngestTranscript(ctx, ev.Text, lowConfidence); err != nil {
		r.log.Warn("dictionary ingest failed", slog.String("error", err.Error()))
	}
}

// publish is the fixture commander's event outlet. Without a bus the
// events are dropped; the synchronous replies still carry the outcome.
func (r *Runtime) publish(subject string, payload any) {
	if r.client == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := r.client.Conn().Publish(subject, data); err != nil {
		r.log.Warn("event publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

// seedDefaultHotkeys applies the configured default combos to fresh
// settings. A persisted settings file always wins over config.
func (r *Runtime) seedDefaultHotkeys(s settings.Settings) settings.Settings {
	if _, err := hotkey.ParseCombo(r.cfg.Hotkeys.Toggle); err == nil {
		s.ToggleHotkey = r.cfg.Hotkeys.Toggle
	} else {
		r.log.Warn("ignoring unparsable hotkeys.toggle", slog.String("combo", r.cfg.Hotkeys.Toggle))
	}
	if _, err := hotkey.ParseCombo(r.cfg.Hotkeys.PushToTalk); err == nil {
		s.PushToTalkHotkey = r.cfg.Hotkeys.PushToTalk
	} else {
		r.log.Warn("ignoring unparsable hotkeys.push_to_talk", slog.String("combo", r.cfg.Hotkeys.PushToTalk))
	}
	return settings.Normalize(s)
}

// pushBackendConfig hands the persisted settings and hotkeys to a
// freshly selected backend so it never runs on its own defaults.
func (r *Runtime) pushBackendConfig(ctx context.Context, s settings.Settings) {
	if err := r.commander.UpdateSettings(ctx, s); err != nil {
		r.log.Warn("startup settings push failed", slog.String("error", err.Error()))
	}
	if err := r.commander.UpdateHotkeys(ctx, s.ToggleHotkey, s.PushToTalkHotkey); err != nil {
		r.log.Warn("startup hotkey push failed", slog.String("error", err.Error()))
	}
}

// combosFrom resolves the bound hotkeys: the persisted setting wins,
// the configured default backs an unparsable one, the built-in combo
// backs a bad config.
func (r *Runtime) combosFrom(s settings.Settings) (hotkey.Combo, hotkey.Combo) {
	toggle := firstParsableCombo(s.ToggleHotkey, r.cfg.Hotkeys.Toggle, settings.DefaultToggleHotkey)
	push := firstParsableCombo(s.PushToTalkHotkey, r.cfg.Hotkeys.PushToTalk, settings.DefaultPushToTalkHotkey)
	return toggle, push
}

func firstParsableCombo(candidates ...string) hotkey.Combo {
	for _, text := range candidates {
		if combo, err := hotkey.ParseCombo(text); err == nil {
			return combo
		}
	}
	combo, _ := hotkey.ParseCombo(settings.DefaultToggleHotkey)
	return combo
}

func (r *Runtime) shutdown() {
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.log.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	if r.input != nil {
		r.input.Close()
	}
	if r.bench != nil {
		r.bench.Close()
	}
	if r.perms != nil {
		r.perms.Close()
	}
	if r.sync != nil {
		r.sync.Close()
	}
	if r.saver != nil {
		r.saver.Flush()
	}
	if r.dictStore != nil {
		if err := r.dictStore.Close(); err != nil {
			r.log.Warn("dictionary close error", slog.String("error", err.Error()))
		}
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.log.Warn("history close error", slog.String("error", err.Error()))
		}
	}
	r.client.Close()
	r.embedded.Shutdown()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.log.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
