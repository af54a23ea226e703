package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voicewave/voicewave-core/internal/protocol"
	"github.com/voicewave/voicewave-core/internal/settings"
)

// registerAPI mounts the JSON control surface for the presentation
// layer. Dictation itself never goes through HTTP; hotkeys and window
// events arrive over the bus.
func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/snapshot", r.handleSnapshot)

	mux.HandleFunc("GET /v1/settings", r.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", r.handlePutSettings)

	mux.HandleFunc("GET /v1/models", r.handleModels)
	mux.HandleFunc("POST /v1/models/{id}/install", r.modelAction(r.models.Install))
	mux.HandleFunc("POST /v1/models/{id}/pause", r.modelAction(r.models.Pause))
	mux.HandleFunc("POST /v1/models/{id}/resume", r.modelAction(r.models.Resume))
	mux.HandleFunc("POST /v1/models/{id}/cancel", r.modelAction(r.models.Cancel))
	mux.HandleFunc("POST /v1/models/{id}/activate", r.modelAction(r.models.SetActive))

	mux.HandleFunc("GET /v1/history", r.handleHistory)
	mux.HandleFunc("DELETE /v1/history", r.handleClearHistory)

	mux.HandleFunc("GET /v1/dictionary/terms", r.handleDictionaryTerms)
	mux.HandleFunc("POST /v1/dictionary/terms", r.handleAddTerm)
	mux.HandleFunc("DELETE /v1/dictionary/terms/{id}", r.handleRemoveTerm)
	mux.HandleFunc("GET /v1/dictionary/queue", r.handleDictionaryQueue)
	mux.HandleFunc("POST /v1/dictionary/queue/{id}/approve", r.handleApproveTerm)
	mux.HandleFunc("POST /v1/dictionary/queue/{id}/reject", r.handleRejectTerm)

	mux.HandleFunc("POST /v1/benchmark/run", r.handleRunBenchmark)
	mux.HandleFunc("GET /v1/benchmark/recommendation", r.handleRecommendation)

	mux.HandleFunc("POST /v1/permissions/microphone", r.handleRequestMic)
}

func (r *Runtime) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.sync.Snapshot())
}

func (r *Runtime) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	r.settingsMu.Lock()
	current := r.settings
	r.settingsMu.Unlock()
	writeJSON(w, http.StatusOK, current)
}

func (r *Runtime) handlePutSettings(w http.ResponseWriter, req *http.Request) {
	var next settings.Settings
	if err := json.NewDecoder(req.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}
	writeJSON(w, http.StatusOK, r.applySettings(req.Context(), next))
}

// applySettings normalizes the incoming value and propagates the
// differences: hotkeys to the controller and backend, active model to
// the manager, everything to the debounced saver.
func (r *Runtime) applySettings(ctx context.Context, next settings.Settings) settings.Settings {
	next = settings.Normalize(next)

	r.settingsMu.Lock()
	prev := r.settings
	r.settings = next
	r.settingsMu.Unlock()

	r.saver.Queue(next)

	if next.ToggleHotkey != prev.ToggleHotkey || next.PushToTalkHotkey != prev.PushToTalkHotkey {
		toggle, push := r.combosFrom(next)
		r.controller.UpdateCombos(toggle, push)
		if err := r.commander.UpdateHotkeys(ctx, next.ToggleHotkey, next.PushToTalkHotkey); err != nil {
			r.log.Warn("hotkey update not delivered to backend", slog.String("error", err.Error()))
		}
	}

	if next.ActiveModel != prev.ActiveModel {
		if err := r.models.SetActive(ctx, next.ActiveModel); err != nil {
			r.log.Warn("active model switch failed",
				slog.String("model_id", next.ActiveModel),
				slog.String("error", err.Error()))
		} else {
			r.sync.SetActiveModel(next.ActiveModel)
		}
	}

	if err := r.commander.UpdateSettings(ctx, next); err != nil {
		r.log.Warn("settings update not delivered to backend", slog.String("error", err.Error()))
	}
	return next
}

func (r *Runtime) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   r.models.ActiveModel(),
		"catalog":  r.models.Catalog(),
		"statuses": r.models.Statuses(),
	})
}

func (r *Runtime) modelAction(action func(ctx context.Context, modelID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		modelID := req.PathValue("id")
		if err := action(req.Context(), modelID); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		status, _ := r.models.Status(modelID)
		writeJSON(w, http.StatusOK, status)
	}
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	includeFailed := req.URL.Query().Get("failed") == "true"
	records, err := r.history.Records(req.Context(), limit, includeFailed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Runtime) handleClearHistory(w http.ResponseWriter, req *http.Request) {
	removed, err := r.history.Clear(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (r *Runtime) handleDictionaryTerms(w http.ResponseWriter, req *http.Request) {
	terms, err := r.dictionary.Terms(req.Context(), req.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func (r *Runtime) handleAddTerm(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Term string `json:"term"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	if err := r.dictionary.AddTerm(req.Context(), body.Term); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleRemoveTerm(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid term id")
		return
	}
	if err := r.dictionary.RemoveTerm(req.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleDictionaryQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.dictionary.PendingQueue())
}

func (r *Runtime) handleApproveTerm(w http.ResponseWriter, req *http.Request) {
	r.queueAction(w, req, r.dictionary.Approve)
}

func (r *Runtime) handleRejectTerm(w http.ResponseWriter, req *http.Request) {
	r.queueAction(w, req, r.dictionary.Reject)
}

func (r *Runtime) queueAction(w http.ResponseWriter, req *http.Request, action func(ctx context.Context, id int64) error) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue id")
		return
	}
	if err := action(req.Context(), id); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleRunBenchmark(w http.ResponseWriter, req *http.Request) {
	var benchReq protocol.BenchmarkRequest
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&benchReq); err != nil {
			writeError(w, http.StatusBadRequest, "invalid benchmark request")
			return
		}
	}
	if err := r.commander.RunBenchmark(req.Context(), benchReq); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleRecommendation(w http.ResponseWriter, _ *http.Request) {
	rec, ok := r.bench.LastRecommendation()
	if !ok {
		writeError(w, http.StatusNotFound, "no benchmark has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (r *Runtime) handleRequestMic(w http.ResponseWriter, req *http.Request) {
	if err := r.perms.RequestMicrophone(req.Context()); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, r.perms.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
