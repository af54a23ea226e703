package protocol

import "time"

// KeyEvent is a raw keyboard event forwarded by the UI shell. The reply to
// a key subject carries a KeyDecision so the shell knows whether to swallow
// the host default action.
type KeyEvent struct {
	Key      string    `json:"key"`
	Code     string    `json:"code"`
	Ctrl     bool      `json:"ctrl"`
	Shift    bool      `json:"shift"`
	Alt      bool      `json:"alt"`
	Meta     bool      `json:"meta"`
	Repeat   bool      `json:"repeat"`
	Editable bool      `json:"editable"`
	At       time.Time `json:"at"`
}

type KeyDecision struct {
	Handled bool `json:"handled"`
}

// StateEvent reports a dictation lifecycle transition from the backend.
type StateEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEvent carries partial or final recognized text. Confidence
// is the decoder's average segment confidence in [0,1]; zero means the
// backend did not report one.
type TranscriptEvent struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Confidence float64   `json:"confidence,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// MicLevelEvent reports instantaneous input level in [0,1].
type MicLevelEvent struct {
	Level float64 `json:"level"`
	Error string  `json:"error,omitempty"`
}

// ModelEvent reports install/download progress for one model.
type ModelEvent struct {
	ModelID         string    `json:"model_id"`
	State           string    `json:"state"`
	Progress        int       `json:"progress"`
	Message         string    `json:"message,omitempty"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// PermissionEvent reports microphone / insertion capability changes.
type PermissionEvent struct {
	Microphone string `json:"microphone"`
	Insertion  string `json:"insertion"`
	Message    string `json:"message,omitempty"`
}

// HotkeyFiredEvent reports an OS-level global shortcut detected by the
// backend while the shell window had no keyboard focus.
type HotkeyFiredEvent struct {
	Hotkey    string    `json:"hotkey"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// Hotkey names and phases carried in HotkeyFiredEvent.
const (
	HotkeyToggle     = "toggle"
	HotkeyPushToTalk = "push_to_talk"

	HotkeyPhaseDown = "down"
	HotkeyPhaseUp   = "up"
)

// AudioQualityEvent summarizes capture quality for the last utterance.
type AudioQualityEvent struct {
	SessionID    string  `json:"session_id"`
	SNRDecibels  float64 `json:"snr_db"`
	ClippedRatio float64 `json:"clipped_ratio"`
}

// LatencyEvent is the per-session latency breakdown the backend publishes
// after every completed dictation.
type LatencyEvent struct {
	SessionID         string `json:"session_id"`
	ModelID           string `json:"model_id"`
	CaptureMS         int64  `json:"capture_ms"`
	DecodeMS          int64  `json:"decode_ms"`
	InsertMS          int64  `json:"insert_ms"`
	TotalMS           int64  `json:"total_ms"`
	ReleaseToFinalMS  int64  `json:"release_to_final_ms"`
	AudioDurationMS   int64  `json:"audio_duration_ms"`
	WatchdogRecovered bool   `json:"watchdog_recovered"`
	InsertionMethod   string `json:"insertion_method,omitempty"`
	SegmentsCaptured  int    `json:"segments_captured"`
}

// CaptureRequest starts or stops audio capture for a session.
type CaptureRequest struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode,omitempty"`
}

// ModelRequest addresses a single catalog model.
type ModelRequest struct {
	ModelID string `json:"model_id"`
}

// ModelReply is the backend's synchronous answer to a model command.
type ModelReply struct {
	ModelID         string `json:"model_id"`
	State           string `json:"state"`
	Progress        int    `json:"progress"`
	Message         string `json:"message,omitempty"`
	DownloadedBytes int64  `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64  `json:"total_bytes,omitempty"`
}

// BenchmarkRequest asks the backend to benchmark the given models.
type BenchmarkRequest struct {
	ModelIDs     []string `json:"model_ids,omitempty"`
	RunsPerModel int      `json:"runs_per_model,omitempty"`
}

// BenchmarkRowEvent is one benchmarked model inside a result set.
type BenchmarkRowEvent struct {
	ModelID      string  `json:"model_id"`
	Runs         int     `json:"runs"`
	P50LatencyMS int64   `json:"p50_latency_ms"`
	P95LatencyMS int64   `json:"p95_latency_ms"`
	AverageRTF   float64 `json:"average_rtf"`
	SampleCount  int     `json:"sample_count,omitempty"`
	SuccessRate  float64 `json:"success_rate_percent,omitempty"`
}

// BenchmarkResultEvent is published once per completed benchmark pass.
type BenchmarkResultEvent struct {
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Rows        []BenchmarkRowEvent `json:"rows"`
}

// Model lifecycle states carried in ModelEvent and ModelReply.
const (
	ModelStateIdle        = "idle"
	ModelStateDownloading = "downloading"
	ModelStatePaused      = "paused"
	ModelStateInstalled   = "installed"
	ModelStateFailed      = "failed"
	ModelStateCancelled   = "cancelled"
)

// Subjects consumed and produced by the core.
const (
	SubjectUIKeyDown      = "vw.ui.key.down"
	SubjectUIKeyUp        = "vw.ui.key.up"
	SubjectUIWindowBlur   = "vw.ui.window.blur"
	SubjectUIWindowHidden = "vw.ui.window.hidden"

	SubjectDictationState      = "vw.dictation.state"
	SubjectDictationTranscript = "vw.dictation.transcript"
	SubjectDictationMicLevel   = "vw.dictation.miclevel"
	SubjectModelProgress       = "vw.model.progress"
	SubjectPermissionChanged   = "vw.permission.changed"
	SubjectBenchmarkResult     = "vw.benchmark.result"
	SubjectAudioQuality        = "vw.audio.quality"
	SubjectLatencyBreakdown    = "vw.latency.breakdown"
	SubjectHotkeyFired         = "vw.hotkey.fired"

	SubjectCmdCaptureStart  = "vw.cmd.capture.start"
	SubjectCmdCaptureStop   = "vw.cmd.capture.stop"
	SubjectCmdModelInstall  = "vw.cmd.model.install"
	SubjectCmdModelPause    = "vw.cmd.model.pause"
	SubjectCmdModelResume   = "vw.cmd.model.resume"
	SubjectCmdModelCancel   = "vw.cmd.model.cancel"
	SubjectCmdModelActivate = "vw.cmd.model.activate"
	SubjectCmdBenchmarkRun  = "vw.cmd.benchmark.run"
	SubjectCmdMicPermission = "vw.cmd.mic.permission"
	SubjectCmdSettings      = "vw.cmd.settings.update"
	SubjectCmdHotkeys       = "vw.cmd.hotkeys.update"

	SubjectSnapshot       = "vw.snapshot"
	SubjectRecommendation = "vw.benchmark.recommendation"

	SubjectBackendPing = "vw.backend.ping"
)
