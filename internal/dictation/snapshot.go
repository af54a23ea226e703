// Package dictation merges backend state, transcript, permission and mic
// events into one coherent snapshot the presentation layer renders.
package dictation

// State is the HUD-visible dictation lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateInserted     State = "inserted"
	StateError        State = "error"
)

// Snapshot is the single observable view of a dictation session. It is
// recomputed in place by event application and pushed to observers and
// the snapshot subject on every change.
type Snapshot struct {
	State       State   `json:"state"`
	SessionID   string  `json:"session_id,omitempty"`
	LastPartial string  `json:"last_partial,omitempty"`
	LastFinal   string  `json:"last_final,omitempty"`
	ActiveModel string  `json:"active_model"`
	MicLevel    float64 `json:"mic_level"`
	Microphone  string  `json:"microphone_permission,omitempty"`
	Insertion   string  `json:"insertion_permission,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
	FixtureMode bool    `json:"fixture_mode,omitempty"`

	AudioWarning     string `json:"audio_warning,omitempty"`
	LastLatencyMS    int64  `json:"last_latency_ms,omitempty"`
	ReleaseToFinalMS int64  `json:"release_to_final_ms,omitempty"`
}
