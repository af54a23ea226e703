// Package settings holds the user-facing dictation settings, their safe
// ranges and the JSON store that persists them.
package settings

import (
	"math"

	"github.com/voicewave/voicewave-core/internal/hotkey"
)

// DecodeMode selects the speed/quality trade-off the backend decoder uses.
type DecodeMode string

const (
	DecodeBalanced DecodeMode = "balanced"
	DecodeFast     DecodeMode = "fast"
	DecodeQuality  DecodeMode = "quality"
)

// Safe ranges. Values outside them come from hand-edited settings files or
// older releases and are clamped rather than rejected.
const (
	RecommendedVADThreshold = 0.014
	MinVADThreshold         = 0.005
	MaxVADThreshold         = 0.04

	MinMaxUtteranceMS = 5_000
	MaxMaxUtteranceMS = 30_000

	MinReleaseTailMS = 120
	MaxReleaseTailMS = 1_500

	shortUtteranceMaxMS  = 8_000
	mediumUtteranceMaxMS = 16_000
)

const (
	DefaultToggleHotkey     = "Ctrl+Shift+Space"
	DefaultPushToTalkHotkey = "Ctrl+Alt+Space"
)

// Settings is the persisted user configuration. JSON field names follow
// the settings file written by earlier releases so upgrades keep working.
type Settings struct {
	InputDevice             string     `json:"inputDevice,omitempty"`
	ActiveModel             string     `json:"activeModel"`
	ShowFloatingHUD         bool       `json:"showFloatingHud"`
	VADThreshold            float64    `json:"vadThreshold"`
	MaxUtteranceMS          int64      `json:"maxUtteranceMs"`
	ReleaseTailMS           int64      `json:"releaseTailMs"`
	DecodeMode              DecodeMode `json:"decodeMode"`
	DiagnosticsOptIn        bool       `json:"diagnosticsOptIn"`
	ToggleHotkey            string     `json:"toggleHotkey"`
	PushToTalkHotkey        string     `json:"pushToTalkHotkey"`
	PreferClipboardFallback bool       `json:"preferClipboardFallback"`
}

func Default() Settings {
	return Settings{
		ActiveModel:      "small.en",
		ShowFloatingHUD:  true,
		VADThreshold:     RecommendedVADThreshold,
		MaxUtteranceMS:   MaxMaxUtteranceMS,
		ReleaseTailMS:    350,
		DecodeMode:       DecodeBalanced,
		ToggleHotkey:     DefaultToggleHotkey,
		PushToTalkHotkey: DefaultPushToTalkHotkey,
	}
}

// Normalize clamps every field into its safe range and repairs hotkey
// bindings that no longer parse. It is pure: the input value is not
// modified.
func Normalize(s Settings) Settings {
	s.VADThreshold = clampVADThreshold(s.VADThreshold)
	s.MaxUtteranceMS = clampInt64(s.MaxUtteranceMS, MinMaxUtteranceMS, MaxMaxUtteranceMS)
	s.ReleaseTailMS = clampInt64(s.ReleaseTailMS, MinReleaseTailMS, MaxReleaseTailMS)

	switch s.DecodeMode {
	case DecodeBalanced, DecodeFast, DecodeQuality:
	default:
		s.DecodeMode = DecodeBalanced
	}

	toggle, err := hotkey.ParseCombo(s.ToggleHotkey)
	if err != nil {
		s.ToggleHotkey = DefaultToggleHotkey
		toggle, _ = hotkey.ParseCombo(DefaultToggleHotkey)
	}
	push, err := hotkey.ParseCombo(s.PushToTalkHotkey)
	if err != nil {
		s.PushToTalkHotkey = DefaultPushToTalkHotkey
		push, _ = hotkey.ParseCombo(DefaultPushToTalkHotkey)
	}
	// Identical bindings would make every gesture ambiguous.
	if toggle.String() == push.String() {
		s.PushToTalkHotkey = DefaultPushToTalkHotkey
		if s.ToggleHotkey == DefaultPushToTalkHotkey {
			s.ToggleHotkey = DefaultToggleHotkey
		}
	}

	if s.ActiveModel == "" {
		s.ActiveModel = Default().ActiveModel
	}
	return s
}

// EffectiveReleaseTailMS caps the configured tail for short utterance
// windows so quick push-to-talk phrases do not pick up trailing noise.
func EffectiveReleaseTailMS(tailMS, maxUtteranceMS int64) int64 {
	switch {
	case maxUtteranceMS <= shortUtteranceMaxMS:
		return min(tailMS, 220)
	case maxUtteranceMS <= mediumUtteranceMaxMS:
		return min(tailMS, 300)
	default:
		return tailMS
	}
}

func clampVADThreshold(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return RecommendedVADThreshold
	}
	return math.Min(math.Max(value, MinVADThreshold), MaxVADThreshold)
}

func clampInt64(value, lo, hi int64) int64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
