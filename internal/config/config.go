package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// BackendConfig controls how the core reaches the speech backend over the
// bus, and what happens when it cannot.
type BackendConfig struct {
	CommandTimeout   int  `yaml:"command_timeout_ms"`
	InstallTimeout   int  `yaml:"install_timeout_ms"`
	ConnectAttempts  int  `yaml:"connect_attempts"`
	FixtureFallback  bool `yaml:"fixture_fallback"`
	FixtureInstallMS int  `yaml:"fixture_install_ms"`
}

type ModelsConfig struct {
	Dir               string   `yaml:"dir"`
	IndexPath         string   `yaml:"index_path"`
	DefaultModel      string   `yaml:"default_model"`
	PreferredFallback []string `yaml:"preferred_fallback"`
	MaxLatencyMS      int      `yaml:"max_p95_latency_ms"`
	MaxRTF            float64  `yaml:"max_rtf"`
}

type DictationConfig struct {
	FixtureStageMS   int     `yaml:"fixture_stage_ms"`
	MicLevelDelta    float64 `yaml:"mic_level_delta"`
	MicLevelMinGapMS int     `yaml:"mic_level_min_gap_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type DictionaryConfig struct {
	Path         string `yaml:"path"`
	PollInterval int    `yaml:"poll_interval_ms"`
	QueueLimit   int    `yaml:"queue_limit"`
}

type HotkeysConfig struct {
	Toggle     string `yaml:"toggle"`
	PushToTalk string `yaml:"push_to_talk"`
}

type SettingsConfig struct {
	Path        string `yaml:"path"`
	SaveDelayMS int    `yaml:"save_delay_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Backend     BackendConfig    `yaml:"backend"`
	Models      ModelsConfig     `yaml:"models"`
	Dictation   DictationConfig  `yaml:"dictation"`
	History     HistoryConfig    `yaml:"history"`
	Dictionary  DictionaryConfig `yaml:"dictionary"`
	Hotkeys     HotkeysConfig    `yaml:"hotkeys"`
	Settings    SettingsConfig   `yaml:"settings"`
}

func Default() Config {
	return Config{
		RuntimeName: "voicewave-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8217,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9217",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Backend: BackendConfig{
			CommandTimeout:   3000,
			InstallTimeout:   600000,
			ConnectAttempts:  4,
			FixtureFallback:  true,
			FixtureInstallMS: 40,
		},
		Models: ModelsConfig{
			Dir:          "./data/models",
			IndexPath:    "./data/models.json",
			DefaultModel: "small.en",
			PreferredFallback: []string{
				"small.en", "base.en", "tiny.en",
			},
			MaxLatencyMS: 5000,
			MaxRTF:       1.2,
		},
		Dictation: DictationConfig{
			FixtureStageMS:   400,
			MicLevelDelta:    0.02,
			MicLevelMinGapMS: 120,
		},
		History: HistoryConfig{
			Path:          "./data/voicewave-history.db",
			RetentionMode: "days",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Dictionary: DictionaryConfig{
			Path:         "./data/voicewave-dictionary.db",
			PollInterval: 2000,
			QueueLimit:   200,
		},
		Hotkeys: HotkeysConfig{
			Toggle:     "Ctrl+Shift+Space",
			PushToTalk: "Ctrl+Alt+Space",
		},
		Settings: SettingsConfig{
			Path:        "./data/settings.json",
			SaveDelayMS: 500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICEWAVE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICEWAVE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEWAVE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEWAVE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEWAVE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEWAVE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEWAVE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEWAVE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOICEWAVE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEWAVE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEWAVE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEWAVE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEWAVE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEWAVE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEWAVE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEWAVE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Backend.CommandTimeout, "VOICEWAVE_BACKEND_COMMAND_TIMEOUT_MS")
	overrideInt(&cfg.Backend.InstallTimeout, "VOICEWAVE_BACKEND_INSTALL_TIMEOUT_MS")
	overrideInt(&cfg.Backend.ConnectAttempts, "VOICEWAVE_BACKEND_CONNECT_ATTEMPTS")
	overrideBool(&cfg.Backend.FixtureFallback, "VOICEWAVE_BACKEND_FIXTURE_FALLBACK")
	overrideString(&cfg.Models.Dir, "VOICEWAVE_MODELS_DIR")
	overrideString(&cfg.Models.IndexPath, "VOICEWAVE_MODELS_INDEX_PATH")
	overrideString(&cfg.Models.DefaultModel, "VOICEWAVE_MODELS_DEFAULT")
	overrideStringSlice(&cfg.Models.PreferredFallback, "VOICEWAVE_MODELS_PREFERRED_FALLBACK")
	overrideInt(&cfg.Models.MaxLatencyMS, "VOICEWAVE_MODELS_MAX_P95_LATENCY_MS")
	overrideFloat(&cfg.Models.MaxRTF, "VOICEWAVE_MODELS_MAX_RTF")
	overrideInt(&cfg.Dictation.FixtureStageMS, "VOICEWAVE_DICTATION_FIXTURE_STAGE_MS")
	overrideFloat(&cfg.Dictation.MicLevelDelta, "VOICEWAVE_DICTATION_MIC_LEVEL_DELTA")
	overrideInt(&cfg.Dictation.MicLevelMinGapMS, "VOICEWAVE_DICTATION_MIC_LEVEL_MIN_GAP_MS")
	overrideString(&cfg.History.Path, "VOICEWAVE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "VOICEWAVE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "VOICEWAVE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "VOICEWAVE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "VOICEWAVE_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Dictionary.Path, "VOICEWAVE_DICTIONARY_PATH")
	overrideInt(&cfg.Dictionary.PollInterval, "VOICEWAVE_DICTIONARY_POLL_INTERVAL_MS")
	overrideInt(&cfg.Dictionary.QueueLimit, "VOICEWAVE_DICTIONARY_QUEUE_LIMIT")
	overrideString(&cfg.Hotkeys.Toggle, "VOICEWAVE_HOTKEY_TOGGLE")
	overrideString(&cfg.Hotkeys.PushToTalk, "VOICEWAVE_HOTKEY_PUSH_TO_TALK")
	overrideString(&cfg.Settings.Path, "VOICEWAVE_SETTINGS_PATH")
	overrideInt(&cfg.Settings.SaveDelayMS, "VOICEWAVE_SETTINGS_SAVE_DELAY_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Backend.CommandTimeout <= 0 {
		return errors.New("backend.command_timeout_ms must be positive")
	}
	if cfg.Backend.InstallTimeout < cfg.Backend.CommandTimeout {
		return errors.New("backend.install_timeout_ms must be >= backend.command_timeout_ms")
	}
	if cfg.Backend.ConnectAttempts <= 0 {
		return errors.New("backend.connect_attempts must be >= 1")
	}
	if cfg.Models.DefaultModel == "" {
		return errors.New("models.default_model must not be empty")
	}
	if cfg.Models.IndexPath == "" {
		return errors.New("models.index_path must not be empty")
	}
	if cfg.Models.MaxLatencyMS <= 0 {
		return errors.New("models.max_p95_latency_ms must be positive")
	}
	if cfg.Models.MaxRTF <= 0 {
		return errors.New("models.max_rtf must be positive")
	}
	if cfg.Dictation.FixtureStageMS <= 0 {
		return errors.New("dictation.fixture_stage_ms must be positive")
	}
	if cfg.Dictation.MicLevelDelta < 0 || cfg.Dictation.MicLevelDelta > 1 {
		return errors.New("dictation.mic_level_delta must be within [0,1]")
	}
	if cfg.Dictation.MicLevelMinGapMS <= 0 {
		return errors.New("dictation.mic_level_min_gap_ms must be positive")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "off", "days", "forever":
		// ok
	default:
		return errors.New("history.retention_mode must be one of off|days|forever")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Dictionary.Path == "" {
		return errors.New("dictionary.path must not be empty")
	}
	if cfg.Dictionary.PollInterval <= 0 {
		return errors.New("dictionary.poll_interval_ms must be positive")
	}
	if cfg.Hotkeys.Toggle == "" || cfg.Hotkeys.PushToTalk == "" {
		return errors.New("hotkeys.toggle and hotkeys.push_to_talk must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	return nil
}
