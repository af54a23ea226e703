package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// Store persists settings as pretty-printed JSON at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the settings file, falling back to defaults when it does not
// exist. Loaded values are normalized so a hand-edited file cannot push
// the runtime outside its safe ranges.
func (s *Store) Load() (Settings, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}

	loaded := Default()
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return Settings{}, fmt.Errorf("parse settings file: %w", err)
	}
	return Normalize(loaded), nil
}

func (s *Store) Save(settings Settings) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a settings file has been written yet.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Saver coalesces rapid settings updates (slider drags arrive per tick)
// into a single disk write after a quiet period.
type Saver struct {
	store    *Store
	log      *slog.Logger
	debounce func(func())

	mu      sync.Mutex
	pending Settings
	dirty   bool
}

func NewSaver(store *Store, delay time.Duration, log *slog.Logger) *Saver {
	return &Saver{
		store:    store,
		log:      log,
		debounce: debounce.New(delay),
	}
}

// Queue records the latest settings value and schedules a save.
func (s *Saver) Queue(settings Settings) {
	s.mu.Lock()
	s.pending = settings
	s.dirty = true
	s.mu.Unlock()
	s.debounce(s.flush)
}

// Flush writes any pending value immediately, for shutdown paths.
func (s *Saver) Flush() {
	s.flush()
}

func (s *Saver) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	settings := s.pending
	s.dirty = false
	s.mu.Unlock()

	if err := s.store.Save(settings); err != nil {
		s.log.Warn("settings save failed", slog.String("error", err.Error()))
	}
}
