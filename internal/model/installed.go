package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// InstalledModel records one verified model artifact on disk.
type InstalledModel struct {
	ModelID          string    `json:"model_id"`
	Version          string    `json:"version"`
	Format           string    `json:"format"`
	SizeBytes        int64     `json:"size_bytes"`
	FilePath         string    `json:"file_path,omitempty"`
	SHA256           string    `json:"sha256"`
	InstalledAt      time.Time `json:"installed_at"`
	ChecksumVerified bool      `json:"checksum_verified"`
}

type installedIndexFile struct {
	Installed []InstalledModel `json:"installed"`
}

// InstalledIndex is the persisted set of installed models, keyed by id.
type InstalledIndex struct {
	path string
	dir  string

	mu     sync.Mutex
	models map[string]InstalledModel
}

// NewInstalledIndex returns an index persisted at path. Relative
// artifact paths in records resolve against dir, the models directory
// the backend downloads into.
func NewInstalledIndex(path, dir string) *InstalledIndex {
	return &InstalledIndex{
		path:   path,
		dir:    dir,
		models: make(map[string]InstalledModel),
	}
}

// Load reads the index and drops entries whose artifact disappeared from
// disk, so a manually deleted model file never reports as installed.
func (x *InstalledIndex) Load() error {
	raw, err := os.ReadFile(x.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read installed index: %w", err)
	}

	var file installedIndexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse installed index: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.models = make(map[string]InstalledModel, len(file.Installed))
	dropped := 0
	for _, m := range file.Installed {
		if m.FilePath != "" {
			if _, statErr := os.Stat(x.resolveArtifact(m.FilePath)); statErr != nil {
				dropped++
				continue
			}
		}
		x.models[m.ModelID] = m
	}
	if dropped > 0 {
		return x.persistLocked()
	}
	return nil
}

func (x *InstalledIndex) Add(m InstalledModel) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.models[m.ModelID] = m
	return x.persistLocked()
}

func (x *InstalledIndex) Remove(modelID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.models[modelID]; !ok {
		return nil
	}
	delete(x.models, modelID)
	return x.persistLocked()
}

func (x *InstalledIndex) Get(modelID string) (InstalledModel, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	m, ok := x.models[modelID]
	return m, ok
}

// List returns installed models ordered by install time.
func (x *InstalledIndex) List() []InstalledModel {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]InstalledModel, 0, len(x.models))
	for _, m := range x.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstalledAt.Before(out[j].InstalledAt)
	})
	return out
}

func (x *InstalledIndex) resolveArtifact(p string) string {
	if x.dir != "" && !filepath.IsAbs(p) {
		return filepath.Join(x.dir, p)
	}
	return p
}

func (x *InstalledIndex) persistLocked() error {
	file := installedIndexFile{Installed: make([]InstalledModel, 0, len(x.models))}
	for _, m := range x.models {
		file.Installed = append(file.Installed, m)
	}
	sort.Slice(file.Installed, func(i, j int) bool {
		return file.Installed[i].ModelID < file.Installed[j].ModelID
	})

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode installed index: %w", err)
	}
	if dir := filepath.Dir(x.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}
	if err := os.WriteFile(x.path, raw, 0o644); err != nil {
		return fmt.Errorf("write installed index: %w", err)
	}
	return nil
}
