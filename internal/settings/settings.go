// Package settings supplies per-loop settings snapshots consumed when a
// turn starts. Snapshots are plain YAML files under the state directory.
package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

// Snapshot captures the loop settings sampled at turn start.
type Snapshot struct {
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	Model        string `yaml:"model,omitempty"`
}

// Store reads and writes per-loop settings files.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore creates a settings store rooted at dir.
func NewStore(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("settings directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: logger}, nil
}

// Snapshot returns the loop's settings. A missing file yields the zero
// snapshot, not an error.
func (s *Store) Snapshot(loopID schema.LoopID) (Snapshot, error) {
	data, err := os.ReadFile(s.path(loopID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		if s.log != nil {
			s.log.Warn("settings load failed", "loop", loopID, "err", err)
		}
		return Snapshot{}, err
	}
	return snap, nil
}

// Save persists the loop's settings.
func (s *Store) Save(loopID schema.LoopID, snap Snapshot) error {
	if err := schema.ValidateLoopID(loopID); err != nil {
		return err
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(loopID), data, 0o600); err != nil {
		if s.log != nil {
			s.log.Warn("settings save failed", "loop", loopID, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Debug("settings saved", "loop", loopID)
	}
	return nil
}

func (s *Store) path(loopID schema.LoopID) string {
	return filepath.Join(s.dir, "settings-"+string(loopID)+".yaml")
}
