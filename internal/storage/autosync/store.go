// Package autosync persists the singleton Auto Sync state.
package autosync

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/mirror/internal/domain"
)

const (
	DefaultDir = "./data"
	fileName   = "auto_sync_state.json"
)

// Store reads and writes the Auto Sync state file. Writes replace the file
// atomically so a crash never leaves a torn record behind.
type Store struct {
	path string
}

// NewStore creates a store keeping its file in dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create auto sync state dir")
	}
	return &Store{path: filepath.Join(dir, fileName)}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state. A missing or empty file means stopped.
func (s *Store) Load() (domain.AutoSyncState, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.AutoSyncState{}, nil
		}
		return domain.AutoSyncState{}, errors.Wrap(err, "read auto sync state")
	}

	if len(payload) == 0 {
		return domain.AutoSyncState{}, nil
	}

	var state domain.AutoSyncState
	if err := json.Unmarshal(payload, &state); err != nil {
		return domain.AutoSyncState{}, errors.Wrap(err, "decode auto sync state")
	}
	return state, nil
}

// Save writes the state via a temp file and rename.
func (s *Store) Save(state domain.AutoSyncState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode auto sync state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write auto sync state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist auto sync state")
	}
	return nil
}
