// Package simstate persists the simulation paper ledger per client.
package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultStateDir = "./data/simulation"

// Store persists one client's paper ledger so restarts keep simulated holdings.
type Store struct {
	path string
}

func getStateDir(dir string) string {
	if dir != "" {
		return dir
	}
	if stateDir := os.Getenv("MIRROR_SIMULATION_STATE_DIR"); stateDir != "" {
		return stateDir
	}
	return defaultStateDir
}

// NewStore creates a ledger store for clientID under dir.
func NewStore(dir, clientID string) (*Store, error) {
	stateDir := getStateDir(dir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulation state dir")
	}

	storeFileName := sanitizeScope(clientID)
	if storeFileName == "" {
		return nil, fmt.Errorf("invalid client id %q", clientID)
	}

	return &Store{path: filepath.Join(stateDir, storeFileName+".json")}, nil
}

// State is the serialized paper ledger. Decimal values are kept as strings.
type State struct {
	ClientID    string                   `json:"client_id"`
	AccountID   string                   `json:"account_id"`
	Cash        string                   `json:"cash"`
	BuyingPower string                   `json:"buying_power"`
	Holdings    map[string]StoredHolding `json:"holdings"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// StoredHolding is one simulated position.
type StoredHolding struct {
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
}

// Load reads the ledger from disk. Returns nil when nothing was saved yet.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read simulation state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode simulation state")
	}

	return &state, nil
}

// Save writes the ledger to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulation state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulation state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulation state")
	}

	return nil
}

// Remove deletes the saved ledger, e.g. to reseed from the live account.
func (s *Store) Remove() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove simulation state")
	}
	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
