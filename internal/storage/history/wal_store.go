package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/mirror/internal/domain"
)

const (
	DefaultDir   = "./data/history"
	segmentLimit = 100
	maxSegments  = 1000

	entryKeyPrefix = "history_"
)

type sequence struct {
	wal *gowal.Wal
	mu  sync.RWMutex
	// last fingerprint recorded per client
	last map[string]string
}

// WALStore keeps the live and the simulated history in two separate WALs.
// Entries are append-only and never merged across sequences.
type WALStore struct {
	seqs map[domain.HistorySequence]*sequence
}

// NewWALStore opens (or creates) both sequences under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	s := &WALStore{seqs: make(map[domain.HistorySequence]*sequence, 2)}
	for _, name := range []domain.HistorySequence{domain.SequenceLive, domain.SequenceSimulated} {
		seq, err := openSequence(filepath.Join(dir, string(name)))
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrapf(err, "open %s history", name)
		}
		s.seqs[name] = seq
	}
	return s, nil
}

func openSequence(dir string) (*sequence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "history_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init history WAL")
	}

	seq := &sequence{wal: wal, last: make(map[string]string)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, entryKeyPrefix) {
			continue
		}
		var entry domain.HistoryEntry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			continue
		}
		seq.last[entry.ClientID] = entry.Fingerprint
	}
	return seq, nil
}

func (s *WALStore) sequence(name domain.HistorySequence) (*sequence, error) {
	if s == nil {
		return nil, errors.New("history store is not initialized")
	}
	seq, ok := s.seqs[name]
	if !ok || seq.wal == nil {
		return nil, fmt.Errorf("unknown history sequence %q", name)
	}
	return seq, nil
}

// Append writes entry to the named sequence.
func (s *WALStore) Append(name domain.HistorySequence, entry domain.HistoryEntry) error {
	seq, err := s.sequence(name)
	if err != nil {
		return err
	}

	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.append(entry)
}

// AppendIfChanged writes entry only when its fingerprint differs from the last
// one recorded for the same client. Reports whether the entry was written.
func (s *WALStore) AppendIfChanged(name domain.HistorySequence, entry domain.HistoryEntry) (bool, error) {
	seq, err := s.sequence(name)
	if err != nil {
		return false, err
	}

	seq.mu.Lock()
	defer seq.mu.Unlock()

	if last, ok := seq.last[entry.ClientID]; ok && last == entry.Fingerprint {
		return false, nil
	}
	if err := seq.append(entry); err != nil {
		return false, err
	}
	return true, nil
}

func (seq *sequence) append(entry domain.HistoryEntry) error {
	if entry.ClientID == "" {
		return fmt.Errorf("history entry client id is required")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal history entry")
	}

	key := entryKeyPrefix + entry.ClientID
	nextIndex := seq.wal.CurrentIndex() + 1
	if err := seq.wal.Write(nextIndex, key, payload); err != nil {
		return errors.Wrap(err, "write history entry")
	}
	seq.last[entry.ClientID] = entry.Fingerprint
	return nil
}

// LastFingerprint returns the fingerprint of the latest entry recorded for clientID.
func (s *WALStore) LastFingerprint(name domain.HistorySequence, clientID string) (string, bool) {
	seq, err := s.sequence(name)
	if err != nil {
		return "", false
	}
	seq.mu.RLock()
	defer seq.mu.RUnlock()
	fp, ok := seq.last[clientID]
	return fp, ok
}

// Entries returns the entries of the sequence in write order. An empty
// clientID returns entries of every client.
func (s *WALStore) Entries(name domain.HistorySequence, clientID string) ([]domain.HistoryEntry, error) {
	seq, err := s.sequence(name)
	if err != nil {
		return nil, err
	}

	seq.mu.RLock()
	defer seq.mu.RUnlock()

	var entries []domain.HistoryEntry
	for msg := range seq.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, entryKeyPrefix) {
			continue
		}
		if clientID != "" && msg.Key != entryKeyPrefix+clientID {
			continue
		}
		var entry domain.HistoryEntry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			return nil, errors.Wrap(err, "decode history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes both WALs.
func (s *WALStore) Close() error {
	if s == nil {
		return errors.New("history store is not initialized")
	}

	var firstErr error
	for _, seq := range s.seqs {
		seq.mu.Lock()
		if err := seq.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		seq.mu.Unlock()
	}
	return firstErr
}
