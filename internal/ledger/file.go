package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileStore keeps the ledger in a single human-inspectable JSON file,
// rewritten atomically on every update.
type FileStore struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	records map[string]Record
}

// OpenFile loads (or initializes) a JSON file ledger.
func OpenFile(path string, log zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		log:     log.With().Str("component", "ledger").Logger(),
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// first run
	case err != nil:
		return nil, fmt.Errorf("read ledger: %w", err)
	default:
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("parse ledger %s: %w", path, err)
		}
	}

	s.log.Info().Str("path", path).Int("records", len(s.records)).Msg("ledger loaded")
	return s, nil
}

func (s *FileStore) IsProcessed(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fingerprint]
	return ok && rec.Status == StatusSuccess, nil
}

func (s *FileStore) Put(ctx context.Context, rec Record) error {
	clamp(&rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Fingerprint] = rec
	if err := s.save(); err != nil {
		return err
	}
	s.log.Info().
		Str("file", rec.FileName).
		Str("status", string(rec.Status)).
		Msg("ledger record written")
	return nil
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Total: len(s.records)}
	for _, rec := range s.records {
		switch rec.Status {
		case StatusSuccess:
			st.Success++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *FileStore) Close() {}

// save writes the ledger atomically: temp file + rename. Caller holds mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
