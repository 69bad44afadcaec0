package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore publishes artifacts by leaving them where the pipeline
// wrote them. Publish only verifies the directory is real.
type LocalStore struct{}

// NewLocalStore creates a filesystem-only artifact store.
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (s *LocalStore) Publish(ctx context.Context, dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir, nil
	}
	return abs, nil
}

func (s *LocalStore) Type() string { return "local" }
