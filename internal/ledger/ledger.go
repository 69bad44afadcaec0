// Package ledger records which source files have already been processed,
// keyed by a content fingerprint, so a byte-identical recording dropped
// into the input folder twice is never run through the pipeline twice.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// Fingerprint hashes the first 1 MB of the file. Hashing whole multi-GB
// recordings would dominate startup; the prefix trades a tiny collision
// risk for speed, matching how the ledger keys were computed historically.
const fingerprintPrefix = 1 << 20

// maxErrorLen bounds the stored error message of a failed run.
const maxErrorLen = 200

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one processing attempt for one source file.
type Record struct {
	Fingerprint    string    `json:"fingerprint"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	Status         Status    `json:"status"`
	ResultLocation string    `json:"result_location,omitempty"`
	Error          string    `json:"error,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// Stats summarizes the ledger for the status endpoint.
type Stats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Store is a keyed record store surviving process restarts. Only success
// records gate future runs; a failed record leaves the file eligible for
// retry.
type Store interface {
	// IsProcessed reports whether a success record exists for the fingerprint.
	IsProcessed(ctx context.Context, fingerprint string) (bool, error)

	// Put inserts or replaces the record keyed by its fingerprint.
	Put(ctx context.Context, rec Record) error

	// Stats returns attempt counts.
	Stats(ctx context.Context) (Stats, error)

	Close()
}

// Fingerprint computes the content fingerprint of a source file.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintPrefix)); err != nil {
		return "", fmt.Errorf("hash prefix: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// clamp enforces field bounds before a record is persisted.
func clamp(rec *Record) {
	if len(rec.Error) > maxErrorLen {
		rec.Error = rec.Error[:maxErrorLen]
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
}
