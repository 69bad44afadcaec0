package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names within a result directory.
const (
	TranscriptFile = "transcript_full.json"
	ReadableFile   = "transcript_readable.txt"
	ProcessingFile = "processing.json"
)

// WriteArtifacts persists the three run artifacts into dir, creating it
// if needed. Writes are atomic per file so a crashed run never leaves a
// half-written transcript behind.
func WriteArtifacts(dir string, tr *Transcript, run *RunInfo) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	trJSON, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, TranscriptFile), trJSON); err != nil {
		return err
	}

	if err := writeAtomic(filepath.Join(dir, ReadableFile), []byte(RenderText(tr))); err != nil {
		return err
	}

	runJSON, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run info: %w", err)
	}
	return writeAtomic(filepath.Join(dir, ProcessingFile), runJSON)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
