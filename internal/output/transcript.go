// Package output defines the terminal artifacts of a pipeline run and
// writes them to the per-recording result directory.
package output

import (
	"time"

	"github.com/snarg/meetscribe/internal/timeline"
)

// Metadata describes one finished transcript.
type Metadata struct {
	DurationSeconds float64   `json:"duration_seconds"`
	NumSpeakers     int       `json:"num_speakers"`
	Language        string    `json:"language"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Transcript is the raw merged transcript artifact. Immutable once
// written; one per successful run.
type Transcript struct {
	Metadata    Metadata             `json:"metadata"`
	Transcript  []timeline.Utterance `json:"transcript"`
	NumSegments int                  `json:"num_segments"`
}

// RunInfo is the processing-metadata artifact: where the input came
// from, how it was cut, how long each stage took, and whether the run
// had to degrade to per-chunk diarization.
type RunInfo struct {
	SourceFile          string             `json:"source_file"`
	Fingerprint         string             `json:"fingerprint"`
	Chunks              int                `json:"chunks"`
	DegradedDiarization bool               `json:"degraded_diarization"`
	StageSeconds        map[string]float64 `json:"stage_seconds"`
	StartedAt           time.Time          `json:"started_at"`
	FinishedAt          time.Time          `json:"finished_at"`
}
