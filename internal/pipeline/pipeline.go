// Package pipeline orchestrates one recording's journey from video file
// to speaker-attributed transcript artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/diarize"
	"github.com/snarg/meetscribe/internal/ledger"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/output"
	"github.com/snarg/meetscribe/internal/store"
	"github.com/snarg/meetscribe/internal/timeline"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// Transcriber converts one audio unit into locally-timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts transcribe.Opts) (*transcribe.Result, error)
}

// Diarizer labels one audio unit with locally-timed speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, hints diarize.Hints) (*diarize.Result, error)
}

// Extractor produces a 16 kHz mono WAV from a source video.
type Extractor func(ctx context.Context, videoPath, tmpDir string) (string, error)

// Summary is what a finished run reports back to its caller.
type Summary struct {
	ResultLocation string
	DurationSec    float64
	Chunks         int
	Utterances     int
	Speakers       int
	Degraded       bool
}

// Runner drives the full pipeline for one file at a time per file name.
// Safe for concurrent Process calls on distinct files.
type Runner struct {
	cfg         *config.Config
	transcriber Transcriber
	diarizer    Diarizer
	extract     Extractor
	ledger      ledger.Store
	artifacts   store.Store
	log         zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRunner wires the pipeline stages together.
func NewRunner(cfg *config.Config, t Transcriber, d Diarizer, extract Extractor,
	led ledger.Store, artifacts store.Store, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:         cfg,
		transcriber: t,
		diarizer:    d,
		extract:     extract,
		ledger:      led,
		artifacts:   artifacts,
		log:         log.With().Str("component", "pipeline").Logger(),
		active:      make(map[string]struct{}),
	}
}

// ActiveRunCount reports how many recordings are processing right now.
func (r *Runner) ActiveRunCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Process runs the whole pipeline for one video file. It returns
// ErrAlreadyProcessed when the ledger holds a success record for the
// file's content, and ErrInProgress when the same file is mid-run.
func (r *Runner) Process(ctx context.Context, videoPath string) (*Summary, error) {
	name := filepath.Base(videoPath)
	if !r.acquire(name) {
		return nil, fmt.Errorf("%s: %w", name, ErrInProgress)
	}
	defer r.release(name)

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, &ValidationError{Path: videoPath, Reason: err.Error()}
	}
	maxBytes := r.cfg.MaxFileSizeMB * 1024 * 1024
	if info.Size() > maxBytes {
		return nil, &ValidationError{
			Path:   videoPath,
			Reason: fmt.Sprintf("size %d exceeds limit %d MB", info.Size(), r.cfg.MaxFileSizeMB),
		}
	}

	fp, err := ledger.Fingerprint(videoPath)
	if err != nil {
		return nil, &ValidationError{Path: videoPath, Reason: err.Error()}
	}
	done, err := r.ledger.IsProcessed(ctx, fp)
	if err != nil {
		return nil, &PersistenceError{Op: "ledger lookup", Err: err}
	}
	if done {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyProcessed)
	}

	startedAt := time.Now().UTC()
	log := r.log.With().Str("file", name).Str("fingerprint", fp[:12]).Logger()
	log.Info().Int64("size", info.Size()).Msg("processing started")

	sum, runErr := r.run(ctx, log, videoPath, fp, startedAt)
	elapsed := time.Since(startedAt)

	rec := ledger.Record{
		Fingerprint: fp,
		FileName:    name,
		FileSize:    info.Size(),
		ProcessedAt: time.Now().UTC(),
	}
	if runErr != nil {
		rec.Status = ledger.StatusFailed
		rec.Error = runErr.Error()
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(runErr).Dur("elapsed", elapsed).Msg("processing failed")
	} else {
		rec.Status = ledger.StatusSuccess
		rec.ResultLocation = sum.ResultLocation
		metrics.RunsTotal.WithLabelValues("success").Inc()
		metrics.RunDuration.Observe(elapsed.Seconds())
		log.Info().
			Dur("elapsed", elapsed).
			Int("utterances", sum.Utterances).
			Int("speakers", sum.Speakers).
			Bool("degraded", sum.Degraded).
			Str("location", sum.ResultLocation).
			Msg("processing finished")
	}
	if err := r.ledger.Put(ctx, rec); err != nil {
		if runErr != nil {
			log.Error().Err(err).Msg("ledger write failed after run failure")
			return nil, runErr
		}
		return nil, &PersistenceError{Op: "ledger record", Err: err}
	}
	return sum, runErr
}

// run executes the stages. All temp files it creates are removed before
// it returns, success or not.
func (r *Runner) run(ctx context.Context, log zerolog.Logger, videoPath, fp string, startedAt time.Time) (*Summary, error) {
	// Timings land here from concurrent stages, hence the lock.
	stages := make(map[string]float64)
	var stageMu sync.Mutex
	observe := func(stage string, d time.Duration) {
		stageMu.Lock()
		stages[stage] = d.Seconds()
		stageMu.Unlock()
		metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}

	// Stage 1: audio extraction.
	t0 := time.Now()
	wavPath, err := r.extract(ctx, videoPath, r.cfg.TmpDir)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(wavPath)
	observe("extraction", time.Since(t0))

	wavInfo, err := audio.Probe(wavPath)
	if err != nil {
		return nil, fmt.Errorf("probe audio: %w", err)
	}
	if wavInfo.Duration <= 0 {
		return nil, &ValidationError{Path: videoPath, Reason: "empty audio track"}
	}

	// Stage 2: chunk planning and splitting.
	units, err := audio.PlanUnits(wavInfo.Duration, r.cfg.ChunkDuration.Seconds())
	if err != nil {
		return nil, fmt.Errorf("plan chunks: %w", err)
	}
	chunkPaths := []string{wavPath}
	if len(units) > 1 {
		t0 = time.Now()
		chunkPaths, err = audio.SplitWAV(wavPath, r.tmpDir(), units)
		if err != nil {
			return nil, fmt.Errorf("split audio: %w", err)
		}
		defer removeAll(chunkPaths)
		observe("chunking", time.Since(t0))
	}
	metrics.ChunksPerRun.Observe(float64(len(units)))
	log.Info().Float64("duration_sec", wavInfo.Duration).Int("chunks", len(units)).Msg("audio prepared")

	// Stage 3: transcription and diarization in parallel. Transcription
	// walks the chunks sequentially; diarization takes the whole file so
	// speaker labels share one space, and degrades to per-chunk calls
	// when the full-file call fails.
	var (
		segments []transcribe.Segment
		language string
		turns    []diarize.Turn
		degraded bool
	)
	hints := diarize.Hints{MinSpeakers: r.cfg.MinSpeakers, MaxSpeakers: r.cfg.MaxSpeakers}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t0 := time.Now()
		defer func() { observe("transcription", time.Since(t0)) }()

		perUnit := make([][]transcribe.Segment, len(units))
		opts := transcribe.Opts{Language: r.cfg.Language, BeamSize: r.cfg.BeamSize}
		for i, path := range chunkPaths {
			res, err := r.transcriber.Transcribe(gctx, path, opts)
			if err != nil {
				return fmt.Errorf("transcribe chunk %d/%d: %w", i+1, len(chunkPaths), err)
			}
			perUnit[i] = res.Segments
			if language == "" {
				language = res.Language
			}
			log.Debug().Int("chunk", i+1).Int("segments", len(res.Segments)).Msg("chunk transcribed")
		}

		merged, err := timeline.MergeSegments(units, perUnit)
		if err != nil {
			return fmt.Errorf("merge transcript: %w", err)
		}
		segments = merged
		return nil
	})
	g.Go(func() error {
		t0 := time.Now()
		defer func() { observe("diarization", time.Since(t0)) }()

		res, err := r.diarizer.Diarize(gctx, wavPath, hints)
		if err == nil {
			turns = res.Turns
			return nil
		}
		if errors.Is(err, context.Canceled) {
			// The run itself is being torn down (shutdown, or the
			// transcription goroutine failed); retrying per chunk
			// would hit the same cancelled context.
			return fmt.Errorf("diarize: %w", err)
		}

		// Non-success responses, timeouts, and transport failures all
		// count as the capability failing for the full file.
		log.Warn().Err(err).Msg("full-file diarization failed, falling back to per-chunk")
		fallback, ferr := r.diarizeChunks(gctx, chunkPaths, units, hints)
		if ferr != nil {
			return ferr
		}
		turns = fallback
		degraded = true
		metrics.DiarizationFallbacksTotal.Inc()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stage 4: alignment.
	utterances := timeline.Align(segments, turns)
	speakers := timeline.CountSpeakers(utterances)

	if language == "" {
		language = r.cfg.Language
	}
	tr := &output.Transcript{
		Metadata: output.Metadata{
			DurationSeconds: wavInfo.Duration,
			NumSpeakers:     speakers,
			Language:        language,
			ProcessedAt:     time.Now().UTC(),
		},
		Transcript:  utterances,
		NumSegments: len(utterances),
	}
	run := &output.RunInfo{
		SourceFile:          videoPath,
		Fingerprint:         fp,
		Chunks:              len(units),
		DegradedDiarization: degraded,
		StageSeconds:        stages,
		StartedAt:           startedAt,
		FinishedAt:          time.Now().UTC(),
	}

	// Stage 5: persistence.
	resultDir := filepath.Join(r.cfg.ResultsDir, runDirName(videoPath, startedAt))
	if err := output.WriteArtifacts(resultDir, tr, run); err != nil {
		return nil, &PersistenceError{Op: "artifacts", Err: err}
	}
	location, err := r.artifacts.Publish(ctx, resultDir)
	if err != nil {
		return nil, &PersistenceError{Op: "publish", Err: err}
	}

	return &Summary{
		ResultLocation: location,
		DurationSec:    wavInfo.Duration,
		Chunks:         len(units),
		Utterances:     len(utterances),
		Speakers:       speakers,
		Degraded:       degraded,
	}, nil
}

// diarizeChunks is the degraded path: each chunk is labeled in its own
// call, so labels from different chunks never refer to the same person.
// Namespacing them per chunk keeps that visible in the transcript.
func (r *Runner) diarizeChunks(ctx context.Context, chunkPaths []string, units []audio.Unit, hints diarize.Hints) ([]diarize.Turn, error) {
	perUnit := make([][]diarize.Turn, len(units))
	for i, path := range chunkPaths {
		res, err := r.diarizer.Diarize(ctx, path, hints)
		if err != nil {
			return nil, fmt.Errorf("diarize chunk %d/%d: %w", i+1, len(chunkPaths), err)
		}
		turns := res.Turns
		if len(units) > 1 {
			for j := range turns {
				turns[j].Speaker = fmt.Sprintf("chunk%d:%s", units[i].Index+1, turns[j].Speaker)
			}
		}
		perUnit[i] = turns
	}
	return timeline.MergeTurns(units, perUnit)
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[name]; busy {
		return false
	}
	r.active[name] = struct{}{}
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, name)
}

func (r *Runner) tmpDir() string {
	if r.cfg.TmpDir != "" {
		return r.cfg.TmpDir
	}
	return os.TempDir()
}

func runDirName(videoPath string, startedAt time.Time) string {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return base + "_" + startedAt.Format("20060102_150405")
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
