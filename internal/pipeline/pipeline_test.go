package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/diarize"
	"github.com/snarg/meetscribe/internal/ledger"
	"github.com/snarg/meetscribe/internal/output"
	"github.com/snarg/meetscribe/internal/store"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// writeTestVideo writes a WAV payload under a video-looking name. The
// fake extractor copies it into the temp dir, so the rest of the
// pipeline sees a decodable audio file.
func writeTestVideo(t *testing.T, dir, name string, seconds float64) string {
	t.Helper()
	const rate = 8000
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	n := int(seconds * rate)
	data := make([]int, n)
	for i := range data {
		data[i] = (i % 2000) - 1000
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

func copyExtractor(t *testing.T) Extractor {
	t.Helper()
	return func(ctx context.Context, videoPath, tmpDir string) (string, error) {
		if tmpDir == "" {
			tmpDir = os.TempDir()
		}
		src, err := os.Open(videoPath)
		if err != nil {
			return "", err
		}
		defer src.Close()
		base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
		out := filepath.Join(tmpDir, base+"_audio.wav")
		dst, err := os.Create(out)
		if err != nil {
			return "", err
		}
		defer dst.Close()
		_, err = io.Copy(dst, src)
		return out, err
	}
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string, opts transcribe.Opts) (*transcribe.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Result{
		Segments: []transcribe.Segment{
			{Start: 0.2, End: 0.9, Text: "первый фрагмент"},
			{Start: 1.0, End: 1.8, Text: "второй фрагмент"},
		},
		Language: "ru",
	}, nil
}

type fakeDiarizer struct {
	mu       sync.Mutex
	calls    []string
	failFull bool
	fullErr  error // returned for full-file calls when set
}

func isChunk(path string) bool { return strings.Contains(filepath.Base(path), "_chunk_") }

func (f *fakeDiarizer) Diarize(ctx context.Context, path string, hints diarize.Hints) (*diarize.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	if !isChunk(path) {
		if f.fullErr != nil {
			return nil, f.fullErr
		}
		if f.failFull {
			return nil, &diarize.Failure{StatusCode: 413, Message: "file too large"}
		}
	}
	return &diarize.Result{
		Turns: []diarize.Turn{
			{Start: 0.0, End: 1.0, Speaker: "SPEAKER_00"},
			{Start: 1.0, End: 2.0, Speaker: "SPEAKER_01"},
		},
		NumSpeakers: 2,
	}, nil
}

func newTestRunner(t *testing.T, tr Transcriber, d Diarizer) (*Runner, *config.Config, ledger.Store) {
	t.Helper()
	cfg := &config.Config{
		Language:      "ru",
		BeamSize:      5,
		ChunkDuration: 2 * time.Second,
		MaxFileSizeMB: 500,
		ResultsDir:    t.TempDir(),
		TmpDir:        t.TempDir(),
	}
	led, err := ledger.OpenFile(filepath.Join(t.TempDir(), "processed.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	r := NewRunner(cfg, tr, d, copyExtractor(t), led, store.NewLocalStore(), zerolog.Nop())
	return r, cfg, led
}

func TestProcess_EndToEnd(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{}
	r, _, led := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "standup.mp4", 4.0)
	sum, err := r.Process(context.Background(), video)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if sum.Chunks != 2 {
		t.Errorf("chunks = %d, want 2", sum.Chunks)
	}
	if sum.Degraded {
		t.Error("full-file diarization succeeded but run marked degraded")
	}
	if sum.Utterances != 4 {
		t.Errorf("utterances = %d, want 4 (2 per chunk)", sum.Utterances)
	}

	// One transcription call per chunk, one diarization call total.
	if len(tr.calls) != 2 {
		t.Errorf("transcribe calls = %d, want 2", len(tr.calls))
	}
	if len(d.calls) != 1 {
		t.Errorf("diarize calls = %d, want 1", len(d.calls))
	}
	if isChunk(d.calls[0]) {
		t.Errorf("diarization hit a chunk (%s), want the full file", d.calls[0])
	}

	// Artifacts on disk at the published location.
	for _, name := range []string{output.TranscriptFile, output.ReadableFile, output.ProcessingFile} {
		if _, err := os.Stat(filepath.Join(sum.ResultLocation, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	// Ledger gates the second attempt before any capability is called.
	trCalls, dCalls := len(tr.calls), len(d.calls)
	if _, err := r.Process(context.Background(), video); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("second run err = %v, want ErrAlreadyProcessed", err)
	}
	if len(tr.calls) != trCalls || len(d.calls) != dCalls {
		t.Errorf("gated run made external calls: transcribe %d→%d, diarize %d→%d",
			trCalls, len(tr.calls), dCalls, len(d.calls))
	}
	st, err := led.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Success != 1 || st.Total != 1 {
		t.Errorf("ledger stats = %+v, want one success record", st)
	}
}

func TestProcess_SecondTranscribedSegmentIsRebased(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{}
	r, _, _ := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "planning.mp4", 4.0)
	sum, err := r.Process(context.Background(), video)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(sum.ResultLocation, output.TranscriptFile))
	if err != nil {
		t.Fatal(err)
	}
	// Chunk 2 starts at 2.0s, its first local segment at 0.2s.
	if !strings.Contains(string(data), `"start": 2.2`) {
		t.Errorf("rebased segment start 2.2 not found in transcript:\n%s", data)
	}
}

func TestProcess_DiarizationFallback(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{failFull: true}
	r, _, _ := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "allhands.mp4", 4.0)
	sum, err := r.Process(context.Background(), video)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !sum.Degraded {
		t.Fatal("run not marked degraded after full-file rejection")
	}
	// Rejected full-file call plus one call per chunk.
	if len(d.calls) != 3 {
		t.Errorf("diarize calls = %d, want 3", len(d.calls))
	}

	data, err := os.ReadFile(filepath.Join(sum.ResultLocation, output.TranscriptFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, label := range []string{"chunk1:SPEAKER_00", "chunk2:SPEAKER_00"} {
		if !strings.Contains(string(data), label) {
			t.Errorf("namespaced label %s missing from transcript", label)
		}
	}

	runData, err := os.ReadFile(filepath.Join(sum.ResultLocation, output.ProcessingFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(runData), `"degraded_diarization": true`) {
		t.Errorf("processing artifact does not record degradation:\n%s", runData)
	}
}

func TestProcess_DiarizationTimeoutFallsBack(t *testing.T) {
	tr := &fakeTranscriber{}
	// A stage timeout surfaces from the client as a wrapped deadline
	// error, not a typed non-success response. It must still degrade.
	d := &fakeDiarizer{fullErr: fmt.Errorf("diarization request: %w", context.DeadlineExceeded)}
	r, _, led := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "townhall.mp4", 4.0)
	sum, err := r.Process(context.Background(), video)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !sum.Degraded {
		t.Fatal("timed-out full-file diarization did not degrade to per-chunk")
	}
	if len(d.calls) != 3 {
		t.Errorf("diarize calls = %d, want 3 (full file + 2 chunks)", len(d.calls))
	}

	st, err := led.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Success != 1 {
		t.Errorf("ledger stats = %+v, want one success record", st)
	}
}

func TestProcess_DiarizationTransportErrorFallsBack(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{fullErr: errors.New("diarization request: connection refused")}
	r, _, _ := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "kickoff.mp4", 4.0)
	sum, err := r.Process(context.Background(), video)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !sum.Degraded {
		t.Fatal("transport failure on the full file did not degrade to per-chunk")
	}
}

func TestProcess_DiarizationCancellationDoesNotFallBack(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{fullErr: fmt.Errorf("diarization request: %w", context.Canceled)}
	r, _, _ := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "cancelled.mp4", 4.0)
	if _, err := r.Process(context.Background(), video); err == nil {
		t.Fatal("cancelled run should fail, not degrade")
	}
	// The full-file call only; no per-chunk retries against a dead context.
	if len(d.calls) != 1 {
		t.Errorf("diarize calls = %d, want 1", len(d.calls))
	}
}

func TestProcess_TranscriptionFailureRecordedAndRetryable(t *testing.T) {
	tr := &fakeTranscriber{err: &transcribe.Failure{StatusCode: 503, Message: "model loading"}}
	d := &fakeDiarizer{}
	r, _, led := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "retro.mp4", 1.0)
	if _, err := r.Process(context.Background(), video); err == nil {
		t.Fatal("expected transcription failure to surface")
	}

	st, err := led.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Failed != 1 {
		t.Errorf("ledger stats = %+v, want one failed record", st)
	}

	// Failed record never gates: a retry runs the pipeline again.
	tr.err = nil
	if _, err := r.Process(context.Background(), video); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestProcess_RejectsOversizedFile(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{}
	r, cfg, _ := newTestRunner(t, tr, d)
	cfg.MaxFileSizeMB = 1

	dir := t.TempDir()
	path := filepath.Join(dir, "huge.mp4")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := r.Process(context.Background(), path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(tr.calls) != 0 {
		t.Error("capability called for rejected input")
	}
}

func TestProcess_MissingFile(t *testing.T) {
	r, _, _ := newTestRunner(t, &fakeTranscriber{}, &fakeDiarizer{})
	_, err := r.Process(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestProcess_CleansChunkTempFiles(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{}
	r, cfg, _ := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "sync.mp4", 4.0)
	if _, err := r.Process(context.Background(), video); err != nil {
		t.Fatalf("Process: %v", err)
	}

	entries, err := os.ReadDir(cfg.TmpDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("temp file left behind: %s", e.Name())
	}
}

func TestProcess_SingleChunkSkipsSplit(t *testing.T) {
	tr := &fakeTranscriber{}
	d := &fakeDiarizer{}
	r, _, _ := newTestRunner(t, tr, d)

	video := writeTestVideo(t, t.TempDir(), "short.mp4", 1.5)
	sum, err := r.Process(context.Background(), video)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sum.Chunks != 1 {
		t.Errorf("chunks = %d, want 1", sum.Chunks)
	}
	if len(tr.calls) != 1 || isChunk(tr.calls[0]) {
		t.Errorf("short file should be transcribed whole, calls = %v", tr.calls)
	}
}
