// Package ingest watches the input folder for finished meeting
// recordings and hands each one to the processing pipeline.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/pipeline"
)

// Processor runs the pipeline for one recording.
type Processor interface {
	Process(ctx context.Context, path string) (*pipeline.Summary, error)
}

// Recording formats the meeting platforms export.
var supportedExtensions = map[string]struct{}{
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".flv":  {},
	".wmv":  {},
}

// Recorders drop files under a UUID-prefixed temp name and rename them
// when the upload completes. Only the final name is processed.
var tempNameRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}_`)

// Status is a snapshot for the health endpoint.
type Status struct {
	State          string `json:"state"`
	InputDir       string `json:"input_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
	FilesFailed    int64  `json:"files_failed"`
}

// Watcher monitors the input directory and serializes recordings into
// the pipeline as they finish uploading.
type Watcher struct {
	proc     Processor
	inputDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup

	// Stabilization tuning, shortened in tests.
	pollInterval time.Duration
	stableAfter  time.Duration
	maxWait      time.Duration

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	debounceDelay  time.Duration

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	filesFailed    atomic.Int64
	state          atomic.Value // string: "starting", "watching", "stopped"
}

// NewWatcher creates a watcher over inputDir feeding proc.
func NewWatcher(proc Processor, inputDir string, log zerolog.Logger) *Watcher {
	w := &Watcher{
		proc:           proc,
		inputDir:       inputDir,
		log:            log.With().Str("component", "watcher").Logger(),
		pollInterval:   1 * time.Second,
		stableAfter:    5 * time.Second,
		maxWait:        60 * time.Second,
		debounceTimers: make(map[string]*time.Timer),
		debounceDelay:  500 * time.Millisecond,
	}
	w.state.Store("starting")
	return w
}

// Start begins watching. Files already sitting in the input directory
// are picked up first, so recordings dropped while the service was down
// are not lost. Runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.inputDir); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	w.log.Info().Str("input_dir", w.inputDir).Msg("watching input directory")
	w.state.Store("watching")

	w.scanExisting(ctx)

	w.wg.Add(1)
	go w.watchLoop(ctx)
	return nil
}

// Stop closes the watcher and waits for the event loop to drain.
// In-flight pipeline runs finish on their own context.
func (w *Watcher) Stop() {
	w.state.Store("stopped")
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("watcher stopped")
}

// Status returns counters for the health endpoint.
func (w *Watcher) Status() Status {
	s, _ := w.state.Load().(string)
	return Status{
		State:          s,
		InputDir:       w.inputDir,
		FilesProcessed: w.filesProcessed.Load(),
		FilesSkipped:   w.filesSkipped.Load(),
		FilesFailed:    w.filesFailed.Load(),
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.inputDir)
	if err != nil {
		w.log.Warn().Err(err).Msg("startup scan failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.inputDir, e.Name())
		if !eligible(e.Name()) {
			continue
		}
		w.log.Info().Str("file", e.Name()).Msg("found existing recording")
		w.schedule(ctx, path)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			if !eligible(filepath.Base(event.Name)) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule debounces per path so a burst of Write events during an
// upload turns into one processing attempt.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.debounceDelay)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(w.debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.handle(ctx, path)
	})
}

func (w *Watcher) handle(ctx context.Context, path string) {
	log := w.log.With().Str("file", filepath.Base(path)).Logger()

	if err := w.waitStable(ctx, path); err != nil {
		log.Warn().Err(err).Msg("file never stabilized, skipping")
		w.filesSkipped.Add(1)
		return
	}

	_, err := w.proc.Process(ctx, path)
	switch {
	case err == nil:
		w.filesProcessed.Add(1)
	case errors.Is(err, pipeline.ErrAlreadyProcessed), errors.Is(err, pipeline.ErrInProgress):
		log.Info().Msg(err.Error())
		w.filesSkipped.Add(1)
	default:
		log.Error().Err(err).Msg("processing failed")
		w.filesFailed.Add(1)
	}
}

// waitStable blocks until the file size stops changing for stableAfter,
// bounded by maxWait. Uploads into the watched directory are not atomic,
// so a fresh Create event usually precedes the last byte by a while.
func (w *Watcher) waitStable(ctx context.Context, path string) error {
	deadline := time.Now().Add(w.maxWait)
	var lastSize int64 = -1
	stableSince := time.Now()

	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() != lastSize {
			lastSize = info.Size()
			stableSince = time.Now()
		} else if time.Since(stableSince) >= w.stableAfter {
			return nil
		}
		if time.Now().After(deadline) {
			// Cap reached: proceed with whatever is on disk rather
			// than dropping the recording.
			w.log.Warn().Str("file", filepath.Base(path)).Msg("stabilization cap reached")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// eligible reports whether a file name looks like a finished recording.
func eligible(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if tempNameRe.MatchString(name) {
		return false
	}
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
