package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/api"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/diarize"
	"github.com/snarg/meetscribe/internal/ingest"
	"github.com/snarg/meetscribe/internal/ledger"
	"github.com/snarg/meetscribe/internal/media"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/pipeline"
	"github.com/snarg/meetscribe/internal/store"
	"github.com/snarg/meetscribe/internal/transcribe"
)

var version = "dev"

func main() {
	var (
		envFile       = flag.String("env", "", "path to .env file")
		inputFile     = flag.String("input", "", "process one file and exit instead of watching")
		inputDir      = flag.String("input-dir", "", "directory to watch for recordings")
		resultsDir    = flag.String("results-dir", "", "directory for transcript artifacts")
		httpAddr      = flag.String("http", "", "http listen address")
		language      = flag.String("language", "", "transcription language code")
		chunkDuration = flag.Duration("chunk", 0, "chunk duration for long recordings")
		logLevel      = flag.String("log-level", "", "log level (trace..error)")
	)
	flag.Parse()

	cfg, err := config.Load(config.Overrides{
		EnvFile:       *envFile,
		HTTPAddr:      *httpAddr,
		LogLevel:      *logLevel,
		InputDir:      *inputDir,
		ResultsDir:    *resultsDir,
		Language:      *language,
		ChunkDuration: *chunkDuration,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("meetscribe starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Idempotency ledger: Postgres when a DSN is configured, JSON file
	// otherwise.
	led, pgLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer led.Close()

	// Artifact store (results dir, optionally mirrored to S3).
	artifacts, err := store.New(cfg.S3, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init artifact store")
	}

	transcriber := transcribe.NewClient(cfg.TranscriptionURL, cfg.StageTimeout)
	diarizer := diarize.NewClient(cfg.DiarizationURL, cfg.StageTimeout)
	runner := pipeline.NewRunner(cfg, transcriber, diarizer, media.ExtractAudio, led, artifacts, log)

	registerCollector(pgLedger, runner)

	if *inputFile != "" {
		if err := runOnce(ctx, runner, *inputFile, log); err != nil {
			log.Fatal().Err(err).Msg("processing failed")
		}
		return
	}

	// Watch mode: input folder watcher plus the HTTP status server.
	if err := os.MkdirAll(cfg.InputDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.InputDir).Msg("failed to create input directory")
	}
	watcher := ingest.NewWatcher(runner, cfg.InputDir, log)
	if err := watcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start watcher")
	}
	defer watcher.Stop()

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, led, watcher, runner, version, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("meetscribe stopped")
}

func registerCollector(pg *ledger.PostgresStore, runner *pipeline.Runner) {
	var pool *pgxpool.Pool
	if pg != nil {
		pool = pg.Pool()
	}
	prometheus.MustRegister(metrics.NewCollector(pool, runner))
}

func openLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ledger.Store, *ledger.PostgresStore, error) {
	if cfg.LedgerDSN != "" {
		pg, err := ledger.OpenPostgres(ctx, cfg.LedgerDSN, log)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	}
	fs, err := ledger.OpenFile(cfg.LedgerPath, log)
	if err != nil {
		return nil, nil, err
	}
	return fs, nil, nil
}

func runOnce(ctx context.Context, runner *pipeline.Runner, path string, log zerolog.Logger) error {
	sum, err := runner.Process(ctx, path)
	if errors.Is(err, pipeline.ErrAlreadyProcessed) {
		log.Info().Str("file", path).Msg("already processed, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("done: %d utterances, %d speakers, %d chunk(s), %.1fs of audio\n",
		sum.Utterances, sum.Speakers, sum.Chunks, sum.DurationSec)
	if sum.Degraded {
		fmt.Println("note: diarization degraded to per-chunk labels")
	}
	fmt.Printf("results: %s\n", sum.ResultLocation)
	return nil
}
