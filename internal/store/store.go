// Package store publishes finished run artifacts. The local backend is
// the results directory itself; when S3 is configured the run directory
// is mirrored to the bucket and the ledger records the object location.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/config"
)

// Store publishes one run's artifact directory and returns the location
// recorded in the ledger.
type Store interface {
	// Publish makes the artifacts under dir available and returns their
	// canonical location. dir is a per-run directory inside the results
	// root; its files are already fully written.
	Publish(ctx context.Context, dir string) (string, error)

	// Type returns "local" or "s3".
	Type() string
}

// New creates a Store based on config. When S3 is configured the bucket
// is probed at startup so bad credentials fail the service immediately
// instead of the first finished run.
func New(cfg config.S3Config, log zerolog.Logger) (Store, error) {
	if !cfg.Enabled() {
		return NewLocalStore(), nil
	}

	mirror, err := NewS3Mirror(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("s3 init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mirror.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("s3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 connection verified")

	return mirror, nil
}
