package ledger

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS processing_records (
	fingerprint     TEXT PRIMARY KEY,
	file_name       TEXT NOT NULL,
	file_size       BIGINT NOT NULL,
	status          TEXT NOT NULL,
	result_location TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	processed_at    TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps the ledger in Postgres, for deployments where
// several hosts share one ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres connects to the database and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	l := log.With().Str("component", "ledger").Logger()
	l.Info().Str("dsn", maskDSN(dsn)).Msg("postgres ledger connected")
	return &PostgresStore{pool: pool, log: l}, nil
}

func (s *PostgresStore) IsProcessed(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processing_records WHERE fingerprint = $1 AND status = $2)`,
		fingerprint, StatusSuccess,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	clamp(&rec)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_records
			(fingerprint, file_name, file_size, status, result_location, error, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size,
			status = EXCLUDED.status,
			result_location = EXCLUDED.result_location,
			error = EXCLUDED.error,
			processed_at = EXCLUDED.processed_at`,
		rec.Fingerprint, rec.FileName, rec.FileSize, rec.Status,
		rec.ResultLocation, rec.Error, rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	s.log.Info().
		Str("file", rec.FileName).
		Str("status", string(rec.Status)).
		Msg("ledger record written")
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $1),
		       count(*) FILTER (WHERE status = $2)
		FROM processing_records`,
		StatusSuccess, StatusFailed,
	).Scan(&st.Total, &st.Success, &st.Failed)
	return st, err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the connection pool for scrape-time gauges.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
