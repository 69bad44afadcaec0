package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// External capabilities
	TranscriptionURL string        `env:"TRANSCRIPTION_URL" envDefault:"http://localhost:8003"`
	DiarizationURL   string        `env:"DIARIZATION_URL" envDefault:"http://localhost:8003"`
	StageTimeout     time.Duration `env:"STAGE_TIMEOUT" envDefault:"2h"`

	// Pipeline
	Language      string        `env:"LANGUAGE" envDefault:"ru"`
	BeamSize      int           `env:"BEAM_SIZE" envDefault:"5"`
	ChunkDuration time.Duration `env:"CHUNK_DURATION" envDefault:"1800s"`
	MaxFileSizeMB int64         `env:"MAX_FILE_SIZE_MB" envDefault:"500"`
	MinSpeakers   int           `env:"MIN_SPEAKERS"` // 0 = no hint
	MaxSpeakers   int           `env:"MAX_SPEAKERS"` // 0 = no hint

	// Directories
	InputDir   string `env:"INPUT_DIR" envDefault:"./data/input"`
	ResultsDir string `env:"RESULTS_DIR" envDefault:"./data/results"`
	TmpDir     string `env:"TMP_DIR"` // "" = os.TempDir()

	// Idempotency ledger: JSON file by default, Postgres when LEDGER_DSN is set.
	LedgerPath string `env:"LEDGER_PATH" envDefault:"./data/processed.json"`
	LedgerDSN  string `env:"LEDGER_DSN"`

	// Optional S3 mirror for result artifacts
	S3 S3Config `envPrefix:"S3_"`

	// HTTP status server
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the optional S3 mirror of the results directory.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"` // for MinIO and friends
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether S3 mirroring is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	InputDir      string
	ResultsDir    string
	Language      string
	ChunkDuration time.Duration
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.InputDir != "" {
		cfg.InputDir = overrides.InputDir
	}
	if overrides.ResultsDir != "" {
		cfg.ResultsDir = overrides.ResultsDir
	}
	if overrides.Language != "" {
		cfg.Language = overrides.Language
	}
	if overrides.ChunkDuration > 0 {
		cfg.ChunkDuration = overrides.ChunkDuration
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("CHUNK_DURATION must be positive, got %s", c.ChunkDuration)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be positive, got %d", c.MaxFileSizeMB)
	}
	if c.MinSpeakers < 0 || c.MaxSpeakers < 0 {
		return fmt.Errorf("speaker hints must be non-negative")
	}
	if c.MinSpeakers > 0 && c.MaxSpeakers > 0 && c.MinSpeakers > c.MaxSpeakers {
		return fmt.Errorf("MIN_SPEAKERS (%d) exceeds MAX_SPEAKERS (%d)", c.MinSpeakers, c.MaxSpeakers)
	}
	return nil
}
