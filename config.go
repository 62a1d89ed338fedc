package sdlq

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for a sequenced dead letter queue and the
// retry scheduler that drains it.
type Config struct {
	// ProcessingGroup names the consumer group whose failures this queue
	// holds. It is recorded in every letter's diagnostics.
	ProcessingGroup string `yaml:"processing_group"`

	// MaxSequences bounds how many distinct sequences may hold letters.
	// Zero or negative means unbounded.
	MaxSequences int `yaml:"max_sequences"`

	// MaxLettersPerSequence bounds the letters queued behind one sequence.
	// Zero or negative means unbounded.
	MaxLettersPerSequence int `yaml:"max_letters_per_sequence"`

	// EvaluateBudget caps how many letters one Evaluate call may drain
	// before yielding back to the scheduler.
	EvaluateBudget int `yaml:"evaluate_budget"`

	// HandlerTimeout bounds each redelivery attempt. A timeout counts as a
	// handler failure. Zero disables the timeout.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// Concurrency is the number of sequences evaluated in parallel.
	Concurrency int `yaml:"concurrency"`

	// EvaluationRate caps evaluations per second across all sequences.
	// Zero disables rate limiting.
	EvaluationRate float64 `yaml:"evaluation_rate"`

	// ResyncSchedule is a cron expression (or descriptor such as
	// "@every 30s") on which the scheduler rediscovers blocked sequences.
	// Empty disables periodic resync.
	ResyncSchedule string `yaml:"resync_schedule"`

	// ShutdownTimeout is the maximum time to wait for in-flight
	// evaluations during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Retry configures the backoff between attempts on a blocked sequence.
	Retry RetryConfig `yaml:"retry"`

	// Store selects and configures the persistence backend.
	Store StoreConfig `yaml:"store"`
}

// RetryConfig selects a backoff policy for blocked sequences.
type RetryConfig struct {
	// Policy is one of "fixed", "linear", "exponential", "jitter".
	Policy string `yaml:"policy"`
	// InitialDelay is the delay before the first redelivery and the base
	// of the growing policies.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay caps the growing policies. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// StoreConfig selects the letter store backend.
type StoreConfig struct {
	// Driver is one of "memory", "pebble", "sqlite", "postgres", "bun",
	// "redis", "mongo".
	Driver string `yaml:"driver"`
	// DSN is the connection string for network backends, or the database
	// file for sqlite.
	DSN string `yaml:"dsn"`
	// DataDir is the directory used by the pebble backend.
	DataDir string `yaml:"data_dir"`
	// Database names the mongo database.
	Database string `yaml:"database"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProcessingGroup:       "default",
		MaxSequences:          10_000,
		MaxLettersPerSequence: 1_000,
		EvaluateBudget:        64,
		HandlerTimeout:        30 * time.Second,
		Concurrency:           8,
		ResyncSchedule:        "@every 30s",
		ShutdownTimeout:       30 * time.Second,
		Retry: RetryConfig{
			Policy:       "jitter",
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Minute,
		},
		Store: StoreConfig{
			Driver:  "pebble",
			DataDir: "./data/sdlq",
		},
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.EvaluateBudget <= 0:
		return fmt.Errorf("%w: evaluate_budget must be positive", ErrInvalidConfig)
	case c.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case c.HandlerTimeout < 0:
		return fmt.Errorf("%w: handler_timeout must not be negative", ErrInvalidConfig)
	case c.EvaluationRate < 0:
		return fmt.Errorf("%w: evaluation_rate must not be negative", ErrInvalidConfig)
	case c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0:
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	}
	switch c.Retry.Policy {
	case "", "fixed", "linear", "exponential", "jitter":
	default:
		return fmt.Errorf("%w: unknown retry policy %q", ErrInvalidConfig, c.Retry.Policy)
	}
	switch c.Store.Driver {
	case "memory", "pebble", "sqlite":
	case "postgres", "bun", "redis", "mongo":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store driver %q needs a dsn", ErrInvalidConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig and then applies SDLQ_*
// environment overrides. An empty path yields defaults plus environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("sdlq: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays SDLQ_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SDLQ_PROCESSING_GROUP"); v != "" {
		cfg.ProcessingGroup = v
	}
	if v := os.Getenv("SDLQ_MAX_SEQUENCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSequences = n
		}
	}
	if v := os.Getenv("SDLQ_MAX_LETTERS_PER_SEQUENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxLettersPerSequence = n
		}
	}
	if v := os.Getenv("SDLQ_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("SDLQ_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HandlerTimeout = d
		}
	}
	if v := os.Getenv("SDLQ_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SDLQ_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("SDLQ_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
}
