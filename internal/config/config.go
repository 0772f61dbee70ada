package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
)

type (
	// Config holds configuration settings for the run engine
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Ledger & Archiving
		RunStore      timebox.StoreConfig
		RunCacheSize  int
		ArchiveURL    string
		ArchivePrefix string

		// Retry
		Backoff api.BackoffConfig

		// Engine
		MaxStepTimeout  int64
		EnvPrefix       string
		ShutdownTimeout time.Duration
	}
)

const (
	DefaultMaxStepTimeout  = 0
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "tartan"
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second
	DefaultCacheSize           = 4096
	DefaultArchivePrefix       = "runs/"

	DefaultRetryInitBackoff = 0
	DefaultMaxRetryBackoff  = 0
	DefaultRetryBackoffType = api.BackoffTypeFixed

	MaxRunCacheSize     = 1_000_000
	MaxStepTimeout      = 365 * api.Day
	MaxRetryInitBackoff = api.Day
	MaxRetryMaxBackoff  = MaxRetryInitBackoff
)

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidStepTimeout      = errors.New("max step timeout cannot be negative")
	ErrInvalidRetryInitBackoff = errors.New(
		"retry initial backoff cannot be negative",
	)
	ErrRetryMaxBackoffTooSmall = errors.New(
		"retry max backoff must be >= retry initial backoff",
	)
	ErrInvalidRetryBackoffType = errors.New("invalid retry backoff type")
	ErrInvalidShutdownTimeout  = errors.New(
		"shutdown timeout must be positive",
	)
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// API server, the run ledger store, and retry behavior. Backoff defaults to
// zero delay so a failed step is retried immediately
func NewDefaultConfig() *Config {
	return &Config{
		APIPort: DefaultAPIPort,
		APIHost: DefaultAPIHost,
		RunStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
			JoinKey:      events.RunJoinKey,
			ParseKey:     events.RunParseKey,
		},
		RunCacheSize:  DefaultCacheSize,
		ArchivePrefix: DefaultArchivePrefix,
		Backoff: api.BackoffConfig{
			Type:      DefaultRetryBackoffType,
			InitialMs: DefaultRetryInitBackoff,
			MaxMs:     DefaultMaxRetryBackoff,
		},
		MaxStepTimeout:  DefaultMaxStepTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.RunStore, "RUN")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if backoffType := os.Getenv("RETRY_BACKOFF_TYPE"); backoffType != "" {
		c.Backoff.Type = backoffType
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET_URL"); bucket != "" {
		c.ArchiveURL = bucket
	}
	if prefix := os.Getenv("ARCHIVE_PREFIX"); prefix != "" {
		c.ArchivePrefix = prefix
	}
	if envPrefix := os.Getenv("ENV_PREFIX"); envPrefix != "" {
		c.EnvPrefix = envPrefix
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RUN_CACHE_SIZE", &c.RunCacheSize, 0, MaxRunCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_STEP_TIMEOUT", &c.MaxStepTimeout, 0, MaxStepTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_INITIAL_BACKOFF", &c.Backoff.InitialMs, 0, MaxRetryInitBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_BACKOFF", &c.Backoff.MaxMs, 0, MaxRetryMaxBackoff,
	); err != nil {
		return err
	}

	if s := os.Getenv("SHUTDOWN_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %q", s)
		}
		c.ShutdownTimeout = d
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.MaxStepTimeout < 0 {
		return ErrInvalidStepTimeout
	}

	if c.Backoff.InitialMs < 0 {
		return ErrInvalidRetryInitBackoff
	}

	if c.Backoff.MaxMs != 0 && c.Backoff.MaxMs < c.Backoff.InitialMs {
		return ErrRetryMaxBackoffTooSmall
	}

	if c.Backoff.Type != api.BackoffTypeFixed &&
		c.Backoff.Type != api.BackoffTypeLinear &&
		c.Backoff.Type != api.BackoffTypeExponential {
		return fmt.Errorf("%w: %s",
			ErrInvalidRetryBackoffType, c.Backoff.Type)
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "RUN")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range [min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv < min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min, max)
	}
	*dst = tv
	return nil
}
