// Package config loads client settings and resolves the backend endpoint.
//
// Values are layered with priority flag > environment > YAML file >
// default. A .env file in the working directory is loaded into the
// environment first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Environment string              `yaml:"environment"`
	Endpoints   []EndpointCandidate `yaml:"endpoints"`
	Session     SessionConfig       `yaml:"session"`
	Retry       RetryConfig         `yaml:"retry"`
	Storage     StorageConfig       `yaml:"storage"`
	Logging     LoggingConfig       `yaml:"logging"`

	// ServerURL overrides endpoint resolution when set by env or flag.
	ServerURL string `yaml:"-"`
}

// SessionConfig controls token expiry handling.
type SessionConfig struct {
	ExpiryThreshold time.Duration `yaml:"expiry_threshold"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
}

// RetryConfig controls the retry executor.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// StorageConfig selects the credential medium.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Namespace   string `yaml:"namespace"`
	TokenFile   string `yaml:"token_file"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Flags carries command line values. Empty fields are unset.
type Flags struct {
	ConfigFile  string
	Environment string
	ServerURL   string
	Storage     string
	TokenFile   string
	Namespace   string
	RedisAddr   string
	LogLevel    string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			ExpiryThreshold: DefaultExpiryThreshold,
			RefreshTimeout:  DefaultRefreshTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts:    DefaultMaxAttempts,
			BaseDelay:      DefaultBaseDelay,
			MaxDelay:       DefaultMaxDelay,
			AttemptTimeout: DefaultAttemptTimeout,
		},
		Storage: StorageConfig{
			Driver:      DefaultStorageDriver,
			Namespace:   DefaultNamespace,
			TokenFile:   DefaultTokenFile,
			SQLitePath:  DefaultSQLitePath,
			RedisAddr:   DefaultRedisAddr,
			RedisPrefix: DefaultRedisPrefix,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by flags.ConfigFile (or CONFIG_FILE), the environment and flags.
func Load(flags Flags) (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := Default()

	if path := getConfig(flags.ConfigFile, "CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyFlags(cfg, flags)
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.ServerURL = getEnv("SERVER_URL", cfg.ServerURL)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Namespace = getEnv("SESSION_NAMESPACE", cfg.Storage.Namespace)
	cfg.Storage.TokenFile = getEnv("TOKEN_FILE", cfg.Storage.TokenFile)
	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.RedisAddr = getEnv("REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPrefix = getEnv("REDIS_PREFIX", cfg.Storage.RedisPrefix)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_ATTEMPTS %q: %w", v, err)
		}
		cfg.Retry.MaxAttempts = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"EXPIRY_THRESHOLD", &cfg.Session.ExpiryThreshold},
		{"REFRESH_TIMEOUT", &cfg.Session.RefreshTimeout},
		{"RETRY_BASE_DELAY", &cfg.Retry.BaseDelay},
		{"RETRY_MAX_DELAY", &cfg.Retry.MaxDelay},
		{"ATTEMPT_TIMEOUT", &cfg.Retry.AttemptTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyFlags(cfg *Config, flags Flags) {
	cfg.Environment = pick(flags.Environment, cfg.Environment)
	cfg.ServerURL = pick(flags.ServerURL, cfg.ServerURL)
	cfg.Storage.Driver = pick(flags.Storage, cfg.Storage.Driver)
	cfg.Storage.TokenFile = pick(flags.TokenFile, cfg.Storage.TokenFile)
	cfg.Storage.Namespace = pick(flags.Namespace, cfg.Storage.Namespace)
	cfg.Storage.RedisAddr = pick(flags.RedisAddr, cfg.Storage.RedisAddr)
	cfg.Logging.Level = pick(flags.LogLevel, cfg.Logging.Level)
}

// Validate checks value ranges and the storage driver.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay must not be less than retry.base_delay")
	}
	if c.Retry.AttemptTimeout <= 0 {
		return errors.New("retry.attempt_timeout must be positive")
	}
	if c.Session.ExpiryThreshold < 0 {
		return errors.New("session.expiry_threshold must not be negative")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("session.refresh_timeout must be positive")
	}
	if c.Storage.Namespace == "" {
		return errors.New("storage.namespace must not be empty")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case StorageMemory, StorageFile, StorageRedis, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.ServerURL != "" {
		if err := validateServerURL(c.ServerURL); err != nil {
			return fmt.Errorf("invalid SERVER_URL: %w", err)
		}
	}
	return nil
}

// Endpoint resolves the backend for the configured environment. An explicit
// ServerURL wins over the YAML candidates.
func (c *Config) Endpoint() (EndpointConfig, error) {
	if c.ServerURL != "" {
		return Resolve([]EndpointCandidate{{BaseURL: c.ServerURL}}, c.Environment)
	}
	candidates := c.Endpoints
	if len(candidates) == 0 {
		candidates = []EndpointCandidate{{BaseURL: DefaultServerURL}}
	}
	return Resolve(candidates, c.Environment)
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
