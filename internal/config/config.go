package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	BaseURL               string        `yaml:"base_url"`
	DBPath                string        `yaml:"db_path"`
	CredentialBackend     string        `yaml:"credential_backend"`
	RedisAddr             string        `yaml:"redis_addr"`
	RedisKeyPrefix        string        `yaml:"redis_key_prefix"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	RetryAttempts         int           `yaml:"retry_attempts"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	WindowHours           int           `yaml:"window_hours"`
	Bucket                string        `yaml:"bucket"`
	OnboardingComplete    bool          `yaml:"onboarding_complete"`
	DegradedAfterFailures int           `yaml:"degraded_after_failures"`
	DownAfterFailures     int           `yaml:"down_after_failures"`
	RecoverAfterSuccesses int           `yaml:"recover_after_successes"`
	LogLevel              string        `yaml:"log_level"`
	DemoAddr              string        `yaml:"demo_addr"`
	DemoEmail             string        `yaml:"demo_email"`
	DemoPassword          string        `yaml:"demo_password"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:               "http://localhost:8080/",
		DBPath:                defaultDBPath(),
		CredentialBackend:     BackendSQLite,
		RedisAddr:             "localhost:6379",
		RedisKeyPrefix:        "fireshield:",
		RequestTimeout:        30 * time.Second,
		RetryAttempts:         2,
		RetryDelay:            0,
		PollInterval:          20 * time.Second,
		WindowHours:           24,
		Bucket:                "hour",
		OnboardingComplete:    true,
		DegradedAfterFailures: 1,
		DownAfterFailures:     3,
		RecoverAfterSuccesses: 1,
		LogLevel:              "info",
		DemoAddr:              ":8080",
		DemoEmail:             "demo@example.com",
		DemoPassword:          "demo",
	}
}

// Load layers configuration: defaults, then the YAML file at path (skipped
// when path is empty or missing), then environment variables. A .env file in
// the working directory is read into the environment first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultFilePath is where Load looks when no --config flag is given.
func DefaultFilePath() string {
	if v := os.Getenv("FIRESHIELD_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "fireshield", "config.yaml")
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	c.BaseURL = envOrDefault("FIRESHIELD_BASE_URL", c.BaseURL)
	c.DBPath = envOrDefault("FIRESHIELD_DB_PATH", c.DBPath)
	c.CredentialBackend = strings.ToLower(envOrDefault("FIRESHIELD_CREDENTIAL_BACKEND", c.CredentialBackend))
	c.RedisAddr = envOrDefault("FIRESHIELD_REDIS_ADDR", c.RedisAddr)
	c.RedisKeyPrefix = envOrDefault("FIRESHIELD_REDIS_KEY_PREFIX", c.RedisKeyPrefix)
	c.Bucket = envOrDefault("FIRESHIELD_BUCKET", c.Bucket)
	c.LogLevel = envOrDefault("FIRESHIELD_LOG_LEVEL", c.LogLevel)
	c.DemoAddr = envOrDefault("FIRESHIELD_DEMO_ADDR", c.DemoAddr)
	c.DemoEmail = envOrDefault("FIRESHIELD_DEMO_EMAIL", c.DemoEmail)
	c.DemoPassword = envOrDefault("FIRESHIELD_DEMO_PASSWORD", c.DemoPassword)

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	c.RequestTimeout, err = envDuration("FIRESHIELD_REQUEST_TIMEOUT", c.RequestTimeout)
	collect(err)
	c.RetryDelay, err = envDuration("FIRESHIELD_RETRY_DELAY", c.RetryDelay)
	collect(err)
	c.PollInterval, err = envDuration("FIRESHIELD_POLL_INTERVAL", c.PollInterval)
	collect(err)
	c.RetryAttempts, err = envInt("FIRESHIELD_RETRY_ATTEMPTS", c.RetryAttempts)
	collect(err)
	c.WindowHours, err = envInt("FIRESHIELD_WINDOW_HOURS", c.WindowHours)
	collect(err)
	c.OnboardingComplete, err = envBool("FIRESHIELD_ONBOARDING_COMPLETE", c.OnboardingComplete)
	collect(err)
	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(strings.TrimSpace(c.BaseURL)); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url must be an absolute URL (got %q)", c.BaseURL))
	}
	switch c.CredentialBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, errors.New("db_path is required for the sqlite credential backend"))
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis credential backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("credential_backend must be one of: sqlite, memory, redis (got: %s)", c.CredentialBackend))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry_attempts must be at least 1"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.WindowHours <= 0 {
		errs = append(errs, errors.New("window_hours must be positive"))
	}
	if c.DegradedAfterFailures < 1 || c.DownAfterFailures < c.DegradedAfterFailures {
		errs = append(errs, errors.New("down_after_failures must be >= degraded_after_failures >= 1"))
	}
	if c.RecoverAfterSuccesses < 1 {
		errs = append(errs, errors.New("recover_after_successes must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%w", errors.Join(errs...))
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fireshield.db"
	}
	return filepath.Join(home, ".local", "state", "fireshield", "state.db")
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func envBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
