package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "SangoPay Ledger"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultLockTimeout    = 5 * time.Second
	defaultLockLease      = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultReaperInterval = time.Minute
	defaultReaperCutoff   = 15 * time.Minute
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	LockTimeout    time.Duration
	LockLease      time.Duration
	MaxAttempts    int
	ReaperInterval time.Duration
	ReaperCutoff   time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. DATABASE_URL and REDIS_URL are mandatory outside development; in
// development the service falls back to in-memory backends.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		LockTimeout:    defaultLockTimeout,
		LockLease:      defaultLockLease,
		MaxAttempts:    defaultMaxAttempts,
		ReaperInterval: defaultReaperInterval,
		ReaperCutoff:   defaultReaperCutoff,
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = getDuration("LOCK_TIMEOUT", cfg.LockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LockLease, err = getDuration("LOCK_LEASE", cfg.LockLease); err != nil {
		return Config{}, err
	}
	if cfg.ReaperInterval, err = getDuration("REAPER_INTERVAL", cfg.ReaperInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReaperCutoff, err = getDuration("REAPER_CUTOFF", cfg.ReaperCutoff); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("MAX_RETRY_ATTEMPTS"); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil || attempts < 1 {
			return Config{}, fmt.Errorf("invalid MAX_RETRY_ATTEMPTS: %q", v)
		}
		cfg.MaxAttempts = attempts
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a development-like environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
