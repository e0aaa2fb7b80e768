package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the environment configuration of the CLI. Flags override it.
type Config struct {
	Driver          string
	DBPath          string
	DatabaseURL     string
	RedeliveryDelay time.Duration
	PollInterval    time.Duration
	MetricsAddr     string
	LogLevel        string
}

// helper: read env var as int milliseconds → convert to duration
func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if value, exists := os.LookupEnv(name); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnv(name, defaultVal string) string {
	if value, exists := os.LookupEnv(name); exists {
		return value
	}
	return defaultVal
}

// LoadConfig reads envFiles (.env by default) when present, then the
// TABLEQUEUE_* variables. Variables already set take precedence over the files.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}

	cfg := &Config{
		Driver:          getEnv("TABLEQUEUE_DRIVER", "sqlite"),
		DBPath:          getEnv("TABLEQUEUE_DB_PATH", "tablequeue.db"),
		DatabaseURL:     getEnv("TABLEQUEUE_DATABASE_URL", ""),
		RedeliveryDelay: getEnvAsDuration("TABLEQUEUE_REDELIVERY_DELAY_MS", 20*time.Minute),
		PollInterval:    getEnvAsDuration("TABLEQUEUE_POLL_INTERVAL_MS", 200*time.Millisecond),
		MetricsAddr:     getEnv("TABLEQUEUE_METRICS_ADDR", ""),
		LogLevel:        getEnv("TABLEQUEUE_LOG_LEVEL", "info"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("TABLEQUEUE_DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("TABLEQUEUE_DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid driver: %q", c.Driver)
	}

	if c.RedeliveryDelay <= 0 {
		return fmt.Errorf("invalid redelivery delay: %s", c.RedeliveryDelay)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.PollInterval)
	}

	return nil
}

func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
