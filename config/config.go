// Package config reads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for the rentledger service.
type Config struct {
	DatabaseURL    string
	RedisAddr      string
	JWTSecret      string
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	PlatformAdmin  string
	RelayInterval  time.Duration
	LockExpiry     time.Duration
	MaxConnections int32
}

// Load reads .env files (missing files are ignored) and then the
// environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}

	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
		PlatformAdmin: os.Getenv("PLATFORM_ADMIN"),
	}

	var err error
	if cfg.RelayInterval, err = duration("RELAY_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LockExpiry, err = duration("LOCK_EXPIRY", 10*time.Second); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: invalid DB_MAX_CONNS %q", v)
		}
		cfg.MaxConnections = int32(n)
	}

	return cfg, cfg.Validate()
}

// Validate checks settings that have no safe default.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s %q", key, v)
	}
	return d, nil
}
