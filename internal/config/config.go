package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool
	LogDebug       bool

	// CachePath is the SQLite file backing the local cache. Empty keeps the
	// cache in-process.
	CachePath string
	// DatabaseURL enables the remote chat message store. Empty runs local-only.
	DatabaseURL string

	MemoryRetention       time.Duration
	MemoryCleanupInterval time.Duration

	MessagesLocalLimit  int
	MessagesRecentLimit int

	RemoteWorkers   int
	RemoteQueueSize int
	RemoteTimeout   time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "recall"),
		AllowAnyOrigin:           false,
		CachePath:                stringsTrimSpace("CACHE_PATH"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		MemoryRetention:          30 * 24 * time.Hour,
		MemoryCleanupInterval:    time.Hour,
		MessagesLocalLimit:       20,
		MessagesRecentLimit:      5,
		// One worker keeps remote writes in submission order.
		RemoteWorkers:   1,
		RemoteQueueSize: 256,
		RemoteTimeout:   10 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogDebug, err = boolFromEnv("APP_LOG_DEBUG", cfg.LogDebug)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRetention, err = durationFromEnv("MEMORY_RETENTION", cfg.MemoryRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryCleanupInterval, err = durationFromEnv("MEMORY_CLEANUP_INTERVAL", cfg.MemoryCleanupInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MessagesLocalLimit, err = intFromEnv("MESSAGES_LOCAL_LIMIT", cfg.MessagesLocalLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MessagesRecentLimit, err = intFromEnv("MESSAGES_RECENT_LIMIT", cfg.MessagesRecentLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteWorkers, err = intFromEnv("REMOTE_WORKERS", cfg.RemoteWorkers)
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteQueueSize, err = intFromEnv("REMOTE_QUEUE_SIZE", cfg.RemoteQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteTimeout, err = durationFromEnv("REMOTE_TIMEOUT", cfg.RemoteTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MemoryRetention <= 0 {
		return Config{}, fmt.Errorf("MEMORY_RETENTION must be positive")
	}
	if cfg.MemoryCleanupInterval < 0 {
		return Config{}, fmt.Errorf("MEMORY_CLEANUP_INTERVAL must be >= 0")
	}
	if cfg.MessagesLocalLimit <= 0 {
		return Config{}, fmt.Errorf("MESSAGES_LOCAL_LIMIT must be positive")
	}
	if cfg.MessagesRecentLimit <= 0 || cfg.MessagesRecentLimit > cfg.MessagesLocalLimit {
		return Config{}, fmt.Errorf("MESSAGES_RECENT_LIMIT must be between 1 and MESSAGES_LOCAL_LIMIT")
	}
	if cfg.RemoteWorkers <= 0 {
		return Config{}, fmt.Errorf("REMOTE_WORKERS must be positive")
	}
	if cfg.RemoteQueueSize <= 0 {
		return Config{}, fmt.Errorf("REMOTE_QUEUE_SIZE must be positive")
	}
	if cfg.RemoteTimeout <= 0 {
		return Config{}, fmt.Errorf("REMOTE_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
