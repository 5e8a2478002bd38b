package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	AdminToken      string // bearer token for /admin/*; empty = admin API disabled
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimit int // requests per IP per minute (default: 600)

	HistoryRetention time.Duration // retention period for lock events (default: 30 days)
	CleanupInterval  time.Duration // how often expired events are pruned (default: 1h)

	WebhookURL    string // receives lock change events; empty = disabled
	WebhookSecret string // HMAC key for X-Assetlock-Signature
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/locks.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimit: 600,

		HistoryRetention: 30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}

	if v := os.Getenv("ASSETLOCK_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ASSETLOCK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ASSETLOCK_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("ASSETLOCK_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("ASSETLOCK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("ASSETLOCK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ASSETLOCK_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit = n
		}
	}
	if v := os.Getenv("ASSETLOCK_HISTORY_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.HistoryRetention = d
		}
	}
	if v := os.Getenv("ASSETLOCK_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CleanupInterval = d
		}
	}

	cfg.WebhookURL = os.Getenv("ASSETLOCK_WEBHOOK_URL")
	cfg.WebhookSecret = os.Getenv("ASSETLOCK_WEBHOOK_SECRET")

	return cfg
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
