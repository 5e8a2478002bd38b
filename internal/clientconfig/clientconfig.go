// Package clientconfig manages the per-user client settings stored at
// ~/.config/assetlock/config.json, with environment overrides.
package clientconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is the client config stored at ~/.config/assetlock/config.json.
type Config struct {
	ServerURL string `json:"server_url,omitempty"`
	// Host and Port are the legacy editor settings; used when ServerURL is empty.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	UserName string `json:"user_name,omitempty"`

	RefreshInterval    string   `json:"refresh_interval,omitempty"`     // default "10s"
	AutoUnlockInterval string   `json:"auto_unlock_interval,omitempty"` // default "60s"
	RequestTimeout     string   `json:"request_timeout,omitempty"`      // default "10s"
	ShutdownTimeout    string   `json:"shutdown_timeout,omitempty"`     // default "15s"
	TrackedExtensions  []string `json:"tracked_extensions,omitempty"`   // default .prefab, .unity
}

const (
	defaultServerURL          = "http://localhost:8080"
	defaultRefreshInterval    = 10 * time.Second
	defaultAutoUnlockInterval = 60 * time.Second
	defaultRequestTimeout     = 10 * time.Second
	defaultShutdownTimeout    = 15 * time.Second
	configFileName            = "config.json"
)

// DefaultTrackedExtensions are the asset types the save gate protects.
var DefaultTrackedExtensions = []string{".prefab", ".unity"}

// ErrUnknownKey is returned by Get and Set for keys that are not settable.
var ErrUnknownKey = errors.New("unknown config key")

// ConfigDir returns ~/.config/assetlock (or $ASSETLOCK_CONFIG_DIR), creating it if necessary.
func ConfigDir() (string, error) {
	dir := os.Getenv("ASSETLOCK_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "assetlock")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the full path of config.json.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadConfig reads the client config. A missing file yields an empty config.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes the client config atomically.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ServiceURL composes the lock service endpoint from the config alone.
func (c *Config) ServiceURL() string {
	if c.ServerURL != "" {
		return strings.TrimRight(c.ServerURL, "/")
	}
	if c.Host != "" {
		host := c.Host
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		if c.Port > 0 {
			return fmt.Sprintf("%s:%d", strings.TrimRight(host, "/"), c.Port)
		}
		return strings.TrimRight(host, "/")
	}
	return ""
}

// GetServerURL returns the lock service URL.
// Priority: ASSETLOCK_SERVER_URL env > config.json server_url > host/port > default.
func GetServerURL() string {
	if v := os.Getenv("ASSETLOCK_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	cfg, err := LoadConfig()
	if err == nil {
		if u := cfg.ServiceURL(); u != "" {
			return u
		}
	}
	return defaultServerURL
}

// GetUserName returns the configured identity, or "" when unset.
// Priority: ASSETLOCK_USER env > config.json user_name.
func GetUserName() string {
	if v := strings.TrimSpace(os.Getenv("ASSETLOCK_USER")); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return strings.TrimSpace(cfg.UserName)
	}
	return ""
}

// GetRefreshInterval returns the lock cache refresh interval.
// Priority: ASSETLOCK_REFRESH_INTERVAL env > config.json refresh_interval > 10s
func GetRefreshInterval() time.Duration {
	return durationSetting("ASSETLOCK_REFRESH_INTERVAL", func(c *Config) string { return c.RefreshInterval }, defaultRefreshInterval)
}

// GetAutoUnlockInterval returns the auto-unlock scan interval.
// Priority: ASSETLOCK_AUTO_UNLOCK_INTERVAL env > config.json auto_unlock_interval > 60s
func GetAutoUnlockInterval() time.Duration {
	return durationSetting("ASSETLOCK_AUTO_UNLOCK_INTERVAL", func(c *Config) string { return c.AutoUnlockInterval }, defaultAutoUnlockInterval)
}

// GetRequestTimeout returns the per-request timeout for lock service calls.
// Priority: ASSETLOCK_REQUEST_TIMEOUT env > config.json request_timeout > 10s
func GetRequestTimeout() time.Duration {
	return durationSetting("ASSETLOCK_REQUEST_TIMEOUT", func(c *Config) string { return c.RequestTimeout }, defaultRequestTimeout)
}

// GetShutdownTimeout bounds the shutdown auto-unlock pass.
// Priority: ASSETLOCK_SHUTDOWN_PASS_TIMEOUT env > config.json shutdown_timeout > 15s
func GetShutdownTimeout() time.Duration {
	return durationSetting("ASSETLOCK_SHUTDOWN_PASS_TIMEOUT", func(c *Config) string { return c.ShutdownTimeout }, defaultShutdownTimeout)
}

// GetTrackedExtensions returns the lower-cased extensions guarded by the save gate.
// Priority: ASSETLOCK_TRACKED_EXTENSIONS env (comma separated) > config.json > default.
func GetTrackedExtensions() []string {
	if v := os.Getenv("ASSETLOCK_TRACKED_EXTENSIONS"); v != "" {
		return normalizeExtensions(strings.Split(v, ","))
	}
	cfg, err := LoadConfig()
	if err == nil && len(cfg.TrackedExtensions) > 0 {
		return normalizeExtensions(cfg.TrackedExtensions)
	}
	return append([]string(nil), DefaultTrackedExtensions...)
}

func durationSetting(envKey string, field func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil {
		if v := field(cfg); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d
			}
		}
	}
	return def
}

func normalizeExtensions(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ext := range in {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}

// Keys lists the settable config keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(accessors))
	for k := range accessors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type accessor struct {
	get func(*Config) string
	set func(*Config, string) error
}

var accessors = map[string]accessor{
	"server_url": {
		get: func(c *Config) string { return c.ServerURL },
		set: func(c *Config, v string) error { c.ServerURL = v; return nil },
	},
	"host": {
		get: func(c *Config) string { return c.Host },
		set: func(c *Config, v string) error { c.Host = v; return nil },
	},
	"port": {
		get: func(c *Config) string {
			if c.Port == 0 {
				return ""
			}
			return strconv.Itoa(c.Port)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Port = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 65535 {
				return fmt.Errorf("invalid port %q", v)
			}
			c.Port = n
			return nil
		},
	},
	"user_name": {
		get: func(c *Config) string { return c.UserName },
		set: func(c *Config, v string) error { c.UserName = strings.TrimSpace(v); return nil },
	},
	"refresh_interval":     durationAccessor(func(c *Config) *string { return &c.RefreshInterval }),
	"auto_unlock_interval": durationAccessor(func(c *Config) *string { return &c.AutoUnlockInterval }),
	"request_timeout":      durationAccessor(func(c *Config) *string { return &c.RequestTimeout }),
	"shutdown_timeout":     durationAccessor(func(c *Config) *string { return &c.ShutdownTimeout }),
	"tracked_extensions": {
		get: func(c *Config) string { return strings.Join(c.TrackedExtensions, ",") },
		set: func(c *Config, v string) error {
			if v == "" {
				c.TrackedExtensions = nil
				return nil
			}
			c.TrackedExtensions = normalizeExtensions(strings.Split(v, ","))
			return nil
		},
	},
}

func durationAccessor(field func(*Config) *string) accessor {
	return accessor{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if v != "" {
				d, err := time.ParseDuration(v)
				if err != nil || d <= 0 {
					return fmt.Errorf("invalid duration %q", v)
				}
			}
			*field(c) = v
			return nil
		},
	}
}

// Get returns the stored value of key (not the effective value).
func (c *Config) Get(key string) (string, error) {
	a, ok := accessors[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return a.get(c), nil
}

// Set validates and stores value under key. An empty value clears it.
func (c *Config) Set(key, value string) error {
	a, ok := accessors[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return a.set(c, strings.TrimSpace(value))
}
