// Package config holds the client's settings under ~/.config/mess:
// config.json for tunables, a data/ directory for the durable store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultServerURL = "http://localhost:4000"

// Config is the persisted client configuration.
type Config struct {
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`

	// Sync tunables; zero values mean defaults.
	SyncInterval string `json:"sync_interval,omitempty"` // duration string, default "5m"
	BatchLimit   int    `json:"batch_limit,omitempty"`   // default 50
	MaxRetries   int    `json:"max_retries,omitempty"`   // default 3
	CacheTTL     string `json:"cache_ttl,omitempty"`     // duration string, default "5m"
	AutoSync     *bool  `json:"auto_sync,omitempty"`     // nil = default true
}

// Dir returns ~/.config/mess, creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "mess")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// DataDir returns the directory for the durable key-value store.
func DataDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	data := filepath.Join(dir, "data")
	if err := os.MkdirAll(data, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return data, nil
}

// Load reads config.json, returning defaults when the file is missing.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// Save writes config.json atomically (temp file + rename).
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, "config.json"))
}

// ResolvedServerURL returns the backend base URL.
// Priority: MESS_SERVER_URL env > config.json > default.
func (c *Config) ResolvedServerURL() string {
	if v := os.Getenv("MESS_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	if c.ServerURL != "" {
		return strings.TrimRight(c.ServerURL, "/")
	}
	return defaultServerURL
}

// ResolvedSyncInterval returns the periodic drain cadence.
func (c *Config) ResolvedSyncInterval() time.Duration {
	return c.duration(c.SyncInterval, 5*time.Minute)
}

// ResolvedCacheTTL returns the default response-cache freshness window.
func (c *Config) ResolvedCacheTTL() time.Duration {
	return c.duration(c.CacheTTL, 5*time.Minute)
}

// ResolvedMaxRetries returns the per-request retry bound.
func (c *Config) ResolvedMaxRetries() int {
	if v := os.Getenv("MESS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

// ResolvedBatchLimit returns the per-drain batch cap.
func (c *Config) ResolvedBatchLimit() int {
	if c.BatchLimit > 0 {
		return c.BatchLimit
	}
	return 50
}

// AutoSyncEnabled reports whether the periodic drain timer should run.
// Priority: MESS_AUTO_SYNC env > config.json > default true.
func (c *Config) AutoSyncEnabled() bool {
	if v := os.Getenv("MESS_AUTO_SYNC"); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}
	if c.AutoSync != nil {
		return *c.AutoSync
	}
	return true
}

// EnsureDeviceID returns the stable device id, generating and persisting one
// on first use.
func EnsureDeviceID(cfg *Config) (string, error) {
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	cfg.DeviceID = uuid.NewString()
	if err := Save(cfg); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return cfg.DeviceID, nil
}

func (c *Config) duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
