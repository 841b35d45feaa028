// Package config provides configuration management for liftlog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddr is the HTTP bind address.
	DefaultListenAddr = "127.0.0.1:7480"
	// DefaultStore selects the sqlite backend.
	DefaultStore = "sqlite"
)

// Config holds engine and daemon settings.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Store      string `yaml:"store"` // sqlite | redis | memory
	RedisAddr  string `yaml:"redis_addr,omitempty"`
	Owner      string `yaml:"owner,omitempty"` // default owner id, guest if empty
	Debug      bool   `yaml:"debug"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig tunes the persistence gateway retry policy.
type StorageConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	BaseDelayMS    int     `yaml:"base_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Store:      DefaultStore,
		Storage: StorageConfig{
			TimeoutSeconds: 10,
			MaxRetries:     3,
			BaseDelayMS:    500,
			MaxDelayMS:     5000,
			BackoffFactor:  2,
		},
	}
}

// DataDir returns the liftlog data directory under the user's home.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".liftlog"
	}
	return filepath.Join(home, ".liftlog")
}

// DBPath returns the sqlite store path.
func DBPath() string {
	return filepath.Join(DataDir(), "liftlog.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("serializing default settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureAll prepares the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	return EnsureSettings()
}

// Load reads the settings file and applies LIFTLOG_* env overrides:
// LIFTLOG_LISTEN_ADDR, LIFTLOG_STORE, LIFTLOG_REDIS_ADDR,
// LIFTLOG_OWNER, LIFTLOG_DEBUG.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LIFTLOG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LIFTLOG_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("LIFTLOG_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("LIFTLOG_OWNER"); v != "" {
		cfg.Owner = v
	}
	if v := os.Getenv("LIFTLOG_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = debug
		}
	}
}
