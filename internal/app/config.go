package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// ConfigFile is the name of the config file inside Home.
const ConfigFile = "config.yaml"

// Store backends.
const (
	StoreBadger = "badger"
	StoreFile   = "file"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string `yaml:"home"`      // config directory, e.g. $HOME/.beacon
	RelayURL string `yaml:"relay_url"` // relay base URL, e.g. http://127.0.0.1:8080
	UserID   string `yaml:"user_id"`
	DeviceID string `yaml:"device_id"`
	Store    string `yaml:"store"` // badger or file
	LogLevel string `yaml:"log_level"`

	EventType          string        `yaml:"event_type"`
	OneTimeKeyLowWater int           `yaml:"one_time_key_low_water"`
	OneTimeKeyBatch    int           `yaml:"one_time_key_batch"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SyncLimit          int           `yaml:"sync_limit"`
}

// DefaultHome returns $HOME/.beacon.
func DefaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".beacon"), nil
}

// LoadConfig reads <home>/config.yaml. A missing file yields the defaults.
func LoadConfig(home string) (Config, error) {
	cfg := Config{Home: home}
	data, err := os.ReadFile(filepath.Join(home, ConfigFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
		}
	}
	if cfg.Home == "" {
		cfg.Home = home
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.RelayURL == "" {
		c.RelayURL = "http://127.0.0.1:8080"
	}
	if c.Store == "" {
		c.Store = StoreBadger
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.EventType == "" {
		c.EventType = "beacon.location"
	}
	if c.OneTimeKeyLowWater == 0 {
		c.OneTimeKeyLowWater = 10
	}
	if c.OneTimeKeyBatch == 0 {
		c.OneTimeKeyBatch = 10
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.SyncLimit == 0 {
		c.SyncLimit = 100
	}
}

// Validate checks the fields needed to talk to a relay as a device.
func (c Config) Validate() error {
	switch {
	case c.Home == "":
		return errors.New("config: home is empty")
	case c.RelayURL == "":
		return errors.New("config: relay_url is empty")
	case c.Store != StoreBadger && c.Store != StoreFile:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	return nil
}

// Save writes the config to <home>/config.yaml with owner-only access.
func (c Config) Save() error {
	if err := os.MkdirAll(c.Home, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.Home, ConfigFile), data, 0o600)
}
