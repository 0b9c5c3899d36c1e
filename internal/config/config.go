// Package config loads and validates the blechat YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"blechat/internal/ble"
	"blechat/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	Name     string     `yaml:"name"`
	LogLevel string     `yaml:"log_level"`
	Scan     ScanConfig `yaml:"scan"`
	Link     LinkConfig `yaml:"link"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	WindowSeconds int `yaml:"window_seconds"` // length of one scan
	TTLSeconds    int `yaml:"ttl_seconds"`    // candidate freshness
}

// LinkConfig holds transport and framing settings.
type LinkConfig struct {
	ServiceUUID           string `yaml:"service_uuid"` // override the chat service identifier
	MTU                   int    `yaml:"mtu"`          // fallback frame size when the link reports none
	MaxMessageBytes       int    `yaml:"max_message_bytes"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blechat")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Name:     "User",
		LogLevel: "info",
		Scan: ScanConfig{
			WindowSeconds: 5,
			TTLSeconds:    30,
		},
		Link: LinkConfig{
			ServiceUUID:           ble.ServiceUUID,
			MTU:                   protocol.DefaultMTU,
			MaxMessageBytes:       protocol.DefaultMaxMessageBytes,
			ConnectTimeoutSeconds: 10,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Scan.WindowSeconds <= 0 {
		return fmt.Errorf("scan.window_seconds must be > 0")
	}
	if c.Scan.TTLSeconds <= 0 {
		return fmt.Errorf("scan.ttl_seconds must be > 0")
	}

	if _, err := uuid.Parse(c.Link.ServiceUUID); err != nil {
		return fmt.Errorf("link.service_uuid %q is not a valid UUID: %w", c.Link.ServiceUUID, err)
	}
	if c.Link.MTU <= protocol.HeaderSize {
		return fmt.Errorf("link.mtu must be > %d (frame header size)", protocol.HeaderSize)
	}
	if c.Link.MaxMessageBytes <= 0 {
		return fmt.Errorf("link.max_message_bytes must be > 0")
	}
	if c.Link.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("link.connect_timeout_seconds must be > 0")
	}
	return nil
}
