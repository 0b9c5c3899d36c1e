package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blechat/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Name != "User" {
		t.Errorf("Name = %q, want %q", cfg.Name, "User")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Scan.WindowSeconds != 5 {
		t.Errorf("Scan.WindowSeconds = %d, want 5", cfg.Scan.WindowSeconds)
	}
	if cfg.Link.ServiceUUID != ble.ServiceUUID {
		t.Errorf("Link.ServiceUUID = %q, want %q", cfg.Link.ServiceUUID, ble.ServiceUUID)
	}
	if cfg.Link.MaxMessageBytes != 4096 {
		t.Errorf("Link.MaxMessageBytes = %d, want 4096", cfg.Link.MaxMessageBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
name: alice
log_level: debug
scan:
  window_seconds: 10
link:
  mtu: 185
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Name != "alice" {
		t.Errorf("Name = %q, want %q", cfg.Name, "alice")
	}
	if cfg.Scan.WindowSeconds != 10 {
		t.Errorf("Scan.WindowSeconds = %d, want 10", cfg.Scan.WindowSeconds)
	}
	if cfg.Link.MTU != 185 {
		t.Errorf("Link.MTU = %d, want 185", cfg.Link.MTU)
	}
	// Fields missing from the file keep their defaults.
	if cfg.Scan.TTLSeconds != 30 {
		t.Errorf("Scan.TTLSeconds = %d, want default 30", cfg.Scan.TTLSeconds)
	}
	if cfg.Link.ServiceUUID != ble.ServiceUUID {
		t.Errorf("Link.ServiceUUID = %q, want default", cfg.Link.ServiceUUID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file should error")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty name", func(c *Config) { c.Name = "" }, "name"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"zero scan window", func(c *Config) { c.Scan.WindowSeconds = 0 }, "window_seconds"},
		{"bad service uuid", func(c *Config) { c.Link.ServiceUUID = "not-a-uuid" }, "service_uuid"},
		{"mtu below header", func(c *Config) { c.Link.MTU = 2 }, "mtu"},
		{"zero max message", func(c *Config) { c.Link.MaxMessageBytes = 0 }, "max_message_bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tc.wantSub)
			}
		})
	}
}
