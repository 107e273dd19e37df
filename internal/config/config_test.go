package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.NameFilter != "R0" {
		t.Errorf("Device.NameFilter = %q, want %q", cfg.Device.NameFilter, "R0")
	}
	if cfg.Device.ScanWindow != 10*time.Second {
		t.Errorf("Device.ScanWindow = %v, want 10s", cfg.Device.ScanWindow)
	}
	if cfg.Upload.Sink != "none" {
		t.Errorf("Upload.Sink = %q, want %q", cfg.Upload.Sink, "none")
	}
	if cfg.Upload.BatchSize != 50 {
		t.Errorf("Upload.BatchSize = %d, want 50", cfg.Upload.BatchSize)
	}
	if len(cfg.Export.Formats) != 1 || cfg.Export.Formats[0] != "csv" {
		t.Errorf("Export.Formats = %v, want [csv]", cfg.Export.Formats)
	}
	if cfg.Export.Dir == "" {
		t.Error("Export.Dir should not be empty")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  name_filter: R06
  scan_window: 5s
  connect_timeout: 30s
session:
  label: sleep
  duration: 8h
upload:
  sink: http
  batch_size: 25
  http:
    url: https://collector.example/api/samples
    auth_secret: s3cret
export:
  dir: /tmp/ringtap
  formats: [csv, xlsx]
  sqlite_path: /tmp/ringtap/archive.db
periodic:
  period_minutes: 30
  sample_seconds: 45
  auto_connect: false
keepalive:
  enabled: true
log_level: debug
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

	if cfg.Device.NameFilter != "R06" {
		t.Errorf("Device.NameFilter = %q, want %q", cfg.Device.NameFilter, "R06")
	}
	if cfg.Device.ScanWindow != 5*time.Second {
		t.Errorf("Device.ScanWindow = %v, want 5s", cfg.Device.ScanWindow)
	}
	if cfg.Device.IOTimeout != 5*time.Second {
		t.Errorf("Device.IOTimeout = %v, want default 5s", cfg.Device.IOTimeout)
	}
	if cfg.Session.Duration != 8*time.Hour {
		t.Errorf("Session.Duration = %v, want 8h", cfg.Session.Duration)
	}
	if cfg.Upload.Sink != "http" || cfg.Upload.HTTP.AuthSecret != "s3cret" {
		t.Errorf("Upload = %+v, want http sink with secret", cfg.Upload)
	}
	if cfg.Upload.BatchSize != 25 {
		t.Errorf("Upload.BatchSize = %d, want 25", cfg.Upload.BatchSize)
	}
	if cfg.Upload.MQTT.Topic != "ringtap/{device}/samples" {
		t.Errorf("Upload.MQTT.Topic = %q, want default", cfg.Upload.MQTT.Topic)
	}
	if len(cfg.Export.Formats) != 2 || cfg.Export.Formats[1] != "xlsx" {
		t.Errorf("Export.Formats = %v, want [csv xlsx]", cfg.Export.Formats)
	}
	if cfg.Periodic.PeriodMinutes != 30 || cfg.Periodic.SampleSeconds != 45 || cfg.Periodic.AutoConnect {
		t.Errorf("Periodic = %+v", cfg.Periodic)
	}
	if cfg.Periodic.Label != "periodic" {
		t.Errorf("Periodic.Label = %q, want default %q", cfg.Periodic.Label, "periodic")
	}
	if !cfg.Keepalive.Enabled {
		t.Error("Keepalive.Enabled = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	yamlContent := `
export:
  dir: ~/ringtap/exports
  sqlite_path: ~/ringtap/archive.db
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

	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, "ringtap", "exports"); cfg.Export.Dir != want {
		t.Errorf("Export.Dir = %q, want %q", cfg.Export.Dir, want)
	}
	if want := filepath.Join(home, "ringtap", "archive.db"); cfg.Export.SQLitePath != want {
		t.Errorf("Export.SQLitePath = %q, want %q", cfg.Export.SQLitePath, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Device.NameFilter != "R0" {
		t.Errorf("Device.NameFilter = %q, want default", cfg.Device.NameFilter)
	}
}

func TestLoadBadDuration(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("device:\n  scan_window: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() expected error for bad duration, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"zero scan window", func(c *Config) { c.Device.ScanWindow = 0 }, "device.scan_window"},
		{"zero io timeout", func(c *Config) { c.Device.IOTimeout = 0 }, "device.io_timeout"},
		{"negative duration", func(c *Config) { c.Session.Duration = -time.Second }, "session.duration"},
		{"zero batch size", func(c *Config) { c.Upload.BatchSize = 0 }, "upload.batch_size"},
		{"unknown sink", func(c *Config) { c.Upload.Sink = "kafka" }, "upload.sink"},
		{"http without url", func(c *Config) { c.Upload.Sink = "http" }, "upload.http.url"},
		{"mqtt without broker", func(c *Config) { c.Upload.Sink = "mqtt" }, "upload.mqtt.broker"},
		{"mqtt bad qos", func(c *Config) {
			c.Upload.Sink = "mqtt"
			c.Upload.MQTT.Broker = "tcp://localhost:1883"
			c.Upload.MQTT.QoS = 3
		}, "upload.mqtt.qos"},
		{"empty export dir", func(c *Config) { c.Export.Dir = "" }, "export.dir"},
		{"unknown format", func(c *Config) { c.Export.Formats = []string{"csv", "parquet"} }, "parquet"},
		{"zero period", func(c *Config) { c.Periodic.PeriodMinutes = 0 }, "periodic.period_minutes"},
		{"zero sample", func(c *Config) { c.Periodic.SampleSeconds = 0 }, "periodic.sample_seconds"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "ringtap", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# ringtap") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Device.ScanWindow != 10*time.Second {
		t.Errorf("written config Device.ScanWindow = %v, want 10s", cfg.Device.ScanWindow)
	}
	if cfg.Upload.MQTT.QoS != 1 {
		t.Errorf("written config Upload.MQTT.QoS = %d, want 1", cfg.Upload.MQTT.QoS)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "ringtap")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
