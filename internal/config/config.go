package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Session   SessionConfig   `yaml:"session"`
	Upload    UploadConfig    `yaml:"upload"`
	Export    ExportConfig    `yaml:"export"`
	Periodic  PeriodicConfig  `yaml:"periodic"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	LogLevel  string          `yaml:"log_level"`
}

// DeviceConfig holds discovery and link settings.
type DeviceConfig struct {
	NameFilter     string        `yaml:"name_filter"` // case-insensitive substring of the advertised name
	ScanWindow     time.Duration `yaml:"scan_window"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	IOTimeout      time.Duration `yaml:"io_timeout"` // per write / subscribe
}

// SessionConfig holds defaults for a single collection window.
type SessionConfig struct {
	Label    string        `yaml:"label"`
	Duration time.Duration `yaml:"duration"`
}

// UploadConfig selects and configures the remote sink.
type UploadConfig struct {
	Sink      string        `yaml:"sink"` // "none", "http" or "mqtt"
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	HTTP      HTTPConfig    `yaml:"http"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
}

// HTTPConfig configures the HTTP collector.
type HTTPConfig struct {
	URL        string `yaml:"url"`
	AuthSecret string `yaml:"auth_secret"` // enables request signing when set
}

// MQTTConfig configures the MQTT collector.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"` // "{device}" is replaced with the device id
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// ExportConfig holds durable export settings.
type ExportConfig struct {
	Dir        string   `yaml:"dir"`
	Formats    []string `yaml:"formats"`     // "csv", "xlsx"
	SQLitePath string   `yaml:"sqlite_path"` // empty disables the archive
}

// PeriodicConfig holds defaults for scheduled collection.
type PeriodicConfig struct {
	PeriodMinutes int    `yaml:"period_minutes"`
	SampleSeconds int    `yaml:"sample_seconds"`
	Label         string `yaml:"label"`
	AutoConnect   bool   `yaml:"auto_connect"`
}

// KeepaliveConfig controls holding the host awake during a session.
type KeepaliveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
	Channel string `yaml:"channel"`
}

// Export formats.
var exportFormats = []string{"csv", "xlsx"}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ringtap")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	exportDir := filepath.Join(home, ".local", "share", "ringtap", "exports")

	return &Config{
		Device: DeviceConfig{
			NameFilter:     "R0",
			ScanWindow:     10 * time.Second,
			ConnectTimeout: 20 * time.Second,
			IOTimeout:      5 * time.Second,
		},
		Session: SessionConfig{
			Label:    "session",
			Duration: time.Minute,
		},
		Upload: UploadConfig{
			Sink:      "none",
			BatchSize: 50,
			Timeout:   15 * time.Second,
			MQTT: MQTTConfig{
				Topic: "ringtap/{device}/samples",
				QoS:   1,
			},
		},
		Export: ExportConfig{
			Dir:     exportDir,
			Formats: []string{"csv"},
		},
		Periodic: PeriodicConfig{
			PeriodMinutes: 15,
			SampleSeconds: 60,
			Label:         "periodic",
			AutoConnect:   true,
		},
		Keepalive: KeepaliveConfig{
			Title:   "ringtap",
			Body:    "Collecting ring telemetry",
			Channel: "ringtap-session",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in export paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Export.Dir = expandTilde(cfg.Export.Dir)
	cfg.Export.SQLitePath = expandTilde(cfg.Export.SQLitePath)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" if a file already existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	content := "# ringtap configuration\n# Durations use Go syntax: 10s, 2m, 1h30m.\n\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.ScanWindow <= 0 {
		return fmt.Errorf("device.scan_window must be > 0")
	}
	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}
	if c.Device.IOTimeout <= 0 {
		return fmt.Errorf("device.io_timeout must be > 0")
	}

	if c.Session.Duration < 0 {
		return fmt.Errorf("session.duration must not be negative")
	}

	if c.Upload.BatchSize <= 0 {
		return fmt.Errorf("upload.batch_size must be > 0")
	}
	if c.Upload.Timeout <= 0 {
		return fmt.Errorf("upload.timeout must be > 0")
	}
	switch c.Upload.Sink {
	case "none":
	case "http":
		if c.Upload.HTTP.URL == "" {
			return fmt.Errorf("upload.http.url is required when upload.sink is \"http\"")
		}
	case "mqtt":
		if c.Upload.MQTT.Broker == "" {
			return fmt.Errorf("upload.mqtt.broker is required when upload.sink is \"mqtt\"")
		}
		if c.Upload.MQTT.QoS < 0 || c.Upload.MQTT.QoS > 2 {
			return fmt.Errorf("upload.mqtt.qos must be 0, 1 or 2, got %d", c.Upload.MQTT.QoS)
		}
	default:
		return fmt.Errorf("upload.sink must be \"none\", \"http\" or \"mqtt\", got %q", c.Upload.Sink)
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir must not be empty")
	}
	for _, f := range c.Export.Formats {
		if !slices.Contains(exportFormats, f) {
			return fmt.Errorf("export.formats: unknown format %q (want csv or xlsx)", f)
		}
	}

	if c.Periodic.PeriodMinutes <= 0 {
		return fmt.Errorf("periodic.period_minutes must be > 0")
	}
	if c.Periodic.SampleSeconds <= 0 {
		return fmt.Errorf("periodic.sample_seconds must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values map
// to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
