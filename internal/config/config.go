// Package config manages hostcore daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete hostcore daemon configuration.
type Config struct {
	Transport TransportConfig `koanf:"transport"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Device    DeviceConfig    `koanf:"device"`
	Confirm   ConfirmConfig   `koanf:"confirm"`
}

// TransportConfig holds the HID frame assembler/writer configuration.
type TransportConfig struct {
	// MaxFrameSize bounds the largest in-flight message body, in bytes.
	MaxFrameSize int `koanf:"max_frame_size"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// DeviceConfig holds device-identity settings that gate which registry
// entries are reachable.
type DeviceConfig struct {
	// FactoryMode permits FactoryOnly messages and blocks
	// FactoryProhibited ones, mirroring a manufacturing-line build.
	FactoryMode bool `koanf:"factory_mode"`
}

// ConfirmConfig holds the user-confirmation dialog's timing parameters.
type ConfirmConfig struct {
	// Timeout is the press-and-hold threshold before a ConfirmWait
	// dialog auto-advances to Confirmed.
	Timeout time.Duration `koanf:"timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			MaxFrameSize: 12 * 1024,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Device: DeviceConfig{
			FactoryMode: false,
		},
		Confirm: ConfirmConfig{
			Timeout: 1200 * time.Millisecond,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for hostcore configuration.
// Variables are named HOSTCORE_<section>_<key>, e.g., HOSTCORE_METRICS_ADDR.
const envPrefix = "HOSTCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (HOSTCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	HOSTCORE_TRANSPORT_MAX_FRAME_SIZE -> transport.max_frame_size
//	HOSTCORE_METRICS_ADDR             -> metrics.addr
//	HOSTCORE_METRICS_PATH             -> metrics.path
//	HOSTCORE_LOG_LEVEL                -> log.level
//	HOSTCORE_LOG_FORMAT               -> log.format
//	HOSTCORE_DEVICE_FACTORY_MODE      -> device.factory_mode
//	HOSTCORE_CONFIRM_TIMEOUT          -> confirm.timeout
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms HOSTCORE_METRICS_ADDR -> metrics.addr.
// Strips the HOSTCORE_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so HOSTCORE_TRANSPORT_MAX_FRAME_SIZE becomes
// transport.max_frame_size.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"transport.max_frame_size": defaults.Transport.MaxFrameSize,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
		"device.factory_mode":      defaults.Device.FactoryMode,
		"confirm.timeout":          defaults.Confirm.Timeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidMaxFrameSize indicates the configured frame size bound is
	// non-positive.
	ErrInvalidMaxFrameSize = errors.New("transport.max_frame_size must be > 0")

	// ErrInvalidConfirmTimeout indicates the confirm dialog timeout is
	// non-positive.
	ErrInvalidConfirmTimeout = errors.New("confirm.timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}
	if cfg.Transport.MaxFrameSize <= 0 {
		return ErrInvalidMaxFrameSize
	}
	if cfg.Confirm.Timeout <= 0 {
		return ErrInvalidConfirmTimeout
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
