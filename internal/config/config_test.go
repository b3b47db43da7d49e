package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keepkey/hostcore/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Transport.MaxFrameSize != 12*1024 {
		t.Errorf("Transport.MaxFrameSize = %d, want %d", cfg.Transport.MaxFrameSize, 12*1024)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Device.FactoryMode != false {
		t.Errorf("Device.FactoryMode = %v, want false", cfg.Device.FactoryMode)
	}

	if cfg.Confirm.Timeout != 1200*time.Millisecond {
		t.Errorf("Confirm.Timeout = %v, want %v", cfg.Confirm.Timeout, 1200*time.Millisecond)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
transport:
  max_frame_size: 16384
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
device:
  factory_mode: true
confirm:
  timeout: "2s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Transport.MaxFrameSize != 16384 {
		t.Errorf("Transport.MaxFrameSize = %d, want %d", cfg.Transport.MaxFrameSize, 16384)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Device.FactoryMode != true {
		t.Errorf("Device.FactoryMode = %v, want true", cfg.Device.FactoryMode)
	}

	if cfg.Confirm.Timeout != 2*time.Second {
		t.Errorf("Confirm.Timeout = %v, want %v", cfg.Confirm.Timeout, 2*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override transport.max_frame_size and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
transport:
  max_frame_size: 4096
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Transport.MaxFrameSize != 4096 {
		t.Errorf("Transport.MaxFrameSize = %d, want %d", cfg.Transport.MaxFrameSize, 4096)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Device.FactoryMode != false {
		t.Errorf("Device.FactoryMode = %v, want default false", cfg.Device.FactoryMode)
	}

	if cfg.Confirm.Timeout != 1200*time.Millisecond {
		t.Errorf("Confirm.Timeout = %v, want default %v", cfg.Confirm.Timeout, 1200*time.Millisecond)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty metrics addr",
			modify: func(cfg *config.Config) {
				cfg.Metrics.Addr = ""
			},
			wantErr: config.ErrEmptyMetricsAddr,
		},
		{
			name: "zero max frame size",
			modify: func(cfg *config.Config) {
				cfg.Transport.MaxFrameSize = 0
			},
			wantErr: config.ErrInvalidMaxFrameSize,
		},
		{
			name: "negative max frame size",
			modify: func(cfg *config.Config) {
				cfg.Transport.MaxFrameSize = -1
			},
			wantErr: config.ErrInvalidMaxFrameSize,
		},
		{
			name: "zero confirm timeout",
			modify: func(cfg *config.Config) {
				cfg.Confirm.Timeout = 0
			},
			wantErr: config.ErrInvalidConfirmTimeout,
		},
		{
			name: "negative confirm timeout",
			modify: func(cfg *config.Config) {
				cfg.Confirm.Timeout = -500 * time.Millisecond
			},
			wantErr: config.ErrInvalidConfirmTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
transport:
  max_frame_size: 12288
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HOSTCORE_TRANSPORT_MAX_FRAME_SIZE", "8192")
	t.Setenv("HOSTCORE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Transport.MaxFrameSize != 8192 {
		t.Errorf("Transport.MaxFrameSize = %d, want %d (from env)", cfg.Transport.MaxFrameSize, 8192)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
transport:
  max_frame_size: 12288
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HOSTCORE_METRICS_ADDR", ":9200")
	t.Setenv("HOSTCORE_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

func TestLoadEnvOverridesDeviceFactoryMode(t *testing.T) {
	yamlContent := `
transport:
  max_frame_size: 12288
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HOSTCORE_DEVICE_FACTORY_MODE", "true")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Device.FactoryMode != true {
		t.Errorf("Device.FactoryMode = %v, want true (from env)", cfg.Device.FactoryMode)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "hostcore.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
