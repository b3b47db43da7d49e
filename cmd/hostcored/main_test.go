package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keepkey/hostcore/internal/config"
	"github.com/keepkey/hostcore/internal/device"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlatformHIDSourceReturnsErrorWhenUnset(t *testing.T) {
	orig := platformHID
	platformHID = nil
	defer func() { platformHID = orig }()

	_, err := platformHIDSource(discardLogger())
	if !errors.Is(err, errPlatformHIDUnset) {
		t.Fatalf("got err %v, want errPlatformHIDUnset", err)
	}
}

func TestPlatformCryptoSignerReturnsErrorWhenUnset(t *testing.T) {
	orig := platformSigner
	platformSigner = nil
	defer func() { platformSigner = orig }()

	_, err := platformCryptoSigner(discardLogger())
	if !errors.Is(err, errPlatformSignerUnset) {
		t.Fatalf("got err %v, want errPlatformSignerUnset", err)
	}
}

func TestPlatformHIDSourceDelegatesToLinkedHook(t *testing.T) {
	orig := platformHID
	defer func() { platformHID = orig }()

	called := false
	platformHID = func(logger *slog.Logger) (device.HIDSource, error) {
		called = true
		return nil, nil
	}

	if _, err := platformHIDSource(discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the linked platformHID hook to be invoked")
	}
}

func TestLoadConfigFallsBackToDefaultsWithoutPath(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\"): %v", err)
	}
	want := config.DefaultConfig()
	if cfg.Metrics.Addr != want.Metrics.Addr || cfg.Confirm.Timeout != want.Confirm.Timeout {
		t.Fatalf("got %+v, want default config %+v", cfg, want)
	}
}

func TestLoadConfigReportsMissingFile(t *testing.T) {
	_, err := loadConfig("/nonexistent/hostcored/config.yaml")
	if err == nil {
		t.Fatal("expected an error loading a nonexistent config path")
	}
}

func TestNewLoggerWithLevelHonorsFormat(t *testing.T) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelDebug)

	for _, format := range []string{"text", "json", ""} {
		logger := newLoggerWithLevel(config.LogConfig{Format: format}, level)
		if logger == nil {
			t.Fatalf("newLoggerWithLevel(%q) returned nil", format)
		}
		_, isText := logger.Handler().(*slog.TextHandler)
		if isText != (format == "text") {
			t.Fatalf("newLoggerWithLevel(%q): text handler = %v, want %v", format, isText, format == "text")
		}
	}
}

func TestNewMetricsServerServesRegisteredPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newMetricsServer(config.MetricsConfig{Addr: "127.0.0.1:0", Path: "/metrics"}, reg)
	if srv.Handler == nil {
		t.Fatal("expected a non-nil handler")
	}

	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	rec := &discardResponseWriter{header: make(http.Header)}
	srv.Handler.ServeHTTP(rec, req)
	if rec.status != http.StatusOK && rec.status != 0 {
		t.Fatalf("got status %d, want 200 (or unset meaning default 200)", rec.status)
	}
}

func TestGracefulShutdownDrainsServerWithinTimeout(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := gracefulShutdown(ctx, discardLogger(), srv); err != nil {
		t.Fatalf("gracefulShutdown: %v", err)
	}
}

// discardResponseWriter is a minimal http.ResponseWriter fake so the metrics
// handler test doesn't need net/http/httptest for a single smoke check.
type discardResponseWriter struct {
	header http.Header
	status int
	body   []byte
}

func (w *discardResponseWriter) Header() http.Header { return w.header }
func (w *discardResponseWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return len(b), nil
}
func (w *discardResponseWriter) WriteHeader(status int) { w.status = status }
