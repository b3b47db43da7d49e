// hostcored is the host protocol core daemon: it owns the HID transport,
// message registry, confirmation dialog, and EIP-712 session, and exposes a
// Prometheus metrics endpoint. It never talks to real hardware or key
// material directly -- those are supplied by a platform-specific build (see
// platformHID/platformSigner below).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/keepkey/hostcore/internal/config"
	"github.com/keepkey/hostcore/internal/device"
	hostmetrics "github.com/keepkey/hostcore/internal/metrics"
	appversion "github.com/keepkey/hostcore/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// platformHID and platformSigner fill in the real USB HID driver and crypto
// collaborator; both are out of this module's scope (spec.md's "crypto
// collaborator" and HID endpoint registers are both explicit Non-goals). A
// concrete platform build provides these by setting them from an init()
// function in a build-tagged file; left nil, the daemon fails fast with a
// clear error rather than silently faking hardware or key material.
var (
	platformHID    func(logger *slog.Logger) (device.HIDSource, error)
	platformSigner func(logger *slog.Logger) (device.Signer, error)
)

// errPlatformHIDUnset indicates no platform build linked a concrete
// HIDSource implementation.
var errPlatformHIDUnset = errors.New("hostcored: no platform HID driver linked into this build")

// errPlatformSignerUnset indicates no platform build linked a concrete
// crypto collaborator.
var errPlatformSignerUnset = errors.New("hostcored: no platform signer linked into this build")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("hostcored starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Bool("factory_mode", cfg.Device.FactoryMode),
	)

	reg := prometheus.NewRegistry()
	collector := hostmetrics.NewCollector(reg)

	hid, err := platformHIDSource(logger)
	if err != nil {
		logger.Error("no HID source available", slog.String("error", err.Error()))
		return 1
	}

	signer, err := platformCryptoSigner(logger)
	if err != nil {
		logger.Error("no signer available", slog.String("error", err.Error()))
		return 1
	}

	initialized := func() bool { return true }
	dev := device.New(
		logger,
		hid,
		device.Config{
			MaxFrameSize:   uint32(cfg.Transport.MaxFrameSize),
			FactoryMode:    cfg.Device.FactoryMode,
			ConfirmTimeout: cfg.Confirm.Timeout,
		},
		signer,
		nil, // Verifier: EIP712Verify is not exercised unless a build wires one in.
		collector,
		initialized,
		nil, // ConstantPower collaborator: display power is out of scope.
	)

	if err := runDaemon(cfg, dev, reg, logger); err != nil {
		logger.Error("hostcored exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("hostcored stopped")
	return 0
}

// platformHIDSource resolves the platform-linked HID driver, or reports
// errPlatformHIDUnset if none was linked.
func platformHIDSource(logger *slog.Logger) (device.HIDSource, error) {
	if platformHID == nil {
		return nil, errPlatformHIDUnset
	}
	return platformHID(logger)
}

// platformCryptoSigner resolves the platform-linked crypto collaborator, or
// reports errPlatformSignerUnset if none was linked.
func platformCryptoSigner(logger *slog.Logger) (device.Signer, error) {
	if platformSigner == nil {
		return nil, errPlatformSignerUnset
	}
	return platformSigner(logger)
}

// runDaemon runs the device's receive loop and the metrics HTTP server
// under an errgroup with signal-aware shutdown, matching the teacher's
// errgroup + signal.NotifyContext daemon lifecycle.
func runDaemon(cfg *config.Config, dev *device.Device, reg *prometheus.Registry, logger *slog.Logger) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("device receive loop starting")
		if err := dev.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("device run: %w", err)
		}
		return nil
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// gracefulShutdown drains the metrics server on a fresh timeout context once
// the signal-aware context has already been cancelled.
func gracefulShutdown(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar so
// the level could be adjusted dynamically by a future reload path.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
