// nat64d is a stateful NAT64 translator core daemon (RFC 6146).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nat64d/nat64d/internal/config"
	nat64metrics "github.com/nat64d/nat64d/internal/metrics"
	"github.com/nat64d/nat64d/internal/nat64"
	"github.com/nat64d/nat64d/internal/server"
	appversion "github.com/nat64d/nat64d/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("nat64d starting",
		slog.String("version", appversion.Version),
		slog.String("control_addr", cfg.Control.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("prefix", cfg.NAT64.Prefix),
	)

	// 4. Start flight recorder for post-mortem debugging of translation failures.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := nat64metrics.NewCollector(reg)

	// 6. Create the translator core with metrics wired in.
	core, err := newCore(cfg, logger, collector)
	if err != nil {
		logger.Error("failed to build translator core",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 7. Run servers.
	if err := runServers(cfg, core, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("nat64d exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("nat64d stopped")
	return 0
}

// newCore builds a *nat64.Core from the resolved configuration.
func newCore(cfg *config.Config, logger *slog.Logger, collector *nat64metrics.Collector) (*nat64.Core, error) {
	prefix, err := netip.ParsePrefix(cfg.NAT64.Prefix)
	if err != nil {
		return nil, fmt.Errorf("parse nat64.prefix %q: %w", cfg.NAT64.Prefix, err)
	}

	core := nat64.NewCore(
		nat64.WithLogger(logger),
		nat64.WithMetrics(collector),
		nat64.WithNAT64Prefix(prefix),
		nat64.WithAddressDependentFiltering(cfg.NAT64.AddressDependentFiltering),
		nat64.WithTimeouts(nat64.Timeouts{
			UDP:      cfg.NAT64.UDPTimeout,
			ICMP:     cfg.NAT64.ICMPTimeout,
			TCPEst:   cfg.NAT64.TCPEstTimeout,
			TCPTrans: cfg.NAT64.TCPTransTimeout,
		}),
	)

	return core, nil
}

// runServers sets up and runs the control, metrics, and expirer loops using
// an errgroup with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	core *nat64.Core,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	controlSrv := newControlServer(cfg.Control, core, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, cfg, controlSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, core, logger)

	g.Go(func() error {
		core.RunExpirer(gCtx, cfg.NAT64.ExpirerInterval, cfg.NAT64.ExpirerBatchSize)
		return nil
	})

	// Reconcile declarative pool addresses and static bindings at startup.
	reconcileCore(cfg, core, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, controlSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the control and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	controlSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.Control.Addr))
		return listenAndServe(ctx, &lc, controlSrv, cfg.Control.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	core *nat64.Core,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, core, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + pool/binding reconciliation
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration.
// On reload, the log level is updated dynamically via the shared LevelVar,
// and declarative pool addresses and static bindings are reconciled.
// Blocks until the context is cancelled (graceful shutdown).
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	core *nat64.Core,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, core, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path, updates
// the dynamic log level, and reconciles declarative pool/binding state.
// Errors during reload are logged but do not stop the daemon -- the
// previous configuration remains in effect.
func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	core *nat64.Core,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	reconcileCore(newCfg, core, logger)
}

// reconcileCore installs the declarative pool addresses and static bindings
// from cfg into core. Addresses/bindings already present are skipped;
// nothing is removed on reconcile (the control API handles deletions
// explicitly). Additive only, since the core has no notion of a
// desired-state diff for bindings.
func reconcileCore(cfg *config.Config, core *nat64.Core, logger *slog.Logger) {
	for _, s := range cfg.Pool {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			logger.Error("invalid pool address, skipping", slog.String("addr", s), slog.String("error", err.Error()))
			continue
		}
		if err := core.PoolAdd(addr); err != nil && !errors.Is(err, nat64.ErrAddressExists) {
			logger.Error("failed to add pool address", slog.String("addr", s), slog.String("error", err.Error()))
		}
	}

	for _, bc := range cfg.Bindings {
		if err := installBinding(core, bc); err != nil && !errors.Is(err, nat64.ErrBindingExists) {
			logger.Error("failed to install static binding",
				slog.String("proto", bc.Proto),
				slog.String("v6_addr", bc.V6Addr),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("reconciliation complete",
		slog.Int("pool_size", len(cfg.Pool)),
		slog.Int("bindings", len(cfg.Bindings)),
	)
}

// installBinding parses a config.BindingConfig and installs it as a static
// BIB entry.
func installBinding(core *nat64.Core, bc config.BindingConfig) error {
	proto, err := parseConfigProto(bc.Proto)
	if err != nil {
		return err
	}
	v6Addr, err := bc.V6AddrParsed()
	if err != nil {
		return err
	}
	v4Addr, err := bc.V4AddrParsed()
	if err != nil {
		return err
	}

	v6 := nat64.V6Transport{Addr: v6Addr, Port: bc.V6Port}
	v4 := nat64.V4Transport{Addr: v4Addr, Port: bc.V4Port}
	return core.BIBAddStatic(proto, v6, v4)
}

func parseConfigProto(s string) (nat64.Protocol, error) {
	switch s {
	case "udp":
		return nat64.ProtoUDP, nil
	case "tcp":
		return nat64.ProtoTCP, nil
	case "icmp":
		return nat64.ProtoICMP, nil
	default:
		return 0, fmt.Errorf("binding proto %q: %w", s, nat64.ErrUnsupportedProto)
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, dumps the
// flight recorder trace, then shuts down HTTP servers.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder
// for post-mortem debugging of translation failures.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

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

// newControlServer creates an HTTP server for the JSON control API.
// Unlike the ConnectRPC transport it replaces, this is plain HTTP/1.1 and
// needs no h2c wrapping.
func newControlServer(cfg config.ControlConfig, core *nat64.Core, logger *slog.Logger) *http.Server {
	srv := server.New(core, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
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

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
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
