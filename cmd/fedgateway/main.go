// Package main implements the entry point for the federation gateway.
// The gateway composes subgraph schemas into a single supergraph and
// serves federated GraphQL queries over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/fedgateway/config"
	"github.com/c360/fedgateway/executor"
	"github.com/c360/fedgateway/gateway"
	"github.com/c360/fedgateway/health"
	"github.com/c360/fedgateway/metric"
	"github.com/c360/fedgateway/planner"
	"github.com/c360/fedgateway/schema"
	"github.com/c360/fedgateway/subgraph"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "fedgateway"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Gateway failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags override the file's logging settings.
	logLevel, logFormat := cfg.Log.Level, cfg.Log.Format
	if cliCfg.LogLevel != "" {
		logLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		logFormat = cliCfg.LogFormat
	}
	logger := setupLogger(logLevel, logFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "subgraphs", len(cfg.Subgraphs))
		return nil
	}

	slog.Info("Starting federation gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"subgraphs", len(cfg.Subgraphs))

	ctx := context.Background()
	return runGateway(ctx, cfg, cliCfg, logger)
}

// runGateway wires the components together and serves until a shutdown
// signal arrives.
func runGateway(ctx context.Context, cfg *config.Config, cliCfg *CLIConfig, logger *slog.Logger) error {
	metricsRegistry := metric.NewMetricsRegistry()
	metrics := metricsRegistry.CoreMetrics()

	registry := schema.NewRegistry(logger, metrics)
	client := subgraph.NewClient(cfg.ClientConfig(), logger)

	monitor, err := health.NewMonitor(cfg.HealthConfig(), client, logger, metrics)
	if err != nil {
		return fmt.Errorf("create health monitor: %w", err)
	}
	for _, sg := range cfg.Subgraphs {
		monitor.Track(sg.Name, sg.URL)
	}

	pl, err := planner.New(ctx, cfg.PlannerConfig(), monitor, logger, metrics, metricsRegistry)
	if err != nil {
		return fmt.Errorf("create planner: %w", err)
	}
	defer func() { _ = pl.Close() }()

	ex, err := executor.New(cfg.ExecutorConfig(), client, monitor, logger, metrics)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	handler, err := gateway.NewHandler(registry, pl, ex,
		cfg.Server.RequestTimeout.Std(), logger, metrics)
	if err != nil {
		return fmt.Errorf("create graphql handler: %w", err)
	}

	server, err := gateway.NewServer(cfg.GatewayConfig(), handler, monitor, metricsRegistry, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	sources, err := cfg.SDLSources()
	if err != nil {
		return fmt.Errorf("resolve subgraph schemas: %w", err)
	}
	reloader, err := gateway.NewReloader(registry, client, sources, logger)
	if err != nil {
		return fmt.Errorf("create reloader: %w", err)
	}

	slog.Info("Loading subgraph schemas")
	if err := reloader.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}
	defer func() { _ = monitor.Stop(5 * time.Second) }()

	if cfg.NATS.URL != "" {
		conn, err := connectNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := reloader.SubscribeNATS(conn, cfg.NATS.ReloadSubject,
			cfg.Server.RequestTimeout.Std()); err != nil {
			return fmt.Errorf("subscribe reload subject: %w", err)
		}
		defer reloader.Unsubscribe()
	}

	return serveWithSignalHandling(ctx, server, reloader, cliCfg.ShutdownTimeout)
}

// connectNATS connects with reconnect options suited to a long-lived
// subscription.
func connectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("Connected to NATS", "url", url)
	return conn, nil
}

// serveWithSignalHandling runs the HTTP server, reloading on SIGHUP and
// shutting down on SIGINT/SIGTERM.
func serveWithSignalHandling(ctx context.Context, server *gateway.Server,
	reloader *gateway.Reloader, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			slog.Info("SIGHUP received, reloading schema")
			reloadCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := reloader.Reload(reloadCtx); err != nil {
				slog.Error("Schema reload failed", "error", err)
			}
			cancel()
		}
	}()

	ready := make(chan struct{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(signalCtx, ready)
	}()

	select {
	case <-ready:
		slog.Info("Gateway started successfully")
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	}

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	if err := server.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Gateway shutdown complete")
	return nil
}
