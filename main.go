package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/leslieo2/prononciation-gateway/internal/constants"
	"github.com/leslieo2/prononciation-gateway/internal/hotreload"
	"github.com/leslieo2/prononciation-gateway/internal/observability"
	"github.com/leslieo2/prononciation-gateway/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds parsed command line flags.
type options struct {
	configFile string
	cli        *config.CLIFlags
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := pflag.NewFlagSet(constants.GatewayName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(fs, stderr) }

	defaults := config.DefaultConfig()
	opts := &options{cli: &config.CLIFlags{FlagSet: fs}}

	fs.StringVarP(&opts.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")

	// Server configuration
	opts.cli.Host = fs.String("host", defaults.Server.Host, "Host to listen on")
	opts.cli.Port = fs.StringP("port", "p", defaults.Server.Port, "Port to listen on")
	opts.cli.MetricsPort = fs.String("metrics-port", defaults.Server.MetricsPort, "Port for the metrics server")
	opts.cli.ReadTimeout = fs.Duration("read-timeout", defaults.Server.ReadTimeout, "HTTP server read timeout")
	opts.cli.WriteTimeout = fs.Duration("write-timeout", defaults.Server.WriteTimeout, "HTTP server write timeout")
	opts.cli.IdleTimeout = fs.Duration("idle-timeout", defaults.Server.IdleTimeout, "HTTP server idle timeout")
	opts.cli.MaxRequestSize = fs.Int64("max-request-size", defaults.Server.MaxRequestSize, "Maximum request body size in bytes")
	opts.cli.ShutdownTimeout = fs.Duration("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout")

	// Upstream
	opts.cli.UpstreamURL = fs.StringP("upstream-url", "u", defaults.Upstream.BaseURL, "Base URL of the upstream API")
	opts.cli.UpstreamLabel = fs.String("upstream-label", defaults.Upstream.Label, "Upstream name used in responses")

	// Observability
	opts.cli.LogLevel = fs.String("log-level", defaults.Observability.Logging.Level, "Log level: debug, info, warn, error")
	opts.cli.LogFormat = fs.String("log-format", defaults.Observability.Logging.Format, "Log format: json or console")
	opts.cli.MetricsEnabled = fs.Bool("metrics-enabled", defaults.Observability.Metrics.Enabled, "Serve Prometheus metrics")
	opts.cli.TracingEnabled = fs.Bool("tracing-enabled", defaults.Observability.Tracing.Enabled, "Export traces to stdout")

	// Security
	opts.cli.RateLimitEnabled = fs.Bool("rate-limit-enabled", defaults.Security.RateLimit.Enabled, "Enable per-client rate limiting")
	opts.cli.RateLimitRPS = fs.Int("rate-limit-rps", defaults.Security.RateLimit.RequestsPerSecond, "Requests per second per client")

	// Hot reload and TLS
	opts.cli.HotReload = fs.Bool("hot-reload", defaults.HotReload.Enabled, "Re-apply log level and rate limits when the config file changes")
	opts.cli.TLSEnabled = fs.Bool("tls-enabled", defaults.TLS.Enabled, "Serve HTTPS")
	opts.cli.TLSCertFile = fs.String("tls-cert-file", "", "TLS certificate file")
	opts.cli.TLSKeyFile = fs.String("tls-key-file", "", "TLS private key file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(opts.configFile, opts.cli)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gateway, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	if cfg.HotReload.Enabled && opts.configFile != "" {
		manager, err := startHotReload(opts, cfg, logger.Logger, gateway.Reloadables())
		if err != nil {
			return err
		}
		defer func() {
			if err := manager.Shutdown(context.Background()); err != nil {
				logger.Warn("Failed to shutdown hot reload", zap.Error(err))
			}
		}()
	}

	if cfg.Security.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.Security.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.Security.RateLimit.BurstSize),
		)
	}

	return gateway.Start(ctx)
}

func startHotReload(opts *options, cfg *config.Config, logger *zap.Logger, reloadables []hotreload.Reloadable) (*hotreload.Manager, error) {
	load := func() (*config.Config, error) {
		return config.LoadConfig(opts.configFile, opts.cli)
	}

	manager, err := hotreload.NewManager(load, cfg.HotReload.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot reload manager: %w", err)
	}
	for _, r := range reloadables {
		if err := manager.RegisterReloadable(r); err != nil {
			manager.Stop()
			return nil, fmt.Errorf("failed to register %s for hot reload: %w", r.Name(), err)
		}
	}
	if err := manager.AddWatch(opts.configFile); err != nil {
		manager.Stop()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}
	if err := manager.Start(); err != nil {
		manager.Stop()
		return nil, fmt.Errorf("failed to start hot reload: %w", err)
	}

	logger.Info("Hot reload enabled", zap.String("config", opts.configFile))
	return manager, nil
}

func printUsage(fs *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [flags]\n\n", constants.GatewayName)
	fmt.Fprintf(w, "Forwards the pronunciation API routes to a single upstream.\n\n")
	fmt.Fprintf(w, "Flags:\n%s\n", fs.FlagUsages())
	fmt.Fprintf(w, "Environment variables:\n")
	fmt.Fprintf(w, "  %s (upstream base URL)\n", constants.EnvUpstreamURL)
	fmt.Fprintf(w, "  %s, %s, %s\n", constants.EnvHost, constants.EnvPort, constants.EnvMetricsPort)
	fmt.Fprintf(w, "  %s, %s, %s\n", constants.EnvReadTimeout, constants.EnvWriteTimeout, constants.EnvIdleTimeout)
	fmt.Fprintf(w, "  %s, %s\n", constants.EnvMaxRequestSize, constants.EnvShutdownTimeout)
	fmt.Fprintf(w, "  %s, %s, %s\n", constants.EnvUpstreamLabel, constants.EnvLogLevel, constants.EnvLogFormat)
	fmt.Fprintf(w, "  %s, %s, %s\n", constants.EnvRateLimitEnabled, constants.EnvRateLimitRPS, constants.EnvHotReload)
	fmt.Fprintf(w, "  %s, %s, %s\n", constants.EnvTLSEnabled, constants.EnvTLSCertFile, constants.EnvTLSKeyFile)
	fmt.Fprintf(w, "\nExample usage:\n")
	fmt.Fprintf(w, "  %s --config ./gateway.yaml\n", constants.GatewayName)
	fmt.Fprintf(w, "  %s=https://api.example.com %s --port 8081 --metrics-port 9091\n", constants.EnvUpstreamURL, constants.GatewayName)
}
