// Package main is the ustreamer process: it bridges messages between the host
// network (NATS) and the in-vehicle bus (UDP gateway peers) according to the
// subscription table.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/ustreamer/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ustreamer"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the process exit code. Startup failures print one line naming
// the cause to stderr and return 1.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	if cli.ShowHelp {
		return 0
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return 0
	}
	if err := validateFlags(cli); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: invalid flags: %v\n", appName, err)
		return 2
	}

	cfg, err := config.NewLoader().LoadFile(cli.ConfigPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: load config %s: %v\n", appName, cli.ConfigPath, err)
		return 1
	}
	applyLogFlags(cli, cfg)

	if cli.PrintConfig {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return 0
	}
	if cli.Validate {
		_, _ = fmt.Fprintf(stdout, "%s: configuration %s is valid\n", appName, cli.ConfigPath)
		return 0
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("Starting ustreamer",
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"host_authority", cfg.Host.Authority,
		"bus_enabled", cfg.Bus.Enabled)

	if err := serve(ctx, cfg, logger, cli.ShutdownTimeout); err != nil {
		logger.Error("ustreamer failed", "error", err)
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}
	return 0
}

// applyLogFlags lets --log-level and --log-format, or their environment
// variables, override the config file.
func applyLogFlags(cli *CLIConfig, cfg *config.Config) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
}

// serve starts everything, runs until ctx is done or a background task
// fails, then shuts down within timeout.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, timeout time.Duration) error {
	a := newApp(cfg, logger)

	startErr := a.start(ctx)
	var runErr error
	if startErr == nil {
		logger.Info("ustreamer started", "rules", len(a.router.Rules()))
		runErr = a.run(ctx)
		logger.Info("Shutting down", "reason", context.Cause(ctx))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	stopErr := a.stop(shutdownCtx)

	switch {
	case startErr != nil:
		return startErr
	case runErr != nil:
		return runErr
	case stopErr != nil:
		return fmt.Errorf("graceful shutdown failed: %w", stopErr)
	}
	logger.Info("ustreamer shutdown complete")
	return nil
}
