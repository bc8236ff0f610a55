// Command hftcore runs the trading core.
//
// Subcommands: run, probe, snapshot, resume.
// Exit codes: 0 normal, 1 config invalid, 2 bind/attach failure,
// 3 state corruption, 64 kill switch tripped at shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/app"
	"github.com/abdoElHodaky/hftcore/internal/audit"
	"github.com/abdoElHodaky/hftcore/internal/config"
	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/telemetry"
)

// Exit codes.
const (
	exitOK         = 0
	exitConfig     = 1
	exitBind       = 2
	exitCorruption = 3
	exitKillSwitch = 64
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfig)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "config/hftcore.yaml", "configuration file")
	snapshotPath := fs.String("snapshot", "", "snapshot file (defaults to audit.snapshot_path)")
	_ = fs.Parse(os.Args[2:])

	switch command {
	case "run":
		os.Exit(runCore(*configPath, *snapshotPath, false))
	case "resume":
		os.Exit(runCore(*configPath, *snapshotPath, true))
	case "probe":
		os.Exit(probe(*configPath))
	case "snapshot":
		os.Exit(snapshot(*configPath, *snapshotPath))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(exitConfig)
	}
}

func printUsage() {
	fmt.Println("Usage: hftcore <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       - Run the trading core")
	fmt.Println("  resume    - Run, hydrating positions and open orders from a snapshot")
	fmt.Println("  probe     - Validate config and print the health probe")
	fmt.Println("  snapshot  - Write (or verify) a state snapshot")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config PATH    configuration file (default config/hftcore.yaml)")
	fmt.Println("  --snapshot PATH  snapshot file override")
}

// build loads config and assembles the core.
func build(configPath string) (*config.Config, *app.App, *zap.Logger, int) {
	bootstrap, _ := zap.NewProduction()
	cfg, err := config.Load(configPath, bootstrap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return nil, nil, nil, exitConfig
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return nil, nil, nil, exitConfig
	}
	sink := app.NewSink(cfg, logger)
	core, err := app.New(cfg, sink, logger)
	if err != nil {
		logger.Error("Assembly failed", zap.Error(err))
		return nil, nil, nil, exitBind
	}
	return cfg, core, logger, exitOK
}

// runCore runs the core under an fx container until a signal arrives.
func runCore(configPath, snapshotPath string, resume bool) int {
	bootstrap, _ := zap.NewProduction()
	cfg, err := config.Load(configPath, bootstrap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}

	var core *app.App
	var logger *zap.Logger
	fxApp := fx.New(
		fx.Supply(cfg),
		app.Module,
		fx.Populate(&core, &logger),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "assembly: %v\n", err)
		return exitBind
	}
	defer logger.Sync()

	if resume {
		path := snapshotPath
		if path == "" {
			path = cfg.Audit.SnapshotPath
		}
		snap, err := audit.ReadSnapshotFile(path)
		if err != nil {
			logger.Error("Snapshot load failed", zap.String("path", path), zap.Error(err))
			if errors.Is(err, os.ErrNotExist) {
				return exitBind
			}
			return exitCorruption
		}
		core.Hydrate(snap)
	}

	// Metrics exposition is the only listening surface.
	if cfg.Telemetry.PrometheusPort > 0 {
		if sink, ok := core.Sink.(*telemetry.PrometheusSink); ok {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(sink.Registry(), promhttp.HandlerOpts{}))
			addr := fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort)
			ln := &http.Server{Addr: addr, Handler: mux}
			go func() {
				if err := ln.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics listener failed", zap.Error(err))
				}
			}()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = ln.Shutdown(ctx)
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		logger.Error("Start failed", zap.Error(err))
		return exitBind
	}
	logger.Info("Running", zap.String("session", core.SessionID))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fatal := ""
	select {
	case <-sig:
	case fatal = <-core.Supervisor.FatalCh():
		logger.Error("Shutting down on fatal condition", zap.String("reason", fatal))
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		logger.Warn("Stop reported error", zap.Error(err))
	}

	// Persist final state for a later resume.
	path := snapshotPath
	if path == "" {
		path = cfg.Audit.SnapshotPath
	}
	if path != "" {
		if err := audit.WriteSnapshotFile(path, core.Snapshot()); err != nil {
			logger.Warn("Final snapshot failed", zap.Error(err))
		}
	}

	if fatal != "" {
		return exitCorruption
	}
	if core.KillSwitch.Level() > risk.LevelNone {
		logger.Warn("Kill switch tripped at shutdown",
			zap.String("level", core.KillSwitch.Level().String()))
		return exitKillSwitch
	}
	return exitOK
}

// probe validates the configuration, assembles the core without starting
// it, and prints the health snapshot.
func probe(configPath string) int {
	_, core, logger, code := build(configPath)
	if code != exitOK {
		return code
	}
	defer logger.Sync()

	out, err := json.MarshalIndent(core.Supervisor.Probe(), "", "  ")
	if err != nil {
		return exitBind
	}
	fmt.Println(string(out))
	return exitOK
}

// snapshot verifies an existing snapshot file, or writes a fresh empty one
// when none exists.
func snapshot(configPath, snapshotPath string) int {
	cfg, core, logger, code := build(configPath)
	if code != exitOK {
		return code
	}
	defer logger.Sync()

	path := snapshotPath
	if path == "" {
		path = cfg.Audit.SnapshotPath
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot path configured")
		return exitConfig
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := audit.ReadSnapshotFile(path); err != nil {
			logger.Error("Snapshot corrupt", zap.String("path", path), zap.Error(err))
			return exitCorruption
		}
		logger.Info("Snapshot verified", zap.String("path", path))
		return exitOK
	}

	if err := audit.WriteSnapshotFile(path, core.Snapshot()); err != nil {
		logger.Error("Snapshot write failed", zap.Error(err))
		return exitBind
	}
	logger.Info("Snapshot written", zap.String("path", path))
	return exitOK
}
