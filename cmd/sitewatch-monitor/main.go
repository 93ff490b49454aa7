// sitewatch-monitor runs the polling loop for one monitor group. The
// watchdog and sitewatchctl find it through the PID file it maintains
// under the data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sitewatch/internal/config"
	"sitewatch/internal/crash"
	"sitewatch/internal/health"
	"sitewatch/internal/logging"
	"sitewatch/internal/metrics"
	"sitewatch/internal/pidfile"
)

func main() {
	groupFlag := flag.String("group", "", "Monitor group to run (required)")
	confFlag := flag.String("conf", "conf", "Configuration directory")
	dataFlag := flag.String("data", "data", "Data directory for PID and state files")
	logsFlag := flag.String("logs", "logs", "Log directory")
	flag.Parse()
	if *groupFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: -group is required")
		os.Exit(1)
	}
	group := *groupFlag

	global, err := config.LoadGlobal(*confFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load global config: %v\n", err)
		os.Exit(1)
	}
	groupCfg, err := config.LoadGroup(*confFlag, group)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load group config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Merge(global, groupCfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	dataDir := cfg.String("data_dir", *dataFlag)
	logDir := cfg.String("log_dir", *logsFlag)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	streams, err := logging.ForGroup(logDir, group)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	recorder := crash.NewRecorder(dataDir, "monitor_"+group, streams.Monitor)
	defer recorder.HandlePanic()
	if last, ok := recorder.LastCrash(); ok {
		streams.Monitor.Info("previous run crashed",
			slog.String("kind", last.Kind),
			slog.Time("at", last.Time))
	}

	pidPath := filepath.Join(dataDir, group+".pid")
	if err := pidfile.CheckOrCreate(pidPath); err != nil {
		streams.Monitor.Error("another instance appears to be running", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer pidfile.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Serve(ctx, cfg.String("metrics_addr", ""), streams.Monitor)

	streams.Monitor.Info("monitor starting",
		slog.String("group", group), slog.Int("pid", os.Getpid()))
	scheduler := health.NewScheduler(group, *confFlag, dataDir, streams)
	scheduler.Run(ctx)
	streams.Monitor.Info("monitor exiting", slog.String("group", group))
}
