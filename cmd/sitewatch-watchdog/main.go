// sitewatch-watchdog supervises the monitor-group processes: it verifies
// their PID files against the process table, restarts dead groups and
// records every observation in the supervision ledger.
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

	"sitewatch/internal/alert"
	"sitewatch/internal/config"
	"sitewatch/internal/crash"
	"sitewatch/internal/logging"
	"sitewatch/internal/metrics"
	"sitewatch/internal/pidfile"
	"sitewatch/internal/watchdog"
)

func main() {
	confFlag := flag.String("conf", "conf", "Configuration directory")
	dataFlag := flag.String("data", "data", "Data directory for PID, state and ledger files")
	logsFlag := flag.String("logs", "logs", "Log directory")
	flag.Parse()

	cfg, err := config.LoadGlobal(*confFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load global config: %v\n", err)
		os.Exit(1)
	}
	groups := cfg.Groups()
	if len(groups) == 0 {
		fmt.Fprintln(os.Stderr, "No monitor_groups configured")
		os.Exit(1)
	}

	dataDir := cfg.String("data_dir", *dataFlag)
	logDir := cfg.String("log_dir", *logsFlag)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.ForWatchdog(logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	recorder := crash.NewRecorder(dataDir, "watchdog", log)
	defer recorder.HandlePanic()

	pidPath := filepath.Join(dataDir, "watchdog.pid")
	if err := pidfile.CheckOrCreate(pidPath); err != nil {
		log.Error("another watchdog appears to be running", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer pidfile.Remove(pidPath)

	ledger, err := watchdog.OpenLedger(watchdog.LedgerPath(dataDir))
	if err != nil {
		log.Warn("starting with empty ledger", slog.String("err", err.Error()))
	}
	inspector, err := watchdog.NewProcInspector()
	if err != nil {
		log.Error("cannot read process table", slog.String("err", err.Error()))
		os.Exit(1)
	}
	spawner, err := watchdog.NewExecSpawner(*confFlag, dataDir, logDir)
	if err != nil {
		log.Error("cannot locate monitor binary", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Serve(ctx, cfg.String("watchdog_metrics_addr", ""), log)

	w := &watchdog.Watchdog{
		Groups:      groups,
		Interval:    cfg.Seconds("watchdog_check_interval", config.DefaultCheckInterval),
		MaxRestarts: uint(cfg.Int("watchdog_max_restarts", config.DefaultMaxRestarts)),
		Ledger:      ledger,
		Verifier:    watchdog.NewVerifier(dataDir, inspector, log),
		Spawner:     spawner,
		Notifier:    alert.ForWatchdog(cfg, log),
		Log:         log,
	}
	w.Run(ctx)
}
