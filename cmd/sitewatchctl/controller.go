package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"sitewatch/internal/config"
	"sitewatch/internal/pidfile"
	"sitewatch/internal/watchdog"
)

const startGrace = 2 * time.Second

type controller struct {
	confDir string
	dataDir string
	logDir  string
	cfg     config.Config
}

// resolveGroups expands "all" (or no argument) to every configured group.
func (c *controller) resolveGroups(args []string) ([]string, bool, error) {
	configured := c.cfg.Groups()
	if len(args) == 0 || slices.Contains(args, "all") {
		if len(configured) == 0 {
			return nil, false, fmt.Errorf("no monitor_groups configured")
		}
		return configured, true, nil
	}
	for _, g := range args {
		if !slices.Contains(configured, g) {
			fmt.Fprintf(os.Stderr, "Warning: group %q is not in monitor_groups\n", g)
		}
	}
	return args, false, nil
}

func (c *controller) verifier() (*watchdog.Verifier, error) {
	inspector, err := watchdog.NewProcInspector()
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return watchdog.NewVerifier(c.dataDir, inspector, log), nil
}

// start launches the requested monitor groups, plus the watchdog when the
// whole deployment is being started. Groups already verified running are
// left alone; started groups are marked Running in the ledger with their
// restart budget reset.
func (c *controller) start(args []string) error {
	groups, includeWatchdog, err := c.resolveGroups(args)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return err
	}
	verifier, err := c.verifier()
	if err != nil {
		return err
	}
	ledger, err := watchdog.OpenLedger(watchdog.LedgerPath(c.dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ledger unreadable, starting fresh: %v\n", err)
	}
	spawner, err := watchdog.NewExecSpawner(c.confDir, c.dataDir, c.logDir)
	if err != nil {
		return err
	}

	for _, group := range groups {
		rec := ledger.Get(group)
		if verifier.Check(group, rec, time.Now()) == watchdog.StatusRunning {
			fmt.Printf("%-12s already running (pid %d)\n", group, *rec.PID)
			continue
		}
		pid, err := spawner.Start(group)
		if err != nil {
			fmt.Printf("%-12s start failed: %v\n", group, err)
			continue
		}
		time.Sleep(startGrace)
		if verifier.ConfirmRestart(group, rec, time.Now()) != watchdog.StatusRunning {
			fmt.Printf("%-12s did not survive startup (pid %d)\n", group, pid)
			continue
		}
		rec.RestartCount = 0
		rec.NeedAlert = true
		rec.WasRestarted = false
		rec.LastStartTime = time.Now()
		fmt.Printf("%-12s started (pid %d)\n", group, *rec.PID)
	}
	if err := ledger.Save(); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}

	if includeWatchdog {
		return c.startWatchdog()
	}
	return nil
}

func (c *controller) startWatchdog() error {
	pidPath := filepath.Join(c.dataDir, "watchdog.pid")
	if pid, ok := pidfile.Read(pidPath); ok {
		if err := syscall.Kill(pid, 0); err == nil {
			fmt.Printf("%-12s already running (pid %d)\n", "watchdog", pid)
			return nil
		}
		pidfile.Remove(pidPath)
	}
	self, err := os.Executable()
	if err != nil {
		return err
	}
	bin := filepath.Join(filepath.Dir(self), "sitewatch-watchdog")
	cmd := exec.Command(bin, "-conf", c.confDir, "-data", c.dataDir, "-logs", c.logDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	fmt.Printf("%-12s started (pid %d)\n", "watchdog", cmd.Process.Pid)
	return nil
}

// stop terminates the requested groups and marks them manually stopped in
// the ledger so the watchdog neither restarts them nor alerts. With "all"
// the watchdog itself is stopped first so it cannot race the shutdown.
func (c *controller) stop(args []string) error {
	groups, includeWatchdog, err := c.resolveGroups(args)
	if err != nil {
		return err
	}
	if includeWatchdog {
		c.stopProcess("watchdog", filepath.Join(c.dataDir, "watchdog.pid"))
	}
	ledger, err := watchdog.OpenLedger(watchdog.LedgerPath(c.dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ledger unreadable: %v\n", err)
	}
	for _, group := range groups {
		c.stopProcess(group, filepath.Join(c.dataDir, group+".pid"))
		rec := ledger.Get(group)
		rec.PID = nil
		rec.Status = watchdog.StatusStoppedManually
		rec.NeedAlert = false
		rec.LastCheckTime = time.Now()
	}
	if err := ledger.Save(); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (c *controller) stopProcess(name, pidPath string) {
	pid, ok := pidfile.Read(pidPath)
	if !ok {
		fmt.Printf("%-12s not running\n", name)
		return
	}
	// Monitors run in their own process group; signal the whole group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			fmt.Printf("%-12s signal failed (pid %d): %v\n", name, pid, err)
			pidfile.Remove(pidPath)
			return
		}
	}
	fmt.Printf("%-12s stopped (pid %d)\n", name, pid)
	pidfile.Remove(pidPath)
}

// status prints the ledger merged with a live liveness verification pass.
func (c *controller) status() error {
	ledger, err := watchdog.OpenLedger(watchdog.LedgerPath(c.dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ledger unreadable: %v\n", err)
	}
	verifier, err := c.verifier()
	if err != nil {
		return err
	}

	groups := c.cfg.Groups()
	for _, g := range ledger.Groups() {
		if !slices.Contains(groups, g) {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		fmt.Println("No groups configured or recorded.")
		return nil
	}

	fmt.Printf("%-12s %-22s %-8s %-9s %s\n", "GROUP", "STATUS", "PID", "RESTARTS", "LAST START")
	for _, group := range groups {
		rec := ledger.Get(group)
		verifier.Check(group, rec, time.Now())
		pid := "-"
		if rec.PID != nil {
			pid = fmt.Sprint(*rec.PID)
		}
		lastStart := "-"
		if !rec.LastStartTime.IsZero() {
			lastStart = rec.LastStartTime.Format(time.RFC3339)
		}
		fmt.Printf("%-12s %-22s %-8s %-9d %s\n", group, rec.Status, pid, rec.RestartCount, lastStart)
	}

	wdState := "stopped"
	if pid, ok := pidfile.Read(filepath.Join(c.dataDir, "watchdog.pid")); ok {
		if err := syscall.Kill(pid, 0); err == nil {
			wdState = fmt.Sprintf("running (pid %d)", pid)
		}
	}
	fmt.Printf("%-12s %s\n", "watchdog", wdState)
	return nil
}

// toggleAlerts flips alerts_enabled in the global configuration file. The
// daemons pick the change up on their next cycle.
func (c *controller) toggleAlerts(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: toggle-alerts <on|off>")
	}
	enabled := args[0] == "on"

	path := ""
	for _, name := range []string{"global.yaml", "global.yml", "global.json"} {
		candidate := filepath.Join(c.confDir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		path = filepath.Join(c.confDir, "global.yaml")
	}

	cfg := config.Config{}
	for k, v := range c.cfg {
		cfg[k] = v
	}
	cfg["alerts_enabled"] = enabled

	var data []byte
	var err error
	if strings.HasSuffix(path, ".json") {
		data, err = jsonMarshalConfig(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("alerts_enabled set to %v in %s\n", enabled, path)
	return nil
}
