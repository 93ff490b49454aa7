package watchdog

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
)

// startupWindow is how recently a group must have been checked, while
// already marked stopped, for a dead observation to count as part of a
// normal startup sequence rather than a crash worth alerting on.
const startupWindow = 60 * time.Second

// withinStartupWindow is the alert-suppression heuristic for restarts that
// happen right after a legitimate start. It can mask rapid crash loops when
// the check interval is shorter than the window; it is kept as a single
// policy function so it can be tuned without touching the state machine.
func withinStartupWindow(prevStatus Status, prevCheck time.Time, now time.Time) bool {
	return prevStatus == StatusStopped && !prevCheck.IsZero() && now.Sub(prevCheck) < startupWindow
}

// Spawner launches a group's monitor process detached from the watchdog.
type Spawner interface {
	Start(group string) (pid int, err error)
}

// ExecSpawner spawns the sitewatch-monitor binary found next to the
// watchdog binary, in its own process group, with output captured to a
// rotated per-group child log.
type ExecSpawner struct {
	BinPath string
	ConfDir string
	DataDir string
	LogDir  string
}

// NewExecSpawner locates the monitor binary in the watchdog's own
// directory.
func NewExecSpawner(confDir, dataDir, logDir string) (*ExecSpawner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate own binary: %w", err)
	}
	return &ExecSpawner{
		BinPath: filepath.Join(filepath.Dir(self), monitorBinary),
		ConfDir: confDir,
		DataDir: dataDir,
		LogDir:  logDir,
	}, nil
}

func (s *ExecSpawner) Start(group string) (int, error) {
	childLogDir := filepath.Join(s.LogDir, group)
	if err := os.MkdirAll(childLogDir, 0o755); err != nil {
		return 0, fmt.Errorf("create child log dir: %w", err)
	}
	childLog := &lumberjack.Logger{
		Filename:   filepath.Join(childLogDir, "child.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	cmd := exec.Command(s.BinPath,
		"-group", group,
		"-conf", s.ConfDir,
		"-data", s.DataDir,
		"-logs", s.LogDir,
	)
	cmd.Stdout = childLog
	cmd.Stderr = childLog
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}
