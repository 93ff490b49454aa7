// Package logging builds the rotating slog streams each process writes to.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

// Rotating returns a size-rotated writer for <dir>/<stream>.log.
func Rotating(dir, stream string) (io.Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, stream+".log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}, nil
}

// New builds a text slog logger for one stream. When console is true the
// stream is multiplexed to stdout as well as the rotated file.
func New(dir, stream string, console bool) (*slog.Logger, error) {
	w, err := Rotating(dir, stream)
	if err != nil {
		return nil, err
	}
	if console {
		w = io.MultiWriter(os.Stdout, w)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: false})
	return slog.New(handler), nil
}

// MonitorStreams bundles the log streams one monitor-group process keeps.
// Monitor carries operational chatter, Health and Unhealthy record every
// check outcome, Alert records every notification attempt.
type MonitorStreams struct {
	Monitor   *slog.Logger
	Health    *slog.Logger
	Unhealthy *slog.Logger
	Alert     *slog.Logger
}

// ForGroup creates the four per-group streams under <logDir>/<group>/.
// Only the operational stream echoes to the console.
func ForGroup(logDir, group string) (*MonitorStreams, error) {
	dir := filepath.Join(logDir, group)
	monitor, err := New(dir, "monitor", true)
	if err != nil {
		return nil, err
	}
	health, err := New(dir, "health", false)
	if err != nil {
		return nil, err
	}
	unhealthy, err := New(dir, "unhealthy", false)
	if err != nil {
		return nil, err
	}
	alertLog, err := New(dir, "alert", false)
	if err != nil {
		return nil, err
	}
	return &MonitorStreams{
		Monitor:   monitor,
		Health:    health,
		Unhealthy: unhealthy,
		Alert:     alertLog,
	}, nil
}

// ForWatchdog creates the single watchdog stream.
func ForWatchdog(logDir string) (*slog.Logger, error) {
	return New(filepath.Join(logDir, "watchdog"), "watchdog", true)
}
