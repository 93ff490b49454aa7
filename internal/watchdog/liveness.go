package watchdog

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"sitewatch/internal/pidfile"
)

// monitorBinary is the substring a process command line must carry to be
// accepted as one of our monitor processes.
const monitorBinary = "sitewatch-monitor"

// Inspector answers process-table queries. The production implementation
// reads /proc; tests substitute a fake.
type Inspector interface {
	// Cmdline returns the command line of pid. A fs.ErrNotExist-wrapped
	// error means the process does not exist; any other error is a
	// transient verification failure.
	Cmdline(pid int) ([]string, error)
}

// ProcInspector reads the process table through procfs.
type ProcInspector struct {
	fs procfs.FS
}

func NewProcInspector() (*ProcInspector, error) {
	pfs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &ProcInspector{fs: pfs}, nil
}

func (p *ProcInspector) Cmdline(pid int) ([]string, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		// procfs reports a missing /proc/<pid> as a path error.
		if errors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "could not read") {
			return nil, fs.ErrNotExist
		}
		return nil, err
	}
	return proc.CmdLine()
}

// Verifier decides whether a group's recorded PID corresponds to a live
// monitor process that is really ours, not a recycled PID.
type Verifier struct {
	dataDir   string
	inspector Inspector
	log       *slog.Logger
}

func NewVerifier(dataDir string, inspector Inspector, log *slog.Logger) *Verifier {
	return &Verifier{dataDir: dataDir, inspector: inspector, log: log}
}

// PIDPath returns the PID file for one group.
func (v *Verifier) PIDPath(group string) string {
	return filepath.Join(v.dataDir, group+".pid")
}

// Check observes one group and updates rec in place: PID, status,
// last-check timestamp, and the restart-counter resets that external
// starts and restarts imply. The returned status is rec.Status.
func (v *Verifier) Check(group string, rec *Record, now time.Time) Status {
	return v.check(group, rec, now, false)
}

// ConfirmRestart re-verifies a group right after the watchdog spawned its
// monitor. The observation is the watchdog's own doing, so the external
// start/restart counter resets do not apply.
func (v *Verifier) ConfirmRestart(group string, rec *Record, now time.Time) Status {
	return v.check(group, rec, now, true)
}

func (v *Verifier) check(group string, rec *Record, now time.Time, afterRestart bool) Status {
	path := v.PIDPath(group)
	pid, ok := pidfile.Read(path)

	// A changed PID while a process is alive means someone restarted the
	// monitor outside the watchdog; their restart budget starts over.
	if !afterRestart && ok && rec.PID != nil && pid != *rec.PID {
		v.log.Info("monitor pid changed, assuming external restart",
			slog.String("group", group),
			slog.Int("old_pid", *rec.PID), slog.Int("new_pid", pid))
		rec.RestartCount = 0
	}
	rec.LastCheckTime = now

	if !ok {
		// Clean up a PID file whose content did not parse.
		if _, err := os.Stat(path); err == nil {
			pidfile.Remove(path)
			v.log.Info("removed unreadable pid file", slog.String("file", path))
		}
		return v.markStopped(rec)
	}

	args, err := v.inspector.Cmdline(pid)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		pidfile.Remove(path)
		v.log.Info("removed stale pid file, process is gone",
			slog.String("group", group), slog.Int("pid", pid))
		rec.PID = nil
		return v.markStopped(rec)
	case err != nil:
		v.log.Warn("process verification failed",
			slog.String("group", group), slog.Int("pid", pid), slog.String("err", err.Error()))
		rec.Status = StatusUnknown
		return StatusUnknown
	}

	if !cmdlineMatches(args, group) {
		// The PID was recycled by an unrelated process.
		pidfile.Remove(path)
		v.log.Info("removed stale pid file, pid no longer belongs to this group",
			slog.String("group", group), slog.Int("pid", pid))
		rec.PID = nil
		return v.markStopped(rec)
	}

	if !afterRestart && rec.Status.stopped() {
		v.log.Info("monitor came back without watchdog intervention, resetting restart count",
			slog.String("group", group), slog.Int("pid", pid))
		rec.RestartCount = 0
		rec.NeedAlert = true
	}
	rec.PID = &pid
	rec.Status = StatusRunning
	return StatusRunning
}

// markStopped records a not-running observation. A group an operator
// stopped stays manually stopped: no restart, no alert.
func (v *Verifier) markStopped(rec *Record) Status {
	rec.PID = nil
	if rec.Status == StatusStoppedManually {
		rec.NeedAlert = false
		return StatusStoppedManually
	}
	rec.Status = StatusStopped
	return StatusStopped
}

// cmdlineMatches accepts a command line that invokes the monitor binary
// for this specific group, either "-group g" or "-group=g".
func cmdlineMatches(args []string, group string) bool {
	hasBinary := false
	hasGroup := false
	for i, arg := range args {
		if strings.Contains(arg, monitorBinary) {
			hasBinary = true
		}
		if arg == "-group" || arg == "--group" {
			if i+1 < len(args) && args[i+1] == group {
				hasGroup = true
			}
			continue
		}
		if strings.HasSuffix(arg, "group="+group) {
			hasGroup = true
		}
	}
	return hasBinary && hasGroup
}
