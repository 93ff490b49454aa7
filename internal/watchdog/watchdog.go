package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sitewatch/internal/alert"
	"sitewatch/internal/metrics"
)

const defaultGrace = 2 * time.Second

// Watchdog drives the supervision loop: one sequential pass over every
// configured group per interval, each pass ending with a ledger rewrite.
type Watchdog struct {
	Groups      []string
	Interval    time.Duration
	MaxRestarts uint
	Grace       time.Duration

	Ledger   *Ledger
	Verifier *Verifier
	Spawner  Spawner
	Notifier alert.Notifier
	Log      *slog.Logger
}

// Run checks all groups on a fixed interval until ctx is cancelled. The
// ledger is saved once more on the way out so shutdown never loses the
// last pass.
func (w *Watchdog) Run(ctx context.Context) {
	if w.Grace == 0 {
		w.Grace = defaultGrace
	}
	w.Log.Info("watchdog started",
		slog.Int("groups", len(w.Groups)),
		slog.Duration("interval", w.Interval),
		slog.Uint64("max_restarts", uint64(w.MaxRestarts)))
	for {
		w.CheckAll(ctx)
		select {
		case <-ctx.Done():
			if err := w.Ledger.Save(); err != nil {
				w.Log.Error("final ledger save failed", slog.String("err", err.Error()))
			}
			w.Log.Info("watchdog stopped")
			return
		case <-time.After(w.Interval):
		}
	}
}

// CheckAll performs one pass over every group. A failure in one group is
// logged and never blocks the others.
func (w *Watchdog) CheckAll(ctx context.Context) {
	summary := make([]string, 0, len(w.Groups))
	for _, group := range w.Groups {
		state, err := w.checkGroup(ctx, group)
		if err != nil {
			w.Log.Error("group check failed",
				slog.String("group", group), slog.String("err", err.Error()))
			summary = append(summary, group+"[check-failed]")
			continue
		}
		summary = append(summary, group+"["+state+"]")
		if ctx.Err() != nil {
			break
		}
	}
	if err := w.Ledger.Save(); err != nil {
		w.Log.Error("ledger save failed", slog.String("err", err.Error()))
	}
	w.Log.Info("pass complete", slog.String("groups", strings.Join(summary, ", ")))
}

// checkGroup verifies one group and applies the restart policy. The
// returned string is a short state tag for the pass summary line.
func (w *Watchdog) checkGroup(ctx context.Context, group string) (string, error) {
	rec := w.Ledger.Get(group)
	prevStatus := rec.Status
	prevCheck := rec.LastCheckTime
	now := time.Now()

	switch w.Verifier.Check(group, rec, now) {
	case StatusRunning:
		return "running", nil
	case StatusStoppedManually:
		return "stopped-manually", nil
	case StatusUnknown:
		return "unknown", nil
	}

	// Stopped: restart unless the cap is exhausted.
	if rec.RestartCount >= w.MaxRestarts {
		if prevStatus != StatusStoppedMaxRestarts {
			w.Log.Error("monitor exceeded max restarts",
				slog.String("group", group),
				slog.Uint64("restart_count", uint64(rec.RestartCount)),
				slog.Uint64("max_restarts", uint64(w.MaxRestarts)))
			msg := alert.ProcessMessage(group, rec.PID, "stopped, max restarts exceeded", rec.RestartCount)
			w.Notifier.Send(msg, alert.Error, alert.Process)
		}
		rec.Status = StatusStoppedMaxRestarts
		return "max-restarts", nil
	}

	suppress := withinStartupWindow(prevStatus, prevCheck, now)
	if suppress {
		w.Log.Info("dead observation inside startup window, alert suppressed",
			slog.String("group", group))
	}
	rec.NeedAlert = !suppress
	rec.RestartCount++
	rec.LastStartTime = now
	rec.WasRestarted = true
	metrics.RestartsTotal.WithLabelValues(group).Inc()

	w.Log.Info("restarting monitor",
		slog.String("group", group),
		slog.Uint64("attempt", uint64(rec.RestartCount)))
	if err := w.restart(ctx, group, rec); err != nil {
		w.Log.Error("restart failed",
			slog.String("group", group), slog.String("err", err.Error()))
		msg := alert.ProcessMessage(group, rec.PID, "restart failed", rec.RestartCount)
		w.Notifier.Send(msg, alert.Warning, alert.Process)
		return "restart-failed", nil
	}

	if rec.NeedAlert {
		msg := alert.ProcessMessage(group, rec.PID, "restarted by watchdog", rec.RestartCount)
		w.Notifier.Send(msg, alert.Warning, alert.Process)
		return "restarted", nil
	}
	return "restarted-quietly", nil
}

// restart spawns the monitor, waits out the grace period and re-verifies
// that the new process is alive and really ours.
func (w *Watchdog) restart(ctx context.Context, group string, rec *Record) error {
	pid, err := w.Spawner.Start(group)
	if err != nil {
		return fmt.Errorf("spawn monitor: %w", err)
	}
	w.Log.Info("monitor spawned", slog.String("group", group), slog.Int("pid", pid))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.Grace):
	}

	if status := w.Verifier.ConfirmRestart(group, rec, time.Now()); status != StatusRunning {
		return fmt.Errorf("monitor did not survive startup, status %s", status)
	}
	return nil
}
