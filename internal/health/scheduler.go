package health

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sitewatch/internal/alert"
	"sitewatch/internal/backoff"
	"sitewatch/internal/config"
	"sitewatch/internal/logging"
	"sitewatch/internal/metrics"
)

const (
	confDebounceDelay = 500 * time.Millisecond
	retryBase         = 10 * time.Second
	retryCap          = 300 * time.Second
)

// Scheduler runs the polling loop for one monitor group: reload config and
// targets, reconcile the tracker, fan the checks out over a bounded worker
// pool, persist the state snapshot, sleep. Cycles never overlap; the state
// file always reflects a fully completed cycle.
type Scheduler struct {
	group   string
	confDir string
	dataDir string

	tracker *Tracker
	checker Checker
	streams *logging.MonitorStreams

	// buildNotifier is re-invoked every cycle so webhook/email changes in
	// the config take effect without a restart.
	buildNotifier func(config.Config) alert.Notifier

	retry backoff.Policy
	wake  chan struct{}
}

func NewScheduler(group, confDir, dataDir string, streams *logging.MonitorStreams) *Scheduler {
	return &Scheduler{
		group:   group,
		confDir: confDir,
		dataDir: dataDir,
		tracker: NewTracker(),
		checker: NewHTTPChecker(),
		streams: streams,
		buildNotifier: func(cfg config.Config) alert.Notifier {
			return alert.FromConfig(cfg, streams.Alert)
		},
		retry: backoff.Policy{Base: retryBase, Cap: retryCap},
		wake:  make(chan struct{}, 1),
	}
}

// Run executes polling cycles until ctx is cancelled. A cycle failure is
// absorbed at the loop boundary and retried with exponential backoff; only
// cancellation ends the loop.
func (s *Scheduler) Run(ctx context.Context) {
	state, err := LoadState(StatePath(s.dataDir, s.group))
	if err != nil {
		s.streams.Monitor.Warn("starting with empty health state", slog.String("err", err.Error()))
	} else if len(state) > 0 {
		s.streams.Monitor.Info("loaded persisted health state", slog.Int("targets", len(state)))
	}
	s.tracker.Load(state)

	stopWatch := s.watchConfDir(ctx)
	defer stopWatch()

	s.streams.Monitor.Info("poll scheduler started", slog.String("group", s.group))
	for {
		interval, err := s.runCycle(ctx)
		if ctx.Err() != nil {
			s.streams.Monitor.Info("poll scheduler stopped")
			return
		}
		sleep := interval
		if err != nil {
			sleep = s.retry.Next()
			s.streams.Monitor.Error("polling cycle failed",
				slog.String("err", err.Error()),
				slog.Uint64("attempt", uint64(s.retry.Attempt())),
				slog.Duration("retry_in", sleep))
		} else {
			s.retry.Reset()
		}
		select {
		case <-ctx.Done():
			s.streams.Monitor.Info("poll scheduler stopped")
			return
		case <-s.wake:
			s.streams.Monitor.Info("configuration change detected, starting cycle early")
		case <-time.After(sleep):
		}
	}
}

// runCycle performs one complete polling cycle and returns the interval to
// sleep before the next one.
func (s *Scheduler) runCycle(ctx context.Context) (time.Duration, error) {
	global, err := config.LoadGlobal(s.confDir)
	if err != nil {
		return config.DefaultMonitorInterval, fmt.Errorf("load global config: %w", err)
	}
	group, err := config.LoadGroup(s.confDir, s.group)
	if err != nil {
		return config.DefaultMonitorInterval, fmt.Errorf("load group config: %w", err)
	}
	cfg := config.Merge(global, group)
	if err := cfg.Validate(); err != nil {
		return config.DefaultMonitorInterval, fmt.Errorf("invalid config: %w", err)
	}

	interval := cfg.Seconds("monitor_interval", config.DefaultMonitorInterval)
	timeout := cfg.Seconds("response_timeout", config.DefaultResponseTimeout)
	threshold := uint(cfg.Int("unhealthy_threshold", config.DefaultUnhealthyThreshold))

	targets, err := config.LoadTargets(s.confDir, s.group)
	if err != nil {
		return interval, fmt.Errorf("load targets: %w", err)
	}
	if len(targets) == 0 {
		s.streams.Monitor.Warn("no targets configured, will retry next cycle")
		return interval, nil
	}
	s.streams.Monitor.Info("cycle starting",
		slog.Int("targets", len(targets)),
		slog.Duration("interval", interval))

	notifier := s.buildNotifier(cfg)
	s.tracker.Reconcile(targets)

	start := time.Now()
	sem := make(chan struct{}, poolSize())
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(tgt config.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			s.checkTarget(ctx, tgt, timeout, threshold, notifier)
		}(target)
	}
	wg.Wait()

	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	metrics.UnhealthyTargets.Set(float64(s.tracker.UnhealthyCount()))

	if err := SaveState(StatePath(s.dataDir, s.group), s.tracker.Snapshot()); err != nil {
		return interval, fmt.Errorf("persist health state: %w", err)
	}
	return interval, nil
}

// checkTarget performs one check and applies the hysteresis contract. The
// tracker mutation is the only part under the lock; logging and alert
// delivery happen after.
func (s *Scheduler) checkTarget(ctx context.Context, tgt config.Target, timeout time.Duration, threshold uint, notifier alert.Notifier) {
	res, err := s.checker.Check(ctx, tgt.URL, timeout)
	if err == nil && res.Healthy(timeout) {
		metrics.ChecksTotal.WithLabelValues("healthy").Inc()
		recovered := s.tracker.RecordSuccess(tgt.URL)
		s.streams.Health.Info("target healthy",
			slog.String("url", tgt.URL),
			slog.Int("status", res.StatusCode),
			slog.Float64("latency_s", res.Elapsed.Seconds()))
		if recovered {
			msg := alert.SiteMessage(tgt.URL, tgt.Label, res.StatusCode, res.Elapsed, nil, true)
			notifier.Send(msg, alert.Info, alert.Site)
			s.streams.Alert.Info("target recovered", slog.String("url", tgt.URL))
		}
		return
	}

	metrics.ChecksTotal.WithLabelValues("unhealthy").Inc()
	count, fire := s.tracker.RecordFailure(tgt.URL, threshold)
	msg := alert.SiteMessage(tgt.URL, tgt.Label, res.StatusCode, res.Elapsed, err, false)
	if err != nil {
		s.streams.Monitor.Warn("target check error",
			slog.String("url", tgt.URL), slog.String("err", err.Error()))
	} else {
		s.streams.Monitor.Warn("target unhealthy",
			slog.String("url", tgt.URL),
			slog.Int("status", res.StatusCode),
			slog.Float64("latency_s", res.Elapsed.Seconds()))
	}
	s.streams.Unhealthy.Warn(msg)
	if fire {
		notifier.Send(msg, alert.Warning, alert.Site)
		s.streams.Alert.Warn("unhealthy streak alert sent",
			slog.String("url", tgt.URL), slog.Uint64("consecutive_failures", uint64(count)))
	}
}

// watchConfDir wakes the scheduler early when the conf directory changes,
// debounced so editors that write in bursts trigger one wakeup. Reload
// still happens at the cycle boundary; this only shortens the sleep.
func (s *Scheduler) watchConfDir(ctx context.Context) (stop func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.streams.Monitor.Warn("config watcher unavailable", slog.String("err", err.Error()))
		return func() {}
	}
	if err := watcher.Add(s.confDir); err != nil {
		s.streams.Monitor.Warn("cannot watch conf dir",
			slog.String("dir", s.confDir), slog.String("err", err.Error()))
		watcher.Close()
		return func() {}
	}
	go func() {
		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					timer.Reset(confDebounceDelay)
				}
			case <-timer.C:
				select {
				case s.wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.streams.Monitor.Warn("config watcher error", slog.String("err", err.Error()))
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { watcher.Close() }
}

// poolSize bounds the per-cycle check concurrency: four checks per
// available CPU, at least 4, at most 32.
func poolSize() int {
	n := 4 * runtime.GOMAXPROCS(0)
	if n > 32 {
		n = 32
	}
	if n < 4 {
		n = 4
	}
	return n
}
