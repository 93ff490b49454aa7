// Package metrics exposes Prometheus instrumentation for the monitor and
// watchdog processes.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_checks_total",
			Help: "Total number of target health checks by result.",
		},
		[]string{"result"},
	)
	UnhealthyTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitewatch_unhealthy_targets",
			Help: "Number of targets currently in a failure streak.",
		},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitewatch_cycle_duration_seconds",
			Help:    "Wall time of one full polling cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_watchdog_restarts_total",
			Help: "Total number of monitor process restarts attempted by the watchdog.",
		},
		[]string{"group"},
	)
	UptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitewatch_uptime_seconds",
			Help: "Process uptime in seconds.",
		},
	)
)

func init() {
	prometheus.MustRegister(ChecksTotal, UnhealthyTargets, CycleDuration, RestartsTotal, UptimeSeconds)
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled. An
// empty addr disables the listener. The uptime gauge is refreshed every
// five seconds while serving.
func Serve(ctx context.Context, addr string, log *slog.Logger) {
	if addr == "" {
		return
	}
	start := time.Now()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				UptimeSeconds.Set(time.Since(start).Seconds())
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("metrics listener started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", slog.String("err", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics listener shutdown error", slog.String("err", err.Error()))
		}
	}()
}
