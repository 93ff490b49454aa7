// Package health implements the per-target hysteresis state machine, its
// persisted store and the polling scheduler that drives both.
package health

import (
	"sync"

	"sitewatch/internal/config"
)

// TargetHealth is the persisted counter pair for one monitored URL.
type TargetHealth struct {
	Count   uint `json:"count"`
	Alerted bool `json:"alerted"`
}

// Tracker owns the in-memory health map for one monitor group. The mutex
// covers only map mutation; network calls and alert delivery happen
// outside it so one slow target never blocks the others.
type Tracker struct {
	mu      sync.Mutex
	targets map[string]TargetHealth
}

func NewTracker() *Tracker {
	return &Tracker{targets: make(map[string]TargetHealth)}
}

// Load replaces the map with previously persisted state.
func (t *Tracker) Load(state map[string]TargetHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets = make(map[string]TargetHealth, len(state))
	for url, h := range state {
		t.targets[url] = h
	}
}

// Snapshot copies the map for persistence.
func (t *Tracker) Snapshot() map[string]TargetHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TargetHealth, len(t.targets))
	for url, h := range t.targets {
		out[url] = h
	}
	return out
}

// Reconcile aligns the map with the current target list: entries for
// removed URLs are dropped, new URLs start from zero. A URL that is
// removed and later re-added therefore restarts its streak.
func (t *Tracker) Reconcile(targets []config.Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := make(map[string]struct{}, len(targets))
	for _, tgt := range targets {
		current[tgt.URL] = struct{}{}
	}
	for url := range t.targets {
		if _, ok := current[url]; !ok {
			delete(t.targets, url)
		}
	}
	for _, tgt := range targets {
		if _, ok := t.targets[tgt.URL]; !ok {
			t.targets[tgt.URL] = TargetHealth{}
		}
	}
}

// RecordFailure increments the failure streak for url and reports whether
// this failure crosses an alert threshold (every threshold-th consecutive
// failure fires exactly once).
func (t *Tracker) RecordFailure(url string, threshold uint) (count uint, fire bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.targets[url]
	h.Count++
	fire = h.Count%threshold == 0
	if fire {
		h.Alerted = true
	}
	t.targets[url] = h
	return h.Count, fire
}

// RecordSuccess clears the streak for url and reports whether an alert had
// fired during it, in which case the caller owes a recovery notification.
func (t *Tracker) RecordSuccess(url string) (recovered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.targets[url]
	recovered = h.Alerted
	t.targets[url] = TargetHealth{}
	return recovered
}

// UnhealthyCount reports how many targets are mid-streak.
func (t *Tracker) UnhealthyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, h := range t.targets {
		if h.Count > 0 {
			n++
		}
	}
	return n
}
