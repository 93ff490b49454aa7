// Package watchdog supervises the monitor-group processes: it verifies
// liveness through PID files and the process table, restarts dead groups
// under a restart cap, and persists every observation to a ledger shared
// with the control tooling.
package watchdog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Status is the watchdog's view of one monitor group.
type Status string

const (
	StatusRunning            Status = "running"
	StatusStopped            Status = "stopped"
	StatusStoppedMaxRestarts Status = "stopped-max-restarts"
	StatusStoppedManually    Status = "stopped-manually"
	StatusUnknown            Status = "unknown"
)

// stopped reports whether s is any of the not-running states.
func (s Status) stopped() bool {
	switch s {
	case StatusStopped, StatusStoppedMaxRestarts, StatusStoppedManually:
		return true
	}
	return false
}

// Record is the persisted supervision state for one monitor group.
// Records are created lazily on first check and overwritten forever after,
// never deleted.
type Record struct {
	Group         string    `json:"group"`
	PID           *int      `json:"pid"`
	Status        Status    `json:"status"`
	RestartCount  uint      `json:"restart_count"`
	LastCheckTime time.Time `json:"last_check_time"`
	LastStartTime time.Time `json:"last_start_time"`
	WasRestarted  bool      `json:"was_restarted"`
	NeedAlert     bool      `json:"need_alert"`
}

// Ledger is the whole-file JSON map of group records. Both the watchdog
// and sitewatchctl read and write it; each rewrite goes through a temp
// file and rename so readers never observe a partial write.
type Ledger struct {
	path    string
	records map[string]*Record
}

// LedgerPath returns the ledger file for a data directory.
func LedgerPath(dataDir string) string {
	return filepath.Join(dataDir, "watchdog.json")
}

// OpenLedger loads the ledger at path. A missing file yields an empty
// ledger; a corrupt file yields an empty ledger plus the parse error so
// the caller can log it and carry on.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, records: make(map[string]*Record)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return l, err
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		l.records = make(map[string]*Record)
		return l, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	for group, rec := range l.records {
		rec.Group = group
	}
	return l, nil
}

// Get returns the record for group, creating an Unknown one on first use.
func (l *Ledger) Get(group string) *Record {
	if rec, ok := l.records[group]; ok {
		return rec
	}
	rec := &Record{Group: group, Status: StatusUnknown, NeedAlert: true}
	l.records[group] = rec
	return rec
}

// Put stores rec under its group name.
func (l *Ledger) Put(rec *Record) {
	l.records[rec.Group] = rec
}

// Groups returns the recorded group names, sorted.
func (l *Ledger) Groups() []string {
	names := make([]string, 0, len(l.records))
	for g := range l.records {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// Save atomically rewrites the ledger file.
func (l *Ledger) Save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}
