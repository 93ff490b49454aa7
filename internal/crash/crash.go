// Package crash records why a process died so the next start (or an
// operator) can see the last failure without trawling logs.
package crash

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

// Record is one crash diagnostic entry, serialized as a JSON line.
type Record struct {
	Time  time.Time      `json:"time"`
	Kind  string         `json:"kind"`
	Info  string         `json:"info"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Recorder appends crash records for one named process.
type Recorder struct {
	path string
	log  *slog.Logger
}

func NewRecorder(dataDir, name string, log *slog.Logger) *Recorder {
	return &Recorder{
		path: filepath.Join(dataDir, "crash_"+name+".jsonl"),
		log:  log,
	}
}

// RecordCrash appends one diagnostic record. Failures to persist are logged
// and swallowed; crash reporting must never mask the original failure.
func (r *Recorder) RecordCrash(kind, info string, extra map[string]any) {
	rec := Record{Time: time.Now().UTC(), Kind: kind, Info: info, Extra: extra}
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Error("crash record marshal failed", slog.String("err", err.Error()))
		return
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.log.Error("crash record write failed", slog.String("err", err.Error()))
		return
	}
	defer f.Close()
	_, _ = f.Write(append(data, '\n'))
	r.log.Error("crash recorded", slog.String("kind", kind), slog.String("info", info))
}

// LastCrash returns the most recent record, if any exists.
func (r *Recorder) LastCrash() (*Record, bool) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var last *Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		last = &rec
	}
	return last, last != nil
}

// HandlePanic is installed with defer in each main goroutine; it records
// the panic with its stack and re-raises so the process still dies.
func (r *Recorder) HandlePanic() {
	if v := recover(); v != nil {
		r.RecordCrash("panic", fmt.Sprint(v), map[string]any{
			"stack": string(debug.Stack()),
		})
		panic(v)
	}
}
