// Package pidfile reads and writes the plain-text PID files through which
// the monitor processes, the watchdog and the control tooling find each
// other.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Write records pid at path. A pid of 0 means the current process.
func Write(path string, pid int) error {
	if pid == 0 {
		pid = os.Getpid()
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the pid stored at path. A missing file or unparseable
// content reports ok=false; the caller treats both as "not running".
func Read(path string) (pid int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Remove deletes the PID file. Missing files are not an error.
func Remove(path string) {
	_ = os.Remove(path)
}

// CheckOrCreate refuses to start when a PID file from another live run is
// already present, then writes the current pid. A leftover file whose pid
// no longer parses or no longer runs is overwritten.
func CheckOrCreate(path string) error {
	if pid, ok := Read(path); ok && pid != os.Getpid() && processExists(pid) {
		return fmt.Errorf("pid file %s already held by pid %d", path, pid)
	}
	return Write(path, 0)
}

func processExists(pid int) bool {
	// FindProcess never fails on unix; signal 0 probes for existence.
	// EPERM means the process exists but belongs to someone else.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
