package watchdog

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/pidfile"
)

// fakeInspector serves canned command lines per PID.
type fakeInspector struct {
	cmdlines map[int][]string
	failing  map[int]error
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{cmdlines: map[int][]string{}, failing: map[int]error{}}
}

func (f *fakeInspector) Cmdline(pid int) ([]string, error) {
	if err, ok := f.failing[pid]; ok {
		return nil, err
	}
	args, ok := f.cmdlines[pid]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return args, nil
}

func (f *fakeInspector) addMonitor(pid int, group string) {
	f.cmdlines[pid] = []string{"/opt/sitewatch/sitewatch-monitor", "-group", group, "-conf", "conf"}
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier(t *testing.T) (*Verifier, *fakeInspector, string) {
	t.Helper()
	dataDir := t.TempDir()
	inspector := newFakeInspector()
	return NewVerifier(dataDir, inspector, quietLog()), inspector, dataDir
}

func writePID(t *testing.T, dataDir, group string, pid int) {
	t.Helper()
	require.NoError(t, pidfile.Write(filepath.Join(dataDir, group+".pid"), pid))
}

func TestVerifyRunningMonitor(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 500)
	inspector.addMonitor(500, "g1")

	rec := &Record{Group: "g1", Status: StatusUnknown}
	status := v.Check("g1", rec, time.Now())

	assert.Equal(t, StatusRunning, status)
	require.NotNil(t, rec.PID)
	assert.Equal(t, 500, *rec.PID)
}

func TestVerifyNoPIDFile(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	rec := &Record{Group: "g1", Status: StatusUnknown}

	assert.Equal(t, StatusStopped, v.Check("g1", rec, time.Now()))
	assert.Nil(t, rec.PID)
}

func TestVerifyDeadProcessRemovesPIDFile(t *testing.T) {
	v, _, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 501)

	rec := &Record{Group: "g1", Status: StatusRunning}
	assert.Equal(t, StatusStopped, v.Check("g1", rec, time.Now()))

	_, err := os.Stat(filepath.Join(dataDir, "g1.pid"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "stale pid file must be removed")
}

func TestVerifyRecycledPIDTreatedAsStopped(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 502)
	inspector.cmdlines[502] = []string{"/usr/bin/postgres", "-D", "/var/lib/pg"}

	rec := &Record{Group: "g1", Status: StatusRunning}
	assert.Equal(t, StatusStopped, v.Check("g1", rec, time.Now()))

	_, err := os.Stat(filepath.Join(dataDir, "g1.pid"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestVerifyWrongGroupTreatedAsStopped(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 503)
	inspector.addMonitor(503, "g2") // right binary, wrong group

	rec := &Record{Group: "g1", Status: StatusRunning}
	assert.Equal(t, StatusStopped, v.Check("g1", rec, time.Now()))
}

func TestVerifyTransientErrorIsUnknown(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 504)
	inspector.failing[504] = errors.New("permission denied")

	rec := &Record{Group: "g1", Status: StatusRunning}
	assert.Equal(t, StatusUnknown, v.Check("g1", rec, time.Now()))

	_, err := os.Stat(filepath.Join(dataDir, "g1.pid"))
	assert.NoError(t, err, "pid file kept on transient failure")
}

func TestVerifyPIDChangeResetsRestartCount(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	oldPID := 505
	writePID(t, dataDir, "g1", 506)
	inspector.addMonitor(506, "g1")

	rec := &Record{Group: "g1", Status: StatusRunning, PID: &oldPID, RestartCount: 4}
	assert.Equal(t, StatusRunning, v.Check("g1", rec, time.Now()))
	assert.Equal(t, uint(0), rec.RestartCount, "external restart resets the budget")
	assert.Equal(t, 506, *rec.PID)
}

func TestVerifyStoppedToRunningResetsRestartCount(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 507)
	inspector.addMonitor(507, "g1")

	rec := &Record{Group: "g1", Status: StatusStoppedMaxRestarts, RestartCount: 5, NeedAlert: false}
	assert.Equal(t, StatusRunning, v.Check("g1", rec, time.Now()))
	assert.Equal(t, uint(0), rec.RestartCount)
	assert.True(t, rec.NeedAlert, "alerting re-armed after external start")
}

func TestVerifyManualStopIsSticky(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	rec := &Record{Group: "g1", Status: StatusStoppedManually}

	assert.Equal(t, StatusStoppedManually, v.Check("g1", rec, time.Now()))
	assert.False(t, rec.NeedAlert)
}

func TestConfirmRestartSkipsExternalResets(t *testing.T) {
	v, inspector, dataDir := newTestVerifier(t)
	writePID(t, dataDir, "g1", 508)
	inspector.addMonitor(508, "g1")

	rec := &Record{Group: "g1", Status: StatusStopped, RestartCount: 3}
	assert.Equal(t, StatusRunning, v.ConfirmRestart("g1", rec, time.Now()))
	assert.Equal(t, uint(3), rec.RestartCount, "our own restart keeps the count")
}

func TestCmdlineMatches(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		group string
		want  bool
	}{
		{"separate flag", []string{"sitewatch-monitor", "-group", "g1"}, "g1", true},
		{"equals flag", []string{"/bin/sitewatch-monitor", "-group=g1"}, "g1", true},
		{"double dash", []string{"sitewatch-monitor", "--group", "g1"}, "g1", true},
		{"wrong group", []string{"sitewatch-monitor", "-group", "g2"}, "g1", false},
		{"wrong binary", []string{"python3", "monitor.py", "-group", "g1"}, "g1", false},
		{"empty", nil, "g1", false},
		{"group name substring", []string{"sitewatch-monitor", "-group", "g10"}, "g1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cmdlineMatches(tc.args, tc.group))
		})
	}
}

func TestVerifyUnreadablePIDFileCleanedUp(t *testing.T) {
	v, _, dataDir := newTestVerifier(t)
	path := filepath.Join(dataDir, "g1.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	rec := &Record{Group: "g1", Status: StatusUnknown}
	assert.Equal(t, StatusStopped, v.Check("g1", rec, time.Now()))

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
